package scrap

import "fmt"

// State is the lifecycle state of a FileAggregate.
type State string

const (
	StateNew         State = "NEW"
	StateHashed      State = "HASHED"
	StateSkipped     State = "SKIPPED"
	StatePartial     State = "PARTIAL"
	StateIngested    State = "INGESTED"
	StateIndexing    State = "INDEXING"
	StateIndexed     State = "INDEXED"
	StateIndexFailed State = "INDEX_FAILED"
)

var transitions = map[State][]State{
	StateNew:         {StateHashed},
	StateHashed:      {StateSkipped, StatePartial, StateIngested},
	StateSkipped:     {StateIndexing},
	StatePartial:     {StatePartial, StateIngested, StateIndexing},
	StateIngested:    {StateIndexing},
	// An interrupted indexing task restarts from INDEXING.
	StateIndexing:    {StateIndexing, StateIndexed, StateIndexFailed},
	StateIndexed:     {StateIndexing},
	StateIndexFailed: {StateIndexing},
}

// CanTransition reports whether an aggregate may move from s to next.
// Every state may return to HASHED, which is where a new run starts.
func (s State) CanTransition(next State) bool {
	if next == StateHashed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Ingested reports whether the aggregate's records were completely written
// at least once.
func (s State) Ingested() bool {
	switch s {
	case StateIngested, StateIndexing, StateIndexed, StateIndexFailed:
		return true
	}
	return false
}

// Transition returns an error when the move from s to next is not allowed.
func (s State) Transition(next State) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("invalid state transition %s -> %s", s, next)
	}
	return nil
}
