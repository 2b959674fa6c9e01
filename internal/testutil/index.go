package testutil

import (
	"context"
	"sync"

	"scrapidx/internal/scrap"
	"scrapidx/internal/searchindex"
)

// HookedIndex wraps a SearchIndex and runs a hook before every Upsert.
// A non-nil error from the hook fails that call without touching the index.
type HookedIndex struct {
	scrap.SearchIndex

	mu    sync.Mutex
	calls int
	hook  func(call int, docs []*scrap.Document) error
}

// NewHookedIndex wraps a fresh in-memory index.
func NewHookedIndex(hook func(call int, docs []*scrap.Document) error) *HookedIndex {
	return &HookedIndex{SearchIndex: searchindex.NewMemoryIndex(), hook: hook}
}

func (h *HookedIndex) Upsert(ctx context.Context, docs []*scrap.Document) (*scrap.BulkResult, error) {
	h.mu.Lock()
	h.calls++
	call := h.calls
	h.mu.Unlock()

	if h.hook != nil {
		if err := h.hook(call, docs); err != nil {
			return nil, err
		}
	}
	return h.SearchIndex.Upsert(ctx, docs)
}

// Calls returns how many times Upsert was invoked.
func (h *HookedIndex) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// FailFirst returns a hook that fails the first n Upsert calls with err.
func FailFirst(n int, err error) func(int, []*scrap.Document) error {
	return func(call int, _ []*scrap.Document) error {
		if call <= n {
			return err
		}
		return nil
	}
}
