package scrap_test

import (
	"testing"

	"scrapidx/internal/scrap"
)

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to scrap.State
		want     bool
	}{
		{scrap.StateNew, scrap.StateHashed, true},
		{scrap.StateNew, scrap.StateIngested, false},
		{scrap.StateHashed, scrap.StateSkipped, true},
		{scrap.StateHashed, scrap.StatePartial, true},
		{scrap.StateHashed, scrap.StateIndexing, false},
		{scrap.StatePartial, scrap.StateIngested, true},
		{scrap.StateIngested, scrap.StateIndexing, true},
		{scrap.StateIngested, scrap.StatePartial, false},
		{scrap.StateIndexing, scrap.StateIndexed, true},
		{scrap.StateIndexing, scrap.StateIndexFailed, true},
		{scrap.StateIndexFailed, scrap.StateIndexing, true},
		{scrap.StateIndexed, scrap.StateIndexing, true},
		{scrap.StateIndexed, scrap.StateIngested, false},
		{scrap.StateIndexed, scrap.StateHashed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
			err := tt.from.Transition(tt.to)
			if (err == nil) != tt.want {
				t.Errorf("Transition() error = %v, want allowed=%v", err, tt.want)
			}
		})
	}
}

func TestState_Ingested(t *testing.T) {
	for _, s := range []scrap.State{scrap.StateIngested, scrap.StateIndexing, scrap.StateIndexed, scrap.StateIndexFailed} {
		if !s.Ingested() {
			t.Errorf("%s.Ingested() = false", s)
		}
	}
	for _, s := range []scrap.State{scrap.StateNew, scrap.StateHashed, scrap.StateSkipped, scrap.StatePartial} {
		if s.Ingested() {
			t.Errorf("%s.Ingested() = true", s)
		}
	}
}
