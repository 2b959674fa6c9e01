package app

import (
	"errors"
	"testing"
)

func TestOperation(t *testing.T) {
	t.Run("new operation is not persisted", func(t *testing.T) {
		op := NewOperation("Ingest", "--force")
		if op.Persisted() {
			t.Error("new operation reports persisted")
		}
		if op.Status != "success" {
			t.Errorf("Status = %q, want success", op.Status)
		}
		if op.Parameters != "--force" {
			t.Errorf("Parameters = %q", op.Parameters)
		}
	})

	t.Run("persisted once it has an id", func(t *testing.T) {
		op := NewOperation("Ingest", "")
		op.ID = 7
		if !op.Persisted() {
			t.Error("operation with ID reports not persisted")
		}
	})

	t.Run("record keeps success for nil", func(t *testing.T) {
		op := NewOperation("Index", "")
		if err := op.Record(nil); err != nil {
			t.Fatal(err)
		}
		if op.Status != "success" {
			t.Errorf("Status = %q, want success", op.Status)
		}
	})

	t.Run("record marks failure", func(t *testing.T) {
		op := NewOperation("Index", "")
		boom := errors.New("boom")
		if err := op.Record(boom); !errors.Is(err, boom) {
			t.Errorf("Record() = %v, want %v", err, boom)
		}
		if op.Status != "error" {
			t.Errorf("Status = %q, want error", op.Status)
		}
	})
}
