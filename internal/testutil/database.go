package testutil

import (
	"testing"

	"scrapidx/internal/database"
	"scrapidx/internal/scrap"
)

// NewTestStore creates a new in-memory SQLite store with migrations applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T, clock scrap.Clock) *database.SQLiteStore {
	t.Helper()

	s, err := database.NewSQLiteStore(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}
