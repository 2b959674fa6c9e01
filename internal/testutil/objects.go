package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"scrapidx/internal/objectstore"
	"scrapidx/internal/scrap"
)

// FlakyObjectStore wraps a MemoryStore and fails Open for selected keys.
type FlakyObjectStore struct {
	*objectstore.MemoryStore

	mu       sync.Mutex
	failOpen map[string]int
}

func NewFlakyObjectStore() *FlakyObjectStore {
	return &FlakyObjectStore{
		MemoryStore: objectstore.NewMemoryStore(),
		failOpen:    make(map[string]int),
	}
}

// FailOpen makes the next n Open calls for key fail. A negative n fails
// every call.
func (f *FlakyObjectStore) FailOpen(key string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOpen[key] = n
}

func (f *FlakyObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	n, ok := f.failOpen[key]
	if ok && n != 0 {
		if n > 0 {
			f.failOpen[key] = n - 1
		}
		f.mu.Unlock()
		return nil, fmt.Errorf("opening %s: connection reset", key)
	}
	f.mu.Unlock()
	return f.MemoryStore.Open(ctx, key)
}

var _ scrap.ObjectStore = (*FlakyObjectStore)(nil)
