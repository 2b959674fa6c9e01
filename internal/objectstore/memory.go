package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"scrapidx/internal/scrap"
)

var _ scrap.ObjectStore = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of the ObjectStore interface.
// It is useful for testing. This implementation is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Add stores data at key. It is a convenience for tests.
func (m *MemoryStore) Add(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Remove deletes the object at key.
func (m *MemoryStore) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]scrap.ObjectRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var refs []scrap.ObjectRef
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			refs = append(refs, scrap.ObjectRef{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return 0, fmt.Errorf("object %s: %w", key, scrap.ErrObjectNotFound)
	}
	return int64(len(data)), nil
}

func (m *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, scrap.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put stores the content of r at key. A negative size skips the length check.
func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(context.Context) error {
	return nil
}
