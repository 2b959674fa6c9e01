package searchindex

import (
	"context"
	"sort"
	"strings"
	"sync"

	"scrapidx/internal/scrap"
)

// MemoryIndex is an in-process SearchIndex. Matching is a case-insensitive
// substring scan, so it is only suitable for tests and small data sets.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]*scrap.Document
}

var _ scrap.SearchIndex = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]*scrap.Document)}
}

func (m *MemoryIndex) Get(_ context.Context, id string) (*scrap.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (m *MemoryIndex) Upsert(_ context.Context, docs []*scrap.Document) (*scrap.BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := &scrap.BulkResult{}
	for _, doc := range docs {
		if _, ok := m.docs[doc.ID]; ok {
			res.Updated++
		} else {
			res.Created++
		}
		cp := *doc
		m.docs[doc.ID] = &cp
	}
	return res, nil
}

func (m *MemoryIndex) DeleteByFile(_ context.Context, fileID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, doc := range m.docs {
		if doc.FileID == fileID {
			delete(m.docs, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndex) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.docs)), nil
}

func (m *MemoryIndex) CountByFile(_ context.Context, fileID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, doc := range m.docs {
		if doc.FileID == fileID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndex) Search(_ context.Context, q scrap.SearchQuery) ([]*scrap.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	text := strings.ToLower(strings.TrimSpace(q.Text))
	var out []*scrap.Document
	for _, doc := range m.docs {
		if text != "" && !strings.Contains(strings.ToLower(doc.Line), text) {
			continue
		}
		if q.FileID != 0 && doc.FileID != q.FileID {
			continue
		}
		if !q.CreatedAfter.IsZero() && doc.CreatedAt.Before(q.CreatedAfter) {
			continue
		}
		if !q.CreatedBefore.IsZero() && !doc.CreatedAt.Before(q.CreatedBefore) {
			continue
		}
		if !q.IndexedAfter.IsZero() && doc.IndexedAt.Before(q.IndexedAfter) {
			continue
		}
		if !q.IndexedBefore.IsZero() && !doc.IndexedAt.Before(q.IndexedBefore) {
			continue
		}
		cp := *doc
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].IndexedAt.Equal(out[j].IndexedAt) {
			return out[i].IndexedAt.After(out[j].IndexedAt)
		}
		return out[i].ID < out[j].ID
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryIndex) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]*scrap.Document)
	return nil
}

func (m *MemoryIndex) Ping(context.Context) error { return nil }

func (m *MemoryIndex) Close() error { return nil }
