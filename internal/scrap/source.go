package scrap

import (
	"context"
	"fmt"
	"time"
)

// SourceItem is one line handed to the indexing producers. Raw items come
// straight from an object and still need normalizing; the others are
// persisted records.
type SourceItem struct {
	ID        string
	Line      string
	CreatedAt time.Time
	Raw       bool
}

// Source feeds the Indexing Pipeline.
type Source interface {
	// Total returns the number of records the source is expected to yield.
	Total(ctx context.Context) (int64, error)

	// Read calls emit with successive batches of at most batchSize items
	// until the source is exhausted. The batch slice is owned by the callee.
	Read(ctx context.Context, batchSize int, emit func([]SourceItem) error) error
}

// StoreSource reads an aggregate's persisted records by keyset pagination.
type StoreSource struct {
	store Store
	agg   *FileAggregate
}

// NewStoreSource creates a StoreSource for agg.
func NewStoreSource(store Store, agg *FileAggregate) *StoreSource {
	return &StoreSource{store: store, agg: agg}
}

func (s *StoreSource) Total(ctx context.Context) (int64, error) {
	n, err := s.store.CountRecords(ctx, s.agg.ID)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func (s *StoreSource) Read(ctx context.Context, batchSize int, emit func([]SourceItem) error) error {
	after := ""
	for {
		recs, err := s.store.ListRecords(ctx, s.agg.ID, after, batchSize)
		if err != nil {
			return fmt.Errorf("listing records after %q: %w", after, err)
		}
		if len(recs) == 0 {
			return nil
		}
		batch := make([]SourceItem, len(recs))
		for i, rec := range recs {
			batch[i] = SourceItem{ID: rec.ID, Line: rec.Line, CreatedAt: rec.CreatedAt}
		}
		if err := emit(batch); err != nil {
			return err
		}
		after = recs[len(recs)-1].ID
		if len(recs) < batchSize {
			return nil
		}
	}
}

// StreamSource re-reads an aggregate's object from the object store.
type StreamSource struct {
	objects ObjectStore
	parser  *LineParser
	agg     *FileAggregate
}

// NewStreamSource creates a StreamSource for agg.
func NewStreamSource(objects ObjectStore, parser *LineParser, agg *FileAggregate) *StreamSource {
	return &StreamSource{objects: objects, parser: parser, agg: agg}
}

// Total returns the fragment count of the last completed write pass, which
// is zero for an aggregate that was never fully written.
func (s *StreamSource) Total(context.Context) (int64, error) {
	return s.agg.ParsedLines, nil
}

func (s *StreamSource) Read(ctx context.Context, batchSize int, emit func([]SourceItem) error) error {
	rc, err := s.objects.Open(ctx, s.agg.SourceKey)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.agg.SourceKey, err)
	}
	defer rc.Close()

	batch := make([]SourceItem, 0, batchSize)
	_, err = s.parser.ReadLines(rc, func(raw string) error {
		batch = append(batch, SourceItem{Line: raw, Raw: true})
		if len(batch) < batchSize {
			return nil
		}
		full := batch
		batch = make([]SourceItem, 0, batchSize)
		return emit(full)
	})
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.agg.SourceKey, err)
	}
	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}
