package scrap

import (
	"context"
	"fmt"
)

// DefaultBatchSize is the number of records per persisted batch.
const DefaultBatchSize = 10000

// BatchWriter accumulates credential records and persists them in
// fixed-size batches. Each batch is one conflict-ignoring bulk insert, so
// rewriting the same records is a no-op. A BatchWriter is not safe for
// concurrent use; one writer serves one aggregate.
type BatchWriter struct {
	store  Store
	size   int
	retry  RetryPolicy
	logger Logger

	buf      []*Credential
	inserted int64
	skipped  int64
	batches  int
}

// NewBatchWriter creates a BatchWriter flushing every size records.
func NewBatchWriter(store Store, size int, retry RetryPolicy, logger Logger) *BatchWriter {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &BatchWriter{
		store:  store,
		size:   size,
		retry:  retry,
		logger: logger,
		buf:    make([]*Credential, 0, size),
	}
}

// Add queues rec, flushing when the batch is full.
func (w *BatchWriter) Add(ctx context.Context, rec *Credential) error {
	w.buf = append(w.buf, rec)
	if len(w.buf) >= w.size {
		return w.Flush(ctx)
	}
	return nil
}

// Flush persists any queued records. Transient failures are retried within
// the writer's retry budget.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	var inserted int64
	attempts, err := w.retry.Do(ctx, func(ctx context.Context) error {
		n, err := w.store.InsertRecords(ctx, w.buf)
		if err != nil {
			return err
		}
		inserted = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing batch of %d records after %d attempts: %w", len(w.buf), attempts, err)
	}

	w.batches++
	w.inserted += inserted
	w.skipped += int64(len(w.buf)) - inserted
	w.logger.Debug("batch written", "records", len(w.buf), "inserted", inserted, "attempts", attempts)
	w.buf = w.buf[:0]
	return nil
}

// Inserted returns the number of new records written so far.
func (w *BatchWriter) Inserted() int64 { return w.inserted }

// Skipped returns the number of records ignored as already present.
func (w *BatchWriter) Skipped() int64 { return w.skipped }

func (w *BatchWriter) Batches() int { return w.batches }
