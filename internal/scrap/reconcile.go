package scrap

import (
	"context"
	"fmt"
)

// Reconciliation is the outcome of recounting one aggregate.
type Reconciliation struct {
	AggregateID int64
	Previous    int64
	Counted     int64
	// Expected is the count the caller anticipated, or -1 when unknown.
	Expected int64
	Mismatch bool
}

// IndexReconciliation compares an aggregate's search documents with its
// live records.
type IndexReconciliation struct {
	AggregateID int64
	Documents   int64
	Records     int64
	Mismatch    bool
}

// Reconciler keeps the cached record count of each aggregate equal to its
// live record count.
type Reconciler struct {
	store  Store
	logger Logger
	locks  *keyedMutex
}

// NewReconciler creates a Reconciler.
func NewReconciler(store Store, logger Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger, locks: newKeyedMutex()}
}

// Reconcile recounts agg's records, overwrites the stored count, and updates
// agg in place. When expected is non-negative and differs from the recount,
// the result is flagged as a mismatch. Drift and mismatches are logged.
func (r *Reconciler) Reconcile(ctx context.Context, agg *FileAggregate, expected int64) (*Reconciliation, error) {
	counted, err := r.store.CountRecords(ctx, agg.ID)
	if err != nil {
		return nil, fmt.Errorf("counting records for aggregate %d: %w", agg.ID, err)
	}
	if err := r.store.SetAggregateCount(ctx, agg.ID, counted); err != nil {
		return nil, fmt.Errorf("storing record count for aggregate %d: %w", agg.ID, err)
	}

	rec := &Reconciliation{
		AggregateID: agg.ID,
		Previous:    agg.RecordCount,
		Counted:     counted,
		Expected:    expected,
	}
	if rec.Previous != counted {
		r.logger.Info("record count corrected", "id", agg.ID, "previous", rec.Previous, "counted", counted)
	}
	if expected >= 0 && expected != counted {
		rec.Mismatch = true
		r.logger.Warn("record count mismatch", "id", agg.ID, "expected", expected, "counted", counted)
	}
	agg.RecordCount = counted
	return rec, nil
}

// ReconcileIndex compares the number of search documents for agg with its
// live records.
func (r *Reconciler) ReconcileIndex(ctx context.Context, agg *FileAggregate, index SearchIndex) (*IndexReconciliation, error) {
	docs, err := index.CountByFile(ctx, agg.ID)
	if err != nil {
		return nil, fmt.Errorf("counting documents for aggregate %d: %w", agg.ID, err)
	}
	records, err := r.store.CountRecords(ctx, agg.ID)
	if err != nil {
		return nil, fmt.Errorf("counting records for aggregate %d: %w", agg.ID, err)
	}
	rec := &IndexReconciliation{AggregateID: agg.ID, Documents: docs, Records: records}
	if docs != records {
		rec.Mismatch = true
		r.logger.Warn("index document count mismatch", "id", agg.ID, "documents", docs, "records", records)
	}
	return rec, nil
}

// ReconcileAll recounts every aggregate, holding each aggregate's writer
// lock while it is recounted.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]*Reconciliation, error) {
	aggs, err := r.store.ListAggregates(ctx, AggregateFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing aggregates: %w", err)
	}

	results := make([]*Reconciliation, 0, len(aggs))
	for _, agg := range aggs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		unlock := r.locks.Lock(agg.ContentHash)
		rec, err := r.Reconcile(ctx, agg, -1)
		unlock()
		if err != nil {
			return results, err
		}
		results = append(results, rec)
	}
	return results, nil
}
