package scrap_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"scrapidx/internal/database"
	"scrapidx/internal/scrap"
	"scrapidx/internal/testutil"
)

func newPipeline(store scrap.Store, index scrap.SearchIndex, clock scrap.Clock) *scrap.Pipeline {
	logger := scrap.NewNopLogger()
	return scrap.NewPipeline(store, index, scrap.NewLineParser(0, 0), scrap.NewReconciler(store, logger), clock, logger)
}

func pipelineOptions() scrap.IndexOptions {
	return scrap.IndexOptions{
		Workers:      3,
		QueueSize:    16,
		ChunkSize:    100,
		ReadBatch:    40,
		IdleFlush:    time.Minute,
		BatchTimeout: 30 * time.Second,
		Retry:        fastRetry,
	}
}

func indexedRecords(t *testing.T, store *database.SQLiteStore) int64 {
	t.Helper()
	st, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	return st.IndexedRecords
}

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes every record", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := testutil.NewTestStore(t, clock)
		index := testutil.NewHookedIndex(nil)
		agg := seedAggregate(t, store, "p.txt", 250)

		res, err := newPipeline(store, index, clock).Run(ctx, agg, scrap.NewStoreSource(store, agg), pipelineOptions())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.State != scrap.StateIndexed || res.Failed || res.Mismatch {
			t.Errorf("Run() = %+v", res)
		}
		if res.Processed != 250 || res.Total != 250 || res.Batches != 3 || res.Created != 250 {
			t.Errorf("processed=%d total=%d batches=%d created=%d", res.Processed, res.Total, res.Batches, res.Created)
		}
		if n, _ := index.CountByFile(ctx, agg.ID); n != 250 {
			t.Errorf("CountByFile() = %d, want 250", n)
		}
		if n := indexedRecords(t, store); n != 250 {
			t.Errorf("indexed records = %d, want 250", n)
		}
		got, _ := store.FindAggregateByID(ctx, agg.ID)
		if got.State != scrap.StateIndexed {
			t.Errorf("stored state = %s, want INDEXED", got.State)
		}

		doc, err := index.Get(ctx, scrap.RecordID(agg.ContentHash, "p.txt-user0007:secret"))
		if err != nil || doc == nil {
			t.Fatalf("Get() = %v, %v", doc, err)
		}
		if doc.FileKey != "p.txt" || doc.FileID != agg.ID || !doc.IndexedAt.Equal(clock.Now()) {
			t.Errorf("document = %+v", doc)
		}
	})

	t.Run("running twice creates no duplicates", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := testutil.NewTestStore(t, clock)
		index := testutil.NewHookedIndex(nil)
		agg := seedAggregate(t, store, "p.txt", 120)
		p := newPipeline(store, index, clock)

		for range 2 {
			if _, err := p.Run(ctx, agg, scrap.NewStoreSource(store, agg), pipelineOptions()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
		}
		res, err := p.Run(ctx, agg, scrap.NewStoreSource(store, agg), pipelineOptions())
		if err != nil {
			t.Fatal(err)
		}
		if res.Created != 0 || res.Updated != 120 {
			t.Errorf("third run created=%d updated=%d, want 0 and 120", res.Created, res.Updated)
		}
		if n, _ := index.Count(ctx); n != 120 {
			t.Errorf("Count() = %d, want 120", n)
		}
	})

	t.Run("transient index failures are retried", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := testutil.NewTestStore(t, clock)
		index := testutil.NewHookedIndex(testutil.FailFirst(2, scrap.Transient(errors.New("429 too many requests"))))
		agg := seedAggregate(t, store, "p.txt", 250)

		res, err := newPipeline(store, index, clock).Run(ctx, agg, scrap.NewStoreSource(store, agg), pipelineOptions())
		if err != nil {
			t.Fatal(err)
		}
		if res.State != scrap.StateIndexed || res.Processed != 250 {
			t.Errorf("Run() = %+v", res)
		}
		if index.Calls() != 5 {
			t.Errorf("Upsert called %d times, want 5", index.Calls())
		}
	})

	t.Run("exhausted budget fails the task and keeps earlier batches", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := testutil.NewTestStore(t, clock)
		index := testutil.NewHookedIndex(func(call int, _ []*scrap.Document) error {
			if call >= 2 {
				return scrap.Transient(errors.New("cluster unavailable"))
			}
			return nil
		})
		agg := seedAggregate(t, store, "p.txt", 250)
		opts := pipelineOptions()
		opts.Workers = 1

		res, err := newPipeline(store, index, clock).Run(ctx, agg, scrap.NewStoreSource(store, agg), opts)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !res.Failed || res.Err == nil || res.State != scrap.StateIndexFailed {
			t.Errorf("Run() = %+v, want a failed task", res)
		}
		if res.FailedBatches != 1 || res.Processed != 100 {
			t.Errorf("failed=%d processed=%d, want 1 and 100", res.FailedBatches, res.Processed)
		}
		if n, _ := index.CountByFile(ctx, agg.ID); n != 100 {
			t.Errorf("CountByFile() = %d, want the committed batch of 100", n)
		}
		got, _ := store.FindAggregateByID(ctx, agg.ID)
		if got.State != scrap.StateIndexFailed {
			t.Errorf("stored state = %s, want INDEX_FAILED", got.State)
		}
	})

	t.Run("batch past its deadline is abandoned", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := testutil.NewTestStore(t, clock)
		opts := pipelineOptions()
		index := testutil.NewHookedIndex(func(call int, _ []*scrap.Document) error {
			if call == 1 {
				clock.Advance(opts.BatchTimeout + time.Second)
				return scrap.Transient(errors.New("request timed out"))
			}
			return nil
		})
		agg := seedAggregate(t, store, "p.txt", 250)

		res, err := newPipeline(store, index, clock).Run(ctx, agg, scrap.NewStoreSource(store, agg), opts)
		if err != nil {
			t.Fatal(err)
		}
		if res.Failed {
			t.Errorf("abandoning a batch should not fail the task: %v", res.Err)
		}
		if res.AbandonedBatches != 1 || res.Processed != 150 || !res.Mismatch {
			t.Errorf("abandoned=%d processed=%d mismatch=%v", res.AbandonedBatches, res.Processed, res.Mismatch)
		}
		if res.State != scrap.StateIndexFailed {
			t.Errorf("State = %s, want INDEX_FAILED", res.State)
		}
		if n, _ := index.CountByFile(ctx, agg.ID); n != 150 {
			t.Errorf("CountByFile() = %d, want 150", n)
		}
	})

	t.Run("single slot queue", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := testutil.NewTestStore(t, clock)
		index := testutil.NewHookedIndex(nil)
		agg := seedAggregate(t, store, "p.txt", 333)
		opts := pipelineOptions()
		opts.QueueSize = 1
		opts.Workers = 4
		opts.ChunkSize = 7

		res, err := newPipeline(store, index, clock).Run(ctx, agg, scrap.NewStoreSource(store, agg), opts)
		if err != nil {
			t.Fatal(err)
		}
		if res.Processed != 333 || res.State != scrap.StateIndexed {
			t.Errorf("Run() = %+v", res)
		}
	})

	t.Run("rejects an aggregate that was never written", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := testutil.NewTestStore(t, clock)
		agg := seedAggregate(t, store, "p.txt", 1)
		agg.State = scrap.StateHashed

		_, err := newPipeline(store, testutil.NewHookedIndex(nil), clock).Run(ctx, agg, scrap.NewStoreSource(store, agg), pipelineOptions())
		if err == nil {
			t.Fatal("Run() expected an error for a HASHED aggregate")
		}
	})
}
