package scrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultIndexWorkers = 4
	DefaultQueueSize    = 4096
	DefaultIndexChunk   = 1000
	DefaultReadBatch    = 500
	DefaultIdleFlush    = 2 * time.Second
	DefaultBatchTimeout = 300 * time.Second
)

// errBatchTimeout abandons a batch that ran past its deadline.
var errBatchTimeout = errors.New("batch deadline exceeded")

// IndexOptions tunes one indexing task. Zero fields take the defaults.
type IndexOptions struct {
	// Workers is the number of producer goroutines.
	Workers int
	// QueueSize bounds the producer/consumer queue. Producers block when it
	// is full.
	QueueSize int
	// ChunkSize is the number of items flushed per batch.
	ChunkSize int
	// ReadBatch is the number of source lines handed to a producer at once.
	ReadBatch int
	// IdleFlush flushes a partial chunk when no item arrived for this long.
	IdleFlush time.Duration
	// BatchTimeout is the wall-clock budget of one batch, retries included.
	BatchTimeout time.Duration
	Retry        RetryPolicy
	// FromSource re-reads the object instead of the persisted records.
	FromSource bool
}

func (o IndexOptions) withDefaults() IndexOptions {
	if o.Workers <= 0 {
		o.Workers = DefaultIndexWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultIndexChunk
	}
	if o.ReadBatch <= 0 {
		o.ReadBatch = DefaultReadBatch
	}
	if o.IdleFlush <= 0 {
		o.IdleFlush = DefaultIdleFlush
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = DefaultBatchTimeout
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	return o
}

// TaskResult reports one indexing task. It is returned for failed tasks too.
type TaskResult struct {
	AggregateID      int64
	Processed        int64
	Total            int64
	Batches          int
	FailedBatches    int
	AbandonedBatches int
	Created          int
	Updated          int
	Elapsed          time.Duration
	// Mismatch is set when documents, records and processed items disagree.
	Mismatch bool
	// Failed is set when the task stopped before its source was exhausted.
	Failed bool
	State  State
	Err    error
}

// Pipeline indexes an aggregate's lines into the search index. Each run has
// M producers building (record, document) pairs and a single consumer that
// performs every write for the run.
type Pipeline struct {
	store      Store
	index      SearchIndex
	parser     *LineParser
	reconciler *Reconciler
	clock      Clock
	logger     Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(store Store, index SearchIndex, parser *LineParser, reconciler *Reconciler, clock Clock, logger Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		index:      index,
		parser:     parser,
		reconciler: reconciler,
		clock:      clock,
		logger:     logger,
	}
}

// Run indexes agg from src. The caller must hold the aggregate's writer lock.
// A task that fails or abandons batches ends INDEX_FAILED and keeps every
// batch it committed. The error return is reserved for bookkeeping failures
// in the store or index; task failures are reported in the result.
func (p *Pipeline) Run(ctx context.Context, agg *FileAggregate, src Source, opts IndexOptions) (*TaskResult, error) {
	opts = opts.withDefaults()
	start := p.clock.Now()

	if err := agg.State.Transition(StateIndexing); err != nil {
		return nil, fmt.Errorf("aggregate %d: %w", agg.ID, err)
	}
	if err := p.setState(ctx, agg, StateIndexing); err != nil {
		return nil, err
	}

	// Bookkeeping after the run must land even if ctx was cancelled.
	bg := context.WithoutCancel(ctx)

	res := &TaskResult{AggregateID: agg.ID}
	total, err := src.Total(ctx)
	if err != nil {
		_ = p.setState(bg, agg, StateIndexFailed)
		return nil, fmt.Errorf("counting source for aggregate %d: %w", agg.ID, err)
	}
	res.Total = total

	run := &indexRun{
		p:        p,
		agg:      agg,
		opts:     opts,
		identity: NewIdentity(agg.ContentHash),
		now:      start,
	}
	if err := run.execute(ctx, src); err != nil {
		res.Failed = true
		res.Err = err
		p.logger.Error("indexing task failed", "id", agg.ID, "error", err)
	}

	res.Processed = run.processed
	res.Batches = run.batches
	res.FailedBatches = run.failed
	res.AbandonedBatches = run.abandoned
	res.Created = run.created
	res.Updated = run.updated

	if _, err := p.reconciler.Reconcile(bg, agg, -1); err != nil {
		return res, err
	}
	idx, err := p.reconciler.ReconcileIndex(bg, agg, p.index)
	if err != nil {
		return res, err
	}
	res.Mismatch = idx.Mismatch || res.Processed != res.Total

	final := StateIndexed
	if res.Failed || res.AbandonedBatches > 0 {
		final = StateIndexFailed
	}
	if err := p.setState(bg, agg, final); err != nil {
		return res, err
	}
	res.State = final
	res.Elapsed = p.clock.Now().Sub(start)

	p.logger.Info("indexing finished",
		"id", agg.ID,
		"state", final,
		"processed", res.Processed,
		"total", res.Total,
		"batches", res.Batches,
		"abandoned", res.AbandonedBatches,
		"mismatch", res.Mismatch,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func (p *Pipeline) setState(ctx context.Context, agg *FileAggregate, state State) error {
	agg.State = state
	if err := p.store.UpdateAggregate(ctx, agg); err != nil {
		return fmt.Errorf("setting aggregate %d to %s: %w", agg.ID, state, err)
	}
	return nil
}

// indexItem is one (record, document) pair on the queue.
type indexItem struct {
	rec *Credential
	doc *Document
}

// indexRun is the state of one Run. The counters are written only by the
// consumer goroutine and read after every goroutine has returned.
type indexRun struct {
	p        *Pipeline
	agg      *FileAggregate
	opts     IndexOptions
	identity Identity
	now      time.Time

	processed int64
	batches   int
	failed    int
	abandoned int
	created   int
	updated   int
}

func (r *indexRun) execute(ctx context.Context, src Source) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan []SourceItem, r.opts.Workers)
	queue := make(chan indexItem, r.opts.QueueSize)

	g.Go(func() error {
		defer close(jobs)
		return src.Read(gctx, r.opts.ReadBatch, func(batch []SourceItem) error {
			select {
			case jobs <- batch:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var producers sync.WaitGroup
	for range r.opts.Workers {
		producers.Add(1)
		g.Go(func() error {
			defer producers.Done()
			return r.produce(gctx, jobs, queue)
		})
	}

	// Closing the queue is the completion signal for the consumer.
	g.Go(func() error {
		producers.Wait()
		close(queue)
		return nil
	})

	g.Go(func() error {
		return r.consume(gctx, queue)
	})

	return g.Wait()
}

func (r *indexRun) produce(ctx context.Context, jobs <-chan []SourceItem, queue chan<- indexItem) error {
	for batch := range jobs {
		for _, item := range batch {
			if item.Raw {
				frags, _, _ := r.p.parser.Normalize(item.Line)
				for _, f := range frags {
					if err := r.push(ctx, queue, r.identity.RecordID(f), f, r.now); err != nil {
						return err
					}
				}
				continue
			}
			if err := r.push(ctx, queue, item.ID, item.Line, item.CreatedAt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *indexRun) push(ctx context.Context, queue chan<- indexItem, id, line string, created time.Time) error {
	it := indexItem{
		rec: &Credential{ID: id, Line: line, FileID: r.agg.ID, CreatedAt: created},
		doc: &Document{
			ID:         id,
			Line:       line,
			FileID:     r.agg.ID,
			FileKey:    r.agg.SourceKey,
			FileSizeMB: r.agg.SizeMB,
			CreatedAt:  created,
		},
	}
	select {
	case queue <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *indexRun) consume(ctx context.Context, queue <-chan indexItem) error {
	chunk := make([]indexItem, 0, r.opts.ChunkSize)
	ticker := time.NewTicker(r.opts.IdleFlush)
	defer ticker.Stop()

	idle := true
	for {
		select {
		case it, ok := <-queue:
			if !ok {
				return r.flush(ctx, chunk)
			}
			chunk = append(chunk, it)
			idle = false
			if len(chunk) >= r.opts.ChunkSize {
				if err := r.flush(ctx, chunk); err != nil {
					return err
				}
				chunk = chunk[:0]
			}
		case <-ticker.C:
			if idle && len(chunk) > 0 {
				if err := r.flush(ctx, chunk); err != nil {
					return err
				}
				chunk = chunk[:0]
			}
			idle = true
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush applies one chunk as a unit: persist the records ignoring conflicts,
// upsert the documents, then mark the records indexed. The deadline is
// checked between attempts; a batch past it is abandoned.
func (r *indexRun) flush(ctx context.Context, chunk []indexItem) error {
	if len(chunk) == 0 {
		return nil
	}

	recs := make([]*Credential, len(chunk))
	docs := make([]*Document, len(chunk))
	ids := make([]string, len(chunk))
	for i, it := range chunk {
		recs[i] = it.rec
		docs[i] = it.doc
		ids[i] = it.rec.ID
	}

	start := r.p.clock.Now()
	var applied *BulkResult
	attempts, err := r.opts.Retry.Do(ctx, func(ctx context.Context) error {
		if r.p.clock.Now().Sub(start) > r.opts.BatchTimeout {
			return errBatchTimeout
		}
		if _, err := r.p.store.InsertRecords(ctx, recs); err != nil {
			return fmt.Errorf("persisting batch: %w", err)
		}
		indexedAt := r.p.clock.Now()
		for _, d := range docs {
			d.IndexedAt = indexedAt
		}
		res, err := r.p.index.Upsert(ctx, docs)
		if err != nil {
			return fmt.Errorf("indexing batch: %w", err)
		}
		if err := r.p.store.MarkIndexed(ctx, ids); err != nil {
			return fmt.Errorf("marking batch indexed: %w", err)
		}
		applied = res
		return nil
	})
	r.batches++
	elapsed := r.p.clock.Now().Sub(start)

	switch {
	case errors.Is(err, errBatchTimeout):
		r.abandoned++
		r.p.logger.Warn("batch abandoned after deadline",
			"id", r.agg.ID, "size", len(chunk), "attempts", attempts-1, "elapsed", elapsed)
		return nil
	case err != nil:
		r.failed++
		return fmt.Errorf("batch of %d failed after %d attempts: %w", len(chunk), attempts, err)
	}

	if elapsed > r.opts.BatchTimeout {
		r.p.logger.Warn("batch completed past deadline", "id", r.agg.ID, "size", len(chunk), "elapsed", elapsed)
	}
	r.processed += int64(len(chunk))
	r.created += applied.Created
	r.updated += applied.Updated
	return nil
}
