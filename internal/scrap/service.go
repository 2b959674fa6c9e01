package scrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const DefaultIngestWorkers = 2

// ServiceConfig holds the tunables of a Service. Zero fields take defaults.
type ServiceConfig struct {
	Extensions    []string
	Prefixes      []string
	MaxLineLength int
	ChunkSize     int
	BatchSize     int
	Workers       int
	Index         IndexOptions
	Retry         RetryPolicy
}

// ScrapService is the orchestration layer behind every entry point of the
// CLI: ingestion, indexing, reconciliation and the admin operations.
type ScrapService struct {
	store      Store
	objects    ObjectStore
	index      SearchIndex
	cache      HashCache
	logger     Logger
	clock      Clock
	cfg        ServiceConfig
	parser     *LineParser
	scanner    *Scanner
	dedup      *DedupEngine
	reconciler *Reconciler
	pipeline   *Pipeline
	// locks serializes writers per content hash. It is shared with the
	// reconciler so a recount never interleaves with a write pass.
	locks *keyedMutex
}

// NewScrapService creates a ScrapService with the provided dependencies.
func NewScrapService(store Store, objects ObjectStore, index SearchIndex, cache HashCache, logger Logger, clock Clock, cfg ServiceConfig) *ScrapService {
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = MaxLineLength
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultIngestWorkers
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	parser := NewLineParser(cfg.MaxLineLength, cfg.ChunkSize)
	reconciler := NewReconciler(store, logger)
	return &ScrapService{
		store:      store,
		objects:    objects,
		index:      index,
		cache:      cache,
		logger:     logger,
		clock:      clock,
		cfg:        cfg,
		parser:     parser,
		scanner:    NewScanner(objects, cfg.Extensions, logger),
		dedup:      NewDedupEngine(objects, store, index, cache, parser, clock, logger),
		reconciler: reconciler,
		pipeline:   NewPipeline(store, index, parser, reconciler, clock, logger),
		locks:      reconciler.locks,
	}
}

// IngestOptions controls one ingestion run.
type IngestOptions struct {
	// Force purges and rewrites aggregates that already exist.
	Force bool
	// Prefixes overrides the configured prefixes when non-empty.
	Prefixes  []string
	BatchSize int
	Workers   int
	// Index runs the Indexing Pipeline for every object once it is written.
	Index        bool
	IndexOptions IndexOptions
}

// ObjectResult is the outcome for one scanned object.
type ObjectResult struct {
	Key         string
	Hash        string
	AggregateID int64
	Action      Action
	// Parsed is the number of fragments counted by the dedup pass.
	Parsed   int64
	Inserted int64
	// Count is the reconciled record count after the object was handled.
	Count    int64
	Mismatch bool
	Err      error
	Task     *TaskResult
}

// RunResult summarizes an ingestion run.
type RunResult struct {
	Objects    int
	Skipped    int
	Resumed    int
	Ingested   int
	Failed     int
	Records    int64
	Mismatches int
	Elapsed    time.Duration
	Results    []*ObjectResult
}

// Ingest scans the object store and ingests every whitelisted object.
// Failures of single objects are reported in the result; the error return
// is reserved for resource-level failures that abort the run.
func (s *ScrapService) Ingest(ctx context.Context, opts IngestOptions) (*RunResult, error) {
	start := s.clock.Now()
	defer func() {
		if err := s.cache.Flush(); err != nil {
			s.logger.Error("flushing hash cache", "error", err)
		}
	}()

	if err := s.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}
	if opts.Index {
		if err := s.index.Ping(ctx); err != nil {
			return nil, fmt.Errorf("search index unreachable: %w", err)
		}
	}

	prefixes := opts.Prefixes
	if len(prefixes) == 0 {
		prefixes = s.cfg.Prefixes
	}
	refs, err := s.scanner.List(ctx, prefixes)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = s.cfg.Workers
	}
	results := make([]*ObjectResult, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ref := range refs {
		g.Go(func() error {
			results[i] = s.ingestObject(gctx, ref, opts)
			return nil
		})
	}
	_ = g.Wait()

	run := &RunResult{Objects: len(refs), Results: results}
	for _, res := range results {
		switch {
		case res.Err != nil:
			run.Failed++
		case res.Action == ActionSkip:
			run.Skipped++
		case res.Action == ActionResume:
			run.Resumed++
		default:
			run.Ingested++
		}
		run.Records += res.Inserted
		if res.Mismatch || (res.Task != nil && res.Task.Mismatch) {
			run.Mismatches++
		}
	}
	run.Elapsed = s.clock.Now().Sub(start)

	s.logger.Info("ingest finished",
		"objects", run.Objects,
		"ingested", run.Ingested,
		"resumed", run.Resumed,
		"skipped", run.Skipped,
		"failed", run.Failed,
		"records", run.Records,
		"elapsed", run.Elapsed,
	)
	return run, ctx.Err()
}

func (s *ScrapService) ingestObject(ctx context.Context, ref ObjectRef, opts IngestOptions) *ObjectResult {
	res := &ObjectResult{Key: ref.Key}
	fail := func(err error) *ObjectResult {
		res.Err = err
		s.logger.Error("object failed", "key", ref.Key, "error", err)
		return res
	}

	var fp *Fingerprint
	var err error
	if opts.Force {
		fp, err = s.dedup.ForceFingerprint(ctx, ref)
	} else {
		fp, err = s.dedup.Fingerprint(ctx, ref)
	}
	if err != nil {
		res.Action = ActionError
		return fail(err)
	}
	res.Hash = fp.Hash
	res.Parsed = fp.Parsed

	unlock := s.locks.Lock(fp.Hash)
	defer unlock()

	dec := s.dedup.Decide(ctx, fp, opts.Force)
	res.Action = dec.Action
	if dec.Action == ActionError {
		return fail(dec.Err)
	}
	agg := dec.Aggregate
	res.AggregateID = agg.ID

	if dec.Action == ActionSkip {
		s.logger.Info("object already processed, skipping", "key", ref.Key, "id", agg.ID, "records", dec.Live)
		res.Count = dec.Live
		if !agg.State.Ingested() {
			// Records were complete but the pass that wrote them never
			// recorded it.
			agg.ParsedLines = fp.Parsed
			if err := s.advance(ctx, agg, StateIngested); err != nil {
				return fail(err)
			}
		}
	} else {
		if err := s.write(ctx, agg, fp, opts, res); err != nil {
			return fail(err)
		}
	}

	s.cache.Put(ref.Key, fp.Hash)
	if err := s.cache.Flush(); err != nil {
		s.logger.Error("flushing hash cache", "error", err)
	}

	if opts.Index && agg.State != StateIndexed {
		task, err := s.pipeline.Run(ctx, agg, NewStoreSource(s.store, agg), s.indexOptions(opts.IndexOptions))
		res.Task = task
		if err != nil {
			return fail(err)
		}
		if task.Failed {
			res.Err = task.Err
		}
	}
	return res
}

// write runs the write pass for a decided object: parse, batch, persist,
// reconcile. Records already present are skipped by the conflict-ignoring
// insert, which makes a resume a top-up.
func (s *ScrapService) write(ctx context.Context, agg *FileAggregate, fp *Fingerprint, opts IngestOptions, res *ObjectResult) error {
	if err := s.advance(ctx, agg, StatePartial); err != nil {
		return err
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	w := NewBatchWriter(s.store, batchSize, s.cfg.Retry, s.logger)
	identity := NewIdentity(agg.ContentHash)
	now := s.clock.Now()

	rc, err := s.objects.Open(ctx, fp.Key)
	if err != nil {
		return fmt.Errorf("opening %s: %w", fp.Key, err)
	}
	stats, err := s.parser.Parse(rc, func(line string) error {
		return w.Add(ctx, &Credential{
			ID:        identity.RecordID(line),
			Line:      line,
			FileID:    agg.ID,
			CreatedAt: now,
		})
	})
	rc.Close()
	if err == nil {
		err = w.Flush(ctx)
	}
	res.Inserted = w.Inserted()
	if err != nil {
		// Committed batches stay; the next run resumes from them.
		if _, rerr := s.reconciler.Reconcile(context.WithoutCancel(ctx), agg, -1); rerr != nil {
			s.logger.Error("reconciling after failed write", "id", agg.ID, "error", rerr)
		}
		return fmt.Errorf("writing %s: %w", fp.Key, err)
	}

	if stats.Truncated > 0 {
		s.logger.Warn("overlong fragments truncated", "key", fp.Key, "truncated", stats.Truncated)
	}
	if stats.Fragments != fp.Parsed {
		s.logger.Warn("object changed between passes", "key", fp.Key, "first", fp.Parsed, "second", stats.Fragments)
	}

	rec, err := s.reconciler.Reconcile(ctx, agg, stats.Fragments)
	if err != nil {
		return err
	}
	res.Count = rec.Counted
	res.Mismatch = rec.Mismatch

	agg.ParsedLines = stats.Fragments
	if err := s.advance(ctx, agg, StateIngested); err != nil {
		return err
	}
	s.logger.Info("object ingested",
		"key", fp.Key,
		"id", agg.ID,
		"encoding", stats.Encoding,
		"parsed", stats.Fragments,
		"inserted", w.Inserted(),
		"skipped", w.Skipped(),
		"batches", w.Batches(),
		"count", rec.Counted,
	)
	return nil
}

// advance moves agg to next and persists it. A state that cannot reach next
// directly restarts the lifecycle at HASHED first.
func (s *ScrapService) advance(ctx context.Context, agg *FileAggregate, next State) error {
	if !agg.State.CanTransition(next) {
		agg.State = StateHashed
	}
	if err := agg.State.Transition(next); err != nil {
		return err
	}
	agg.State = next
	if err := s.store.UpdateAggregate(ctx, agg); err != nil {
		return fmt.Errorf("setting aggregate %d to %s: %w", agg.ID, next, err)
	}
	return nil
}

func (s *ScrapService) indexOptions(opts IndexOptions) IndexOptions {
	def := s.cfg.Index
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ReadBatch <= 0 {
		opts.ReadBatch = def.ReadBatch
	}
	if opts.IdleFlush <= 0 {
		opts.IdleFlush = def.IdleFlush
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = def.BatchTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = s.cfg.Retry
	}
	return opts
}

// Reindex runs the Indexing Pipeline for one aggregate. Returns an error
// wrapping ErrNotFound if the aggregate does not exist.
func (s *ScrapService) Reindex(ctx context.Context, aggregateID int64, opts IndexOptions) (*TaskResult, error) {
	agg, err := s.store.FindAggregateByID(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("finding aggregate: %w", err)
	}
	if agg == nil {
		return nil, fmt.Errorf("aggregate %d: %w", aggregateID, ErrNotFound)
	}
	if err := s.index.Ping(ctx); err != nil {
		return nil, fmt.Errorf("search index unreachable: %w", err)
	}
	return s.reindex(ctx, agg, opts)
}

func (s *ScrapService) reindex(ctx context.Context, agg *FileAggregate, opts IndexOptions) (*TaskResult, error) {
	unlock := s.locks.Lock(agg.ContentHash)
	defer unlock()

	if !agg.State.CanTransition(StateIndexing) {
		return nil, fmt.Errorf("aggregate %d is %s and cannot be indexed", agg.ID, agg.State)
	}

	var src Source = NewStoreSource(s.store, agg)
	if opts.FromSource {
		src = NewStreamSource(s.objects, s.parser, agg)
	}
	return s.pipeline.Run(ctx, agg, src, s.indexOptions(opts))
}

// ReindexAll indexes every active aggregate that holds records. Failed tasks
// are reported in their results; the error return is for listing failures.
func (s *ScrapService) ReindexAll(ctx context.Context, opts IndexOptions) ([]*TaskResult, error) {
	if err := s.index.Ping(ctx); err != nil {
		return nil, fmt.Errorf("search index unreachable: %w", err)
	}
	aggs, err := s.store.ListAggregates(ctx, AggregateFilter{ActiveOnly: true, MinRecords: 1})
	if err != nil {
		return nil, fmt.Errorf("listing aggregates: %w", err)
	}

	results := make([]*TaskResult, 0, len(aggs))
	for _, agg := range aggs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		task, err := s.reindex(ctx, agg, opts)
		if err != nil {
			s.logger.Error("reindex failed", "id", agg.ID, "error", err)
			task = &TaskResult{AggregateID: agg.ID, Failed: true, Err: err, State: agg.State}
		}
		results = append(results, task)
	}
	return results, nil
}

// Reconcile recounts every aggregate.
func (s *ScrapService) Reconcile(ctx context.Context) ([]*Reconciliation, error) {
	return s.reconciler.ReconcileAll(ctx)
}

// ClearAll removes every aggregate, record and search document and empties
// the Hash Cache.
func (s *ScrapService) ClearAll(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}
	if err := s.index.Reset(ctx); err != nil {
		return fmt.Errorf("resetting search index: %w", err)
	}
	s.cache.Reset()
	if err := s.cache.Flush(); err != nil {
		return fmt.Errorf("flushing hash cache: %w", err)
	}
	s.logger.Info("all data cleared")
	return nil
}

// Activate marks an aggregate active.
func (s *ScrapService) Activate(ctx context.Context, aggregateID int64) error {
	return s.setActive(ctx, aggregateID, true)
}

// Deactivate soft-deletes an aggregate: it disappears from active listings
// while its records stay retrievable.
func (s *ScrapService) Deactivate(ctx context.Context, aggregateID int64) error {
	return s.setActive(ctx, aggregateID, false)
}

func (s *ScrapService) setActive(ctx context.Context, aggregateID int64, active bool) error {
	agg, err := s.mustFind(ctx, aggregateID)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(agg.ContentHash)
	defer unlock()

	agg.Active = active
	if err := s.store.UpdateAggregate(ctx, agg); err != nil {
		return fmt.Errorf("updating aggregate: %w", err)
	}
	s.logger.Info("aggregate updated", "id", agg.ID, "active", active)
	return nil
}

// DeleteAggregate removes an aggregate, its records and its search
// documents.
func (s *ScrapService) DeleteAggregate(ctx context.Context, aggregateID int64) error {
	agg, err := s.mustFind(ctx, aggregateID)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(agg.ContentHash)
	defer unlock()

	if err := s.store.DeleteAggregate(ctx, agg.ID); err != nil {
		return fmt.Errorf("deleting aggregate: %w", err)
	}
	docs, err := s.index.DeleteByFile(ctx, agg.ID)
	if err != nil {
		return fmt.Errorf("deleting search documents: %w", err)
	}
	s.logger.Info("aggregate deleted", "id", agg.ID, "key", agg.SourceKey, "documents", docs)
	return nil
}

func (s *ScrapService) mustFind(ctx context.Context, aggregateID int64) (*FileAggregate, error) {
	agg, err := s.store.FindAggregateByID(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("finding aggregate: %w", err)
	}
	if agg == nil {
		return nil, fmt.Errorf("aggregate %d: %w", aggregateID, ErrNotFound)
	}
	return agg, nil
}

// ListAggregates returns the aggregates matching filter.
func (s *ScrapService) ListAggregates(ctx context.Context, filter AggregateFilter) ([]*FileAggregate, error) {
	aggs, err := s.store.ListAggregates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing aggregates: %w", err)
	}
	return aggs, nil
}

// Search runs a substring query against the search index.
func (s *ScrapService) Search(ctx context.Context, q SearchQuery) ([]*Document, error) {
	if q.Text == "" {
		return nil, errors.New("search text is required")
	}
	docs, err := s.index.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	return docs, nil
}

// RebuildHashCache repopulates the Hash Cache from the aggregates' source
// keys. Returns the number of entries written.
func (s *ScrapService) RebuildHashCache(ctx context.Context) (int, error) {
	aggs, err := s.store.ListAggregates(ctx, AggregateFilter{})
	if err != nil {
		return 0, fmt.Errorf("listing aggregates: %w", err)
	}
	s.cache.Reset()
	for _, agg := range aggs {
		s.cache.Put(agg.SourceKey, agg.ContentHash)
	}
	if err := s.cache.Flush(); err != nil {
		return 0, fmt.Errorf("flushing hash cache: %w", err)
	}
	s.logger.Info("hash cache rebuilt", "entries", len(aggs))
	return len(aggs), nil
}
