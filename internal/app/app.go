package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"scrapidx/internal/config"
	"scrapidx/internal/database"
	"scrapidx/internal/encryption"
	"scrapidx/internal/fs"
	"scrapidx/internal/hashcache"
	"scrapidx/internal/objectstore"
	"scrapidx/internal/scrap"
	"scrapidx/internal/searchindex"
)

// OpPullSnapshot is the operation name of snapshot downloads. It bypasses the
// remote version check, since pulling is how a host that is behind catches up.
const OpPullSnapshot = "PullSnapshot"

// ScrapApp is the application layer between the CLI and ScrapService.
// It constructs all dependencies from config, records mutating commands in
// the run history, and publishes the metadata snapshot on Close.
type ScrapApp struct {
	cfg       *config.Config
	store     scrap.Store
	objects   scrap.ObjectStore
	index     scrap.SearchIndex
	cache     *hashcache.FileCache
	fsmgr     scrap.FilesystemManager
	encryptor scrap.Encryptor
	snapshots *SnapshotStore
	service   *scrap.ScrapService
	logger    scrap.Logger
	op        *Operation
	logFile   *os.File
}

// NewScrapApp creates a fully wired ScrapApp from the given config.
// operation identifies the CLI command being run (e.g. "Ingest", "Index")
// and parameters its arguments, as recorded in the run history.
// The caller must call Close when done.
func NewScrapApp(ctx context.Context, cfg *config.Config, operation, parameters string) (*ScrapApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, parseLevel(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &ScrapApp{
		cfg:     cfg,
		logger:  &slogAdapter{l: logger},
		op:      NewOperation(operation, parameters),
		logFile: logFile,
		fsmgr:   fs.NewOSFilesystemManager(cfg.Collect.Ignore),
	}

	if err := a.open(ctx); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *ScrapApp) open(ctx context.Context) error {
	cfg := a.cfg

	objects, err := objectstore.NewObjectStoreFromConfig(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("creating object store: %w", err)
	}
	a.objects = objects

	store, err := database.NewStoreFromConfig(ctx, cfg.Database, cfg.HostID, scrap.RealClock{})
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	a.store = store

	if m, ok := store.(interface{ CheckMigrations() error }); ok {
		if err := m.CheckMigrations(); err != nil {
			return fmt.Errorf("database schema out of date: %w", err)
		}
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc
	a.snapshots = NewSnapshotStore(objects, cfg.HostID, encryption.SnapshotSuffix(cfg.Encryption.Type))

	if cfg.Database.Snapshot && a.op.Operation != OpPullSnapshot {
		// Check local DB version against the published snapshot.
		remote, err := a.snapshots.Version(ctx)
		if err != nil {
			return fmt.Errorf("checking remote metadata version: %w", err)
		}
		local, err := store.MaxRunID(ctx)
		if err != nil {
			return fmt.Errorf("checking local metadata version: %w", err)
		}
		if remote > local {
			return fmt.Errorf("local database is behind remote (local=%d, remote=%d): pull the snapshot or re-initialize", local, remote)
		}
	}

	index, err := searchindex.NewIndexFromConfig(ctx, cfg.SearchIndex)
	if err != nil {
		return fmt.Errorf("creating search index: %w", err)
	}
	a.index = index

	a.cache = hashcache.Load(cfg.Ingest.HashCachePath, a.logger)
	a.service = scrap.NewScrapService(store, objects, index, a.cache, a.logger, scrap.RealClock{}, serviceConfig(cfg))
	return nil
}

// serviceConfig maps the config tunables onto the service.
func serviceConfig(cfg *config.Config) scrap.ServiceConfig {
	ix := cfg.Indexing
	retry := scrap.RetryPolicy{
		MaxAttempts: ix.MaxAttempts,
		Backoff:     ix.Backoff.Duration,
		MaxBackoff:  ix.MaxBackoff.Duration,
	}
	return scrap.ServiceConfig{
		Extensions:    cfg.Ingest.Extensions,
		Prefixes:      cfg.Ingest.Prefixes,
		MaxLineLength: cfg.Ingest.MaxLineLength,
		ChunkSize:     cfg.Ingest.ChunkSizeKB << 10,
		BatchSize:     cfg.Ingest.BatchSize,
		Workers:       cfg.Ingest.Workers,
		Retry:         retry,
		Index: scrap.IndexOptions{
			Workers:      ix.Workers,
			QueueSize:    ix.QueueSize,
			ChunkSize:    ix.ChunkSize,
			ReadBatch:    ix.ReadBatch,
			IdleFlush:    ix.IdleFlush.Duration,
			BatchTimeout: ix.BatchTimeout.Duration,
			Retry:        retry,
		},
	}
}

// persistOperation saves the operation to the run history, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *ScrapApp) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	run, err := a.store.CreateRun(ctx, a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = run.ID
	return nil
}

// Collect uploads local leak files into the object store. With no paths the
// configured source paths are used.
func (a *ScrapApp) Collect(ctx context.Context, paths []string, force bool) (*scrap.CollectResult, error) {
	if len(paths) == 0 {
		paths = a.cfg.Collect.SourcePaths
	}
	if len(paths) == 0 {
		return nil, errors.New("no source paths given or configured")
	}
	cache := hashcache.Load(a.cfg.Collect.HashCachePath, a.logger)
	c := scrap.NewCollector(a.fsmgr, a.objects, cache, a.cfg.Ingest.Extensions, a.cfg.Collect.Prefix, a.logger)
	res, err := c.Collect(ctx, paths, force)
	return res, a.op.Record(err)
}

// Ingest runs an ingestion pass over the object store.
func (a *ScrapApp) Ingest(ctx context.Context, opts scrap.IngestOptions) (*scrap.RunResult, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}
	res, err := a.service.Ingest(ctx, opts)
	if err == nil && res.Failed > 0 {
		a.op.Status = "error"
	}
	return res, a.op.Record(err)
}

// Index runs the Indexing Pipeline for one aggregate.
func (a *ScrapApp) Index(ctx context.Context, aggregateID int64, opts scrap.IndexOptions) (*scrap.TaskResult, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}
	res, err := a.service.Reindex(ctx, aggregateID, opts)
	if err == nil && res.Failed {
		a.op.Status = "error"
	}
	return res, a.op.Record(err)
}

// IndexAll runs the Indexing Pipeline for every active aggregate.
func (a *ScrapApp) IndexAll(ctx context.Context, opts scrap.IndexOptions) ([]*scrap.TaskResult, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}
	res, err := a.service.ReindexAll(ctx, opts)
	for _, task := range res {
		if task.Failed || task.State == scrap.StateIndexFailed {
			a.op.Status = "error"
		}
	}
	return res, a.op.Record(err)
}

// Reconcile recounts every aggregate.
func (a *ScrapApp) Reconcile(ctx context.Context) ([]*scrap.Reconciliation, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}
	res, err := a.service.Reconcile(ctx)
	return res, a.op.Record(err)
}

// ListFiles returns the aggregates matching filter.
func (a *ScrapApp) ListFiles(ctx context.Context, filter scrap.AggregateFilter) ([]*scrap.FileAggregate, error) {
	return a.service.ListAggregates(ctx, filter)
}

// Activate marks an aggregate active.
func (a *ScrapApp) Activate(ctx context.Context, aggregateID int64) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	return a.op.Record(a.service.Activate(ctx, aggregateID))
}

// Deactivate soft-deletes an aggregate.
func (a *ScrapApp) Deactivate(ctx context.Context, aggregateID int64) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	return a.op.Record(a.service.Deactivate(ctx, aggregateID))
}

// Delete removes an aggregate with its records and documents.
func (a *ScrapApp) Delete(ctx context.Context, aggregateID int64) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	return a.op.Record(a.service.DeleteAggregate(ctx, aggregateID))
}

// FixSizes corrects stored aggregate sizes from the object store.
func (a *ScrapApp) FixSizes(ctx context.Context, all bool) ([]*scrap.SizeFix, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}
	res, err := a.service.FixSizes(ctx, all)
	return res, a.op.Record(err)
}

// ClearAll removes every aggregate, record and search document.
func (a *ScrapApp) ClearAll(ctx context.Context) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	return a.op.Record(a.service.ClearAll(ctx))
}

// Stats returns the store and index summary with the most recent aggregates.
func (a *ScrapApp) Stats(ctx context.Context, recent int) (*scrap.Stats, error) {
	return a.service.GetStats(ctx, recent)
}

// Search runs a substring query against the search index.
func (a *ScrapApp) Search(ctx context.Context, q scrap.SearchQuery) ([]*scrap.Document, error) {
	return a.service.Search(ctx, q)
}

// RebuildHashCache repopulates the ingest Hash Cache from the store.
func (a *ScrapApp) RebuildHashCache(ctx context.Context) (int, error) {
	return a.service.RebuildHashCache(ctx)
}

// GetHistory returns the most recent recorded operations.
func (a *ScrapApp) GetHistory(ctx context.Context, limit int) ([]*scrap.RunRecord, error) {
	return a.service.GetHistory(ctx, limit)
}

// PullSnapshot downloads the published metadata snapshot into destPath,
// decrypting it with the private key unlocked by passphrase.
func (a *ScrapApp) PullSnapshot(ctx context.Context, passphrase, destPath string) error {
	tmp, err := os.CreateTemp("", "scrapidx-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp file for snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := a.snapshots.Get(ctx, tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding snapshot: %w", err)
	}

	dctx, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	if err := dctx.Decrypt(tmp, out); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	return out.Close()
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the run record, snapshots the DB, and
// uploads the snapshot to the object store. For non-persisted operations:
// just closes everything.
func (a *ScrapApp) Close() error {
	ctx := context.Background()
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		if err := a.store.FinishRun(ctx, a.op.ID, a.op.Status); err != nil {
			keep(fmt.Errorf("finishing operation: %w", err))
		}
		if a.cfg.Database.Snapshot {
			keep(a.publishSnapshot(ctx))
		}
	}

	keep(a.release())
	return firstErr
}

// publishSnapshot copies the store to a temp file, encrypts it, and uploads
// it with the operation ID as its version.
func (a *ScrapApp) publishSnapshot(ctx context.Context) error {
	snap, ok := a.store.(scrap.Snapshotter)
	if !ok {
		a.logger.Debug("store does not support snapshots, skipping upload", "type", a.cfg.Database.Type)
		return nil
	}

	tmp, err := os.CreateTemp("", "scrapidx-db-backup-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for db backup: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := snap.BackupTo(ctx, tmpPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}

	enc, err := os.CreateTemp("", "scrapidx-db-backup-*"+encryption.SnapshotSuffix(a.cfg.Encryption.Type))
	if err != nil {
		return fmt.Errorf("creating temp file for encrypted backup: %w", err)
	}
	defer os.Remove(enc.Name())
	defer enc.Close()

	src, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("opening db backup: %w", err)
	}
	err = a.encryptor.Encrypt(src, enc)
	src.Close()
	if err != nil {
		return fmt.Errorf("encrypting db backup: %w", err)
	}

	size, err := enc.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("stat encrypted backup: %w", err)
	}
	if _, err := enc.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding encrypted backup: %w", err)
	}
	if err := a.snapshots.Put(ctx, enc, size, a.op.ID); err != nil {
		return err
	}
	a.logger.Info("metadata snapshot uploaded", "key", a.snapshots.Key(), "version", a.op.ID, "bytes", size)
	return nil
}

// release closes every open resource and returns the first error.
func (a *ScrapApp) release() error {
	var firstErr error
	if a.cache != nil {
		if err := a.cache.Flush(); err != nil {
			firstErr = fmt.Errorf("flushing hash cache: %w", err)
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing search index: %w", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing store: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
