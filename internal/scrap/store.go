package scrap

import "context"

// Store is the relational store holding aggregates, credential records and
// the run history. Lookups return (nil, nil) when nothing matches.
type Store interface {
	// Aggregate operations

	// CreateOrFetchAggregate inserts agg keyed by its content hash. If an
	// aggregate with that hash already exists, including one inserted by a
	// concurrent writer, the existing one is returned with created=false.
	CreateOrFetchAggregate(ctx context.Context, agg *FileAggregate) (got *FileAggregate, created bool, err error)

	FindAggregateByHash(ctx context.Context, hash string) (*FileAggregate, error)
	FindAggregateByID(ctx context.Context, id int64) (*FileAggregate, error)
	ListAggregates(ctx context.Context, filter AggregateFilter) ([]*FileAggregate, error)

	// UpdateAggregate persists the mutable fields of agg: source key, size,
	// active flag, state and parsed lines. The record count is owned by
	// SetAggregateCount.
	UpdateAggregate(ctx context.Context, agg *FileAggregate) error

	// SetAggregateCount overwrites the cached record count.
	SetAggregateCount(ctx context.Context, id int64, count int64) error

	// DeleteAggregate removes the aggregate and, by cascade, its records.
	DeleteAggregate(ctx context.Context, id int64) error

	// Record operations

	// InsertRecords writes recs in one transaction, silently skipping any
	// record whose identifier already exists. Returns the number inserted.
	InsertRecords(ctx context.Context, recs []*Credential) (int64, error)

	// CountRecords counts the live records of an aggregate.
	CountRecords(ctx context.Context, aggregateID int64) (int64, error)

	// DeleteRecords removes every record of an aggregate, keeping the aggregate.
	DeleteRecords(ctx context.Context, aggregateID int64) (int64, error)

	// ListRecords returns up to limit records of an aggregate with an
	// identifier greater than afterID, ordered by identifier.
	ListRecords(ctx context.Context, aggregateID int64, afterID string, limit int) ([]*Credential, error)

	GetRecord(ctx context.Context, id string) (*Credential, error)

	// MarkIndexed sets the indexed flag on the given records.
	MarkIndexed(ctx context.Context, ids []string) error

	Stats(ctx context.Context) (*StoreStats, error)

	// ClearAll removes every aggregate and record.
	ClearAll(ctx context.Context) error

	// Run history

	CreateRun(ctx context.Context, operation, parameters string) (*RunRecord, error)
	FinishRun(ctx context.Context, id int64, status string) error
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
	MaxRunID(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Snapshotter is implemented by stores that can copy themselves to a file.
type Snapshotter interface {
	BackupTo(ctx context.Context, destPath string) error
}
