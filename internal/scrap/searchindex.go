package scrap

import "context"

// SearchIndex is the full-text service that credential lines are indexed into.
type SearchIndex interface {
	// Get returns the document with the given identifier, or (nil, nil).
	Get(ctx context.Context, id string) (*Document, error)

	// Upsert updates each document that already exists by identifier and
	// creates the rest. Repeating an Upsert never duplicates documents.
	Upsert(ctx context.Context, docs []*Document) (*BulkResult, error)

	// DeleteByFile removes every document of an aggregate.
	DeleteByFile(ctx context.Context, fileID int64) (int64, error)

	Count(ctx context.Context) (int64, error)
	CountByFile(ctx context.Context, fileID int64) (int64, error)

	// Search returns documents whose line contains q.Text (case-insensitive),
	// constrained by the time ranges and file filter of q.
	Search(ctx context.Context, q SearchQuery) ([]*Document, error)

	// Reset removes every document.
	Reset(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}
