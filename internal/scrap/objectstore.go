package scrap

import (
	"context"
	"io"
)

// ObjectStore is the source of raw leak files and the destination for
// collected uploads and metadata snapshots. Keys are '/'-separated.
type ObjectStore interface {
	// List returns every object whose key starts with prefix.
	// An empty prefix lists the whole store.
	List(ctx context.Context, prefix string) ([]ObjectRef, error)

	// Stat returns the size in bytes of the object at key.
	// Returns an error wrapping ErrObjectNotFound if it does not exist.
	Stat(ctx context.Context, key string) (int64, error)

	// Open returns a streaming reader for the object at key.
	// Returns an error wrapping ErrObjectNotFound if it does not exist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores size bytes read from r at key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// ValidateSetup verifies that the store is reachable and usable.
	ValidateSetup(ctx context.Context) error
}
