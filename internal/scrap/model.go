package scrap

import (
	"math"
	"time"
)

// MaxLineLength is the longest credential line, in runes, that is stored.
const MaxLineLength = 1024

// MetaPrefix is the object-store prefix reserved for snapshots and other
// bookkeeping. Keys under it are never treated as source objects.
const MetaPrefix = "_meta/"

// FileAggregate is the deduplicated record for one unique source object.
// Two objects with identical bytes share a single aggregate.
type FileAggregate struct {
	ID          int64
	SourceKey   string
	ContentHash string
	SizeMB      float64
	CreatedAt   time.Time
	Active      bool
	RecordCount int64
	// ParsedLines is the fragment count of the last completed write pass.
	ParsedLines int64
	State       State
}

// Credential is one parsed leak line owned by a FileAggregate.
type Credential struct {
	ID        string
	Line      string
	FileID    int64
	CreatedAt time.Time
	Indexed   bool
}

// Document is the search-index representation of a Credential.
type Document struct {
	ID         string
	Line       string
	FileID     int64
	FileKey    string
	FileSizeMB float64
	CreatedAt  time.Time
	IndexedAt  time.Time
}

// ObjectRef identifies a candidate object in the object store.
type ObjectRef struct {
	Key  string
	Size int64
}

// AggregateFilter narrows ListAggregates.
type AggregateFilter struct {
	ActiveOnly bool
	MinRecords int64
	MinSizeMB  float64
	Limit      int
}

// SearchQuery is a substring query against the search index.
// Zero-valued fields do not constrain the result.
type SearchQuery struct {
	Text          string
	FileID        int64
	CreatedAfter  time.Time
	CreatedBefore time.Time
	IndexedAfter  time.Time
	IndexedBefore time.Time
	Limit         int
}

// BulkResult reports how a bulk upsert was applied.
type BulkResult struct {
	Created int
	Updated int
}

// StoreStats summarizes the relational store.
type StoreStats struct {
	Files          int64
	ActiveFiles    int64
	Records        int64
	IndexedRecords int64
	TotalSizeMB    float64
}

// RunRecord is one recorded CLI operation.
type RunRecord struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}

// RoundMB converts a byte count to megabytes with two-decimal precision.
func RoundMB(size int64) float64 {
	mb := float64(size) / (1024 * 1024)
	return math.Round(mb*100) / 100
}
