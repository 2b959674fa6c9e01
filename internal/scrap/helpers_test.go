package scrap_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"scrapidx/internal/database"
	"scrapidx/internal/hashcache"
	"scrapidx/internal/scrap"
	"scrapidx/internal/testutil"
)

// env bundles the collaborators most tests wire into a ScrapService.
type env struct {
	store   *database.SQLiteStore
	objects *testutil.FlakyObjectStore
	index   *testutil.HookedIndex
	cache   *hashcache.MemoryCache
	clock   *testutil.StubClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := testutil.FixedClock()
	return &env{
		store:   testutil.NewTestStore(t, clock),
		objects: testutil.NewFlakyObjectStore(),
		index:   testutil.NewHookedIndex(nil),
		cache:   hashcache.NewMemory(),
		clock:   clock,
	}
}

func (e *env) service(cfg scrap.ServiceConfig) *scrap.ScrapService {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fastRetry
	}
	return scrap.NewScrapService(e.store, e.objects, e.index, e.cache, scrap.NewNopLogger(), e.clock, cfg)
}

var fastRetry = scrap.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

// leakLines returns n distinct credential lines tagged with prefix.
func leakLines(prefix string, n int) string {
	var b strings.Builder
	for i := range n {
		fmt.Fprintf(&b, "%s%04d@example.com:pw%d\n", prefix, i, i)
	}
	return b.String()
}

// seedAggregate creates an aggregate with n records directly in the store.
func seedAggregate(t *testing.T, store scrap.Store, key string, n int) *scrap.FileAggregate {
	t.Helper()
	ctx := context.Background()
	hash := testutil.SHA256Hex([]byte(key))
	agg, _, err := store.CreateOrFetchAggregate(ctx, &scrap.FileAggregate{
		SourceKey:   key,
		ContentHash: hash,
		SizeMB:      1,
		CreatedAt:   testutil.FixedClock().Now(),
		Active:      true,
		State:       scrap.StateIngested,
		ParsedLines: int64(n),
	})
	if err != nil {
		t.Fatalf("CreateOrFetchAggregate() error = %v", err)
	}
	id := scrap.NewIdentity(hash)
	recs := make([]*scrap.Credential, n)
	for i := range n {
		line := fmt.Sprintf("%s-user%04d:secret", key, i)
		recs[i] = &scrap.Credential{ID: id.RecordID(line), Line: line, FileID: agg.ID, CreatedAt: agg.CreatedAt}
	}
	if _, err := store.InsertRecords(ctx, recs); err != nil {
		t.Fatalf("InsertRecords() error = %v", err)
	}
	if err := store.SetAggregateCount(ctx, agg.ID, int64(n)); err != nil {
		t.Fatalf("SetAggregateCount() error = %v", err)
	}
	agg.RecordCount = int64(n)
	return agg
}

// flakyStore fails InsertRecords with a transient error a set number of
// times once the first skip calls went through.
type flakyStore struct {
	scrap.Store
	mu       sync.Mutex
	skip     int
	failures int
	calls    int
}

func (f *flakyStore) InsertRecords(ctx context.Context, recs []*scrap.Credential) (int64, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls > f.skip && f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return 0, scrap.Transient(fmt.Errorf("database is locked"))
	}
	return f.Store.InsertRecords(ctx, recs)
}

func (f *flakyStore) set(skip, failures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls, f.skip, f.failures = 0, skip, failures
}
