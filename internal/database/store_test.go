package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"scrapidx/internal/scrap"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// storeSuite exercises the scrap.Store contract. newStore must return an
// empty, migrated store.
func storeSuite(t *testing.T, newStore func(t *testing.T) scrap.Store) {
	ctx := context.Background()

	newAgg := func(hash string) *scrap.FileAggregate {
		return &scrap.FileAggregate{
			SourceKey:   hash + ".txt",
			ContentHash: hash,
			SizeMB:      1.25,
			CreatedAt:   testTime,
			Active:      true,
			State:       scrap.StateHashed,
		}
	}
	mustCreate := func(t *testing.T, s scrap.Store, hash string) *scrap.FileAggregate {
		t.Helper()
		agg, created, err := s.CreateOrFetchAggregate(ctx, newAgg(hash))
		if err != nil {
			t.Fatalf("CreateOrFetchAggregate() error = %v", err)
		}
		if !created {
			t.Fatalf("CreateOrFetchAggregate() created = false for new hash %s", hash)
		}
		return agg
	}
	records := func(agg *scrap.FileAggregate, lines ...string) []*scrap.Credential {
		recs := make([]*scrap.Credential, len(lines))
		for i, line := range lines {
			recs[i] = &scrap.Credential{
				ID:        scrap.RecordID(agg.ContentHash, line),
				Line:      line,
				FileID:    agg.ID,
				CreatedAt: testTime,
			}
		}
		return recs
	}

	t.Run("create or fetch aggregate", func(t *testing.T) {
		s := newStore(t)
		agg := mustCreate(t, s, "h1")
		if agg.ID == 0 {
			t.Error("aggregate ID should be non-zero")
		}
		if agg.State != scrap.StateHashed {
			t.Errorf("State = %s, want %s", agg.State, scrap.StateHashed)
		}

		again, created, err := s.CreateOrFetchAggregate(ctx, newAgg("h1"))
		if err != nil {
			t.Fatalf("second CreateOrFetchAggregate() error = %v", err)
		}
		if created {
			t.Error("second CreateOrFetchAggregate() created = true, want false")
		}
		if again.ID != agg.ID {
			t.Errorf("fetched ID = %d, want %d", again.ID, agg.ID)
		}
	})

	t.Run("concurrent first sight yields one aggregate", func(t *testing.T) {
		s := newStore(t)
		const workers = 8
		ids := make([]int64, workers)
		createdCount := make([]bool, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				agg, created, err := s.CreateOrFetchAggregate(ctx, newAgg("h2"))
				if err != nil {
					t.Errorf("CreateOrFetchAggregate() error = %v", err)
					return
				}
				ids[i] = agg.ID
				createdCount[i] = created
			}()
		}
		wg.Wait()

		winners := 0
		for i := range workers {
			if createdCount[i] {
				winners++
			}
			if ids[i] != ids[0] {
				t.Errorf("worker %d got aggregate %d, want %d", i, ids[i], ids[0])
			}
		}
		if winners != 1 {
			t.Errorf("%d workers created the aggregate, want 1", winners)
		}
		aggs, _ := s.ListAggregates(ctx, scrap.AggregateFilter{})
		if len(aggs) != 1 {
			t.Errorf("got %d aggregates, want 1", len(aggs))
		}
	})

	t.Run("find returns nil for missing", func(t *testing.T) {
		s := newStore(t)
		agg, err := s.FindAggregateByHash(ctx, "nope")
		if err != nil || agg != nil {
			t.Errorf("FindAggregateByHash() = %v, %v; want nil, nil", agg, err)
		}
		agg, err = s.FindAggregateByID(ctx, 999)
		if err != nil || agg != nil {
			t.Errorf("FindAggregateByID() = %v, %v; want nil, nil", agg, err)
		}
		rec, err := s.GetRecord(ctx, "nope")
		if err != nil || rec != nil {
			t.Errorf("GetRecord() = %v, %v; want nil, nil", rec, err)
		}
	})

	t.Run("update keeps the record count", func(t *testing.T) {
		s := newStore(t)
		agg := mustCreate(t, s, "h3")
		if err := s.SetAggregateCount(ctx, agg.ID, 7); err != nil {
			t.Fatalf("SetAggregateCount() error = %v", err)
		}

		agg.SourceKey = "renamed.txt"
		agg.State = scrap.StateIngested
		agg.ParsedLines = 9
		agg.SizeMB = 3.5
		agg.RecordCount = 0
		if err := s.UpdateAggregate(ctx, agg); err != nil {
			t.Fatalf("UpdateAggregate() error = %v", err)
		}

		got, _ := s.FindAggregateByID(ctx, agg.ID)
		if got.SourceKey != "renamed.txt" || got.State != scrap.StateIngested || got.ParsedLines != 9 || got.SizeMB != 3.5 {
			t.Errorf("updated aggregate = %+v", got)
		}
		if got.RecordCount != 7 {
			t.Errorf("RecordCount = %d, want 7", got.RecordCount)
		}
	})

	t.Run("update of missing aggregate is not found", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateAggregate(ctx, &scrap.FileAggregate{ID: 404, State: scrap.StateNew})
		if !errors.Is(err, scrap.ErrNotFound) {
			t.Errorf("UpdateAggregate() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("insert records ignores identifier conflicts", func(t *testing.T) {
		s := newStore(t)
		agg := mustCreate(t, s, "h4")

		n, err := s.InsertRecords(ctx, records(agg, "user1:pass1", "user2:pass2"))
		if err != nil {
			t.Fatalf("InsertRecords() error = %v", err)
		}
		if n != 2 {
			t.Errorf("inserted = %d, want 2", n)
		}

		n, err = s.InsertRecords(ctx, records(agg, "user1:pass1", "user2:pass2", "user3:pass3"))
		if err != nil {
			t.Fatalf("second InsertRecords() error = %v", err)
		}
		if n != 1 {
			t.Errorf("second inserted = %d, want 1", n)
		}

		count, _ := s.CountRecords(ctx, agg.ID)
		if count != 3 {
			t.Errorf("CountRecords() = %d, want 3", count)
		}
	})

	t.Run("insert records spans statements", func(t *testing.T) {
		s := newStore(t)
		agg := mustCreate(t, s, "h5")
		lines := make([]string, 1234)
		for i := range lines {
			lines[i] = fmt.Sprintf("user%d:pass%d", i, i)
		}
		n, err := s.InsertRecords(ctx, records(agg, lines...))
		if err != nil {
			t.Fatalf("InsertRecords() error = %v", err)
		}
		if n != int64(len(lines)) {
			t.Errorf("inserted = %d, want %d", n, len(lines))
		}
	})

	t.Run("list records pages by identifier", func(t *testing.T) {
		s := newStore(t)
		agg := mustCreate(t, s, "h6")
		other := mustCreate(t, s, "h6b")
		if _, err := s.InsertRecords(ctx, records(agg, "a", "b", "c", "d", "e")); err != nil {
			t.Fatalf("InsertRecords() error = %v", err)
		}
		if _, err := s.InsertRecords(ctx, records(other, "a")); err != nil {
			t.Fatalf("InsertRecords() error = %v", err)
		}

		var seen []string
		after := ""
		for {
			page, err := s.ListRecords(ctx, agg.ID, after, 2)
			if err != nil {
				t.Fatalf("ListRecords() error = %v", err)
			}
			if len(page) == 0 {
				break
			}
			for _, rec := range page {
				if rec.FileID != agg.ID {
					t.Errorf("record %s belongs to %d", rec.ID, rec.FileID)
				}
				seen = append(seen, rec.ID)
			}
			after = page[len(page)-1].ID
		}
		if len(seen) != 5 {
			t.Fatalf("paged %d records, want 5", len(seen))
		}
		for i := 1; i < len(seen); i++ {
			if seen[i-1] >= seen[i] {
				t.Errorf("records not ordered: %s before %s", seen[i-1], seen[i])
			}
		}
	})

	t.Run("mark indexed", func(t *testing.T) {
		s := newStore(t)
		agg := mustCreate(t, s, "h7")
		recs := records(agg, "a", "b")
		if _, err := s.InsertRecords(ctx, recs); err != nil {
			t.Fatalf("InsertRecords() error = %v", err)
		}
		if err := s.MarkIndexed(ctx, []string{recs[0].ID}); err != nil {
			t.Fatalf("MarkIndexed() error = %v", err)
		}

		got, _ := s.GetRecord(ctx, recs[0].ID)
		if !got.Indexed {
			t.Error("record should be indexed")
		}
		got, _ = s.GetRecord(ctx, recs[1].ID)
		if got.Indexed {
			t.Error("record should not be indexed")
		}

		st, _ := s.Stats(ctx)
		if st.IndexedRecords != 1 {
			t.Errorf("IndexedRecords = %d, want 1", st.IndexedRecords)
		}
	})

	t.Run("delete aggregate cascades to records", func(t *testing.T) {
		s := newStore(t)
		agg := mustCreate(t, s, "h8")
		recs := records(agg, "a", "b", "c")
		if _, err := s.InsertRecords(ctx, recs); err != nil {
			t.Fatalf("InsertRecords() error = %v", err)
		}

		if err := s.DeleteAggregate(ctx, agg.ID); err != nil {
			t.Fatalf("DeleteAggregate() error = %v", err)
		}
		count, _ := s.CountRecords(ctx, agg.ID)
		if count != 0 {
			t.Errorf("CountRecords() after delete = %d, want 0", count)
		}
		rec, _ := s.GetRecord(ctx, recs[0].ID)
		if rec != nil {
			t.Error("record survived aggregate deletion")
		}
	})

	t.Run("delete records keeps the aggregate", func(t *testing.T) {
		s := newStore(t)
		agg := mustCreate(t, s, "h9")
		if _, err := s.InsertRecords(ctx, records(agg, "a", "b")); err != nil {
			t.Fatalf("InsertRecords() error = %v", err)
		}
		n, err := s.DeleteRecords(ctx, agg.ID)
		if err != nil {
			t.Fatalf("DeleteRecords() error = %v", err)
		}
		if n != 2 {
			t.Errorf("deleted = %d, want 2", n)
		}
		got, _ := s.FindAggregateByID(ctx, agg.ID)
		if got == nil {
			t.Error("aggregate removed with its records")
		}
	})

	t.Run("list aggregates filters", func(t *testing.T) {
		s := newStore(t)
		a := mustCreate(t, s, "ha")
		b := mustCreate(t, s, "hb")
		c := mustCreate(t, s, "hc")
		s.SetAggregateCount(ctx, a.ID, 10)
		s.SetAggregateCount(ctx, c.ID, 5)
		b.Active = false
		s.UpdateAggregate(ctx, b)
		c.SizeMB = 2048
		s.UpdateAggregate(ctx, c)

		tests := []struct {
			name   string
			filter scrap.AggregateFilter
			want   []int64
		}{
			{"all newest first", scrap.AggregateFilter{}, []int64{c.ID, b.ID, a.ID}},
			{"active only", scrap.AggregateFilter{ActiveOnly: true}, []int64{c.ID, a.ID}},
			{"with records", scrap.AggregateFilter{MinRecords: 6}, []int64{a.ID}},
			{"large files", scrap.AggregateFilter{MinSizeMB: 1000}, []int64{c.ID}},
			{"limit", scrap.AggregateFilter{Limit: 1}, []int64{c.ID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				aggs, err := s.ListAggregates(ctx, tt.filter)
				if err != nil {
					t.Fatalf("ListAggregates() error = %v", err)
				}
				if len(aggs) != len(tt.want) {
					t.Fatalf("got %d aggregates, want %d", len(aggs), len(tt.want))
				}
				for i, agg := range aggs {
					if agg.ID != tt.want[i] {
						t.Errorf("aggs[%d].ID = %d, want %d", i, agg.ID, tt.want[i])
					}
				}
			})
		}
	})

	t.Run("soft-deleted records stay retrievable", func(t *testing.T) {
		s := newStore(t)
		agg := mustCreate(t, s, "hs")
		recs := records(agg, "a")
		s.InsertRecords(ctx, recs)
		agg.Active = false
		if err := s.UpdateAggregate(ctx, agg); err != nil {
			t.Fatalf("UpdateAggregate() error = %v", err)
		}

		rec, err := s.GetRecord(ctx, recs[0].ID)
		if err != nil || rec == nil {
			t.Fatalf("GetRecord() = %v, %v", rec, err)
		}
		active, _ := s.ListAggregates(ctx, scrap.AggregateFilter{ActiveOnly: true})
		if len(active) != 0 {
			t.Errorf("inactive aggregate listed as active")
		}
	})

	t.Run("stats and clear all", func(t *testing.T) {
		s := newStore(t)
		a := mustCreate(t, s, "hx")
		b := mustCreate(t, s, "hy")
		s.InsertRecords(ctx, records(a, "1", "2"))
		s.InsertRecords(ctx, records(b, "3"))
		b.Active = false
		s.UpdateAggregate(ctx, b)

		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if st.Files != 2 || st.ActiveFiles != 1 || st.Records != 3 {
			t.Errorf("Stats() = %+v", st)
		}
		if st.TotalSizeMB != 2.5 {
			t.Errorf("TotalSizeMB = %v, want 2.5", st.TotalSizeMB)
		}

		if err := s.ClearAll(ctx); err != nil {
			t.Fatalf("ClearAll() error = %v", err)
		}
		st, _ = s.Stats(ctx)
		if st.Files != 0 || st.Records != 0 {
			t.Errorf("Stats() after clear = %+v", st)
		}
	})

	t.Run("runs", func(t *testing.T) {
		s := newStore(t)

		maxID, err := s.MaxRunID(ctx)
		if err != nil {
			t.Fatalf("MaxRunID() error = %v", err)
		}
		if maxID != 0 {
			t.Errorf("MaxRunID() on empty store = %d, want 0", maxID)
		}

		r1, err := s.CreateRun(ctx, "ingest", "force=false")
		if err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
		r2, _ := s.CreateRun(ctx, "clear", "")
		if err := s.FinishRun(ctx, r1.ID, "success"); err != nil {
			t.Fatalf("FinishRun() error = %v", err)
		}

		runs, err := s.ListRuns(ctx, 10)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("got %d runs, want 2", len(runs))
		}
		// Newest first
		if runs[0].ID != r2.ID {
			t.Errorf("runs[0].ID = %d, want %d", runs[0].ID, r2.ID)
		}
		if runs[0].FinishedAt != nil {
			t.Error("unfinished run has FinishedAt")
		}
		if runs[1].Status != "success" || runs[1].FinishedAt == nil {
			t.Errorf("finished run = %+v", runs[1])
		}
		if runs[1].Parameters != "force=false" {
			t.Errorf("Parameters = %q", runs[1].Parameters)
		}

		maxID, _ = s.MaxRunID(ctx)
		if maxID != r2.ID {
			t.Errorf("MaxRunID() = %d, want %d", maxID, r2.ID)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := newStore(t).Ping(ctx); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})
}

func TestDialect_Rebind(t *testing.T) {
	tests := []struct {
		name string
		d    dialect
		in   string
		want string
	}{
		{"sqlite unchanged", sqliteDialect, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"postgres numbered", postgresDialect, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"postgres no params", postgresDialect, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.rebind(tt.in); got != tt.want {
				t.Errorf("rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}
