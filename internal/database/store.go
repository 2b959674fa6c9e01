package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"scrapidx/internal/scrap"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of '?'
	numbered bool
	// maxParams bounds the bind parameters of one statement.
	maxParams int
	clearAll  []string
	// classify maps driver errors onto scrap.ErrTransient where they are
	// worth retrying.
	classify func(error) error
}

// rebind rewrites '?' placeholders for dialects with numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQLStore implements scrap.Store on database/sql. The dialect selects the
// SQLite or Postgres flavor.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	clock   scrap.Clock
}

var _ scrap.Store = (*SQLStore)(nil)

func (s *SQLStore) q(query string) string { return s.dialect.rebind(query) }

func (s *SQLStore) wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, s.dialect.classify(err))
}

// DB returns the underlying connection pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

const aggregateColumns = "id, source_key, content_hash, size_mb, created_at, active, record_count, parsed_lines, state"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAggregate(row rowScanner) (*scrap.FileAggregate, error) {
	var agg scrap.FileAggregate
	var state string
	if err := row.Scan(&agg.ID, &agg.SourceKey, &agg.ContentHash, &agg.SizeMB, &agg.CreatedAt,
		&agg.Active, &agg.RecordCount, &agg.ParsedLines, &state); err != nil {
		return nil, err
	}
	agg.State = scrap.State(state)
	return &agg, nil
}

// Aggregate operations

func (s *SQLStore) CreateOrFetchAggregate(ctx context.Context, agg *scrap.FileAggregate) (*scrap.FileAggregate, bool, error) {
	state := agg.State
	if state == "" {
		state = scrap.StateNew
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO file_aggregates (source_key, content_hash, size_mb, created_at, active, record_count, parsed_lines, state)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id`),
		agg.SourceKey, agg.ContentHash, agg.SizeMB, agg.CreatedAt.UTC(), agg.Active, string(state),
	).Scan(&id)
	switch {
	case err == nil:
		created := *agg
		created.ID = id
		created.State = state
		created.RecordCount = 0
		created.ParsedLines = 0
		return &created, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, s.wrap("inserting aggregate", err)
	}

	// Another writer inserted this hash first.
	existing, err := s.FindAggregateByHash(ctx, agg.ContentHash)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("aggregate %s vanished after insert conflict", agg.ContentHash)
	}
	return existing, false, nil
}

func (s *SQLStore) FindAggregateByHash(ctx context.Context, hash string) (*scrap.FileAggregate, error) {
	agg, err := scanAggregate(s.db.QueryRowContext(ctx,
		s.q("SELECT "+aggregateColumns+" FROM file_aggregates WHERE content_hash = ?"), hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, s.wrap("finding aggregate by hash", err)
	}
	return agg, nil
}

func (s *SQLStore) FindAggregateByID(ctx context.Context, id int64) (*scrap.FileAggregate, error) {
	agg, err := scanAggregate(s.db.QueryRowContext(ctx,
		s.q("SELECT "+aggregateColumns+" FROM file_aggregates WHERE id = ?"), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, s.wrap("finding aggregate by id", err)
	}
	return agg, nil
}

func (s *SQLStore) ListAggregates(ctx context.Context, filter scrap.AggregateFilter) ([]*scrap.FileAggregate, error) {
	var where []string
	var args []any
	if filter.ActiveOnly {
		where = append(where, "active = ?")
		args = append(args, true)
	}
	if filter.MinRecords > 0 {
		where = append(where, "record_count >= ?")
		args = append(args, filter.MinRecords)
	}
	if filter.MinSizeMB > 0 {
		where = append(where, "size_mb > ?")
		args = append(args, filter.MinSizeMB)
	}

	query := "SELECT " + aggregateColumns + " FROM file_aggregates"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.wrap("listing aggregates", err)
	}
	defer rows.Close()

	var aggs []*scrap.FileAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning aggregate: %w", err)
		}
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("listing aggregates", err)
	}
	return aggs, nil
}

func (s *SQLStore) UpdateAggregate(ctx context.Context, agg *scrap.FileAggregate) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE file_aggregates
		SET source_key = ?, size_mb = ?, active = ?, state = ?, parsed_lines = ?
		WHERE id = ?`),
		agg.SourceKey, agg.SizeMB, agg.Active, string(agg.State), agg.ParsedLines, agg.ID,
	)
	if err != nil {
		return s.wrap("updating aggregate", err)
	}
	return requireRow(res, "aggregate", agg.ID)
}

func (s *SQLStore) SetAggregateCount(ctx context.Context, id int64, count int64) error {
	res, err := s.db.ExecContext(ctx, s.q("UPDATE file_aggregates SET record_count = ? WHERE id = ?"), count, id)
	if err != nil {
		return s.wrap("setting record count", err)
	}
	return requireRow(res, "aggregate", id)
}

func (s *SQLStore) DeleteAggregate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM file_aggregates WHERE id = ?"), id)
	if err != nil {
		return s.wrap("deleting aggregate", err)
	}
	return requireRow(res, "aggregate", id)
}

func requireRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, scrap.ErrNotFound)
	}
	return nil
}

// Record operations

const credentialColumns = 5

func (s *SQLStore) InsertRecords(ctx context.Context, recs []*scrap.Credential) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.wrap("starting transaction", err)
	}
	defer tx.Rollback()

	perStmt := s.dialect.maxParams / credentialColumns
	var inserted int64
	for start := 0; start < len(recs); start += perStmt {
		end := min(start+perStmt, len(recs))
		chunk := recs[start:end]

		var b strings.Builder
		b.WriteString("INSERT INTO credentials (id, line, file_id, created_at, indexed) VALUES ")
		args := make([]any, 0, len(chunk)*credentialColumns)
		for i, rec := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, ?, ?)")
			args = append(args, rec.ID, rec.Line, rec.FileID, rec.CreatedAt.UTC(), rec.Indexed)
		}
		b.WriteString(" ON CONFLICT (id) DO NOTHING")

		res, err := tx.ExecContext(ctx, s.q(b.String()), args...)
		if err != nil {
			return 0, s.wrap("inserting records", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("checking affected rows: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, s.wrap("committing transaction", err)
	}
	return inserted, nil
}

func (s *SQLStore) CountRecords(ctx context.Context, aggregateID int64) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM credentials WHERE file_id = ?"), aggregateID).Scan(&n); err != nil {
		return 0, s.wrap("counting records", err)
	}
	return n, nil
}

func (s *SQLStore) DeleteRecords(ctx context.Context, aggregateID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM credentials WHERE file_id = ?"), aggregateID)
	if err != nil {
		return 0, s.wrap("deleting records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking affected rows: %w", err)
	}
	return n, nil
}

func (s *SQLStore) ListRecords(ctx context.Context, aggregateID int64, afterID string, limit int) ([]*scrap.Credential, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, line, file_id, created_at, indexed
		FROM credentials
		WHERE file_id = ? AND id > ?
		ORDER BY id
		LIMIT ?`), aggregateID, afterID, limit)
	if err != nil {
		return nil, s.wrap("listing records", err)
	}
	defer rows.Close()

	var recs []*scrap.Credential
	for rows.Next() {
		var rec scrap.Credential
		if err := rows.Scan(&rec.ID, &rec.Line, &rec.FileID, &rec.CreatedAt, &rec.Indexed); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("listing records", err)
	}
	return recs, nil
}

func (s *SQLStore) GetRecord(ctx context.Context, id string) (*scrap.Credential, error) {
	var rec scrap.Credential
	err := s.db.QueryRowContext(ctx, s.q("SELECT id, line, file_id, created_at, indexed FROM credentials WHERE id = ?"), id).
		Scan(&rec.ID, &rec.Line, &rec.FileID, &rec.CreatedAt, &rec.Indexed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, s.wrap("getting record", err)
	}
	return &rec, nil
}

func (s *SQLStore) MarkIndexed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("starting transaction", err)
	}
	defer tx.Rollback()

	perStmt := s.dialect.maxParams - 1
	for start := 0; start < len(ids); start += perStmt {
		end := min(start+perStmt, len(ids))
		chunk := ids[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, true)
		for _, id := range chunk {
			args = append(args, id)
		}
		query := "UPDATE credentials SET indexed = ? WHERE id IN (?" + strings.Repeat(", ?", len(chunk)-1) + ")"
		if _, err := tx.ExecContext(ctx, s.q(query), args...); err != nil {
			return s.wrap("marking records indexed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("committing transaction", err)
	}
	return nil
}

func (s *SQLStore) Stats(ctx context.Context) (*scrap.StoreStats, error) {
	var st scrap.StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN active THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(size_mb), 0)
		FROM file_aggregates`).Scan(&st.Files, &st.ActiveFiles, &st.TotalSizeMB)
	if err != nil {
		return nil, s.wrap("reading aggregate stats", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN indexed THEN 1 ELSE 0 END), 0)
		FROM credentials`).Scan(&st.Records, &st.IndexedRecords)
	if err != nil {
		return nil, s.wrap("reading record stats", err)
	}
	return &st, nil
}

func (s *SQLStore) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("starting transaction", err)
	}
	defer tx.Rollback()

	for _, stmt := range s.dialect.clearAll {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return s.wrap("clearing tables", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("committing transaction", err)
	}
	return nil
}

// Run history

func (s *SQLStore) CreateRun(ctx context.Context, operation, parameters string) (*scrap.RunRecord, error) {
	run := &scrap.RunRecord{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  s.clock.Now().UTC(),
		Status:     "running",
	}
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO runs (operation, parameters, started_at, status)
		VALUES (?, ?, ?, ?)
		RETURNING id`), run.Operation, run.Parameters, run.StartedAt, run.Status).Scan(&run.ID)
	if err != nil {
		return nil, s.wrap("creating run", err)
	}
	return run, nil
}

func (s *SQLStore) FinishRun(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, s.q("UPDATE runs SET finished_at = ?, status = ? WHERE id = ?"),
		s.clock.Now().UTC(), status, id)
	if err != nil {
		return s.wrap("finishing run", err)
	}
	return requireRow(res, "run", id)
}

func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]*scrap.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM runs
		ORDER BY id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, s.wrap("listing runs", err)
	}
	defer rows.Close()

	var runs []*scrap.RunRecord
	for rows.Next() {
		var run scrap.RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Operation, &run.Parameters, &run.StartedAt, &finished, &run.Status); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("listing runs", err)
	}
	return runs, nil
}

func (s *SQLStore) MaxRunID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM runs").Scan(&id); err != nil {
		return 0, s.wrap("reading max run id", err)
	}
	return id, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return s.wrap("pinging database", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
