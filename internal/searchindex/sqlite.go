package searchindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"scrapidx/internal/scrap"
)

// DefaultLimit caps a search that does not set one.
const DefaultLimit = 100

// minMatchRunes is the shortest query the trigram tokenizer can match.
// Shorter queries fall back to a LIKE scan.
const minMatchRunes = 3

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    line TEXT NOT NULL,
    file_id INTEGER NOT NULL,
    file_key TEXT NOT NULL,
    file_size_mb REAL NOT NULL,
    created_at INTEGER NOT NULL,
    indexed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_file ON documents(file_id);
CREATE INDEX IF NOT EXISTS idx_documents_indexed ON documents(indexed_at);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    line,
    content='documents',
    content_rowid='seq',
    tokenize='trigram'
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
    INSERT INTO documents_fts(rowid, line) VALUES (new.seq, new.line);
END;

CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, line) VALUES ('delete', old.seq, old.line);
END;

CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, line) VALUES ('delete', old.seq, old.line);
    INSERT INTO documents_fts(rowid, line) VALUES (new.seq, new.line);
END;
`

// SQLiteIndex is a SearchIndex backed by an SQLite FTS5 table with the
// trigram tokenizer, which gives case-insensitive substring matching.
type SQLiteIndex struct {
	db   *sql.DB
	path string
}

var _ scrap.SearchIndex = (*SQLiteIndex)(nil)

// NewSQLiteIndex opens (creating if needed) the index at path.
// Use ":memory:" for a throwaway index.
func NewSQLiteIndex(ctx context.Context, path string) (*SQLiteIndex, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}

	// One connection: ":memory:" databases are per connection and SQLite
	// has a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating search index schema: %w", err)
	}

	return &SQLiteIndex{db: db, path: path}, nil
}

// Path returns the file the index lives in.
func (x *SQLiteIndex) Path() string { return x.path }

const documentColumns = `id, line, file_id, file_key, file_size_mb, created_at, indexed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*scrap.Document, error) {
	var doc scrap.Document
	var createdAt, indexedAt int64
	if err := row.Scan(&doc.ID, &doc.Line, &doc.FileID, &doc.FileKey, &doc.FileSizeMB, &createdAt, &indexedAt); err != nil {
		return nil, err
	}
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	doc.IndexedAt = time.UnixMilli(indexedAt).UTC()
	return &doc, nil
}

func (x *SQLiteIndex) Get(ctx context.Context, id string) (*scrap.Document, error) {
	row := x.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("getting document %s: %w", id, err))
	}
	return doc, nil
}

// Upsert applies docs in one transaction: each document is updated in place
// when its identifier exists and inserted otherwise.
func (x *SQLiteIndex) Upsert(ctx context.Context, docs []*scrap.Document) (*scrap.BulkResult, error) {
	res := &scrap.BulkResult{}
	if len(docs) == 0 {
		return res, nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	update, err := tx.PrepareContext(ctx, `
		UPDATE documents
		SET line = ?, file_id = ?, file_key = ?, file_size_mb = ?, created_at = ?, indexed_at = ?
		WHERE id = ?`)
	if err != nil {
		return nil, classify(fmt.Errorf("preparing update: %w", err))
	}
	defer update.Close()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, classify(fmt.Errorf("preparing insert: %w", err))
	}
	defer insert.Close()

	for _, doc := range docs {
		created, indexed := doc.CreatedAt.UnixMilli(), doc.IndexedAt.UnixMilli()
		r, err := update.ExecContext(ctx, doc.Line, doc.FileID, doc.FileKey, doc.FileSizeMB, created, indexed, doc.ID)
		if err != nil {
			return nil, classify(fmt.Errorf("updating document %s: %w", doc.ID, err))
		}
		if n, _ := r.RowsAffected(); n > 0 {
			res.Updated++
			continue
		}
		if _, err := insert.ExecContext(ctx, doc.ID, doc.Line, doc.FileID, doc.FileKey, doc.FileSizeMB, created, indexed); err != nil {
			return nil, classify(fmt.Errorf("inserting document %s: %w", doc.ID, err))
		}
		res.Created++
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(fmt.Errorf("committing upsert: %w", err))
	}
	return res, nil
}

func (x *SQLiteIndex) DeleteByFile(ctx context.Context, fileID int64) (int64, error) {
	r, err := x.db.ExecContext(ctx, `DELETE FROM documents WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, classify(fmt.Errorf("deleting documents of file %d: %w", fileID, err))
	}
	n, _ := r.RowsAffected()
	return n, nil
}

func (x *SQLiteIndex) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("counting documents: %w", err))
	}
	return n, nil
}

func (x *SQLiteIndex) CountByFile(ctx context.Context, fileID int64) (int64, error) {
	var n int64
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE file_id = ?`, fileID).Scan(&n)
	if err != nil {
		return 0, classify(fmt.Errorf("counting documents of file %d: %w", fileID, err))
	}
	return n, nil
}

// Search matches q.Text as a substring of the line, ignoring case. Results
// are ordered newest indexed first.
func (x *SQLiteIndex) Search(ctx context.Context, q scrap.SearchQuery) ([]*scrap.Document, error) {
	var where []string
	var args []any

	text := strings.TrimSpace(q.Text)
	switch {
	case text == "":
	case len([]rune(text)) >= minMatchRunes:
		where = append(where, `d.seq IN (SELECT rowid FROM documents_fts WHERE documents_fts MATCH ?)`)
		args = append(args, quotePhrase(text))
	default:
		where = append(where, `d.line LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(text)+"%")
	}

	if q.FileID != 0 {
		where = append(where, `d.file_id = ?`)
		args = append(args, q.FileID)
	}
	timeRange := func(column string, after, before time.Time) {
		if !after.IsZero() {
			where = append(where, column+` >= ?`)
			args = append(args, after.UnixMilli())
		}
		if !before.IsZero() {
			where = append(where, column+` < ?`)
			args = append(args, before.UnixMilli())
		}
	}
	timeRange("d.created_at", q.CreatedAfter, q.CreatedBefore)
	timeRange("d.indexed_at", q.IndexedAfter, q.IndexedBefore)

	query := `SELECT ` + prefixColumns("d.") + ` FROM documents d`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	query += ` ORDER BY d.indexed_at DESC, d.id LIMIT ?`
	args = append(args, limit)

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("searching documents: %w", err))
	}
	defer rows.Close()

	var docs []*scrap.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterating documents: %w", err))
	}
	return docs, nil
}

func (x *SQLiteIndex) Reset(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return classify(fmt.Errorf("resetting index: %w", err))
	}
	return nil
}

func (x *SQLiteIndex) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := x.db.PingContext(ctx); err != nil {
		return fmt.Errorf("search index unreachable: %w", err)
	}
	return nil
}

func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}

func prefixColumns(prefix string) string {
	cols := strings.Split(documentColumns, ", ")
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

// quotePhrase turns free text into a single FTS5 string literal so operators
// and punctuation in the query are matched literally.
func quotePhrase(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// classify marks lock contention as transient so batch writers retry it.
func classify(err error) error {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return scrap.Transient(err)
		}
	}
	return err
}
