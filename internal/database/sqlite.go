package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3" // SQLite driver

	"scrapidx/internal/database/migrations"
	"scrapidx/internal/scrap"
)

// SQLiteStore is the SQLite flavor of SQLStore. It adds file snapshots and
// migration checks.
type SQLiteStore struct {
	*SQLStore
	path string
}

var (
	_ scrap.Store       = (*SQLiteStore)(nil)
	_ scrap.Snapshotter = (*SQLiteStore)(nil)
)

var sqliteDialect = dialect{
	name: "sqlite",
	// SQLITE_MAX_VARIABLE_NUMBER is 32766 since 3.32; stay well below it.
	maxParams: 999,
	clearAll: []string{
		"DELETE FROM credentials",
		"DELETE FROM file_aggregates",
	},
	classify: classifySQLite,
}

// NewSQLiteStore opens the SQLite database at path and migrates it to the
// latest schema. path can be a file path or ":memory:".
func NewSQLiteStore(path string, clock scrap.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	s := NewSQLiteStoreFromDB(db, clock)
	s.path = path
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB, clock scrap.Clock) *SQLiteStore {
	if clock == nil {
		clock = scrap.RealClock{}
	}
	return &SQLiteStore{SQLStore: &SQLStore{db: db, dialect: sqliteDialect, clock: clock}}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: :memory: databases are per connection, and the PRAGMAs
	// below are connection state.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the database file path, or "" for a wrapped connection.
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckSQLite(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// classifySQLite marks lock contention as transient.
func classifySQLite(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return scrap.Transient(err)
		}
	}
	return err
}
