// Package migrations holds the embedded schema of the relational store.
// SQLite is migrated with golang-migrate, Postgres with goose. Both dialects
// share version numbers so one binary can tell either schema is current.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pressly/goose/v3"
)

//go:embed files/sqlite/*.sql files/postgres/*.sql
var migrationFiles embed.FS

const (
	sqliteDir   = "files/sqlite"
	postgresDir = "files/postgres"
)

var (
	// ErrNoSchema means the database was never migrated.
	ErrNoSchema = errors.New("database has no schema version")
	// ErrSchemaBehind means migrations are pending.
	ErrSchemaBehind = errors.New("database schema is behind this binary")
	// ErrSchemaAhead means the database was migrated by a newer binary.
	ErrSchemaAhead = errors.New("database schema is ahead of this binary")
)

// compare maps a database version against the latest embedded one.
func compare(current, latest int64) error {
	switch {
	case current == 0:
		return ErrNoSchema
	case current < latest:
		return fmt.Errorf("%w: at version %d, latest is %d", ErrSchemaBehind, current, latest)
	case current > latest:
		return fmt.Errorf("%w: at version %d, binary knows %d", ErrSchemaAhead, current, latest)
	}
	return nil
}

// MigrateSQLite applies every pending SQLite migration. The migrate instance
// is never closed because that would close db, which the caller owns.
func MigrateSQLite(db *sql.DB) error {
	m, err := newSQLiteMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// CheckSQLite reports whether a SQLite database is at the latest version.
func CheckSQLite(db *sql.DB) error {
	m, err := newSQLiteMigrate(db)
	if err != nil {
		return err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return ErrNoSchema
	}
	if err != nil {
		return fmt.Errorf("reading database version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is dirty at version %d: a migration failed halfway", version)
	}

	latest, err := latestSQLiteVersion()
	if err != nil {
		return err
	}
	return compare(int64(version), int64(latest))
}

func newSQLiteMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, sqliteDir)
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("wrapping database for migration: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

// latestSQLiteVersion walks the embedded source to its last version.
func latestSQLiteVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, sqliteDir)
	if err != nil {
		return 0, fmt.Errorf("opening embedded migrations: %w", err)
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading first migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}

// MigratePostgres applies every pending goose migration.
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, postgresDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// CheckPostgres reports whether a Postgres database is at the latest version.
func CheckPostgres(ctx context.Context, db *sql.DB) error {
	latest, err := latestPostgresVersion()
	if err != nil {
		return err
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("reading database version: %w", err)
	}
	return compare(version, latest)
}

func latestPostgresVersion() (int64, error) {
	if err := setupGoose(); err != nil {
		return 0, err
	}
	all, err := goose.CollectMigrations(postgresDir, 0, goose.MaxVersion)
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}
	last, err := all.Last()
	if err != nil {
		return 0, fmt.Errorf("reading last migration: %w", err)
	}
	return last.Version, nil
}

func setupGoose() error {
	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return nil
}
