package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"scrapidx/internal/database/migrations"
	"scrapidx/internal/scrap"
)

var postgresDialect = dialect{
	name:      "postgres",
	numbered:  true,
	maxParams: 65535,
	clearAll: []string{
		"TRUNCATE credentials, file_aggregates RESTART IDENTITY CASCADE",
	},
	classify: classifyPostgres,
}

// NewPostgresStore connects to the Postgres database at dsn and migrates it
// to the latest schema.
func NewPostgresStore(ctx context.Context, dsn string, clock scrap.Clock) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := migrations.MigratePostgres(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	// goose leaves a schema from a newer binary untouched.
	if err := migrations.CheckPostgres(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}
	return NewPostgresStoreFromDB(db, clock), nil
}

// NewPostgresStoreFromDB wraps an existing, migrated connection pool.
func NewPostgresStoreFromDB(db *sql.DB, clock scrap.Clock) *SQLStore {
	if clock == nil {
		clock = scrap.RealClock{}
	}
	return &SQLStore{db: db, dialect: postgresDialect, clock: clock}
}

// Postgres error codes worth retrying: serialization_failure,
// deadlock_detected, lock_not_available.
var transientPgCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientPgCodes[pgErr.Code] {
		return scrap.Transient(err)
	}
	return err
}
