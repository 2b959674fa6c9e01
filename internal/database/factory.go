package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"scrapidx/internal/config"
	"scrapidx/internal/scrap"
)

// NewStoreFromConfig creates a Store implementation based on the database config type.
// The returned store is migrated to the latest schema.
func NewStoreFromConfig(ctx context.Context, cfg config.DatabaseConfig, hostID string, clock scrap.Clock) (scrap.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		s, err := NewSQLiteStore(filepath.Join(cfg.DataDir, hostID+".db"), clock)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		s, err := NewSQLiteStore(":memory:", clock)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		s, err := NewPostgresStore(ctx, cfg.DSN, clock)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
