package searchindex

import (
	"context"
	"fmt"

	"scrapidx/internal/config"
	"scrapidx/internal/scrap"
)

// NewIndexFromConfig creates a SearchIndex implementation based on the config type.
func NewIndexFromConfig(ctx context.Context, cfg config.SearchIndexConfig) (scrap.SearchIndex, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite search index")
		}
		x, err := NewSQLiteIndex(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return x, nil
	case "memory":
		return NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unknown search index type: %s", cfg.Type)
	}
}
