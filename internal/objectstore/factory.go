package objectstore

import (
	"context"
	"fmt"

	"scrapidx/internal/config"
	"scrapidx/internal/scrap"
)

// NewObjectStoreFromConfig creates an ObjectStore implementation based on the config type.
func NewObjectStoreFromConfig(ctx context.Context, cfg config.ObjectStoreConfig) (scrap.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		s, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem object store requires fs_root to be set")
		}
		s, err := NewFileSystemStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown object store type: %s", cfg.Type)
	}
}
