package storage

import (
	"context"
	"fmt"
	"strings"

	"feedharvest/pkg/config"
)

// Open builds the store selected by cfg.Storage. Options not set by the
// caller are filled from the scrape and limit sections.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	opts := Options{
		MinInterval: cfg.Scrape.MinInterval,
		BatchSize:   cfg.Limits.MaxPostsPerBatch,
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); driver {
	case "", "sqlite":
		return NewSQLite(ctx, cfg.Storage.Path, opts)
	case "postgres", "postgresql":
		if cfg.Storage.DSN == "" {
			return nil, fmt.Errorf("storage driver %q requires a dsn", driver)
		}
		return NewPostgres(ctx, cfg.Storage.DSN, opts)
	case "memory":
		return NewMemory(opts), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}
