// Package store opens the storage backend selected by the configuration.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/example/contacts/internal/config"
	"github.com/example/contacts/internal/storage"
	"github.com/example/contacts/internal/storage/memory"
	"github.com/example/contacts/internal/storage/postgres"
	"github.com/example/contacts/internal/storage/sqlite"
)

// Open returns the store for cfg.Adapter. Postgres schemas are migrated first
// when AutoMigrate is set.
func Open(ctx context.Context, cfg config.DBConfig, log *slog.Logger) (storage.Store, error) {
	const op = "store.Open"

	switch cfg.Adapter {
	case "sqlite":
		if cfg.SQLiteFile != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLiteFile), 0o755); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		s, err := sqlite.New(cfg.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("%s: sqlite init: %w", op, err)
		}
		log.Info("using sqlite database", slog.String("file", cfg.SQLiteFile))
		return s, nil
	case "postgres":
		if cfg.AutoMigrate {
			if err := postgres.Migrate(log, cfg.MigrationsDir, cfg.PostgresDSN); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		p, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("%s: postgres init: %w", op, err)
		}
		log.Info("connected to postgres")
		return p, nil
	case "memory":
		log.Warn("using in-memory database (not recommended for production)")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("%s: unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", op, cfg.Adapter)
	}
}
