// Package storage opens the configured store backend.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"qms/walkin-service/internal/config"
	"qms/walkin-service/internal/store"
	"qms/walkin-service/internal/store/postgres"
	"qms/walkin-service/internal/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Open connects to Postgres or SQLite depending on cfg.DBDriver and makes
// sure the schema exists.
func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres", "pgx":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DB_DSN is required for driver %s", cfg.DBDriver)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		logger.Info().Str("driver", "postgres").Msg("store ready")
		return postgres.NewStore(pool), nil
	case "sqlite", "sqlite3":
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("driver", "sqlite").Str("path", cfg.SQLitePath).Msg("store ready")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}
