package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"qms/walkin-service/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies every embedded schema file in name order. The files only
// use IF NOT EXISTS statements, so running it on each start is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}
