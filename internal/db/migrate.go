package db

import (
	"context"
	"embed"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every .up.sql file in name order. The statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		stmt, err := migrationsFS.ReadFile("migrations/" + file)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", file)
		}
		// No arguments, so pgx sends it over the simple protocol and multiple statements are fine
		if _, err := pool.Exec(ctx, string(stmt)); err != nil {
			return errors.Wrapf(err, "apply migration %s", file)
		}
	}

	return nil
}
