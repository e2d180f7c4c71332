package pgstore

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/sessionkit/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the goose migrations that create the sessions table.
// Applications that manage their own migrations can copy or embed them.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate brings the sessions schema up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	return pg.Migrate(ctx, pool, Migrations(), cfg, log)
}
