// Package pg holds PostgreSQL plumbing built on pgx: pooled connections
// with retries, goose migrations from an fs.FS, a healthcheck and error
// classifiers (IsDuplicateKeyError, IsNotFoundError, IsSerializationError).
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations(), cfg, log); err != nil {
//	    return err
//	}
//
// Config fields are read from PG_* environment variables.
package pg
