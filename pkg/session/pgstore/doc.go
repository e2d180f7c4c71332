// Package pgstore implements session.IndexedStore on PostgreSQL with pgx.
//
// Sessions live in a single table created by the embedded goose migration:
//
//	sessions(id text primary key, data bytea, index_key text null,
//	         created_at, touched_at, expires_at timestamptz)
//
// Record and index key share a row, so every write is a single statement
// and the index can never disagree with the record. Expired rows are
// invisible to reads; DeleteExpired or WithCleanupInterval removes them.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err := pgstore.Migrate(ctx, pool, cfg, log); err != nil { ... }
//	store := pgstore.New(pool, pgstore.WithCleanupInterval(10*time.Minute))
//	defer store.Close()
package pgstore
