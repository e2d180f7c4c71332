package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/pg"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	columns = `data, index_key, created_at, touched_at, expires_at`

	getQuery = `SELECT ` + columns + ` FROM sessions WHERE id = $1 AND expires_at > $2`

	upsertQuery = `INSERT INTO sessions (id, ` + columns + `)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    data = EXCLUDED.data,
    index_key = EXCLUDED.index_key,
    created_at = EXCLUDED.created_at,
    touched_at = EXCLUDED.touched_at,
    expires_at = EXCLUDED.expires_at`

	insertQuery = `INSERT INTO sessions (id, ` + columns + `) VALUES ($1, $2, $3, $4, $5, $6)`

	updateQuery = `UPDATE sessions SET
    data = $2,
    index_key = $3,
    created_at = $4,
    touched_at = $5,
    expires_at = $6
WHERE id = $1 AND expires_at > $5`

	deleteExpiredIDQuery = `DELETE FROM sessions WHERE id = $1 AND expires_at <= $2`

	deleteQuery = `DELETE FROM sessions WHERE id = $1 RETURNING ` + columns

	touchQuery = `UPDATE sessions SET touched_at = $2, expires_at = $3 WHERE id = $1 AND expires_at > $2`

	findByIndexQuery = `SELECT id FROM sessions WHERE index_key = $1 AND expires_at > $2 ORDER BY id`

	deleteByIndexQuery = `DELETE FROM sessions WHERE index_key = $1 AND expires_at > $2 AND NOT (id = ANY($3))`

	deleteExpiredQuery = `DELETE FROM sessions WHERE expires_at <= $1`
)

// Store keeps sessions in the PostgreSQL table created by Migrate.
type Store struct {
	db  DB
	now func() time.Time
	log *slog.Logger

	txRetries int

	cleanupInterval time.Duration
	done            chan struct{}
	wg              sync.WaitGroup
	closeOnce       sync.Once
}

var (
	_ session.IndexedStore = (*Store)(nil)
	_ session.Creator      = (*Store)(nil)
	_ session.Updater      = (*Store)(nil)
	_ session.Sweeper      = (*Store)(nil)
)

// New creates a store. With WithCleanupInterval a goroutine deletes
// expired rows until Close is called.
func New(db DB, opts ...Option) *Store {
	s := &Store{
		db:   db,
		now:  time.Now,
		log:  slog.Default(),
		done: make(chan struct{}),

		txRetries: DefaultTxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("session"), logger.Backend("postgres"))

	if s.cleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop()
	}
	return s
}

func (s *Store) Get(ctx context.Context, id string) (*session.Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, getQuery, id, s.now()))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, transient(err)
	}
	return &rec, nil
}

func (s *Store) Save(ctx context.Context, id string, rec session.Record, ttl time.Duration) error {
	return s.SaveIndexed(ctx, id, rec, ttl, "")
}

func (s *Store) SaveIndexed(ctx context.Context, id string, rec session.Record, ttl time.Duration, indexKey string) error {
	if ttl <= 0 {
		_, err := s.Delete(ctx, id)
		return err
	}

	stamped := session.Stamp(rec, indexKey, ttl, s.now())
	if _, err := s.db.Exec(ctx, upsertQuery, args(id, stamped)...); err != nil {
		return transient(err)
	}
	return nil
}

// Create inserts the record, replacing an expired row with the same id.
// A live row makes it fail with session.ErrIdentifierCollision.
func (s *Store) Create(ctx context.Context, id string, rec session.Record, ttl time.Duration, indexKey string) error {
	if ttl <= 0 {
		return nil
	}

	now := s.now()
	stamped := session.Stamp(rec, indexKey, ttl, now)

	backoff := retry.WithMaxRetries(uint64(s.txRetries), retry.WithJitter(5*time.Millisecond, retry.NewExponential(10*time.Millisecond)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, deleteExpiredIDQuery, id, now); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, insertQuery, args(id, stamped)...)
			return err
		})
		if pg.IsSerializationError(err) {
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %s", session.ErrIdentifierCollision, id)
	default:
		return transient(err)
	}
}

// Update overwrites the row only while it is live and reports
// session.ErrNotFound otherwise.
func (s *Store) Update(ctx context.Context, id string, rec session.Record, ttl time.Duration, indexKey string) error {
	if ttl <= 0 {
		_, err := s.Delete(ctx, id)
		return err
	}

	stamped := session.Stamp(rec, indexKey, ttl, s.now())
	tag, err := s.db.Exec(ctx, updateQuery, args(id, stamped)...)
	if err != nil {
		return transient(err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) (*session.Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, deleteQuery, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, transient(err)
	}
	if rec.Expired(s.now()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) Touch(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		_, err := s.Delete(ctx, id)
		return err
	}

	now := s.now()
	if _, err := s.db.Exec(ctx, touchQuery, id, now, now.Add(ttl)); err != nil {
		return transient(err)
	}
	return nil
}

func (s *Store) FindByIndex(ctx context.Context, indexKey string) ([]string, error) {
	rows, err := s.db.Query(ctx, findByIndexQuery, indexKey, s.now())
	if err != nil {
		return nil, transient(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, transient(err)
	}
	return ids, nil
}

func (s *Store) DeleteByIndex(ctx context.Context, indexKey string, except ...string) (int64, error) {
	if except == nil {
		except = []string{}
	}
	tag, err := s.db.Exec(ctx, deleteByIndexQuery, indexKey, s.now(), except)
	if err != nil {
		return 0, transient(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes expired rows and reports how many were deleted.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteExpiredQuery, s.now())
	if err != nil {
		return 0, transient(err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cleanupInterval)
			n, err := s.DeleteExpired(ctx)
			cancel()
			if err != nil {
				s.log.Error("expired session cleanup failed", logger.Error(err))
				continue
			}
			if n > 0 {
				s.log.Debug("expired sessions removed", logger.Count(n))
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the cleanup goroutine. The database handle is owned by the
// caller and stays open.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func args(id string, rec session.Record) []any {
	var key *string
	if rec.IndexKey != "" {
		key = &rec.IndexKey
	}
	return []any{id, rec.Data, key, rec.CreatedAt, rec.TouchedAt, rec.ExpiresAt}
}

func scanRecord(row pgx.Row) (session.Record, error) {
	var (
		rec session.Record
		key *string
	)
	if err := row.Scan(&rec.Data, &key, &rec.CreatedAt, &rec.TouchedAt, &rec.ExpiresAt); err != nil {
		return session.Record{}, err
	}
	if key != nil {
		rec.IndexKey = *key
	}
	return rec, nil
}

func transient(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(session.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", session.ErrTransient, err)
}
