package gormstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

// row is one stored session.
type row struct {
	ID        string    `gorm:"primaryKey;size:255"`
	Data      []byte    `gorm:"not null"`
	IndexKey  *string   `gorm:"index;size:255"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	TouchedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (row) TableName() string { return DefaultTable }

func (r row) record() session.Record {
	rec := session.Record{
		Data:      r.Data,
		CreatedAt: r.CreatedAt,
		TouchedAt: r.TouchedAt,
		ExpiresAt: r.ExpiresAt,
	}
	if r.IndexKey != nil {
		rec.IndexKey = *r.IndexKey
	}
	return rec
}

func newRow(id string, rec session.Record) row {
	r := row{
		ID:        id,
		Data:      rec.Data,
		CreatedAt: rec.CreatedAt.UTC(),
		TouchedAt: rec.TouchedAt.UTC(),
		ExpiresAt: rec.ExpiresAt.UTC(),
	}
	if rec.IndexKey != "" {
		r.IndexKey = &rec.IndexKey
	}
	return r
}

var upsert = clause.OnConflict{
	Columns:   []clause.Column{{Name: "id"}},
	DoUpdates: clause.AssignmentColumns([]string{"data", "index_key", "created_at", "touched_at", "expires_at"}),
}

// Store keeps sessions in a table managed by gorm.
type Store struct {
	db    *gorm.DB
	table string
	now   func() time.Time
	log   *slog.Logger

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

// New creates the sessions table if needed and returns the store.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:    db,
		table: DefaultTable,
		now:   time.Now,
		log:   slog.Default(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("session"), logger.Backend("gorm"))

	if err := db.Table(s.table).AutoMigrate(&row{}); err != nil {
		return nil, errors.Join(ErrMigrationFailed, err)
	}

	if s.cleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop()
	}
	return s, nil
}

func (s *Store) query(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

func (s *Store) Get(ctx context.Context, id string) (*session.Record, error) {
	var r row
	tx := s.query(ctx).Where("id = ? AND expires_at > ?", id, s.clock()).Limit(1).Find(&r)
	if tx.Error != nil {
		return nil, transient(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return nil, nil
	}
	rec := r.record()
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

	r := newRow(id, session.Stamp(rec, indexKey, ttl, s.clock()))
	if err := s.query(ctx).Clauses(upsert).Create(&r).Error; err != nil {
		return transient(err)
	}
	return nil
}

// Create inserts the record unless a live row uses id. Expired rows with
// the same id are replaced.
func (s *Store) Create(ctx context.Context, id string, rec session.Record, ttl time.Duration, indexKey string) error {
	if ttl <= 0 {
		return nil
	}

	now := s.clock()
	r := newRow(id, session.Stamp(rec, indexKey, ttl, now))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(s.table).Where("id = ? AND expires_at <= ?", id, now).Delete(&row{}).Error; err != nil {
			return err
		}

		var live int64
		if err := tx.Table(s.table).Where("id = ?", id).Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return session.ErrIdentifierCollision
		}

		return tx.Table(s.table).Create(&r).Error
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrIdentifierCollision), errors.Is(err, gorm.ErrDuplicatedKey):
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

	now := s.clock()
	r := newRow(id, session.Stamp(rec, indexKey, ttl, now))
	tx := s.query(ctx).Where("id = ? AND expires_at > ?", id, now).Updates(map[string]any{
		"data":       r.Data,
		"index_key":  r.IndexKey,
		"created_at": r.CreatedAt,
		"touched_at": r.TouchedAt,
		"expires_at": r.ExpiresAt,
	})
	if tx.Error != nil {
		return transient(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) (*session.Record, error) {
	var removed *session.Record

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r row
		res := tx.Table(s.table).Where("id = ?", id).Limit(1).Find(&r)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		if err := tx.Table(s.table).Where("id = ?", id).Delete(&row{}).Error; err != nil {
			return err
		}

		if rec := r.record(); !rec.Expired(s.clock()) {
			removed = &rec
		}
		return nil
	})
	if err != nil {
		return nil, transient(err)
	}
	return removed, nil
}

func (s *Store) Touch(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		_, err := s.Delete(ctx, id)
		return err
	}

	now := s.clock()
	err := s.query(ctx).
		Where("id = ? AND expires_at > ?", id, now).
		Updates(map[string]any{"touched_at": now, "expires_at": now.Add(ttl)}).
		Error
	if err != nil {
		return transient(err)
	}
	return nil
}

func (s *Store) FindByIndex(ctx context.Context, indexKey string) ([]string, error) {
	ids := []string{}
	err := s.query(ctx).
		Where("index_key = ? AND expires_at > ?", indexKey, s.clock()).
		Order("id").
		Pluck("id", &ids).
		Error
	if err != nil {
		return nil, transient(err)
	}
	return ids, nil
}

func (s *Store) DeleteByIndex(ctx context.Context, indexKey string, except ...string) (int64, error) {
	q := s.query(ctx).Where("index_key = ? AND expires_at > ?", indexKey, s.clock())
	if len(except) > 0 {
		q = q.Where("id NOT IN ?", except)
	}

	res := q.Delete(&row{})
	if res.Error != nil {
		return 0, transient(res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteExpired removes expired rows and reports how many were deleted.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.query(ctx).Where("expires_at <= ?", s.clock()).Delete(&row{})
	if res.Error != nil {
		return 0, transient(res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.DeleteExpired(context.Background())
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

// Close stops the cleanup goroutine. The *gorm.DB stays open.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", session.ErrTransient, err)
}
