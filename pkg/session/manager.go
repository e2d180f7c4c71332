package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
)

// IndexKeyFunc derives the index key of a payload. ok=false leaves the
// session unindexed.
type IndexKeyFunc[T any] func(v T) (key string, ok bool)

// Builder assembles a Manager. Build validates the combination.
type Builder[T any] struct {
	store    Store
	cfg      Config
	codec    Codec[T]
	indexKey IndexKeyFunc[T]
	ids      IDGenerator
	locker   *Locker
	log      *slog.Logger
}

// NewBuilder starts a builder with DefaultConfig, JSONCodec and a
// RandomIDGenerator.
func NewBuilder[T any](store Store) *Builder[T] {
	return &Builder[T]{
		store: store,
		cfg:   DefaultConfig(),
		codec: JSONCodec[T]{},
		ids:   RandomIDGenerator{Size: DefaultIDSize},
	}
}

func (b *Builder[T]) WithConfig(cfg Config) *Builder[T] {
	b.cfg = cfg
	return b
}

func (b *Builder[T]) WithTTL(ttl time.Duration) *Builder[T] {
	b.cfg.TTL = ttl
	return b
}

func (b *Builder[T]) WithRolling(rolling bool) *Builder[T] {
	b.cfg.Rolling = rolling
	return b
}

func (b *Builder[T]) WithCodec(c Codec[T]) *Builder[T] {
	if c != nil {
		b.codec = c
	}
	return b
}

// WithIndexKey enables the secondary index. The store must implement
// IndexedStore.
func (b *Builder[T]) WithIndexKey(fn IndexKeyFunc[T]) *Builder[T] {
	b.indexKey = fn
	return b
}

func (b *Builder[T]) WithIDGenerator(g IDGenerator) *Builder[T] {
	if g != nil {
		b.ids = g
	}
	return b
}

// WithLocker shares a Locker between managers that use the same store.
func (b *Builder[T]) WithLocker(l *Locker) *Builder[T] {
	b.locker = l
	return b
}

func (b *Builder[T]) WithLogger(l *slog.Logger) *Builder[T] {
	b.log = l
	return b
}

func (b *Builder[T]) Build() (*Manager[T], error) {
	if b.store == nil {
		return nil, ErrNoStore
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	indexed, _ := b.store.(IndexedStore)
	if b.indexKey != nil && indexed == nil {
		return nil, fmt.Errorf("%w: store %T has no index support", ErrIndexUnsupported, b.store)
	}

	locker := b.locker
	if locker == nil {
		locker = NewLocker(b.cfg.LockTimeout)
	}
	log := b.log
	if log == nil {
		log = slog.Default()
	}

	creator, _ := b.store.(Creator)
	updater, _ := b.store.(Updater)

	return &Manager[T]{
		store:    b.store,
		indexed:  indexed,
		creator:  creator,
		updater:  updater,
		cfg:      b.cfg,
		codec:    b.codec,
		indexKey: b.indexKey,
		ids:      b.ids,
		locker:   locker,
		log:      log.With(logger.Component("session")),
	}, nil
}

// NewFromConfig builds a Manager for store with cfg and defaults for the rest.
func NewFromConfig[T any](store Store, cfg Config) (*Manager[T], error) {
	return NewBuilder[T](store).WithConfig(cfg).Build()
}

// Manager is the engine shared by all requests: it owns the store, the
// codec and the per-id lock table. It is safe for concurrent use.
type Manager[T any] struct {
	store    Store
	indexed  IndexedStore
	creator  Creator
	updater  Updater
	cfg      Config
	codec    Codec[T]
	indexKey IndexKeyFunc[T]
	ids      IDGenerator
	locker   *Locker
	log      *slog.Logger
}

// Entry is a session id together with its decoded payload.
type Entry[T any] struct {
	ID      string
	Value   T
	Expires time.Time
}

func (m *Manager[T]) Config() Config { return m.cfg }

// Store returns the underlying store.
func (m *Manager[T]) Store() Store { return m.store }

// Indexed reports whether index operations are available.
func (m *Manager[T]) Indexed() bool { return m.indexed != nil }

// Open returns a request-scoped handle for the incoming id, which may be
// empty. Nothing is read until the handle is first used.
func (m *Manager[T]) Open(id string) *Handle[T] {
	return &Handle[T]{m: m, incoming: id}
}

// Get loads and decodes a session outside of any request.
func (m *Manager[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	rec, err := m.store.Get(ctx, id)
	if err != nil || rec == nil {
		return zero, false, err
	}
	v, err := m.codec.Decode(rec.Data)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Mutate runs fn on the stored payload while holding the session's lock and
// saves the result. It returns ErrNotFound when the session does not exist
// or is deleted before the result is saved. Concurrent Mutate calls on one
// id never lose updates.
//
// The lock is not reentrant: calling Mutate from a request that holds a
// Handle for the same id blocks until the lock timeout. Use the Handle
// there instead.
func (m *Manager[T]) Mutate(ctx context.Context, id string, fn func(*T) error) error {
	unlock, err := m.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}

	v, err := m.codec.Decode(rec.Data)
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}

	return m.persist(ctx, id, v, rec.CreatedAt, m.cfg.TTL, writeUpdate)
}

// Delete removes a session. Deleting an absent session is not an error.
// Like Mutate it takes the session's lock, so the request's own session is
// deleted through Handle.Delete.
func (m *Manager[T]) Delete(ctx context.Context, id string) error {
	unlock, err := m.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = m.store.Delete(ctx, id)
	return err
}

// FindByIndex returns the ids of live sessions indexed under key.
func (m *Manager[T]) FindByIndex(ctx context.Context, key string) ([]string, error) {
	if m.indexed == nil {
		return nil, ErrIndexUnsupported
	}
	return m.indexed.FindByIndex(ctx, key)
}

// SessionsByIndex returns the live sessions indexed under key with their
// payloads. Sessions that disappear between lookup and load are skipped.
func (m *Manager[T]) SessionsByIndex(ctx context.Context, key string) ([]Entry[T], error) {
	ids, err := m.FindByIndex(ctx, key)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry[T], 0, len(ids))
	for _, id := range ids {
		rec, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		v, err := m.codec.Decode(rec.Data)
		if err != nil {
			m.log.WarnContext(ctx, "skipping undecodable session", logger.SessionID(id), logger.Error(err))
			continue
		}
		entries = append(entries, Entry[T]{ID: id, Value: v, Expires: rec.ExpiresAt})
	}
	return entries, nil
}

// InvalidateByIndex deletes every session under key except the listed ids.
func (m *Manager[T]) InvalidateByIndex(ctx context.Context, key string, except ...string) (int64, error) {
	if m.indexed == nil {
		return 0, ErrIndexUnsupported
	}
	n, err := m.indexed.DeleteByIndex(ctx, key, except...)
	if err != nil {
		return n, err
	}
	m.log.InfoContext(ctx, "sessions invalidated", logger.IndexKey(key), logger.Count(n))
	return n, nil
}

// Close releases the store if it holds resources.
func (m *Manager[T]) Close() error {
	if c, ok := m.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// writeMode selects the conditional write persist prefers.
type writeMode int

const (
	// writeCreate fails with ErrIdentifierCollision on stores implementing
	// Creator when the id is in use.
	writeCreate writeMode = iota
	// writeUpdate fails with ErrNotFound on stores implementing Updater when
	// the session is gone.
	writeUpdate
)

// persist encodes v and writes it with its index key. Stores without the
// capability mode asks for get an unconditional save.
func (m *Manager[T]) persist(ctx context.Context, id string, v T, createdAt time.Time, ttl time.Duration, mode writeMode) error {
	data, err := m.codec.Encode(v)
	if err != nil {
		return err
	}
	rec := Record{Data: data, CreatedAt: createdAt}

	var key string
	if m.indexKey != nil {
		if k, ok := m.indexKey(v); ok {
			key = k
		}
	}

	switch {
	case mode == writeCreate && m.creator != nil:
		return m.creator.Create(ctx, id, rec, ttl, key)
	case mode == writeUpdate && m.updater != nil:
		return m.updater.Update(ctx, id, rec, ttl, key)
	case m.indexed != nil:
		return m.indexed.SaveIndexed(ctx, id, rec, ttl, key)
	default:
		return m.store.Save(ctx, id, rec, ttl)
	}
}

// indexKeyOf returns the index key of v, or ErrIndexUnsupported when the
// manager has no index configured.
func (m *Manager[T]) indexKeyOf(v T) (string, error) {
	if m.indexed == nil || m.indexKey == nil {
		return "", ErrIndexUnsupported
	}
	key, ok := m.indexKey(v)
	if !ok {
		return "", nil
	}
	return key, nil
}

func (m *Manager[T]) newID() (string, error) {
	id, err := m.ids.Generate()
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.Join(ErrIDGeneration, errors.New("empty identifier"))
	}
	return id, nil
}
