package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const memoryShards = 32

type memoryShard struct {
	mu    sync.RWMutex
	items map[string]Record
}

// MemoryStore keeps sessions in process memory. Records are spread over
// shards with their own locks; the index is guarded by a separate mutex that
// is only ever taken while holding the owning shard's lock, never the other
// way around.
type MemoryStore struct {
	shards [memoryShards]*memoryShard

	idxMu sync.Mutex
	index map[string]map[string]struct{}

	now func() time.Time

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ IndexedStore = (*MemoryStore)(nil)
	_ Creator      = (*MemoryStore)(nil)
	_ Updater      = (*MemoryStore)(nil)
	_ Sweeper      = (*MemoryStore)(nil)
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock replaces time.Now, mainly for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates an in-memory store. A positive sweepInterval starts
// a goroutine that removes expired records; Close stops it.
func NewMemoryStore(sweepInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		index: make(map[string]map[string]struct{}),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &memoryShard{items: make(map[string]Record)}
	}
	for _, opt := range opts {
		opt(m)
	}

	if sweepInterval > 0 {
		m.ticker = time.NewTicker(sweepInterval)
		go m.sweepLoop()
	}

	return m
}

func (m *MemoryStore) shard(id string) *memoryShard {
	return m.shards[xxhash.Sum64String(id)%memoryShards]
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s := m.shard(id)
	s.mu.RLock()
	rec, ok := s.items[id]
	s.mu.RUnlock()

	if !ok || rec.Expired(m.now()) {
		return nil, nil
	}

	out := rec.Clone()
	return &out, nil
}

func (m *MemoryStore) Save(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	return m.SaveIndexed(ctx, id, rec, ttl, "")
}

func (m *MemoryStore) SaveIndexed(ctx context.Context, id string, rec Record, ttl time.Duration, indexKey string) error {
	s := m.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.putLocked(s, id, rec, ttl, indexKey)
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, id string, rec Record, ttl time.Duration, indexKey string) error {
	s := m.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.items[id]; ok && !old.Expired(m.now()) {
		return ErrIdentifierCollision
	}

	m.putLocked(s, id, rec, ttl, indexKey)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, rec Record, ttl time.Duration, indexKey string) error {
	s := m.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.items[id]; !ok || old.Expired(m.now()) {
		return ErrNotFound
	}

	m.putLocked(s, id, rec, ttl, indexKey)
	return nil
}

// putLocked writes a record; s.mu must be held.
func (m *MemoryStore) putLocked(s *memoryShard, id string, rec Record, ttl time.Duration, indexKey string) {
	old, existed := s.items[id]

	if ttl <= 0 {
		if existed {
			delete(s.items, id)
			m.unindex(old.IndexKey, id)
		}
		return
	}

	stamped := Stamp(rec, indexKey, ttl, m.now())
	s.items[id] = stamped

	if existed && old.IndexKey == indexKey {
		return
	}
	m.idxMu.Lock()
	if existed {
		m.unindexLocked(old.IndexKey, id)
	}
	if indexKey != "" {
		ids, ok := m.index[indexKey]
		if !ok {
			ids = make(map[string]struct{})
			m.index[indexKey] = ids
		}
		ids[id] = struct{}{}
	}
	m.idxMu.Unlock()
}

func (m *MemoryStore) unindex(key, id string) {
	if key == "" {
		return
	}
	m.idxMu.Lock()
	m.unindexLocked(key, id)
	m.idxMu.Unlock()
}

func (m *MemoryStore) unindexLocked(key, id string) {
	if key == "" {
		return
	}
	ids := m.index[key]
	delete(ids, id)
	if len(ids) == 0 {
		delete(m.index, key)
	}
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (*Record, error) {
	s := m.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	delete(s.items, id)
	m.unindex(rec.IndexKey, id)

	if rec.Expired(m.now()) {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	s := m.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[id]
	if !ok || rec.Expired(m.now()) {
		return nil
	}
	if ttl <= 0 {
		delete(s.items, id)
		m.unindex(rec.IndexKey, id)
		return nil
	}

	now := m.now()
	rec.TouchedAt = now
	rec.ExpiresAt = now.Add(ttl)
	s.items[id] = rec
	return nil
}

func (m *MemoryStore) FindByIndex(ctx context.Context, indexKey string) ([]string, error) {
	if indexKey == "" {
		return nil, nil
	}

	candidates := m.indexed(indexKey)
	now := m.now()

	ids := make([]string, 0, len(candidates))
	for _, id := range candidates {
		s := m.shard(id)
		s.mu.RLock()
		rec, ok := s.items[id]
		s.mu.RUnlock()
		if ok && rec.IndexKey == indexKey && !rec.Expired(now) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryStore) DeleteByIndex(ctx context.Context, indexKey string, except ...string) (int64, error) {
	if indexKey == "" {
		return 0, nil
	}

	var deleted int64
	for _, id := range m.indexed(indexKey) {
		if slices.Contains(except, id) {
			continue
		}

		s := m.shard(id)
		s.mu.Lock()
		rec, ok := s.items[id]
		if ok && rec.IndexKey == indexKey {
			delete(s.items, id)
			m.unindex(indexKey, id)
			if !rec.Expired(m.now()) {
				deleted++
			}
		}
		s.mu.Unlock()
	}
	return deleted, nil
}

func (m *MemoryStore) indexed(key string) []string {
	m.idxMu.Lock()
	defer m.idxMu.Unlock()

	ids := make([]string, 0, len(m.index[key]))
	for id := range m.index[key] {
		ids = append(ids, id)
	}
	return ids
}

// DeleteExpired removes expired records and their index entries.
func (m *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	var removed int64
	for _, s := range m.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		now := m.now()
		s.mu.Lock()
		for id, rec := range s.items {
			if rec.Expired(now) {
				delete(s.items, id)
				m.unindex(rec.IndexKey, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of live records.
func (m *MemoryStore) Len() int {
	now := m.now()
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		for _, rec := range s.items {
			if !rec.Expired(now) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

func (m *MemoryStore) sweepLoop() {
	for {
		select {
		case <-m.ticker.C:
			_, _ = m.DeleteExpired(context.Background())
		case <-m.done:
			return
		}
	}
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		if m.ticker != nil {
			m.ticker.Stop()
		}
		close(m.done)
	})
	return nil
}
