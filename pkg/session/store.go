package session

import (
	"context"
	"slices"
	"time"
)

// Record is a stored session as seen by backends. Data holds the encoded
// payload; the timestamps are maintained by the store.
type Record struct {
	Data []byte
	// IndexKey is filled by stores on read. Writes take the index key as
	// an explicit argument instead.
	IndexKey  string
	CreatedAt time.Time
	TouchedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record is logically absent at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	r.Data = slices.Clone(r.Data)
	return r
}

// Store is the contract every backend satisfies.
//
// Get returns (nil, nil) for absent or expired sessions. Save upserts the
// record and sets its expiry to now+ttl; a ttl <= 0 makes it immediately
// expired. On stores that also implement IndexedStore, Save drops any index
// association the id had. Delete returns the removed live record, if any,
// and is idempotent. Touch extends expiry and is a no-op for absent ids.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Save(ctx context.Context, id string, rec Record, ttl time.Duration) error
	Delete(ctx context.Context, id string) (*Record, error)
	Touch(ctx context.Context, id string, ttl time.Duration) error
}

// IndexedStore maintains a secondary index from an application key to the
// ids of live sessions. An id belongs to at most one key; re-indexing moves
// it. FindByIndex never returns ids of expired or deleted sessions.
type IndexedStore interface {
	Store
	// SaveIndexed behaves like Save and associates id with indexKey.
	// An empty indexKey removes the association.
	SaveIndexed(ctx context.Context, id string, rec Record, ttl time.Duration, indexKey string) error
	FindByIndex(ctx context.Context, indexKey string) ([]string, error)
	// DeleteByIndex deletes every session under indexKey except the listed
	// ids and returns how many were removed.
	DeleteByIndex(ctx context.Context, indexKey string, except ...string) (int64, error)
}

// Creator is implemented by stores that can insert a record only if no
// live record uses the id, failing with ErrIdentifierCollision otherwise.
type Creator interface {
	Create(ctx context.Context, id string, rec Record, ttl time.Duration, indexKey string) error
}

// Updater is implemented by stores that can overwrite a record only while
// a live record holds the id, failing with ErrNotFound otherwise. Handles
// save existing sessions through it so a concurrent revocation is not
// undone by a request that loaded the session earlier.
type Updater interface {
	Update(ctx context.Context, id string, rec Record, ttl time.Duration, indexKey string) error
}

// Sweeper is implemented by stores that need explicit removal of expired
// records.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Stamp prepares rec for a write at now: Data is copied, CreatedAt
// defaults to now, TouchedAt is now and ExpiresAt is now+ttl. Every backend
// uses it so they agree on timestamp handling.
func Stamp(rec Record, indexKey string, ttl time.Duration, now time.Time) Record {
	out := Record{
		Data:      slices.Clone(rec.Data),
		IndexKey:  indexKey,
		CreatedAt: rec.CreatedAt,
		TouchedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	return out
}
