package redisstore

import "time"

const (
	// DefaultPrefix namespaces all keys written by the store.
	DefaultPrefix = "session:"
	// DefaultIndexTTL is the minimum lifetime of an index set.
	DefaultIndexTTL = 14 * 24 * time.Hour
	// DefaultTxRetries bounds retries of optimistic transactions that lost
	// a race on a watched key.
	DefaultTxRetries = 50
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithIndexTTL sets the minimum lifetime applied to index sets. The actual
// lifetime is extended to cover the longest lived member.
func WithIndexTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.indexTTL = ttl
		}
	}
}

func WithTxRetries(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.txRetries = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}
