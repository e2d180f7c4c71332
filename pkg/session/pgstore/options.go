package pgstore

import (
	"log/slog"
	"time"
)

// DefaultTxRetries bounds retries of create transactions aborted by a
// serialization failure or deadlock.
const DefaultTxRetries = 3

// Option configures a Store.
type Option func(*Store)

// WithCleanupInterval starts a goroutine that deletes expired rows every d.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) {
		s.cleanupInterval = d
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
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
