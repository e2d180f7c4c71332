package gormstore

import (
	"log/slog"
	"time"
)

// DefaultTable is the table used unless WithTable is given.
const DefaultTable = "sessions"

// Option configures a Store.
type Option func(*Store)

func WithTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.table = name
		}
	}
}

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

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}
