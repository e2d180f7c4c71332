package mongostore

import "time"

// DefaultCollection is the collection name used by NewFromDatabase.
const DefaultCollection = "sessions"

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}
