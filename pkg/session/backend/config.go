package backend

import (
	"fmt"
	"slices"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/cookie"
	"github.com/dmitrymomot/sessionkit/pkg/mongo"
	"github.com/dmitrymomot/sessionkit/pkg/pg"
	"github.com/dmitrymomot/sessionkit/pkg/redis"
)

// Backend names accepted in Config.Backend.
const (
	Memory   = "memory"
	Cookie   = "cookie"
	Redis    = "redis"
	Postgres = "postgres"
	Mongo    = "mongo"
	SQLite   = "sqlite"
)

var names = []string{Memory, Cookie, Redis, Postgres, Mongo, SQLite}

// Config selects and configures the session store. Only the section of the
// selected backend is used.
type Config struct {
	Backend string `env:"SESSION_BACKEND" envDefault:"memory"`

	// CleanupInterval drives expired record removal for the memory, postgres
	// and sqlite backends (0 disables).
	CleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1m"`

	// RedisPrefix namespaces the keys of the redis backend.
	RedisPrefix string `env:"SESSION_REDIS_PREFIX" envDefault:"session:"`

	// SQLitePath is the database file of the sqlite backend.
	SQLitePath string `env:"SESSION_SQLITE_PATH" envDefault:"sessions.db"`

	Redis    redis.Config
	Postgres pg.Config
	Mongo    mongo.Config
	Cookie   cookie.Config
}

// Validate implements config.Validator.
func (c Config) Validate() error {
	if !slices.Contains(names, c.Backend) {
		return fmt.Errorf("%w: %q (want one of %v)", ErrUnknownBackend, c.Backend, names)
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("%w: negative cleanup interval", ErrInvalidConfig)
	}
	return nil
}
