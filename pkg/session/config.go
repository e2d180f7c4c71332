package session

import (
	"fmt"
	"time"
)

// Config holds session configuration
type Config struct {
	// TTL is the lifetime of a session after its last save (default: two weeks).
	TTL time.Duration `env:"SESSION_TTL" envDefault:"336h"`

	// Rolling extends expiry on every request that loads a session, not
	// only on requests that change it.
	Rolling bool `env:"SESSION_ROLLING" envDefault:"false"`

	// SweepInterval controls background removal of expired records for
	// stores that need it (0 disables).
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`

	// CollisionRetries is how many fresh identifiers are tried when a
	// newly generated one is already taken.
	CollisionRetries int `env:"SESSION_COLLISION_RETRIES" envDefault:"3"`

	// LockTimeout bounds the wait for another request holding the same
	// session (0 waits until the request context is done).
	LockTimeout time.Duration `env:"SESSION_LOCK_TIMEOUT" envDefault:"0"`

	// CookieName is the name of the session id cookie (default: "sid").
	CookieName string `env:"SESSION_COOKIE_NAME" envDefault:"sid"`

	// SecureCookies enables the Secure flag on session cookies.
	SecureCookies bool `env:"SESSION_SECURE_COOKIES" envDefault:"false"`
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		TTL:              14 * 24 * time.Hour,
		SweepInterval:    time.Minute,
		CollisionRetries: 3,
		CookieName:       "sid",
	}
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	switch {
	case c.TTL <= 0:
		return fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidConfig, c.TTL)
	case c.CollisionRetries < 0:
		return fmt.Errorf("%w: collision retries must not be negative", ErrInvalidConfig)
	case c.SweepInterval < 0 || c.LockTimeout < 0:
		return fmt.Errorf("%w: intervals must not be negative", ErrInvalidConfig)
	case c.CookieName == "":
		return fmt.Errorf("%w: cookie name is empty", ErrInvalidConfig)
	}
	return nil
}
