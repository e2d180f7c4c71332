// Package config loads typed configuration structs from environment
// variables using github.com/caarlos0/env/v11, with optional .env files read
// through github.com/joho/godotenv.
//
//	type Config struct {
//	    Backend string        `env:"SESSION_BACKEND" envDefault:"memory"`
//	    TTL     time.Duration `env:"SESSION_TTL" envDefault:"336h"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// Load caches one value per type for the life of the process; Parse skips
// the cache. A struct whose pointer implements Validator is validated before
// it is returned, and validation failures wrap ErrInvalidConfig.
//
// ResetCache and LoadEnv exist mainly for tests.
package config
