package redis

import "time"

type Config struct {
	// ConnectionURL has the form redis://:password@localhost:6379/0
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	// PoolSize overrides the client pool size when positive.
	PoolSize int `env:"REDIS_POOL_SIZE" envDefault:"0"`
}
