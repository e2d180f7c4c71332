package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/pkg/config"
)

type sessionConfig struct {
	Backend string        `env:"TEST_SESSION_BACKEND" envDefault:"memory"`
	TTL     time.Duration `env:"TEST_SESSION_TTL" envDefault:"336h"`
	Rolling bool          `env:"TEST_SESSION_ROLLING" envDefault:"false"`
	Secrets []string      `env:"TEST_SESSION_SECRETS" envSeparator:","`
	Retries int           `env:"TEST_SESSION_RETRIES" envDefault:"3"`
}

type cachedConfig struct {
	Prefix string `env:"TEST_CACHED_PREFIX" envDefault:"session:"`
}

type otherCachedConfig struct {
	Prefix string `env:"TEST_OTHER_CACHED_PREFIX" envDefault:"other:"`
}

type requiredConfig struct {
	URL string `env:"TEST_REQUIRED_URL,required"`
}

func TestLoad(t *testing.T) {
	t.Run("reads environment", func(t *testing.T) {
		t.Setenv("TEST_SESSION_BACKEND", "redis")
		t.Setenv("TEST_SESSION_TTL", "1h")
		t.Setenv("TEST_SESSION_ROLLING", "true")
		t.Setenv("TEST_SESSION_SECRETS", "one,two")

		cfg, err := config.Parse[sessionConfig]()
		require.NoError(t, err)
		assert.Equal(t, sessionConfig{
			Backend: "redis",
			TTL:     time.Hour,
			Rolling: true,
			Secrets: []string{"one", "two"},
			Retries: 3,
		}, cfg)
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, err := config.Parse[sessionConfig]()
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Backend)
		assert.Equal(t, 14*24*time.Hour, cfg.TTL)
		assert.False(t, cfg.Rolling)
		assert.Empty(t, cfg.Secrets)
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("TEST_SESSION_TTL", "forever")
		_, err := config.Parse[sessionConfig]()
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("missing required", func(t *testing.T) {
		var cfg requiredConfig
		assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *sessionConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})
}

func TestLoad_Cache(t *testing.T) {
	config.ResetCache()
	t.Cleanup(config.ResetCache)

	t.Setenv("TEST_CACHED_PREFIX", "first:")
	t.Setenv("TEST_OTHER_CACHED_PREFIX", "other-first:")

	var first cachedConfig
	require.NoError(t, config.Load(&first))

	t.Setenv("TEST_CACHED_PREFIX", "second:")
	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first:", second.Prefix, "a type is parsed once")

	var other otherCachedConfig
	require.NoError(t, config.Load(&other))
	assert.Equal(t, "other-first:", other.Prefix, "each type has its own entry")

	config.ResetCache()
	var reloaded cachedConfig
	require.NoError(t, config.Load(&reloaded))
	assert.Equal(t, "second:", reloaded.Prefix)
}

type validatedConfig struct {
	Port int `env:"TEST_VALIDATED_PORT" envDefault:"0"`
}

func (c *validatedConfig) Validate() error {
	if c.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func TestLoad_Validate(t *testing.T) {
	t.Run("invalid value is not cached", func(t *testing.T) {
		t.Setenv("TEST_VALIDATED_PORT", "0")
		var cfg validatedConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("valid value loads after a failure", func(t *testing.T) {
		t.Setenv("TEST_VALIDATED_PORT", "8080")
		var cfg validatedConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 8080, cfg.Port)
	})
}

type parseOnlyConfig struct {
	Value string `env:"TEST_PARSE_ONLY" envDefault:"a"`
}

func TestParse_Uncached(t *testing.T) {
	t.Setenv("TEST_PARSE_ONLY", "first")
	first, err := config.Parse[parseOnlyConfig]()
	require.NoError(t, err)

	t.Setenv("TEST_PARSE_ONLY", "second")
	second, err := config.Parse[parseOnlyConfig]()
	require.NoError(t, err)

	assert.Equal(t, "first", first.Value)
	assert.Equal(t, "second", second.Value)
}

type envFileConfig struct {
	Name string `env:"TEST_ENV_FILE_NAME"`
}

func TestLoadEnv(t *testing.T) {
	os.Unsetenv("TEST_ENV_FILE_NAME")
	t.Cleanup(func() { os.Unsetenv("TEST_ENV_FILE_NAME") })

	path := filepath.Join(t.TempDir(), ".env.test")
	require.NoError(t, os.WriteFile(path, []byte("TEST_ENV_FILE_NAME=from-file\n"), 0o600))

	require.NoError(t, config.LoadEnv(path))
	config.ResetCache()

	var cfg envFileConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "from-file", cfg.Name)

	err := config.LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorIs(t, err, config.ErrLoadingEnvFile)
}
