package backend_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/pkg/config"
	"github.com/dmitrymomot/sessionkit/pkg/cookie"
	"github.com/dmitrymomot/sessionkit/pkg/redis"
	"github.com/dmitrymomot/sessionkit/pkg/session"
	"github.com/dmitrymomot/sessionkit/pkg/session/backend"
	"github.com/dmitrymomot/sessionkit/pkg/session/gormstore"
	"github.com/dmitrymomot/sessionkit/pkg/session/redisstore"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func saveAndLoad(t *testing.T, store session.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", session.Record{Data: []byte("payload")}, time.Hour))
	rec, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []byte("payload"), rec.Data)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		b, err := backend.Open(ctx, backend.Config{Backend: backend.Memory}, nil)
		require.NoError(t, err)
		defer b.Close()

		assert.Equal(t, backend.Memory, b.Name)
		assert.IsType(t, &session.MemoryStore{}, b.Store)
		assert.Nil(t, b.Healthcheck)
		saveAndLoad(t, b.Store)
	})

	t.Run("cookie", func(t *testing.T) {
		cfg := backend.Config{Backend: backend.Cookie, Cookie: cookie.DefaultConfig()}
		cfg.Cookie.Secrets = []string{testSecret}

		b, err := backend.Open(ctx, cfg, nil)
		require.NoError(t, err)
		defer b.Close()

		_, ok := b.Store.(session.IndexedStore)
		assert.False(t, ok, "cookie store keeps no index")
	})

	t.Run("cookie without secret", func(t *testing.T) {
		_, err := backend.Open(ctx, backend.Config{Backend: backend.Cookie, Cookie: cookie.DefaultConfig()}, nil)
		require.ErrorIs(t, err, backend.ErrOpenFailed)
		assert.ErrorIs(t, err, cookie.ErrNoSecret)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := backend.Config{
			Backend:     backend.Redis,
			RedisPrefix: "app:",
			Redis: redis.Config{
				ConnectionURL:  "redis://" + mr.Addr() + "/0",
				RetryAttempts:  1,
				RetryInterval:  10 * time.Millisecond,
				ConnectTimeout: time.Second,
			},
		}

		b, err := backend.Open(ctx, cfg, nil)
		require.NoError(t, err)
		defer b.Close()

		assert.IsType(t, &redisstore.Store{}, b.Store)
		require.NotNil(t, b.Healthcheck)
		require.NoError(t, b.Healthcheck(ctx))

		saveAndLoad(t, b.Store)
		assert.True(t, mr.Exists("app:s:s1"))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := backend.Config{
			Backend: backend.Redis,
			Redis: redis.Config{
				ConnectionURL:  "redis://127.0.0.1:1/0",
				RetryAttempts:  1,
				RetryInterval:  10 * time.Millisecond,
				ConnectTimeout: 200 * time.Millisecond,
			},
		}

		_, err := backend.Open(ctx, cfg, nil)
		assert.ErrorIs(t, err, backend.ErrOpenFailed)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := backend.Config{Backend: backend.SQLite, SQLitePath: "file::memory:"}

		b, err := backend.Open(ctx, cfg, nil)
		require.NoError(t, err)

		assert.IsType(t, &gormstore.Store{}, b.Store)
		require.NoError(t, b.Healthcheck(ctx))
		saveAndLoad(t, b.Store)

		require.NoError(t, b.Close())
		assert.Error(t, b.Healthcheck(ctx), "connection is closed")
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := backend.Open(ctx, backend.Config{Backend: "etcd"}, nil)
		assert.ErrorIs(t, err, backend.ErrUnknownBackend)
	})

	t.Run("negative cleanup interval", func(t *testing.T) {
		_, err := backend.Open(ctx, backend.Config{Backend: backend.Memory, CleanupInterval: -time.Second}, nil)
		assert.ErrorIs(t, err, backend.ErrInvalidConfig)
	})
}

func TestConfig_FromEnv(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "sqlite")
	t.Setenv("SESSION_SQLITE_PATH", "file::memory:")
	t.Setenv("SESSION_CLEANUP_INTERVAL", "30s")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("COOKIE_SECRETS", testSecret)

	cfg, err := config.Parse[backend.Config]()
	require.NoError(t, err)

	assert.Equal(t, backend.SQLite, cfg.Backend)
	assert.Equal(t, "file::memory:", cfg.SQLitePath)
	assert.Equal(t, 30*time.Second, cfg.CleanupInterval)
	assert.Equal(t, "session:", cfg.RedisPrefix)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.ConnectionURL)
	assert.Equal(t, []string{testSecret}, cfg.Cookie.Secrets)
}

func TestConfig_FromEnvInvalid(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "etcd")

	_, err := config.Parse[backend.Config]()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.ErrorIs(t, err, backend.ErrUnknownBackend)
}
