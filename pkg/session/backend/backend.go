package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dmitrymomot/sessionkit/pkg/cookie"
	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/mongo"
	"github.com/dmitrymomot/sessionkit/pkg/pg"
	"github.com/dmitrymomot/sessionkit/pkg/redis"
	"github.com/dmitrymomot/sessionkit/pkg/session"
	"github.com/dmitrymomot/sessionkit/pkg/session/gormstore"
	"github.com/dmitrymomot/sessionkit/pkg/session/mongostore"
	"github.com/dmitrymomot/sessionkit/pkg/session/pgstore"
	"github.com/dmitrymomot/sessionkit/pkg/session/redisstore"
)

// Backend is an opened store together with the resources behind it.
type Backend struct {
	Name  string
	Store session.Store

	// Healthcheck probes the underlying connection; nil for in-process
	// backends.
	Healthcheck func(context.Context) error

	closers []func() error
}

// Close releases the store and its connections, last opened first.
func (b *Backend) Close() error {
	var errs []error
	for _, c := range slices.Backward(b.closers) {
		errs = append(errs, c())
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Backend) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

// Open connects the backend named in cfg.Backend.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("session"), logger.Backend(cfg.Backend))

	b := &Backend{Name: cfg.Backend}
	var err error
	switch cfg.Backend {
	case Memory:
		err = b.openMemory(cfg)
	case Cookie:
		err = b.openCookie(cfg)
	case Redis:
		err = b.openRedis(ctx, cfg)
	case Postgres:
		err = b.openPostgres(ctx, cfg, log)
	case Mongo:
		err = b.openMongo(ctx, cfg)
	case SQLite:
		err = b.openSQLite(cfg, log)
	}
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, cfg.Backend, err)
	}

	log.InfoContext(ctx, "session backend ready")
	return b, nil
}

func (b *Backend) openMemory(cfg Config) error {
	store := session.NewMemoryStore(cfg.CleanupInterval)
	b.Store = store
	b.onClose(store.Close)
	return nil
}

func (b *Backend) openCookie(cfg Config) error {
	cookies, err := cookie.NewFromConfig(cfg.Cookie)
	if err != nil {
		return err
	}
	b.Store = session.NewCookieStore(cookies)
	return nil
}

func (b *Backend) openRedis(ctx context.Context, cfg Config) error {
	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	b.onClose(client.Close)
	b.Store = redisstore.New(client, redisstore.WithPrefix(cfg.RedisPrefix))
	b.Healthcheck = redis.Healthcheck(client)
	return nil
}

func (b *Backend) openPostgres(ctx context.Context, cfg Config, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	b.onClose(func() error {
		pool.Close()
		return nil
	})

	if err := pgstore.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
		return err
	}

	store := pgstore.New(pool,
		pgstore.WithCleanupInterval(cfg.CleanupInterval),
		pgstore.WithLogger(log),
	)
	b.onClose(store.Close)
	b.Store = store
	b.Healthcheck = pg.Healthcheck(pool)
	return nil
}

func (b *Backend) openMongo(ctx context.Context, cfg Config) error {
	db, err := mongo.NewWithDatabase(ctx, cfg.Mongo)
	if err != nil {
		return err
	}
	b.onClose(func() error {
		return db.Client().Disconnect(context.Background())
	})

	store, err := mongostore.NewFromDatabase(ctx, db)
	if err != nil {
		return err
	}
	b.Store = store
	b.Healthcheck = mongo.Healthcheck(db.Client())
	return nil
}

func (b *Backend) openSQLite(cfg Config, log *slog.Logger) error {
	db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	// SQLite serializes writers; one connection also keeps in-memory
	// databases consistent.
	sqlDB.SetMaxOpenConns(1)
	b.onClose(sqlDB.Close)

	store, err := gormstore.New(db,
		gormstore.WithCleanupInterval(cfg.CleanupInterval),
		gormstore.WithLogger(log),
	)
	if err != nil {
		return err
	}
	b.onClose(store.Close)
	b.Store = store
	b.Healthcheck = sqlDB.PingContext
	return nil
}
