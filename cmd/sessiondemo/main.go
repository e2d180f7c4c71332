// Command sessiondemo serves a small HTTP API on top of the session engine.
//
//	COOKIE_SECRETS=$(openssl rand -hex 32) SESSION_BACKEND=sqlite go run ./cmd/sessiondemo
//
// Routes:
//
//	GET  /                   count visits in the current session
//	POST /login              attach a user id and rotate the session id
//	POST /logout             end the current session
//	GET  /sessions           list sessions of the logged in user
//	POST /sessions/revoke    end every other session of the user
//	GET  /healthz, /readyz   liveness and backend readiness
//
// Clients without cookies can send the id in the X-Session-ID header.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/sessionkit/pkg/config"
	"github.com/dmitrymomot/sessionkit/pkg/cookie"
	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/session"
	"github.com/dmitrymomot/sessionkit/pkg/session/backend"
)

type appConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`

	// SessionHeader carries the session id for clients without cookies.
	SessionHeader string `env:"SESSION_HEADER" envDefault:"X-Session-ID"`

	Log     logger.Config
	Session session.Config
	Backend backend.Config
}

func (c *appConfig) Validate() error {
	return errors.Join(c.Session.Validate(), c.Backend.Validate())
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log, err := logger.NewFromConfig(cfg.Log, logger.WithContextExtractors(session.LogExtractor, requestIDAttr))
	if err != nil {
		return err
	}
	logger.SetAsDefault(log)

	b, err := backend.Open(ctx, cfg.Backend, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("failed to close session backend", logger.Error(err))
		}
	}()

	mgr, err := newManager(b.Store, cfg.Session, log)
	if err != nil {
		return err
	}

	cookies, err := cookie.NewFromConfig(cfg.Backend.Cookie)
	if err != nil {
		return err
	}
	transport := session.NewCompositeTransport(
		session.NewCookieTransportFromConfig(cookies, cfg.Session),
		session.NewHeaderTransport(cfg.SessionHeader, session.WithHeaderPrefix("")),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(mgr, transport, b.Healthcheck, log),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return serve(ctx, srv, cfg.ShutdownTimeout, log)
}

// newManager indexes sessions by user id when the store supports it.
func newManager(store session.Store, cfg session.Config, log *slog.Logger) (*session.Manager[visitor], error) {
	b := session.NewBuilder[visitor](store).WithConfig(cfg).WithLogger(log)
	if _, ok := store.(session.IndexedStore); ok {
		b = b.WithIndexKey(byUser)
	}
	return b.Build()
}

func requestIDAttr(ctx context.Context) (slog.Attr, bool) {
	if id := middleware.GetReqID(ctx); id != "" {
		return slog.String("request_id", id), true
	}
	return slog.Attr{}, false
}
