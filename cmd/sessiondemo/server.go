package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
)

var (
	errStart    = errors.New("sessiondemo.server_start_failed")
	errShutdown = errors.New("sessiondemo.server_shutdown_failed")
)

// serve runs srv until ctx is done, then shuts it down within timeout.
func serve(ctx context.Context, srv *http.Server, timeout time.Duration, log *slog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return errors.Join(errStart, err)
	}
	return serveListener(ctx, srv, ln, timeout, log)
}

func serveListener(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.InfoContext(ctx, "http server started", slog.String("addr", ln.Addr().String()))

	var runErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Join(errShutdown, err)
		}
		runErr = <-errCh
	case runErr = <-errCh:
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		log.Error("http server failed", logger.Error(runErr))
		return errors.Join(errStart, runErr)
	}
	log.Info("http server stopped")
	return nil
}
