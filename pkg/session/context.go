package session

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
)

type handleContextKey struct{}

// identified is implemented by every *Handle[T].
type identified interface {
	peekID() string
}

// WithHandle adds a handle to the context.
func WithHandle[T any](ctx context.Context, h *Handle[T]) context.Context {
	return context.WithValue(ctx, handleContextKey{}, h)
}

// FromContext returns the handle stored by Middleware or WithHandle.
// ok is false when there is none or it carries a different payload type.
func FromContext[T any](ctx context.Context) (*Handle[T], bool) {
	h, ok := ctx.Value(handleContextKey{}).(*Handle[T])
	return h, ok && h != nil
}

// MustFromContext is FromContext that panics when no handle is present.
func MustFromContext[T any](ctx context.Context) *Handle[T] {
	h, ok := FromContext[T](ctx)
	if !ok {
		panic("session: handle not found in context")
	}
	return h
}

// LogExtractor adds the (truncated) session id of the request to log
// records. Register it with logger.WithContextExtractors.
func LogExtractor(ctx context.Context) (slog.Attr, bool) {
	h, ok := ctx.Value(handleContextKey{}).(identified)
	if !ok {
		return slog.Attr{}, false
	}
	id := h.peekID()
	if id == "" {
		return slog.Attr{}, false
	}
	return logger.SessionID(id), true
}
