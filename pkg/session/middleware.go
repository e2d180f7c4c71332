package session

import (
	"net/http"
	"sync"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
)

// Middleware attaches a Handle to every request and finalizes it before the
// response headers are written, so the session is persisted and the cookie
// directive applied even when the handler streams a body. A finalize failure
// turns the response into a 500 and the handler's output is discarded.
//
// Handlers retrieve the handle with FromContext[T].
func Middleware[T any](m *Manager[T], transport Transport) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _ := transport.GetToken(r)

			h := m.Open(token)
			defer h.Release()

			jar := NewJar(r)
			ctx := WithHandle(WithJar(r.Context(), jar), h)
			r = r.WithContext(ctx)

			fw := &finalizingWriter{ResponseWriter: w}
			fw.finalize = func() bool {
				d, err := h.Finalize(ctx)
				if err != nil {
					return false
				}
				if err := applyDirective(w, transport, d); err != nil {
					m.log.ErrorContext(ctx, "failed to write session token", logger.Error(err))
					return false
				}
				jar.Apply(w)
				return true
			}

			next.ServeHTTP(fw, r)
			fw.flushHeaders()
		})
	}
}

func applyDirective(w http.ResponseWriter, t Transport, d Directive) error {
	switch d.Action {
	case SetCookie:
		return t.SetToken(w, d.ID, d.MaxAge)
	case ClearCookie:
		return t.ClearToken(w)
	}
	return nil
}

// finalizingWriter runs finalize exactly once, right before the first
// header or body byte leaves the handler.
type finalizingWriter struct {
	http.ResponseWriter
	finalize func() bool

	once   sync.Once
	failed bool
}

func (w *finalizingWriter) before() {
	w.once.Do(func() {
		if !w.finalize() {
			w.failed = true
			h := w.ResponseWriter.Header()
			for k := range h {
				h.Del(k)
			}
			http.Error(w.ResponseWriter, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})
}

func (w *finalizingWriter) WriteHeader(code int) {
	w.before()
	if w.failed {
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *finalizingWriter) Write(b []byte) (int, error) {
	w.before()
	if w.failed {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

// flushHeaders finalizes handlers that wrote nothing.
func (w *finalizingWriter) flushHeaders() {
	w.before()
}

func (w *finalizingWriter) Flush() {
	w.before()
	if w.failed {
		return
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *finalizingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// RequireSession responds 401 to requests without an attached session.
func RequireSession[T any](next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := FromContext[T](r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if _, ok := h.Get(r.Context()); !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
