package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

// visitor is the session payload of the demo.
type visitor struct {
	UserID  string    `json:"user_id,omitempty"`
	Visits  int       `json:"visits"`
	LoginAt time.Time `json:"login_at,omitzero"`
}

func byUser(v visitor) (string, bool) {
	return v.UserID, v.UserID != ""
}

type api struct {
	log *slog.Logger
}

func newRouter(mgr *session.Manager[visitor], transport session.Transport, ready func(context.Context) error, log *slog.Logger) http.Handler {
	a := &api{log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, requestLogger(log))

	r.Get("/healthz", probe(log))
	if ready != nil {
		r.Get("/readyz", probe(log, ready))
	} else {
		r.Get("/readyz", probe(log))
	}

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(mgr, transport))

		r.Get("/", a.visit)
		r.Post("/login", a.login)

		r.Group(func(r chi.Router) {
			r.Use(session.RequireSession[visitor])
			r.Post("/logout", a.logout)
			r.Get("/sessions", a.sessions)
			r.Post("/sessions/revoke", a.revoke)
		})
	})
	return r
}

func (a *api) visit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h := session.MustFromContext[visitor](ctx)

	if err := h.Update(ctx, func(v *visitor) error {
		v.Visits++
		return nil
	}); err != nil {
		a.fail(w, r, err)
		return
	}

	v, _ := h.Get(ctx)
	writeJSON(w, http.StatusOK, v)
}

type loginRequest struct {
	UserID string `json:"user_id"`
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h := session.MustFromContext[visitor](ctx)

	var req loginRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
	}

	userID := uuid.New()
	if req.UserID != "" {
		id, err := uuid.Parse(req.UserID)
		if err != nil {
			http.Error(w, "user_id must be a uuid", http.StatusBadRequest)
			return
		}
		userID = id
	}

	err := h.Update(ctx, func(v *visitor) error {
		v.UserID = userID.String()
		v.LoginAt = time.Now().UTC()
		return nil
	})
	if err == nil {
		err = h.Rotate(ctx)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.log.InfoContext(ctx, "user logged in", logger.IndexKey(userID.String()))
	v, _ := h.Get(ctx)
	writeJSON(w, http.StatusOK, v)
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	if err := session.MustFromContext[visitor](r.Context()).Delete(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionsResponse struct {
	Current  string   `json:"current"`
	Sessions []string `json:"sessions"`
}

func (a *api) sessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h := session.MustFromContext[visitor](ctx)

	ids, err := h.SessionIDs(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Current: h.ID(ctx), Sessions: ids})
}

func (a *api) revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := session.MustFromContext[visitor](ctx).InvalidateAll(ctx, true)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrIndexUnsupported):
		status = http.StatusNotImplemented
	case session.IsRetryable(err):
		status = http.StatusServiceUnavailable
	}
	a.log.ErrorContext(r.Context(), "session operation failed", logger.Error(err))
	http.Error(w, http.StatusText(status), status)
}

// probe answers liveness without checks and readiness with them.
func probe(log *slog.Logger, checks ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			_, _ = w.Write([]byte("ALIVE"))
			return
		}
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
				http.Error(w, "NOT_READY", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("READY"))
	}
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			w.Header().Set(middleware.RequestIDHeader, middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.DebugContext(r.Context(), "request",
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				slog.Int("status", ww.Status()),
				logger.Duration(time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
