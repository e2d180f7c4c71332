package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/pkg/cookie"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

const header = "X-Session-ID"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, store session.Store, transport session.Transport, ready func(context.Context) error) *httptest.Server {
	t.Helper()
	mgr, err := newManager(store, session.DefaultConfig(), quietLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(mgr, transport, ready, quietLogger()))
	t.Cleanup(srv.Close)
	return srv
}

// call sends a request carrying sid in the session header and returns the
// response with the session id the server handed back.
func call(t *testing.T, srv *httptest.Server, method, path, sid, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if sid != "" {
		req.Header.Set(header, sid)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, resp.Header.Get(header)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestDemo_UserSessions(t *testing.T) {
	store := session.NewMemoryStore(0)
	srv := newTestServer(t, store, session.NewHeaderTransport(header, session.WithHeaderPrefix("")), nil)
	userID := uuid.NewString()

	resp, anon := call(t, srv, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, anon)
	assert.Equal(t, 1, decode[visitor](t, resp).Visits)

	resp, _ = call(t, srv, http.MethodGet, "/", anon, "")
	assert.Equal(t, 2, decode[visitor](t, resp).Visits)

	resp, first := call(t, srv, http.MethodPost, "/login", anon, `{"user_id":"`+userID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, first)
	assert.NotEqual(t, anon, first, "login rotates the id")
	v := decode[visitor](t, resp)
	assert.Equal(t, userID, v.UserID)
	assert.Equal(t, 2, v.Visits, "payload survives rotation")

	resp, _ = call(t, srv, http.MethodGet, "/sessions", anon, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "pre-login id is gone")

	resp, second := call(t, srv, http.MethodPost, "/login", "", `{"user_id":"`+userID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/sessions", first, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[sessionsResponse](t, resp)
	assert.Equal(t, first, list.Current)
	assert.ElementsMatch(t, []string{first, second}, list.Sessions)

	resp, _ = call(t, srv, http.MethodPost, "/sessions/revoke", first, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), decode[map[string]int64](t, resp)["revoked"])

	resp, _ = call(t, srv, http.MethodGet, "/sessions", second, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, cleared := call(t, srv, http.MethodPost, "/logout", first, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, cleared)

	resp, _ = call(t, srv, http.MethodGet, "/sessions", first, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ids, err := store.FindByIndex(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDemo_LoginValidation(t *testing.T) {
	srv := newTestServer(t, session.NewMemoryStore(0), session.NewHeaderTransport(header, session.WithHeaderPrefix("")), nil)

	resp, sid := call(t, srv, http.MethodPost, "/login", "", `{"user_id":"not-a-uuid"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, sid, "rejected login starts no session")

	resp, _ = call(t, srv, http.MethodPost, "/login", "", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, sid = call(t, srv, http.MethodPost, "/login", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, sid)
	_, err := uuid.Parse(decode[visitor](t, resp).UserID)
	assert.NoError(t, err, "a user id is generated when none is given")
}

func TestDemo_CookieStore(t *testing.T) {
	cookies, err := cookie.New([]string{"0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)

	srv := newTestServer(t, session.NewCookieStore(cookies), session.NewCookieTransport(cookies, "sid"), nil)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := srv.Client()
	client.Jar = jar

	get := func(method, path string) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	assert.Equal(t, 1, decode[visitor](t, get(http.MethodGet, "/")).Visits)
	assert.Equal(t, 2, decode[visitor](t, get(http.MethodGet, "/")).Visits)

	resp := get(http.MethodPost, "/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(http.MethodGet, "/sessions")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode, "cookie store keeps no index")

	resp = get(http.MethodPost, "/logout")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, decode[visitor](t, get(http.MethodGet, "/")).Visits, "fresh session after logout")
}

func TestDemo_Probes(t *testing.T) {
	var failing atomic.Bool
	ready := func(context.Context) error {
		if failing.Load() {
			return errors.New("backend down")
		}
		return nil
	}
	srv := newTestServer(t, session.NewMemoryStore(0), session.NewHeaderTransport(header), ready)

	resp, _ := call(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"), "request id middleware is mounted")

	resp, _ = call(t, srv, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	failing.Store(true)
	resp, _ = call(t, srv, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServeListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Handler: probe(quietLogger())}

	done := make(chan error, 1)
	go func() { done <- serveListener(ctx, srv, ln, time.Second, quietLogger()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
