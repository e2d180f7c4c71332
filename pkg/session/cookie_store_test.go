package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/pkg/cookie"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

const testSecret = "this-is-a-very-long-secret-key-32-chars-long"

func newCookieManager(t *testing.T) *cookie.Manager {
	t.Helper()
	m, err := cookie.New([]string{testSecret})
	require.NoError(t, err)
	return m
}

// roundTrip copies the cookies queued in jar onto a fresh request.
func roundTrip(jar *session.Jar) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range jar.Cookies() {
		if c.MaxAge >= 0 {
			r.AddCookie(c)
		}
	}
	return r
}

func TestCookieStore(t *testing.T) {
	t.Parallel()
	cm := newCookieManager(t)
	store := session.NewCookieStore(cm)

	t.Run("round trip through the client", func(t *testing.T) {
		jar := session.NewJar(httptest.NewRequest(http.MethodGet, "/", nil))
		ctx := session.WithJar(context.Background(), jar)

		require.NoError(t, store.Save(ctx, "s1", session.Record{Data: []byte(`{"count":1}`)}, time.Hour))

		rec, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, rec, "reads observe writes of the same request")

		next := session.WithJar(context.Background(), session.NewJar(roundTrip(jar)))
		rec, err = store.Get(next, "s1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, []byte(`{"count":1}`), rec.Data)
		assert.WithinDuration(t, time.Now().Add(time.Hour), rec.ExpiresAt, time.Second)

		cookies := jar.Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, session.DefaultPayloadCookie, cookies[0].Name)
		assert.NotContains(t, cookies[0].Value, "count", "payload is encrypted")
	})

	t.Run("other id reads as absent", func(t *testing.T) {
		jar := session.NewJar(nil)
		ctx := session.WithJar(context.Background(), jar)
		require.NoError(t, store.Save(ctx, "s1", session.Record{Data: []byte("x")}, time.Hour))

		rec, err := store.Get(ctx, "s2")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("tampered cookie reads as absent", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: session.DefaultPayloadCookie, Value: "not-a-sealed-value"})
		ctx := session.WithJar(context.Background(), session.NewJar(r))

		rec, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("zero ttl clears", func(t *testing.T) {
		jar := session.NewJar(nil)
		ctx := session.WithJar(context.Background(), jar)
		require.NoError(t, store.Save(ctx, "s1", session.Record{Data: []byte("x")}, time.Hour))
		require.NoError(t, store.Save(ctx, "s1", session.Record{Data: []byte("x")}, 0))

		rec, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.Less(t, jar.Cookies()[0].MaxAge, 0)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		jar := session.NewJar(nil)
		ctx := session.WithJar(context.Background(), jar)
		require.NoError(t, store.Save(ctx, "s1", session.Record{Data: []byte("x")}, time.Hour))

		removed, err := store.Delete(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, removed)

		removed, err = store.Delete(ctx, "s1")
		require.NoError(t, err)
		assert.Nil(t, removed)
	})

	t.Run("expired envelope reads as absent", func(t *testing.T) {
		now := time.Now()
		clock := func() time.Time { return now }
		s := session.NewCookieStore(cm, session.WithCookieClock(clock))

		jar := session.NewJar(nil)
		ctx := session.WithJar(context.Background(), jar)
		require.NoError(t, s.Save(ctx, "s1", session.Record{Data: []byte("x")}, time.Minute))

		now = now.Add(time.Minute)
		rec, err := s.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("requires a jar", func(t *testing.T) {
		_, err := store.Get(context.Background(), "s1")
		assert.ErrorIs(t, err, session.ErrNoJar)
		assert.ErrorIs(t, store.Save(context.Background(), "s1", session.Record{}, time.Hour), session.ErrNoJar)
	})

	t.Run("no index support", func(t *testing.T) {
		var s session.Store = store
		_, ok := s.(session.IndexedStore)
		assert.False(t, ok)

		m, err := session.NewBuilder[cart](store).Build()
		require.NoError(t, err)
		_, err = m.FindByIndex(context.Background(), "u1")
		assert.ErrorIs(t, err, session.ErrIndexUnsupported)
		_, err = m.InvalidateByIndex(context.Background(), "u1")
		assert.ErrorIs(t, err, session.ErrIndexUnsupported)

		_, err = session.NewBuilder[cart](store).WithIndexKey(byUser).Build()
		assert.ErrorIs(t, err, session.ErrIndexUnsupported)
	})
}

func TestCookieStore_ThroughHandle(t *testing.T) {
	t.Parallel()
	store := session.NewCookieStore(newCookieManager(t))
	m, err := session.NewBuilder[cart](store).WithTTL(time.Hour).Build()
	require.NoError(t, err)

	jar := session.NewJar(nil)
	ctx := session.WithJar(context.Background(), jar)
	h := m.Open("")
	require.NoError(t, h.Set(ctx, cart{Count: 2}))
	d, err := h.Finalize(ctx)
	require.NoError(t, err)
	require.Equal(t, session.SetCookie, d.Action)

	next := session.WithJar(context.Background(), session.NewJar(roundTrip(jar)))
	h = m.Open(d.ID)
	require.NoError(t, h.Update(next, func(c *cart) error {
		c.Count++
		return nil
	}))
	_, err = h.Finalize(next)
	require.NoError(t, err)

	v, ok, err := m.Get(next, d.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, v.Count)
}
