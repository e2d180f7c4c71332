// Package sessiontest provides a conformance suite for session.Store
// implementations. Backend packages call Run from their tests.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/sessionkit/pkg/session"
)

// Tolerance is the allowed drift between the test clock and timestamps
// produced by a backend (database clocks, millisecond precision).
const Tolerance = 2 * time.Second

// Run exercises store against the Store contract, and against
// IndexedStore, Creator and Updater when store implements them.
func Run(t *testing.T, store session.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Store", func(t *testing.T) { runStore(ctx, t, store) })

	if indexed, ok := store.(session.IndexedStore); ok {
		t.Run("IndexedStore", func(t *testing.T) { runIndexed(ctx, t, indexed) })
	}
	if creator, ok := store.(session.Creator); ok {
		t.Run("Creator", func(t *testing.T) { runCreator(ctx, t, store, creator) })
	}
	if updater, ok := store.(session.Updater); ok {
		t.Run("Updater", func(t *testing.T) { runUpdater(ctx, t, store, updater) })
	}
}

func newID() string { return uuid.NewString() }

func runStore(ctx context.Context, t *testing.T, store session.Store) {
	t.Run("round trip", func(t *testing.T) {
		id := newID()
		before := time.Now()
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte(`{"n":1}`)}, time.Hour))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, []byte(`{"n":1}`), rec.Data)
		assert.WithinDuration(t, before, rec.CreatedAt, Tolerance)
		assert.WithinDuration(t, before.Add(time.Hour), rec.ExpiresAt, Tolerance)
	})

	t.Run("absent id", func(t *testing.T) {
		rec, err := store.Get(ctx, newID())
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("overwrite keeps created at", func(t *testing.T) {
		id := newID()
		created := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("a"), CreatedAt: created}, time.Hour))
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("b"), CreatedAt: created}, time.Hour))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, []byte("b"), rec.Data)
		assert.WithinDuration(t, created, rec.CreatedAt, time.Millisecond)
	})

	t.Run("zero ttl is expired", func(t *testing.T) {
		id := newID()
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("x")}, 0))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("zero ttl replaces live record", func(t *testing.T) {
		id := newID()
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("x")}, time.Hour))
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("x")}, 0))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		id := newID()
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("gone")}, time.Hour))

		removed, err := store.Delete(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, removed)
		assert.Equal(t, []byte("gone"), removed.Data)

		removed, err = store.Delete(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, removed)

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("touch extends expiry", func(t *testing.T) {
		id := newID()
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("t")}, time.Minute))
		require.NoError(t, store.Touch(ctx, id, 3*time.Hour))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.WithinDuration(t, time.Now().Add(3*time.Hour), rec.ExpiresAt, Tolerance)
		assert.Equal(t, []byte("t"), rec.Data)
	})

	t.Run("touch absent is a no-op", func(t *testing.T) {
		id := newID()
		require.NoError(t, store.Touch(ctx, id, time.Hour))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		const n = 20
		ids := make([]string, n)
		for i := range ids {
			ids[i] = newID()
		}

		var g errgroup.Group
		for i, id := range ids {
			g.Go(func() error {
				return store.Save(ctx, id, session.Record{Data: []byte(fmt.Sprint(i))}, time.Hour)
			})
		}
		require.NoError(t, g.Wait())

		for i, id := range ids {
			rec, err := store.Get(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, []byte(fmt.Sprint(i)), rec.Data)
		}
	})
}

func runIndexed(ctx context.Context, t *testing.T, store session.IndexedStore) {
	t.Run("membership", func(t *testing.T) {
		key := "user-" + newID()
		a, b := newID(), newID()
		require.NoError(t, store.SaveIndexed(ctx, a, session.Record{Data: []byte("a")}, time.Hour, key))
		require.NoError(t, store.SaveIndexed(ctx, b, session.Record{Data: []byte("b")}, time.Hour, key))

		ids, err := store.FindByIndex(ctx, key)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b}, ids)

		rec, err := store.Get(ctx, a)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, key, rec.IndexKey)
	})

	t.Run("unknown key", func(t *testing.T) {
		ids, err := store.FindByIndex(ctx, "nobody-"+newID())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("re-index moves id", func(t *testing.T) {
		k1, k2 := "k1-"+newID(), "k2-"+newID()
		id := newID()
		require.NoError(t, store.SaveIndexed(ctx, id, session.Record{Data: []byte("x")}, time.Hour, k1))
		require.NoError(t, store.SaveIndexed(ctx, id, session.Record{Data: []byte("x")}, time.Hour, k2))

		ids, err := store.FindByIndex(ctx, k1)
		require.NoError(t, err)
		assert.NotContains(t, ids, id)

		ids, err = store.FindByIndex(ctx, k2)
		require.NoError(t, err)
		assert.Equal(t, []string{id}, ids)
	})

	t.Run("plain save drops association", func(t *testing.T) {
		key := "k-" + newID()
		id := newID()
		require.NoError(t, store.SaveIndexed(ctx, id, session.Record{Data: []byte("x")}, time.Hour, key))
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("y")}, time.Hour))

		ids, err := store.FindByIndex(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, ids)

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Empty(t, rec.IndexKey)
	})

	t.Run("delete removes from index", func(t *testing.T) {
		key := "k-" + newID()
		id := newID()
		require.NoError(t, store.SaveIndexed(ctx, id, session.Record{Data: []byte("x")}, time.Hour, key))
		_, err := store.Delete(ctx, id)
		require.NoError(t, err)

		ids, err := store.FindByIndex(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("expired ids are hidden", func(t *testing.T) {
		key := "k-" + newID()
		live, dead := newID(), newID()
		require.NoError(t, store.SaveIndexed(ctx, live, session.Record{Data: []byte("l")}, time.Hour, key))
		require.NoError(t, store.SaveIndexed(ctx, dead, session.Record{Data: []byte("d")}, 0, key))

		ids, err := store.FindByIndex(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []string{live}, ids)
	})

	t.Run("delete by index honours exclusions", func(t *testing.T) {
		key := "k-" + newID()
		keep, drop1, drop2 := newID(), newID(), newID()
		for _, id := range []string{keep, drop1, drop2} {
			require.NoError(t, store.SaveIndexed(ctx, id, session.Record{Data: []byte(id)}, time.Hour, key))
		}

		n, err := store.DeleteByIndex(ctx, key, keep)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		ids, err := store.FindByIndex(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []string{keep}, ids)

		for _, id := range []string{drop1, drop2} {
			rec, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Nil(t, rec)
		}
	})

	t.Run("concurrent indexing", func(t *testing.T) {
		key := "k-" + newID()
		const n = 16

		var (
			mu  sync.Mutex
			all []string
			g   errgroup.Group
		)
		for range n {
			id := newID()
			mu.Lock()
			all = append(all, id)
			mu.Unlock()
			g.Go(func() error {
				return store.SaveIndexed(ctx, id, session.Record{Data: []byte("c")}, time.Hour, key)
			})
		}
		require.NoError(t, g.Wait())

		ids, err := store.FindByIndex(ctx, key)
		require.NoError(t, err)
		assert.ElementsMatch(t, all, ids)
	})
}

func runCreator(ctx context.Context, t *testing.T, store session.Store, creator session.Creator) {
	t.Run("collision", func(t *testing.T) {
		id := newID()
		require.NoError(t, creator.Create(ctx, id, session.Record{Data: []byte("1")}, time.Hour, ""))

		err := creator.Create(ctx, id, session.Record{Data: []byte("2")}, time.Hour, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, session.ErrIdentifierCollision), "got %v", err)

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, []byte("1"), rec.Data)
	})

	t.Run("reuses expired id", func(t *testing.T) {
		id := newID()
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("old")}, 0))
		require.NoError(t, creator.Create(ctx, id, session.Record{Data: []byte("new")}, time.Hour, ""))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, []byte("new"), rec.Data)
	})

	if indexed, ok := store.(session.IndexedStore); ok {
		t.Run("create with index", func(t *testing.T) {
			key := "k-" + newID()
			id := newID()
			require.NoError(t, creator.Create(ctx, id, session.Record{Data: []byte("x")}, time.Hour, key))

			ids, err := indexed.FindByIndex(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []string{id}, ids)
		})
	}
}

func runUpdater(ctx context.Context, t *testing.T, store session.Store, updater session.Updater) {
	t.Run("overwrites live record", func(t *testing.T) {
		id := newID()
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("1")}, time.Hour))
		require.NoError(t, updater.Update(ctx, id, session.Record{Data: []byte("2")}, time.Hour, ""))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, []byte("2"), rec.Data)
	})

	t.Run("absent id", func(t *testing.T) {
		id := newID()
		err := updater.Update(ctx, id, session.Record{Data: []byte("x")}, time.Hour, "")
		assert.ErrorIs(t, err, session.ErrNotFound)

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("deleted record stays deleted", func(t *testing.T) {
		id := newID()
		require.NoError(t, store.Save(ctx, id, session.Record{Data: []byte("1")}, time.Hour))
		_, err := store.Delete(ctx, id)
		require.NoError(t, err)

		err = updater.Update(ctx, id, session.Record{Data: []byte("2")}, time.Hour, "")
		assert.ErrorIs(t, err, session.ErrNotFound)

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	indexed, ok := store.(session.IndexedStore)
	if !ok {
		return
	}

	t.Run("moves index", func(t *testing.T) {
		from, to := "k-"+newID(), "k-"+newID()
		id := newID()
		require.NoError(t, indexed.SaveIndexed(ctx, id, session.Record{Data: []byte("1")}, time.Hour, from))
		require.NoError(t, updater.Update(ctx, id, session.Record{Data: []byte("2")}, time.Hour, to))

		ids, err := indexed.FindByIndex(ctx, from)
		require.NoError(t, err)
		assert.Empty(t, ids)
		ids, err = indexed.FindByIndex(ctx, to)
		require.NoError(t, err)
		assert.Equal(t, []string{id}, ids)
	})

	t.Run("revoked by index stays revoked", func(t *testing.T) {
		key := "k-" + newID()
		id := newID()
		require.NoError(t, indexed.SaveIndexed(ctx, id, session.Record{Data: []byte("1")}, time.Hour, key))
		_, err := indexed.DeleteByIndex(ctx, key)
		require.NoError(t, err)

		err = updater.Update(ctx, id, session.Record{Data: []byte("2")}, time.Hour, key)
		assert.ErrorIs(t, err, session.ErrNotFound)

		ids, err := indexed.FindByIndex(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}
