package session

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStoreFunc builds an empty store whose sessions expire after timeout.
type newStoreFunc func(t *testing.T, timeout time.Duration) Store

// runStoreContract checks the behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore newStoreFunc) {
	t.Run("create get save", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, time.Hour)

		sess, err := store.Create(ctx)
		require.NoError(t, err)
		assert.Len(t, sess.ID, 64)

		sess.Set("auth", "cached")
		require.NoError(t, store.Save(ctx, sess))

		got, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "cached", got.Get("auth"))
		assert.WithinDuration(t, sess.ExpiresAt, got.ExpiresAt, time.Millisecond)
	})

	t.Run("missing session", func(t *testing.T) {
		_, err := newStore(t, time.Hour).Get(context.Background(), "missing")
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("save without id", func(t *testing.T) {
		store := newStore(t, time.Hour)
		assert.Error(t, store.Save(context.Background(), &Session{}))
		assert.Error(t, store.Save(context.Background(), nil))
	})

	t.Run("save slides expiry", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, time.Hour)

		sess, err := store.Create(ctx)
		require.NoError(t, err)
		first := sess.ExpiresAt

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, store.Save(ctx, sess))
		assert.True(t, sess.ExpiresAt.After(first))

		got, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, sess.ExpiresAt, got.ExpiresAt, time.Millisecond)
	})

	t.Run("list and delete", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, time.Hour)

		a, err := store.Create(ctx)
		require.NoError(t, err)
		b, err := store.Create(ctx)
		require.NoError(t, err)

		list, err := store.List(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a.ID, b.ID}, ids(list))

		require.NoError(t, store.Delete(ctx, a.ID))
		require.NoError(t, store.Delete(ctx, "nonexistent"))

		list, err = store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID}, ids(list))

		_, err = store.Get(ctx, a.ID)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("expired session", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, 50*time.Millisecond)

		sess, err := store.Create(ctx)
		require.NoError(t, err)

		time.Sleep(100 * time.Millisecond)

		_, err = store.Get(ctx, sess.ID)
		assert.True(t, errors.Is(err, ErrExpired) || errors.Is(err, ErrNotFound), "got %v", err)

		list, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func ids(list []*Session) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	sort.Strings(out)
	return out
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, timeout time.Duration) Store {
		store := NewMemoryStore(timeout)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, timeout time.Duration) Store {
		return newTestSQLiteStore(t, timeout)
	})
}
