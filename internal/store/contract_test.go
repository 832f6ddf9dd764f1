package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the Store contract against a backend. expire moves
// the backend's notion of time forward by d.
func runContract(t *testing.T, open func(t *testing.T) Store, expire func(d time.Duration)) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "k", []byte("v1"), 0))
		require.NoError(t, s.Set(ctx, "k", []byte("v2"), 0))
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(got))
	})

	t.Run("set if absent", func(t *testing.T) {
		s := open(t)
		ok, err := s.SetIfAbsent(ctx, "claim:a", Flag, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetIfAbsent(ctx, "claim:a", []byte("other"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.Get(ctx, "claim:a")
		require.NoError(t, err)
		assert.Equal(t, Flag, got)
	})

	t.Run("set if absent after expiry", func(t *testing.T) {
		s := open(t)
		ok, err := s.SetIfAbsent(ctx, "claim:b", Flag, time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		expire(2 * time.Second)

		exists, err := Exists(ctx, s, "claim:b")
		require.NoError(t, err)
		assert.False(t, exists)

		ok, err = s.SetIfAbsent(ctx, "claim:b", Flag, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "k", Flag, 0))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"))
		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("decrement if positive", func(t *testing.T) {
		s := open(t)
		_, ok, err := s.DecrementIfPositive(ctx, BudgetRemainingKey)
		require.NoError(t, err)
		assert.False(t, ok, "missing key is unknown budget")

		require.NoError(t, s.Set(ctx, BudgetRemainingKey, []byte("2"), 0))

		n, ok, err := s.DecrementIfPositive(ctx, BudgetRemainingKey)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1), n)

		n, ok, err = s.DecrementIfPositive(ctx, BudgetRemainingKey)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(0), n)

		_, ok, err = s.DecrementIfPositive(ctx, BudgetRemainingKey)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.Get(ctx, BudgetRemainingKey)
		require.NoError(t, err)
		assert.Equal(t, "0", string(got))
	})

	t.Run("scan prefix", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, SessionKey("b"), Flag, 0))
		require.NoError(t, s.Set(ctx, SessionKey("a"), Flag, 0))
		require.NoError(t, s.Set(ctx, ClaimKey("a"), Flag, 0))

		keys, err := s.Scan(ctx, SessionPrefix)
		require.NoError(t, err)
		assert.Equal(t, []string{SessionKey("a"), SessionKey("b")}, keys)
	})

	t.Run("concurrent set if absent has one winner", func(t *testing.T) {
		s := open(t)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.SetIfAbsent(ctx, "claim:race", []byte(fmt.Sprint(i)), time.Minute)
				if assert.NoError(t, err) && ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("concurrent decrement never goes negative", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, BudgetRemainingKey, []byte("5"), 0))
		var granted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.DecrementIfPositive(ctx, BudgetRemainingKey)
				if assert.NoError(t, err) && ok {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(5), granted.Load())
	})
}
