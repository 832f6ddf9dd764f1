package library

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamesincommon/internal/scoring"
	"github.com/roach88/gamesincommon/internal/store"
)

func newRedisStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := store.OpenRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestCachedSource_HitsStoreOnce(t *testing.T) {
	s, _ := newRedisStore(t)
	fake := NewFake()
	fake.Libraries["acct-a"] = scoring.Library{10: {TotalMinutes: 60}}
	ctx := context.Background()

	c := NewCachedSource(fake, s, WithLocalCache(0))
	for i := 0; i < 3; i++ {
		lib, err := c.OwnedGames(ctx, "acct-a")
		require.NoError(t, err)
		assert.Equal(t, 60, lib[10].TotalMinutes)
	}
	assert.Equal(t, 1, fake.Calls("library:acct-a"))

	ok, err := store.Exists(ctx, s, store.CacheKey("library", "acct-a"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCachedSource_SharedAcrossInstances(t *testing.T) {
	s, _ := newRedisStore(t)
	fake := NewFake()
	fake.Games[730] = scoring.Game{ID: 730, Name: "CS2", Valid: true}
	ctx := context.Background()

	_, err := NewCachedSource(fake, s).Game(ctx, 730)
	require.NoError(t, err)

	g, err := NewCachedSource(fake, s).Game(ctx, 730)
	require.NoError(t, err)
	assert.Equal(t, "CS2", g.Name)
	assert.Equal(t, 1, fake.Calls("game:730"))
}

func TestCachedSource_Expiry(t *testing.T) {
	s, mr := newRedisStore(t)
	fake := NewFake()
	fake.Achieved["acct-a"] = map[int]scoring.Achievements{10: {Total: 4, Unlocked: []string{"x"}}}
	ctx := context.Background()

	c := NewCachedSource(fake, s, WithLocalCache(0), WithTTLs(0, time.Hour, 0))
	_, err := c.Achievements(ctx, "acct-a", 10)
	require.NoError(t, err)

	mr.FastForward(59 * time.Minute)
	_, err = c.Achievements(ctx, "acct-a", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls("achievements:acct-a:10"))

	mr.FastForward(2 * time.Minute)
	a, err := c.Achievements(ctx, "acct-a", 10)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Total)
	assert.Equal(t, 2, fake.Calls("achievements:acct-a:10"))
}

func TestCachedSource_LocalLayerServesWithoutStore(t *testing.T) {
	s, mr := newRedisStore(t)
	fake := NewFake()
	fake.Games[1] = scoring.Game{ID: 1, Name: "Local"}
	ctx := context.Background()

	c := NewCachedSource(fake, s)
	_, err := c.Game(ctx, 1)
	require.NoError(t, err)

	mr.FlushAll()
	g, err := c.Game(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Local", g.Name)
	assert.Equal(t, 1, fake.Calls("game:1"))
}

func TestCachedSource_ErrorsAreNotCached(t *testing.T) {
	s, _ := newRedisStore(t)
	fake := NewFake()
	fake.Err = errors.New("upstream down")
	ctx := context.Background()

	c := NewCachedSource(fake, s)
	_, err := c.OwnedGames(ctx, "acct-a")
	require.Error(t, err)

	fake.Err = nil
	fake.Libraries["acct-a"] = scoring.Library{5: {}}
	lib, err := c.OwnedGames(ctx, "acct-a")
	require.NoError(t, err)
	assert.Contains(t, lib, 5)
	assert.Equal(t, 2, fake.Calls("library:acct-a"))
}
