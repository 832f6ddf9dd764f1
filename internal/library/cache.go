package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/coocood/freecache"

	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/scoring"
	"github.com/roach88/gamesincommon/internal/store"
)

// Cache lifetimes in the shared store.
const (
	DefaultLibraryTTL      = 4 * time.Hour
	DefaultAchievementsTTL = 4 * time.Hour
	DefaultGameTTL         = 24 * time.Hour
)

// DefaultLocalCacheBytes sizes the in-process cache.
const DefaultLocalCacheBytes = 8 * 1024 * 1024

// localTTL caps how long the in-process cache may serve an entry without
// rereading the shared store.
const localTTL = 5 * time.Minute

// CachedSource serves Source lookups from the store when it can and from the
// wrapped Source when it must.
type CachedSource struct {
	source          Source
	store           store.Store
	local           *freecache.Cache
	logger          *slog.Logger
	libraryTTL      time.Duration
	achievementsTTL time.Duration
	gameTTL         time.Duration
}

// CacheOption configures a CachedSource.
type CacheOption func(*CachedSource)

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CachedSource) { c.logger = logger }
}

// WithTTLs overrides the store lifetimes. Zero values keep the defaults.
func WithTTLs(libraries, achievements, games time.Duration) CacheOption {
	return func(c *CachedSource) {
		if libraries > 0 {
			c.libraryTTL = libraries
		}
		if achievements > 0 {
			c.achievementsTTL = achievements
		}
		if games > 0 {
			c.gameTTL = games
		}
	}
}

// WithLocalCache sets the in-process cache size. Zero disables it.
func WithLocalCache(sizeBytes int) CacheOption {
	return func(c *CachedSource) {
		if sizeBytes <= 0 {
			c.local = nil
			return
		}
		c.local = freecache.NewCache(sizeBytes)
	}
}

// NewCachedSource wraps src with the store s.
func NewCachedSource(src Source, s store.Store, opts ...CacheOption) *CachedSource {
	c := &CachedSource{
		source:          src,
		store:           s,
		local:           freecache.NewCache(DefaultLocalCacheBytes),
		logger:          slog.Default(),
		libraryTTL:      DefaultLibraryTTL,
		achievementsTTL: DefaultAchievementsTTL,
		gameTTL:         DefaultGameTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OwnedGames implements Source.
func (c *CachedSource) OwnedGames(ctx context.Context, accountID string) (scoring.Library, error) {
	key := store.CacheKey("library", accountID)
	return cached(ctx, c, key, c.libraryTTL, func() (scoring.Library, error) {
		return c.source.OwnedGames(ctx, accountID)
	})
}

// Game implements Source.
func (c *CachedSource) Game(ctx context.Context, gameID int) (scoring.Game, error) {
	key := store.CacheKey("game", strconv.Itoa(gameID))
	return cached(ctx, c, key, c.gameTTL, func() (scoring.Game, error) {
		return c.source.Game(ctx, gameID)
	})
}

// Achievements implements Source.
func (c *CachedSource) Achievements(ctx context.Context, accountID string, gameID int) (scoring.Achievements, error) {
	key := store.CacheKey("achievements", accountID, strconv.Itoa(gameID))
	return cached(ctx, c, key, c.achievementsTTL, func() (scoring.Achievements, error) {
		return c.source.Achievements(ctx, accountID, gameID)
	})
}

// cached looks key up locally, then in the store, then calls fetch and
// writes the answer back to both layers. A failed cache write is logged and
// the fetched value is still returned.
func cached[T any](ctx context.Context, c *CachedSource, key string, ttl time.Duration, fetch func() (T, error)) (T, error) {
	var zero T

	if data, ok := c.localGet(key); ok {
		var v T
		if err := model.Decode(data, &v); err == nil {
			return v, nil
		}
	}

	data, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		if decodeErr := model.Decode(data, &v); decodeErr == nil {
			c.localSet(key, data, ttl)
			return v, nil
		}
		c.logger.Warn("discarding unreadable cache entry", "key", key)
	case !errors.Is(err, store.ErrNotFound):
		return zero, fmt.Errorf("cache read %s: %w", key, err)
	}

	v, err := fetch()
	if err != nil {
		return zero, err
	}

	data, err = model.Encode(v)
	if err != nil {
		return zero, err
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	c.localSet(key, data, ttl)
	return v, nil
}

func (c *CachedSource) localGet(key string) ([]byte, bool) {
	if c.local == nil {
		return nil, false
	}
	data, err := c.local.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) || err != nil {
		return nil, false
	}
	return data, true
}

func (c *CachedSource) localSet(key string, data []byte, ttl time.Duration) {
	if c.local == nil {
		return
	}
	if ttl > localTTL {
		ttl = localTTL
	}
	if err := c.local.Set([]byte(key), data, int(ttl/time.Second)); err != nil {
		c.logger.Debug("local cache set failed", "key", key, "error", err)
	}
}
