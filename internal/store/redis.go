package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// decrementIfPositive decrements KEYS[1] only when it holds a positive
// integer. Returns the new value, or -1 when nothing was decremented.
var decrementIfPositive = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]))
if n and n > 0 then
	return redis.call('DECR', KEYS[1])
end
return -1
`)

const scanBatch = 100

// RedisStore implements Store on a Redis server shared by every process.
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

// OpenRedis connects to the server named by a redis:// URL and verifies it
// responds.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "failed to ping redis")
	}
	return NewRedisStore(client), nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to get %q", key)
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.Client.Set(ctx, key, value, ttlArg(ttl)).Err(); err != nil {
		return eris.Wrapf(err, "failed to set %q", key)
	}
	return nil
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.Client.SetNX(ctx, key, value, ttlArg(ttl)).Result()
	if err != nil {
		return false, eris.Wrapf(err, "failed to set-if-absent %q", key)
	}
	return ok, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.Client.Del(ctx, key).Err(); err != nil {
		return eris.Wrapf(err, "failed to delete %q", key)
	}
	return nil
}

func (r *RedisStore) DecrementIfPositive(ctx context.Context, key string) (int64, bool, error) {
	n, err := decrementIfPositive.Run(ctx, r.Client, []string{key}).Int64()
	if err != nil {
		return 0, false, eris.Wrapf(err, "failed to decrement %q", key)
	}
	if n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

func (r *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
		seen   = map[string]bool{}
	)
	match := escapeGlob(prefix) + "*"
	for {
		batch, next, err := r.Client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, eris.Wrapf(err, "failed to scan %q", prefix)
		}
		// SCAN may return a key more than once across iterations.
		for _, k := range batch {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisStore) Close() error {
	if err := r.Client.Close(); err != nil {
		return eris.Wrap(err, "")
	}
	return nil
}

// ttlArg maps "no expiry" onto go-redis's KeepTTL-free zero value.
func ttlArg(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
