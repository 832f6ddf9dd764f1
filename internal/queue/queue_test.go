package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamesincommon/internal/store"
	"github.com/roach88/gamesincommon/internal/testutil"
)

func backends(t *testing.T) map[string]func(t *testing.T) Queue {
	return map[string]func(t *testing.T) Queue{
		"sqlite": func(t *testing.T) Queue {
			s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "q.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return NewSQLiteQueue(s.DB(), WithIDGenerator(NewSequenceGenerator("task")))
		},
		"redis": func(t *testing.T) Queue {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return NewRedisQueue(client, WithIDGenerator(NewSequenceGenerator("task")))
		},
	}
}

func TestQueue_ClaimsOnlyDueTasksInOrder(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := open(t)
			t0 := testutil.Epoch

			require.NoError(t, q.Schedule(ctx,
				Task{Kind: "attempt", Token: "b", DueAt: t0.Add(30 * time.Second)},
				Task{Kind: "attempt", Token: "a", DueAt: t0},
				Task{Kind: "attempt", Token: "c", DueAt: t0.Add(time.Hour)},
			))

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			got, err := q.Claim(ctx, t0.Add(time.Minute), 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got[0].Token)
			assert.Equal(t, "task-2", got[0].ID)
			assert.True(t, got[0].DueAt.Equal(t0))
			assert.Equal(t, "b", got[1].Token)

			again, err := q.Claim(ctx, t0.Add(time.Minute), 10)
			require.NoError(t, err)
			assert.Empty(t, again, "claimed tasks are removed")

			n, err = q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestQueue_ClaimRespectsLimit(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := open(t)
			for i := 0; i < 5; i++ {
				require.NoError(t, q.Schedule(ctx, Task{Kind: "k", DueAt: testutil.Epoch}))
			}
			got, err := q.Claim(ctx, testutil.Epoch, 2)
			require.NoError(t, err)
			assert.Len(t, got, 2)

			none, err := q.Claim(ctx, testutil.Epoch, 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestQueue_ConcurrentClaimsNeverShareATask(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := open(t)
			for i := 0; i < 20; i++ {
				require.NoError(t, q.Schedule(ctx, Task{Kind: "k", DueAt: testutil.Epoch}))
			}

			var (
				mu   sync.Mutex
				seen = map[string]int{}
				wg   sync.WaitGroup
			)
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						got, err := q.Claim(ctx, testutil.Epoch, 3)
						if !assert.NoError(t, err) || len(got) == 0 {
							return
						}
						mu.Lock()
						for _, task := range got {
							seen[task.ID]++
						}
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Len(t, seen, 20)
			for id, count := range seen {
				assert.Equal(t, 1, count, "task %s claimed more than once", id)
			}
		})
	}
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
