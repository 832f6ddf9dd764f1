package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisKey is the sorted set holding pending tasks, scored by due time in
// unix milliseconds.
const RedisKey = "queue:tasks"

// RedisQueue keeps tasks in a Redis sorted set. A task is claimed by the
// worker whose ZREM removes it.
type RedisQueue struct {
	client *redis.Client
	ids    IDGenerator
}

// NewRedisQueue creates a queue on an existing client.
func NewRedisQueue(client *redis.Client, opts ...Option) *RedisQueue {
	o := buildOptions(opts)
	return &RedisQueue{client: client, ids: o.ids}
}

func (q *RedisQueue) Schedule(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(tasks))
	for _, t := range assignIDs(q.ids, tasks) {
		data, err := json.Marshal(t)
		if err != nil {
			return eris.Wrapf(err, "failed to encode task %s", t.ID)
		}
		members = append(members, redis.Z{
			Score:  float64(t.DueAt.UnixMilli()),
			Member: string(data),
		})
	}
	if err := q.client.ZAdd(ctx, RedisKey, members...).Err(); err != nil {
		return eris.Wrap(err, "failed to schedule tasks")
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	due, err := q.client.ZRangeByScore(ctx, RedisKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, eris.Wrap(err, "failed to list due tasks")
	}

	claimed := make([]Task, 0, len(due))
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, RedisKey, member).Result()
		if err != nil {
			return claimed, eris.Wrap(err, "failed to claim task")
		}
		if removed != 1 {
			// Another worker won this one.
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(member), &t); err != nil {
			return claimed, eris.Wrap(err, "failed to decode task")
		}
		claimed = append(claimed, t)
	}
	sortTasks(claimed)
	return claimed, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, RedisKey).Result()
	if err != nil {
		return 0, eris.Wrap(err, "failed to count tasks")
	}
	return int(n), nil
}
