package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamesincommon/internal/store"
	"github.com/roach88/gamesincommon/internal/testutil"
)

func newSQLiteRunner(t *testing.T, opts ...RunnerOption) (*Runner, Queue, *testutil.FakeClock) {
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	q := NewSQLiteQueue(s.DB())
	clk := testutil.NewFakeClock(testutil.Epoch)
	return NewRunner(q, clk, opts...), q, clk
}

func TestRunner_RegisterRejectsDuplicates(t *testing.T) {
	r, _, _ := newSQLiteRunner(t)
	noop := func(context.Context, Task) error { return nil }

	require.NoError(t, r.Register("attempt", noop))
	assert.Error(t, r.Register("attempt", noop))
	assert.Error(t, r.Register("", noop))
}

func TestRunner_RunOnceDispatchesDueTasks(t *testing.T) {
	ctx := context.Background()
	r, q, clk := newSQLiteRunner(t)

	var (
		mu  sync.Mutex
		ran []string
	)
	require.NoError(t, r.Register("attempt", func(_ context.Context, task Task) error {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, task.Token)
		return nil
	}))

	require.NoError(t, q.Schedule(ctx,
		Task{Kind: "attempt", Token: "now", DueAt: clk.Now()},
		Task{Kind: "attempt", Token: "later", DueAt: clk.Now().Add(time.Minute)},
	))

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"now"}, ran)

	clk.Advance(time.Minute)
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{"now", "later"}, ran)
}

func TestRunner_FailuresAndPanicsDoNotStopTheBatch(t *testing.T) {
	ctx := context.Background()
	r, q, clk := newSQLiteRunner(t, WithConcurrency(1))

	var (
		mu  sync.Mutex
		ran []string
	)
	record := func(token string) {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, token)
	}
	require.NoError(t, r.Register("fail", func(_ context.Context, task Task) error {
		record(task.Token)
		return errors.New("boom")
	}))
	require.NoError(t, r.Register("panic", func(_ context.Context, task Task) error {
		record(task.Token)
		panic("boom")
	}))
	require.NoError(t, r.Register("ok", func(_ context.Context, task Task) error {
		record(task.Token)
		return nil
	}))

	require.NoError(t, q.Schedule(ctx,
		Task{ID: "1", Kind: "fail", Token: "a", DueAt: clk.Now()},
		Task{ID: "2", Kind: "panic", Token: "b", DueAt: clk.Now()},
		Task{ID: "3", Kind: "unknown", Token: "c", DueAt: clk.Now()},
		Task{ID: "4", Kind: "ok", Token: "d", DueAt: clk.Now()},
	))

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"a", "b", "d"}, ran)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left, "failed tasks are not re-queued")
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	r, q, clk := newSQLiteRunner(t, WithPollInterval(10*time.Second))
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, r.Register("attempt", func(context.Context, Task) error {
		cancel()
		return nil
	}))
	require.NoError(t, q.Schedule(ctx, Task{Kind: "attempt", DueAt: clk.Now()}))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}
