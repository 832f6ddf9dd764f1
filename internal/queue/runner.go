package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/roach88/gamesincommon/internal/clock"
	"golang.org/x/sync/errgroup"
)

// Handler runs one claimed task.
type Handler func(ctx context.Context, task Task) error

// Runner claims due tasks and dispatches them to handlers registered by
// kind. Handler errors are logged; a failed task is not re-queued.
type Runner struct {
	queue       Queue
	clock       clock.Clock
	handlers    map[string]Handler
	logger      *slog.Logger
	concurrency int
	batch       int
	poll        time.Duration
	taskTimeout time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithConcurrency bounds how many handlers run at once.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithBatchSize bounds how many tasks one poll claims.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithPollInterval sets the idle delay between polls.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithTaskTimeout bounds a single handler invocation.
func WithTaskTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.taskTimeout = d }
}

// NewRunner creates a runner over q.
func NewRunner(q Queue, clk clock.Clock, opts ...RunnerOption) *Runner {
	r := &Runner{
		queue:       q,
		clock:       clk,
		handlers:    map[string]Handler{},
		logger:      slog.Default(),
		concurrency: 8,
		batch:       32,
		poll:        time.Second,
		taskTimeout: time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a handler to a task kind. Each kind may be registered once.
func (r *Runner) Register(kind string, h Handler) error {
	if kind == "" {
		return fmt.Errorf("register: empty task kind")
	}
	if _, ok := r.handlers[kind]; ok {
		return fmt.Errorf("register: duplicate task kind %q", kind)
	}
	r.handlers[kind] = h
	return nil
}

// RunOnce claims the tasks due now and runs them to completion.
// Returns the number of tasks claimed.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	tasks, err := r.queue.Claim(ctx, r.clock.Now(), r.batch)
	if err != nil {
		return 0, fmt.Errorf("claim: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, task := range tasks {
		g.Go(func() error {
			r.run(gctx, task)
			return nil
		})
	}
	return len(tasks), g.Wait()
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll; otherwise the runner sleeps for the poll interval.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("queue runner started", "concurrency", r.concurrency, "poll", r.poll)
	for {
		n, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("queue poll failed", "error", err)
		}
		if n >= r.batch {
			continue
		}
		if err := r.clock.Sleep(ctx, r.poll); err != nil {
			r.logger.Info("queue runner stopped")
			return nil
		}
	}
}

func (r *Runner) run(ctx context.Context, task Task) {
	h, ok := r.handlers[task.Kind]
	if !ok {
		r.logger.Warn("dropping task with unknown kind", "kind", task.Kind, "token", task.Token, "id", task.ID)
		return
	}

	if r.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.taskTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panicked",
				"kind", task.Kind, "token", task.Token, "panic", p, "stack", string(debug.Stack()))
		}
	}()

	if err := h(ctx, task); err != nil {
		r.logger.Error("task failed", "kind", task.Kind, "token", task.Token, "attempt", task.Attempt, "error", err)
		return
	}
	r.logger.Debug("task done", "kind", task.Kind, "token", task.Token, "attempt", task.Attempt)
}
