// Package queue is the durable delayed-task queue that drives every
// interaction after admission.
//
// A task is a (kind, token, due time) triple. Handlers are registered in
// memory by kind; only the kind name is persisted, so any process that
// registers the same handlers can run any task. Claiming a due task removes
// it from the backend atomically, so a task runs at most once across all
// workers. Handlers must still be idempotent: a worker that crashes after
// claiming loses the task, and the next scheduled attempt covers for it.
package queue

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is one unit of delayed work.
type Task struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Token   string    `json:"token"`
	Attempt int       `json:"attempt"`
	DueAt   time.Time `json:"due_at"`
}

// Queue stores tasks until they are due.
type Queue interface {
	// Schedule persists tasks. Tasks without an ID are assigned one.
	Schedule(ctx context.Context, tasks ...Task) error

	// Claim atomically removes and returns up to limit tasks due at or
	// before now, ordered by due time then ID.
	Claim(ctx context.Context, now time.Time, limit int) ([]Task, error)

	// Len reports how many tasks are waiting.
	Len(ctx context.Context) (int, error)
}

// IDGenerator produces task identifiers.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 task ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns "<prefix>-1", "<prefix>-2", ... for tests that
// compare queue contents exactly.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator with the given prefix.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id. Thread-safe.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.prefix + "-" + strconv.Itoa(g.n)
}

// Option configures a queue backend.
type Option func(*options)

type options struct {
	ids IDGenerator
}

// WithIDGenerator overrides the default UUIDv7 task ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

func buildOptions(opts []Option) options {
	o := options{ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func assignIDs(ids IDGenerator, tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			t.ID = ids.Generate()
		}
		t.DueAt = t.DueAt.UTC()
		out[i] = t
	}
	return out
}

func sortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].DueAt.Equal(tasks[j].DueAt) {
			return tasks[i].DueAt.Before(tasks[j].DueAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
