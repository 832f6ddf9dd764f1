package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/gamesincommon/internal/clock"
	"github.com/roach88/gamesincommon/internal/store"
)

// Quota is the rate limit state reported by a response.
type Quota struct {
	Remaining  int64
	ResetAfter time.Duration
}

// Budget throttles sends against the shared rate limit.
type Budget interface {
	// Acquire blocks until a send is allowed.
	Acquire(ctx context.Context) error
	// Refresh overwrites the budget with what the API just reported.
	Refresh(ctx context.Context, q *Quota) error
}

// StoreBudget keeps the rate budget in the shared store so every process
// draws from the same quota. The mutex serializes callers in this process;
// the store's atomic decrement serializes processes.
type StoreBudget struct {
	store store.Store
	clock clock.Clock
	mu    sync.Mutex
}

// NewStoreBudget creates a budget over s.
func NewStoreBudget(s store.Store, clk clock.Clock) *StoreBudget {
	return &StoreBudget{store: s, clock: clk}
}

// Acquire takes one unit of budget. A missing budget is unknown and does not
// throttle. An exhausted budget sleeps until its reset time; the response to
// the next send refreshes it.
func (b *StoreBudget) Acquire(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok, err := b.store.DecrementIfPositive(ctx, store.BudgetRemainingKey)
	if err != nil {
		return fmt.Errorf("acquire budget: %w", err)
	}
	if ok {
		return nil
	}

	exhausted, err := store.Exists(ctx, b.store, store.BudgetRemainingKey)
	if err != nil {
		return fmt.Errorf("acquire budget: %w", err)
	}
	if !exhausted {
		return nil
	}

	resetAt, err := b.resetAt(ctx)
	if err != nil {
		return err
	}
	if wait := resetAt.Sub(b.clock.Now()); wait > 0 {
		if err := b.clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("acquire budget: %w", err)
		}
	}
	return nil
}

func (b *StoreBudget) resetAt(ctx context.Context) (time.Time, error) {
	raw, err := b.store.Get(ctx, store.BudgetResetAtKey)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read budget reset: %w", err)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse budget reset %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Refresh overwrites both budget keys. Both expire at the reported reset.
// A nil quota leaves the budget untouched.
func (b *StoreBudget) Refresh(ctx context.Context, q *Quota) error {
	if q == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ttl := q.ResetAfter
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	resetAt := b.clock.Now().Add(q.ResetAfter)
	remaining := q.Remaining
	if remaining < 0 {
		remaining = 0
	}

	if err := b.store.Set(ctx, store.BudgetResetAtKey, []byte(strconv.FormatInt(resetAt.UnixMilli(), 10)), ttl); err != nil {
		return fmt.Errorf("refresh budget: %w", err)
	}
	if err := b.store.Set(ctx, store.BudgetRemainingKey, []byte(strconv.FormatInt(remaining, 10)), ttl); err != nil {
		return fmt.Errorf("refresh budget: %w", err)
	}
	return nil
}

// Snapshot reads the current budget for inspection. ok is false when the
// budget is unknown.
func (b *StoreBudget) Snapshot(ctx context.Context) (remaining int64, resetAt time.Time, ok bool, err error) {
	raw, err := b.store.Get(ctx, store.BudgetRemainingKey)
	if errors.Is(err, store.ErrNotFound) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, err
	}
	remaining, err = strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("parse budget %q: %w", raw, err)
	}
	resetAt, err = b.resetAt(ctx)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	return remaining, resetAt, true, nil
}
