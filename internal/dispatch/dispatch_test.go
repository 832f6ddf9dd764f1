package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/store"
	"github.com/roach88/gamesincommon/internal/testutil"
)

type fixture struct {
	ctx      context.Context
	clock    *testutil.FakeClock
	store    *store.SQLiteStore
	budget   *StoreBudget
	recorder *Recorder
	dispatch *Dispatcher
	target   Target
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.Epoch)
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "dispatch.db"), store.WithNow(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	budget := NewStoreBudget(s, clk)
	rec := NewRecorder(clk)
	return &fixture{
		ctx:      context.Background(),
		clock:    clk,
		store:    s,
		budget:   budget,
		recorder: rec,
		dispatch: New(rec, budget, clk),
		target:   Target{Token: "tok", CreatedAt: clk.Now()},
	}
}

func message(title string) *model.Message {
	return &model.Message{Embeds: []model.Embed{{Title: title}}}
}

func TestPublish_Success(t *testing.T) {
	f := newFixture(t)

	resp, err := f.dispatch.Publish(f.ctx, f.target, message("hi"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "msg-tok", resp.MessageID)
	assert.Len(t, f.recorder.Edits(), 1)
	assert.Empty(t, f.clock.Sleeps())
}

func TestPublish_NotFoundWhileFreshRetriesTwice(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(2 * time.Second)
	f.recorder.Script("tok", Scripted{Status: 404}, Scripted{Status: 404}, Scripted{Status: 200})

	resp, err := f.dispatch.Publish(f.ctx, f.target, message("hi"))
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Len(t, f.recorder.Edits(), 3)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 400 * time.Millisecond}, f.clock.Sleeps())
}

func TestPublish_NotFoundGivesUpAfterBackoffs(t *testing.T) {
	f := newFixture(t)
	f.recorder.Script("tok", Scripted{Status: 404}, Scripted{Status: 404}, Scripted{Status: 404})

	_, err := f.dispatch.Publish(f.ctx, f.target, message("hi"))
	require.Error(t, err)
	assert.True(t, IsUpstreamError(err))
	assert.Equal(t, 404, StatusOf(err))
	assert.Len(t, f.recorder.Edits(), 3)
}

func TestPublish_NotFoundWhenStaleIsFatal(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(6 * time.Second)
	f.recorder.Script("tok", Scripted{Status: 404})

	_, err := f.dispatch.Publish(f.ctx, f.target, message("hi"))
	require.Error(t, err)
	assert.Equal(t, 404, StatusOf(err))
	assert.Len(t, f.recorder.Edits(), 1)
	assert.Empty(t, f.clock.Sleeps())
}

func TestPublish_RateLimitedRetriesOnce(t *testing.T) {
	f := newFixture(t)
	f.recorder.Script("tok", Scripted{Status: 429, RetryAfter: 1500 * time.Millisecond}, Scripted{Status: 200})

	_, err := f.dispatch.Publish(f.ctx, f.target, message("hi"))
	require.NoError(t, err)
	assert.Len(t, f.recorder.Edits(), 2)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, f.clock.Sleeps())
}

func TestPublish_RateLimitedTwiceIsFatal(t *testing.T) {
	f := newFixture(t)
	f.recorder.Script("tok",
		Scripted{Status: 429, RetryAfter: time.Second},
		Scripted{Status: 429, RetryAfter: time.Second},
	)

	_, err := f.dispatch.Publish(f.ctx, f.target, message("hi"))
	require.Error(t, err)
	assert.Equal(t, 429, StatusOf(err))
	assert.Len(t, f.recorder.Edits(), 2)
}

func TestPublish_OtherStatusIsFatal(t *testing.T) {
	f := newFixture(t)
	f.recorder.Script("tok", Scripted{Status: 500})

	_, err := f.dispatch.Publish(f.ctx, f.target, message("hi"))
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrCodeUpstreamFatal, ue.Code)
	assert.Equal(t, 500, ue.Status)
	assert.Len(t, f.recorder.Edits(), 1)
}

func TestPublish_TransportError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection reset")
	f.recorder.Script("tok", Scripted{Err: boom})

	_, err := f.dispatch.Publish(f.ctx, f.target, message("hi"))
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrCodeTransport, ue.Code)
	assert.ErrorIs(t, err, boom)
}

func TestPublish_ExhaustedBudgetSleepsUntilReset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.budget.Refresh(f.ctx, &Quota{Remaining: 0, ResetAfter: 2 * time.Second}))
	f.recorder.SetQuota(&Quota{Remaining: 4, ResetAfter: time.Second})

	_, err := f.dispatch.Publish(f.ctx, f.target, message("hi"))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, f.clock.Sleeps())

	remaining, resetAt, ok, err := f.budget.Snapshot(f.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), remaining, "budget is overwritten from the response")
	assert.True(t, resetAt.Equal(f.clock.Now().Add(time.Second)), "reset moves to the fresh reset-after")
}

func TestPublish_BudgetIsRefreshedAfterFailures(t *testing.T) {
	f := newFixture(t)
	f.recorder.Script("tok", Scripted{Status: 500, Quota: &Quota{Remaining: 7, ResetAfter: time.Minute}})

	_, err := f.dispatch.Publish(f.ctx, f.target, message("hi"))
	require.Error(t, err)

	remaining, _, ok, err := f.budget.Snapshot(f.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), remaining)
}

func TestStoreBudget_AcquireDecrements(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.budget.Acquire(f.ctx), "unknown budget does not block")
	_, _, ok, err := f.budget.Snapshot(f.ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.budget.Refresh(f.ctx, &Quota{Remaining: 2, ResetAfter: time.Minute}))
	require.NoError(t, f.budget.Acquire(f.ctx))
	remaining, _, _, err := f.budget.Snapshot(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
	assert.Empty(t, f.clock.Sleeps())
}

func TestStoreBudget_ExpiresAtReset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.budget.Refresh(f.ctx, &Quota{Remaining: 0, ResetAfter: time.Second}))

	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.budget.Acquire(f.ctx))
	assert.Empty(t, f.clock.Sleeps(), "a budget past its reset no longer throttles")
}

func TestStoreBudget_AcquireHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.budget.Refresh(f.ctx, &Quota{Remaining: 0, ResetAfter: time.Minute}))

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	assert.ErrorIs(t, f.budget.Acquire(ctx), context.Canceled)
}
