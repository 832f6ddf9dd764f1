package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamesincommon/internal/dispatch"
	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/queue"
	"github.com/roach88/gamesincommon/internal/render"
	"github.com/roach88/gamesincommon/internal/store"
	"github.com/roach88/gamesincommon/internal/testutil"
)

type fixture struct {
	ctx      context.Context
	clock    *testutil.FakeClock
	store    *store.SQLiteStore
	queue    *queue.SQLiteQueue
	recorder *dispatch.Recorder
	manager  *Manager
	session  *model.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.Epoch)
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "state.db"), store.WithNow(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q := queue.NewSQLiteQueue(s.DB(), queue.WithIDGenerator(queue.NewSequenceGenerator("t")))
	rec := dispatch.NewRecorder(clk)
	pub := dispatch.New(rec, dispatch.NewStoreBudget(s, clk), clk)
	m := New(s, pub, rec, q, render.New("https://auth", "https://privacy"), clk)

	sess := &model.Session{
		Token:        "tok",
		Participants: []string{"u1", "u2"},
		Requester:    model.User{ID: "u1", Name: "Ana"},
		TopN:         3,
		Metric:       model.MostPlaytime,
		CreatedAt:    clk.Now(),
	}
	_, err = store.SaveSession(context.Background(), s, sess, 15*time.Minute)
	require.NoError(t, err)

	return &fixture{
		ctx:      context.Background(),
		clock:    clk,
		store:    s,
		queue:    q,
		recorder: rec,
		manager:  m,
		session:  sess,
	}
}

func result() *model.Message {
	return &model.Message{
		Embeds: []model.Embed{
			{Title: "Top 1 game in common", Footer: &model.Footer{Text: "requested by @Ana"}},
			{Title: "1. Deep Rock Galactic"},
		},
		AllowedMentions: model.NoPings(),
	}
}

// deliver publishes the result one minute after admission and records it.
func (f *fixture) deliver(t *testing.T) {
	t.Helper()
	f.clock.Advance(time.Minute)
	target := dispatch.Target{Token: f.session.Token, CreatedAt: f.session.CreatedAt}
	resp, err := dispatch.New(f.recorder, dispatch.NewStoreBudget(f.store, f.clock), f.clock).Publish(f.ctx, target, result())
	require.NoError(t, err)
	require.NoError(t, f.manager.Delivered(f.ctx, f.session, result(), resp))
}

func TestDelivered_RecordsAndSchedules(t *testing.T) {
	f := newFixture(t)
	f.deliver(t)

	rec, err := f.manager.Load(f.ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "msg-tok", rec.MessageID)
	assert.Equal(t, "1. Deep Rock Galactic", rec.Message.Embeds[1].Title)

	token, err := f.store.Get(f.ctx, store.MessageTokenKey("msg-tok"))
	require.NoError(t, err)
	assert.Equal(t, "tok", string(token))

	require.Len(t, f.recorder.Reactions(), 1)
	assert.Equal(t, dispatch.Reaction{Op: "add", ChannelID: "chan-1", MessageID: "msg-tok", Emoji: DeleteEmoji}, f.recorder.Reactions()[0])

	// countdowns at +2m..+9m, then the redaction at +10m
	n, err := f.queue.Len(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	tasks, err := f.queue.Claim(f.ctx, testutil.Epoch.Add(time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, tasks, 9)
	assert.Equal(t, KindCountdown, tasks[0].Kind)
	assert.True(t, tasks[0].DueAt.Equal(testutil.Epoch.Add(2*time.Minute)))
	last := tasks[len(tasks)-1]
	assert.Equal(t, KindSoftDelete, last.Kind)
	assert.True(t, last.DueAt.Equal(testutil.Epoch.Add(10*time.Minute)))
}

func TestCountdown_AppendsRemainingTime(t *testing.T) {
	f := newFixture(t)
	f.deliver(t)

	f.clock.Set(testutil.Epoch.Add(4 * time.Minute))
	require.NoError(t, f.manager.Countdown(f.ctx, "tok"))

	msg := f.recorder.Last("tok")
	require.NotNil(t, msg)
	assert.Equal(t, "requested by @Ana | results will self-destruct in 6 minutes", msg.Embeds[0].Footer.Text)
	assert.Nil(t, msg.Embeds[1].Footer)

	f.clock.Set(testutil.Epoch.Add(9*time.Minute + 30*time.Second))
	require.NoError(t, f.manager.Countdown(f.ctx, "tok"))
	assert.Equal(t, "requested by @Ana | results will self-destruct in 1 minute", f.recorder.Last("tok").Embeds[0].Footer.Text)

	stored, err := f.manager.Load(f.ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "requested by @Ana", stored.Message.Embeds[0].Footer.Text, "stored payload is never decorated")
}

func TestCountdown_NoopPastDeadline(t *testing.T) {
	f := newFixture(t)
	f.deliver(t)
	edits := len(f.recorder.Edits())

	f.clock.Set(testutil.Epoch.Add(10 * time.Minute))
	require.NoError(t, f.manager.Countdown(f.ctx, "tok"))
	assert.Len(t, f.recorder.Edits(), edits)
}

func TestSoftDelete_Once(t *testing.T) {
	f := newFixture(t)
	f.deliver(t)

	f.clock.Set(testutil.Epoch.Add(10 * time.Minute))
	won, err := f.manager.SoftDelete(f.ctx, "tok")
	require.NoError(t, err)
	assert.True(t, won)

	msg := f.recorder.Last("tok")
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "Results deleted", msg.Embeds[0].Title)
	assert.Contains(t, msg.Embeds[0].Description, "deleted automatically after 10 minutes")

	edits := len(f.recorder.Edits())
	won, err = f.manager.SoftDelete(f.ctx, "tok")
	require.NoError(t, err)
	assert.False(t, won)
	require.NoError(t, f.manager.Countdown(f.ctx, "tok"))
	assert.Len(t, f.recorder.Edits(), edits)

	reactions := f.recorder.Reactions()
	assert.Equal(t, "remove", reactions[len(reactions)-1].Op)

	_, err = f.manager.Load(f.ctx, "tok")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManualDelete(t *testing.T) {
	f := newFixture(t)
	f.deliver(t)

	_, err := f.manager.ManualDelete(f.ctx, "msg-tok", "stranger")
	assert.ErrorIs(t, err, ErrNotInvolved)

	_, err = f.manager.ManualDelete(f.ctx, "msg-unknown", "u1")
	assert.ErrorIs(t, err, ErrUnknownMessage)

	won, err := f.manager.ManualDelete(f.ctx, "msg-tok", "u2")
	require.NoError(t, err)
	assert.True(t, won)
	assert.Contains(t, f.recorder.Last("tok").Embeds[0].Description, "deleted by <@u2>")

	won, err = f.manager.ManualDelete(f.ctx, "msg-tok", "u1")
	require.NoError(t, err)
	assert.False(t, won)

	f.clock.Set(testutil.Epoch.Add(10 * time.Minute))
	won, err = f.manager.SoftDelete(f.ctx, "tok")
	require.NoError(t, err)
	assert.False(t, won, "deadline after a manual delete is a no-op")
}

// hookPublisher runs hook inside the first Publish call, before the message
// goes out. The hook may publish through the same publisher.
type hookPublisher struct {
	dispatch.Publisher
	fired bool
	hook  func()
}

func (p *hookPublisher) Publish(ctx context.Context, target dispatch.Target, msg *model.Message) (*dispatch.Response, error) {
	if !p.fired {
		p.fired = true
		p.hook()
	}
	return p.Publisher.Publish(ctx, target, msg)
}

func TestCountdown_DeleteDuringPublishStaysDeleted(t *testing.T) {
	f := newFixture(t)
	f.deliver(t)

	pub := &hookPublisher{Publisher: dispatch.New(f.recorder, dispatch.NewStoreBudget(f.store, f.clock), f.clock)}
	m := New(f.store, pub, f.recorder, f.queue, render.New("https://auth", "https://privacy"), f.clock)
	pub.hook = func() {
		won, err := m.ManualDelete(f.ctx, "msg-tok", "u2")
		assert.NoError(t, err)
		assert.True(t, won)
	}

	f.clock.Set(testutil.Epoch.Add(4 * time.Minute))
	require.NoError(t, m.Countdown(f.ctx, "tok"))

	edits := f.recorder.EditsFor("tok")
	require.GreaterOrEqual(t, len(edits), 3)
	tail := edits[len(edits)-3:]
	assert.Equal(t, "Results deleted", tail[0].Message.Embeds[0].Title, "the delete lands first")
	assert.Equal(t, "Top 1 game in common", tail[1].Message.Embeds[0].Title, "then the in-flight countdown")
	last := tail[2].Message
	require.Len(t, last.Embeds, 1)
	assert.Equal(t, "Results deleted", last.Embeds[0].Title)
	assert.Contains(t, last.Embeds[0].Description, "deleted by <@u2>")

	// Later ticks stay quiet.
	f.clock.Set(testutil.Epoch.Add(5 * time.Minute))
	require.NoError(t, m.Countdown(f.ctx, "tok"))
	assert.Len(t, f.recorder.EditsFor("tok"), len(edits))
}

func TestCountdown_SkipsAfterDelete(t *testing.T) {
	f := newFixture(t)
	f.deliver(t)
	// Flag set, payload not yet dropped.
	require.NoError(t, f.store.Set(f.ctx, store.SoftDeletedKey("tok"), []byte(render.DeletedBy("u1")), time.Hour))
	edits := len(f.recorder.Edits())

	f.clock.Set(testutil.Epoch.Add(4 * time.Minute))
	require.NoError(t, f.manager.Countdown(f.ctx, "tok"))
	assert.Len(t, f.recorder.Edits(), edits)
}

func TestManager_RunsFromQueue(t *testing.T) {
	f := newFixture(t)
	runner := queue.NewRunner(f.queue, f.clock)
	require.NoError(t, f.manager.Register(runner))
	f.deliver(t)
	before := len(f.recorder.Edits())

	f.clock.Set(testutil.Epoch.Add(3 * time.Minute))
	n, err := runner.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f.clock.Set(testutil.Epoch.Add(11 * time.Minute))
	n, err = runner.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	edits := f.recorder.Edits()[before:]
	require.NotEmpty(t, edits)
	assert.Len(t, edits, 3, "two countdowns then the redaction")
	assert.Equal(t, "Results deleted", edits[len(edits)-1].Message.Embeds[0].Title)
}
