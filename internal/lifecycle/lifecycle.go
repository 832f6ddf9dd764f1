// Package lifecycle manages a delivered result until it is redacted.
//
// A result moves delivered -> countdown* -> soft-deleted. Delivery persists
// the exact payload that was published, so countdown ticks can re-render it
// with a fresh footer instead of ranking again. Redaction happens once: the
// soft-deleted flag is claimed with set-if-absent, and only the caller that
// wins it rewrites the message. The flag holds the redaction's attribution,
// so a countdown that was in flight when the flag was set can restore the
// redaction after its own edit lands.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/gamesincommon/internal/clock"
	"github.com/roach88/gamesincommon/internal/dispatch"
	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/queue"
	"github.com/roach88/gamesincommon/internal/render"
	"github.com/roach88/gamesincommon/internal/store"
)

// Task kinds handled by the manager.
const (
	KindCountdown  = "countdown"
	KindSoftDelete = "soft-delete"
)

// DeleteEmoji is the reaction that requests a manual delete.
const DeleteEmoji = "❌"

// Defaults.
const (
	DefaultDeleteAfter = 10 * time.Minute
	DefaultTick        = time.Minute
	DefaultFlagTTL     = 15 * time.Minute
)

var (
	// ErrUnknownMessage is returned when a reaction targets a message that
	// was never delivered or has already expired.
	ErrUnknownMessage = errors.New("lifecycle: message is not a live result")

	// ErrNotInvolved is returned when someone outside the interaction asks
	// to delete its result.
	ErrNotInvolved = errors.New("lifecycle: user is neither requester nor participant")
)

// Manager owns delivered results.
type Manager struct {
	store       store.Store
	publisher   dispatch.Publisher
	reactor     dispatch.Reactor
	queue       queue.Queue
	renderer    *render.Renderer
	clock       clock.Clock
	logger      *slog.Logger
	deleteAfter time.Duration
	tick        time.Duration
	flagTTL     time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDeleteAfter sets the auto-delete deadline, measured from created_at.
func WithDeleteAfter(d time.Duration) Option {
	return func(m *Manager) { m.deleteAfter = d }
}

// WithTick sets the countdown interval.
func WithTick(d time.Duration) Option {
	return func(m *Manager) { m.tick = d }
}

// WithFlagTTL sets how long the soft-deleted flag lives.
func WithFlagTTL(d time.Duration) Option {
	return func(m *Manager) { m.flagTTL = d }
}

// New creates a Manager. reactor may be nil, in which case no reactions are
// managed.
func New(s store.Store, p dispatch.Publisher, reactor dispatch.Reactor, q queue.Queue, r *render.Renderer, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		store:       s,
		publisher:   p,
		reactor:     reactor,
		queue:       q,
		renderer:    r,
		clock:       clk,
		logger:      slog.Default(),
		deleteAfter: DefaultDeleteAfter,
		tick:        DefaultTick,
		flagTTL:     DefaultFlagTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register installs the countdown and soft-delete handlers on r.
func (m *Manager) Register(r *queue.Runner) error {
	if err := r.Register(KindCountdown, func(ctx context.Context, t queue.Task) error {
		return m.Countdown(ctx, t.Token)
	}); err != nil {
		return err
	}
	return r.Register(KindSoftDelete, func(ctx context.Context, t queue.Task) error {
		_, err := m.SoftDelete(ctx, t.Token)
		return err
	})
}

// Deadline is when the result for sess is redacted automatically.
func (m *Manager) Deadline(sess *model.Session) time.Time {
	return sess.CreatedAt.Add(m.deleteAfter)
}

// Delivered records a published result and schedules its countdown and
// redaction. resp is the publish response; its message and channel ids
// enable reaction deletes.
func (m *Manager) Delivered(ctx context.Context, sess *model.Session, msg *model.Message, resp *dispatch.Response) error {
	rec := model.Delivered{Message: *msg}
	if resp != nil {
		rec.MessageID = resp.MessageID
		rec.ChannelID = resp.ChannelID
	}
	data, err := model.Encode(rec)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	deadline := m.Deadline(sess)
	ttl := deadline.Sub(now) + m.flagTTL
	if err := m.store.Set(ctx, store.DeliveredKey(sess.Token), data, ttl); err != nil {
		return fmt.Errorf("record delivery %s: %w", sess.Token, err)
	}

	if rec.MessageID != "" {
		if err := m.store.Set(ctx, store.MessageTokenKey(rec.MessageID), []byte(sess.Token), ttl); err != nil {
			return fmt.Errorf("map message %s: %w", rec.MessageID, err)
		}
		if m.reactor != nil && rec.ChannelID != "" {
			if err := m.reactor.AddReaction(ctx, rec.ChannelID, rec.MessageID, DeleteEmoji); err != nil {
				m.logger.Warn("failed to add delete reaction", "token", sess.Token, "error", err)
			}
		}
	}

	tasks := make([]queue.Task, 0, int(m.deleteAfter/m.tick)+1)
	for due := now.Add(m.tick); due.Before(deadline); due = due.Add(m.tick) {
		tasks = append(tasks, queue.Task{Kind: KindCountdown, Token: sess.Token, DueAt: due})
	}
	if !deadline.After(now) {
		deadline = now
	}
	tasks = append(tasks, queue.Task{Kind: KindSoftDelete, Token: sess.Token, DueAt: deadline})
	if err := m.queue.Schedule(ctx, tasks...); err != nil {
		return fmt.Errorf("schedule lifecycle %s: %w", sess.Token, err)
	}

	m.logger.Info("result delivered", "token", sess.Token, "message_id", rec.MessageID, "countdowns", len(tasks)-1)
	return nil
}

// Countdown re-publishes the stored result with the time it has left.
// It does nothing once the result is redacted or past its deadline, and
// re-publishes the redaction when one landed while its edit was in flight.
func (m *Manager) Countdown(ctx context.Context, token string) error {
	sess, err := store.LoadSession(ctx, m.store, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	rec, err := m.Load(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	left := m.Deadline(sess).Sub(m.clock.Now())
	if left <= 0 {
		return nil
	}

	if _, deleted, err := m.deletedBy(ctx, token); err != nil || deleted {
		return err
	}
	target := dispatch.Target{Token: token, CreatedAt: sess.CreatedAt}
	if _, err := m.publisher.Publish(ctx, target, render.WithCountdown(&rec.Message, left)); err != nil {
		return err
	}

	byWhom, deleted, err := m.deletedBy(ctx, token)
	if err != nil || !deleted {
		return err
	}
	m.logger.Info("result deleted during countdown, restoring redaction", "token", token)
	_, err = m.publisher.Publish(ctx, target, m.renderer.Deleted(sess, byWhom))
	return err
}

// deletedBy reads the soft-deleted flag and the attribution stored in it.
func (m *Manager) deletedBy(ctx context.Context, token string) (string, bool, error) {
	raw, err := m.store.Get(ctx, store.SoftDeletedKey(token))
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

// SoftDelete redacts the result at its deadline. It reports whether this
// call did the redaction.
func (m *Manager) SoftDelete(ctx context.Context, token string) (bool, error) {
	return m.softDelete(ctx, token, render.DeletedAutomatically(m.deleteAfter))
}

// ManualDelete redacts the result behind messageID on behalf of userID.
// Only the requester or a participant may do so. Repeats return false.
func (m *Manager) ManualDelete(ctx context.Context, messageID, userID string) (bool, error) {
	raw, err := m.store.Get(ctx, store.MessageTokenKey(messageID))
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrUnknownMessage
	}
	if err != nil {
		return false, err
	}
	token := string(raw)

	sess, err := store.LoadSession(ctx, m.store, token)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrUnknownMessage
	}
	if err != nil {
		return false, err
	}
	if !sess.Involves(userID) {
		return false, ErrNotInvolved
	}
	return m.softDelete(ctx, token, render.DeletedBy(userID))
}

func (m *Manager) softDelete(ctx context.Context, token, byWhom string) (bool, error) {
	sess, err := store.LoadSession(ctx, m.store, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("soft delete after session expired", "token", token)
			return false, nil
		}
		return false, err
	}

	won, err := m.store.SetIfAbsent(ctx, store.SoftDeletedKey(token), []byte(byWhom), m.flagTTL)
	if err != nil || !won {
		return false, err
	}

	target := dispatch.Target{Token: token, CreatedAt: sess.CreatedAt}
	if _, err := m.publisher.Publish(ctx, target, m.renderer.Deleted(sess, byWhom)); err != nil {
		return true, err
	}

	rec, err := m.Load(ctx, token)
	if err == nil && m.reactor != nil && rec.MessageID != "" && rec.ChannelID != "" {
		if err := m.reactor.RemoveOwnReaction(ctx, rec.ChannelID, rec.MessageID, DeleteEmoji); err != nil {
			m.logger.Warn("failed to remove delete reaction", "token", token, "error", err)
		}
	}
	if err := m.store.Delete(ctx, store.DeliveredKey(token)); err != nil {
		m.logger.Warn("failed to drop delivered payload", "token", token, "error", err)
	}

	m.logger.Info("result deleted", "token", token, "by", byWhom)
	return true, nil
}

// Load returns the stored result for token.
func (m *Manager) Load(ctx context.Context, token string) (*model.Delivered, error) {
	data, err := m.store.Get(ctx, store.DeliveredKey(token))
	if err != nil {
		return nil, err
	}
	var rec model.Delivered
	if err := model.Decode(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
