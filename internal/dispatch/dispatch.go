// Package dispatch publishes updates to an interaction's original message.
//
// Every outbound edit goes through Dispatcher.Publish, which draws from the
// shared rate budget before sending, refreshes the budget from each
// response, and absorbs the two transient failures the message API is known
// for: a not-found while the placeholder is still propagating, and a single
// rate-limit rejection. Anything else is an UpstreamError.
package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/gamesincommon/internal/clock"
	"github.com/roach88/gamesincommon/internal/model"
)

// Response is what the message API reported for one edit.
type Response struct {
	Status     int
	RetryAfter time.Duration
	Quota      *Quota
	MessageID  string
	ChannelID  string
	Body       string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Messenger edits the original response of an interaction.
type Messenger interface {
	EditOriginal(ctx context.Context, token string, msg *model.Message) (*Response, error)
}

// Reactor manages the bot's own reactions on a delivered message.
type Reactor interface {
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveOwnReaction(ctx context.Context, channelID, messageID, emoji string) error
}

// Target identifies the message to edit. CreatedAt bounds the window in
// which a not-found is still expected.
type Target struct {
	Token     string
	CreatedAt time.Time
}

// Publisher is the narrow view of Dispatcher used by the engine.
type Publisher interface {
	Publish(ctx context.Context, target Target, msg *model.Message) (*Response, error)
}

// Defaults for the not-found grace period.
var (
	DefaultFreshWindow      = 5 * time.Second
	DefaultNotFoundBackoffs = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond}
)

// Dispatcher is the rate-limited Publisher.
type Dispatcher struct {
	messenger   Messenger
	budget      Budget
	clock       clock.Clock
	logger      *slog.Logger
	freshWindow time.Duration
	backoffs    []time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithFreshWindow sets how long after creation a not-found is retried.
func WithFreshWindow(w time.Duration) Option {
	return func(d *Dispatcher) { d.freshWindow = w }
}

// WithNotFoundBackoffs sets the sleeps before each not-found retry.
func WithNotFoundBackoffs(b ...time.Duration) Option {
	return func(d *Dispatcher) { d.backoffs = append([]time.Duration(nil), b...) }
}

// New creates a Dispatcher.
func New(m Messenger, b Budget, clk clock.Clock, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		messenger:   m,
		budget:      b,
		clock:       clk,
		logger:      slog.Default(),
		freshWindow: DefaultFreshWindow,
		backoffs:    DefaultNotFoundBackoffs,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish applies msg to the target's original message.
//
// A not-found is retried after each configured backoff while the target is
// fresh. A rate-limit rejection is retried once after the delay it names.
// Every other non-2xx status returns an *UpstreamError.
func (d *Dispatcher) Publish(ctx context.Context, target Target, msg *model.Message) (*Response, error) {
	resp, err := d.send(ctx, target, msg)
	if err != nil {
		return nil, err
	}

	notFoundRetries := 0
	rateLimited := false
	for {
		var wait time.Duration
		switch {
		case resp.OK():
			return resp, nil
		case resp.Status == http.StatusTooManyRequests && !rateLimited:
			rateLimited = true
			wait = resp.RetryAfter
			d.logger.Warn("rate limited", "token", target.Token, "retry_after", wait)
		case resp.Status == http.StatusNotFound && notFoundRetries < len(d.backoffs) && d.fresh(target):
			wait = d.backoffs[notFoundRetries]
			notFoundRetries++
			d.logger.Debug("original message not visible yet", "token", target.Token, "retry", notFoundRetries)
		default:
			return resp, &UpstreamError{
				Code:   ErrCodeUpstreamFatal,
				Token:  target.Token,
				Status: resp.Status,
				Body:   resp.Body,
			}
		}

		if err := d.clock.Sleep(ctx, wait); err != nil {
			return nil, &UpstreamError{Code: ErrCodeTransport, Token: target.Token, Err: err}
		}
		if resp, err = d.send(ctx, target, msg); err != nil {
			return nil, err
		}
	}
}

func (d *Dispatcher) fresh(target Target) bool {
	return d.clock.Now().Sub(target.CreatedAt) <= d.freshWindow
}

func (d *Dispatcher) send(ctx context.Context, target Target, msg *model.Message) (*Response, error) {
	if err := d.budget.Acquire(ctx); err != nil {
		return nil, &UpstreamError{Code: ErrCodeTransport, Token: target.Token, Err: err}
	}

	resp, err := d.messenger.EditOriginal(ctx, target.Token, msg)
	if err != nil {
		return nil, &UpstreamError{Code: ErrCodeTransport, Token: target.Token, Err: err}
	}

	if err := d.budget.Refresh(ctx, resp.Quota); err != nil {
		d.logger.Warn("failed to refresh rate budget", "token", target.Token, "error", err)
	}
	return resp, nil
}
