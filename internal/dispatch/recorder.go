package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/gamesincommon/internal/clock"
	"github.com/roach88/gamesincommon/internal/model"
)

// Scripted is one canned response for Recorder.
type Scripted struct {
	Status     int
	RetryAfter time.Duration
	Quota      *Quota
	Err        error
}

// Edit is one recorded EditOriginal call.
type Edit struct {
	Token   string
	Message *model.Message
	Status  int
	At      time.Time
}

// Reaction is one recorded reaction call.
type Reaction struct {
	Op        string
	ChannelID string
	MessageID string
	Emoji     string
}

// Recorder is an in-memory Messenger and Reactor. It answers 200 unless a
// response was scripted for the token, and records every call. The scenario
// harness and the dry-run CLI use it in place of the real API.
type Recorder struct {
	mu        sync.Mutex
	clock     clock.Clock
	scripts   map[string][]Scripted
	quota     *Quota
	edits     []Edit
	reactions []Reaction
}

// NewRecorder creates a Recorder stamping edits with clk.
func NewRecorder(clk clock.Clock) *Recorder {
	return &Recorder{clock: clk, scripts: map[string][]Scripted{}}
}

// Script queues responses for token, consumed one per call.
func (r *Recorder) Script(token string, responses ...Scripted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[token] = append(r.scripts[token], responses...)
}

// SetQuota sets the quota reported by unscripted responses.
func (r *Recorder) SetQuota(q *Quota) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quota = q
}

// EditOriginal implements Messenger.
func (r *Recorder) EditOriginal(_ context.Context, token string, msg *model.Message) (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := Scripted{Status: 200, Quota: r.quota}
	if queue := r.scripts[token]; len(queue) > 0 {
		next, r.scripts[token] = queue[0], queue[1:]
	}
	if next.Err != nil {
		return nil, next.Err
	}

	r.edits = append(r.edits, Edit{Token: token, Message: msg.Clone(), Status: next.Status, At: r.clock.Now()})
	return &Response{
		Status:     next.Status,
		RetryAfter: next.RetryAfter,
		Quota:      next.Quota,
		MessageID:  "msg-" + token,
		ChannelID:  "chan-1",
	}, nil
}

// AddReaction implements Reactor.
func (r *Recorder) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	return r.react("add", channelID, messageID, emoji)
}

// RemoveOwnReaction implements Reactor.
func (r *Recorder) RemoveOwnReaction(_ context.Context, channelID, messageID, emoji string) error {
	return r.react("remove", channelID, messageID, emoji)
}

func (r *Recorder) react(op, channelID, messageID, emoji string) error {
	if messageID == "" {
		return fmt.Errorf("%s reaction: empty message id", op)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, Reaction{Op: op, ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

// Edits returns every recorded edit, in call order.
func (r *Recorder) Edits() []Edit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Edit(nil), r.edits...)
}

// EditsFor returns the edits for one token.
func (r *Recorder) EditsFor(token string) []Edit {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Edit
	for _, e := range r.edits {
		if e.Token == token {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent accepted message for token, or nil.
func (r *Recorder) Last(token string) *model.Message {
	edits := r.EditsFor(token)
	for i := len(edits) - 1; i >= 0; i-- {
		if edits[i].Status >= 200 && edits[i].Status < 300 {
			return edits[i].Message
		}
	}
	return nil
}

// Reactions returns every recorded reaction call.
func (r *Recorder) Reactions() []Reaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reaction(nil), r.reactions...)
}
