package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/roach88/gamesincommon/internal/clock"
	"github.com/roach88/gamesincommon/internal/dispatch"
	"github.com/roach88/gamesincommon/internal/gate"
	"github.com/roach88/gamesincommon/internal/library"
	"github.com/roach88/gamesincommon/internal/lifecycle"
	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/queue"
	"github.com/roach88/gamesincommon/internal/render"
	"github.com/roach88/gamesincommon/internal/scoring"
	"github.com/roach88/gamesincommon/internal/store"
)

// KindAttempt is the queue kind of a scheduled attempt.
const KindAttempt = "attempt"

// DefaultTokenValidity is how long the platform accepts edits to an
// interaction's original message. It bounds the session and claim TTLs.
const DefaultTokenValidity = 15 * time.Minute

// Lease defaults. The lease outlives one attempt under the default task
// timeout; a busy attempt is retried after DefaultLeaseRetry.
const (
	DefaultLease      = time.Minute
	DefaultLeaseRetry = 5 * time.Second
)

// errorNoticeTimeout bounds the best-effort error notice after a failure.
const errorNoticeTimeout = 10 * time.Second

// Outcome is what one attempt did.
type Outcome string

const (
	OutcomeSkipped      Outcome = "skipped"
	OutcomeBusy         Outcome = "busy"
	OutcomeWaiting      Outcome = "waiting"
	OutcomeLostClaim    Outcome = "lost-claim"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeResult       Outcome = "result"
	OutcomeNoCandidates Outcome = "no-candidates"
	OutcomeError        Outcome = "error"
)

// Code maps an outcome onto the error taxonomy. Skipped, busy, lost-claim
// and result have no code.
func (o Outcome) Code() ErrorCode {
	switch o {
	case OutcomeWaiting:
		return ErrCodePreconditionUnmet
	case OutcomeCancelled:
		return ErrCodeDeadlineExceeded
	case OutcomeNoCandidates:
		return ErrCodeNoCandidates
	case OutcomeError:
		return ErrCodeUpstreamFatal
	default:
		return ""
	}
}

// Terminal reports whether the outcome is the interaction's last word.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeCancelled, OutcomeResult, OutcomeNoCandidates, OutcomeError:
		return true
	default:
		return false
	}
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Store     store.Store
	Queue     queue.Queue
	Gate      *gate.Gate
	Publisher dispatch.Publisher
	Source    library.Source
	Lifecycle *lifecycle.Manager
	Renderer  *render.Renderer
	Clock     clock.Clock
}

// Engine runs admission and attempts.
//
// Thread-safety: an Engine holds no per-interaction state and is safe for
// concurrent use. Cross-process exclusion comes only from store atomics.
type Engine struct {
	store         store.Store
	queue         queue.Queue
	gate          *gate.Gate
	publisher     dispatch.Publisher
	source        library.Source
	lifecycle     *lifecycle.Manager
	renderer      *render.Renderer
	clock         clock.Clock
	logger        *slog.Logger
	plan          Plan
	ranker        scoring.Ranker
	tokenValidity time.Duration
	lease         time.Duration
	leaseRetry    time.Duration
	concurrency   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPlan sets the attempt cadence.
func WithPlan(p Plan) Option {
	return func(e *Engine) { e.plan = p }
}

// WithRecencyWeight sets the weight of recent playtime in playtime scores.
func WithRecencyWeight(w int) Option {
	return func(e *Engine) { e.ranker = scoring.Ranker{RecencyWeight: w} }
}

// WithTokenValidity sets the session and claim lifetime.
func WithTokenValidity(d time.Duration) Option {
	return func(e *Engine) { e.tokenValidity = d }
}

// WithLease sets how long an attempt may hold the per-token lease and how
// far out an attempt that finds it held is rescheduled.
func WithLease(ttl, retry time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.lease = ttl
		}
		if retry > 0 {
			e.leaseRetry = retry
		}
	}
}

// WithGatherConcurrency bounds library requests per interaction.
func WithGatherConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// New creates an Engine.
func New(d Deps, opts ...Option) *Engine {
	e := &Engine{
		store:         d.Store,
		queue:         d.Queue,
		gate:          d.Gate,
		publisher:     d.Publisher,
		source:        d.Source,
		lifecycle:     d.Lifecycle,
		renderer:      d.Renderer,
		clock:         d.Clock,
		logger:        slog.Default(),
		plan:          DefaultPlan(),
		ranker:        scoring.Ranker{RecencyWeight: scoring.DefaultRecencyWeight},
		tokenValidity: DefaultTokenValidity,
		lease:         DefaultLease,
		leaseRetry:    DefaultLeaseRetry,
		concurrency:   library.DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register installs the attempt handler, and the lifecycle handlers, on r.
func (e *Engine) Register(r *queue.Runner) error {
	if err := r.Register(KindAttempt, e.handle); err != nil {
		return err
	}
	return e.lifecycle.Register(r)
}

func (e *Engine) handle(ctx context.Context, t queue.Task) error {
	outcome, err := e.Attempt(ctx, t.Token)
	e.logger.Info("attempt finished",
		"token", t.Token, "attempt", t.Attempt, "outcome", outcome, "code", outcome.Code())
	return err
}

// Admit records sess and enqueues its attempt plan. A token that was
// already admitted returns ErrDuplicateSession and schedules nothing.
func (e *Engine) Admit(ctx context.Context, sess *model.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	wrote, err := store.SaveSession(ctx, e.store, sess, e.tokenValidity)
	if err != nil {
		return err
	}
	if !wrote {
		return ErrDuplicateSession
	}

	offsets := e.plan.Offsets(e.gate.Timeout())
	tasks := make([]queue.Task, len(offsets))
	for i, off := range offsets {
		tasks[i] = queue.Task{Kind: KindAttempt, Token: sess.Token, Attempt: i, DueAt: sess.CreatedAt.Add(off)}
	}
	if err := e.queue.Schedule(ctx, tasks...); err != nil {
		return fmt.Errorf("schedule attempts for %s: %w", sess.Token, err)
	}

	e.logger.Info("interaction admitted",
		"token", sess.Token, "participants", len(sess.Participants), "metric", sess.Metric, "attempts", len(tasks))
	return nil
}

// Rerun enqueues an immediate extra attempt for token.
func (e *Engine) Rerun(ctx context.Context, token string) error {
	return e.queue.Schedule(ctx, queue.Task{Kind: KindAttempt, Token: token, Attempt: -1, DueAt: e.clock.Now()})
}

// Attempt runs one attempt for token. Attempts for one token never overlap:
// one that finds another in progress is rescheduled and returns
// OutcomeBusy. The returned error is for observability only; no caller
// retries an attempt.
func (e *Engine) Attempt(ctx context.Context, token string) (Outcome, error) {
	claimed, err := e.claimed(ctx, token)
	if err != nil || claimed {
		return OutcomeSkipped, err
	}

	release, ok, err := store.AcquireLease(ctx, e.store, token, e.lease)
	if err != nil {
		return OutcomeSkipped, &RuntimeError{Code: ErrCodeInternal, Token: token, Message: "take lease", Err: err}
	}
	if !ok {
		return e.postpone(ctx, token)
	}
	defer release()

	// The holder before us may have finished the interaction.
	claimed, err = e.claimed(ctx, token)
	if err != nil || claimed {
		return OutcomeSkipped, err
	}

	sess, err := store.LoadSession(ctx, e.store, token)
	if errors.Is(err, store.ErrNotFound) {
		return e.abandon(ctx, token)
	}
	if err != nil {
		return OutcomeSkipped, &RuntimeError{Code: ErrCodeInternal, Token: token, Message: "load session", Err: err}
	}

	verdict, err := e.gate.Evaluate(ctx, sess)
	if err != nil {
		return OutcomeSkipped, &RuntimeError{Code: ErrCodeInternal, Token: token, Message: "evaluate gate", Err: err}
	}

	switch verdict.Kind {
	case gate.Expired:
		return e.cancel(ctx, sess, verdict)
	case gate.Waiting:
		return e.wait(ctx, sess, verdict)
	default:
		won, err := e.claim(ctx, token)
		if err != nil {
			return OutcomeSkipped, err
		}
		if !won {
			return OutcomeLostClaim, nil
		}
		return e.deliver(ctx, sess, verdict.Accounts)
	}
}

func (e *Engine) claimed(ctx context.Context, token string) (bool, error) {
	claimed, err := store.Exists(ctx, e.store, store.ClaimKey(token))
	if err != nil {
		return false, &RuntimeError{Code: ErrCodeInternal, Token: token, Message: "read claim", Err: err}
	}
	return claimed, nil
}

// postpone reschedules an attempt that found the lease held.
func (e *Engine) postpone(ctx context.Context, token string) (Outcome, error) {
	due := e.clock.Now().Add(e.leaseRetry)
	if err := e.queue.Schedule(ctx, queue.Task{Kind: KindAttempt, Token: token, Attempt: -1, DueAt: due}); err != nil {
		return OutcomeBusy, &RuntimeError{Code: ErrCodeInternal, Token: token, Message: "reschedule busy attempt", Err: err}
	}
	e.logger.Debug("attempt in progress elsewhere, rescheduled", "token", token, "due", due)
	return OutcomeBusy, nil
}

func (e *Engine) claim(ctx context.Context, token string) (bool, error) {
	won, err := e.store.SetIfAbsent(ctx, store.ClaimKey(token), store.Flag, e.tokenValidity)
	if err != nil {
		return false, &RuntimeError{Code: ErrCodeInternal, Token: token, Message: "set claim", Err: err}
	}
	return won, nil
}

func (e *Engine) target(sess *model.Session) dispatch.Target {
	return dispatch.Target{Token: sess.Token, CreatedAt: sess.CreatedAt}
}

func (e *Engine) wait(ctx context.Context, sess *model.Session, v gate.Verdict) (Outcome, error) {
	claimed, err := e.claimed(ctx, sess.Token)
	if err != nil {
		return OutcomeSkipped, err
	}
	if claimed {
		return OutcomeLostClaim, nil
	}
	left := e.gate.Deadline(sess).Sub(e.clock.Now())
	msg := e.renderer.Waiting(sess, v.Reason, v.UserIDs, left)
	if _, err := e.publisher.Publish(ctx, e.target(sess), msg); err != nil {
		// The next attempt republishes.
		return OutcomeWaiting, &RuntimeError{Code: ErrCodePreconditionUnmet, Token: sess.Token, Message: "publish progress", Err: err}
	}
	e.logger.Debug("waiting on participants", "token", sess.Token, "reason", v.Reason, "users", v.UserIDs)
	return OutcomeWaiting, nil
}

func (e *Engine) cancel(ctx context.Context, sess *model.Session, v gate.Verdict) (Outcome, error) {
	won, err := e.claim(ctx, sess.Token)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !won {
		return OutcomeLostClaim, nil
	}

	if e.clock.Now().After(sess.CreatedAt.Add(e.tokenValidity)) {
		e.logger.Warn("interaction expired after its token", "token", sess.Token)
		return OutcomeCancelled, nil
	}

	msg := e.renderer.Cancelled(sess, v.Reason, v.UserIDs)
	if _, err := e.publisher.Publish(ctx, e.target(sess), msg); err != nil {
		return OutcomeCancelled, &RuntimeError{Code: ErrCodeDeadlineExceeded, Token: sess.Token, Message: "publish cancellation", Err: err}
	}
	e.logger.Info("interaction cancelled", "token", sess.Token, "reason", v.Reason, "users", v.UserIDs)
	return OutcomeCancelled, nil
}

// abandon handles an attempt whose session record is gone. The claim keeps
// later attempts quiet and the cancellation is best effort.
func (e *Engine) abandon(ctx context.Context, token string) (Outcome, error) {
	won, err := e.claim(ctx, token)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !won {
		return OutcomeLostClaim, nil
	}
	e.logger.Warn("session record missing, cancelling", "token", token)
	if _, err := e.publisher.Publish(ctx, dispatch.Target{Token: token}, e.renderer.Cancelled(nil, "", nil)); err != nil {
		e.logger.Warn("cancellation for missing session not delivered", "token", token, "error", err)
	}
	return OutcomeCancelled, nil
}

// deliver is the claimed path. Any failure before the outcome is visible,
// including a panic, publishes one error notice.
func (e *Engine) deliver(ctx context.Context, sess *model.Session, accounts map[string]string) (outcome Outcome, err error) {
	published := false
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("attempt panicked", "token", sess.Token, "panic", p, "stack", string(debug.Stack()))
			err = &RuntimeError{Code: ErrCodeInternal, Token: sess.Token, Message: fmt.Sprintf("panic: %v", p)}
		}
		if err != nil && !published {
			outcome = OutcomeError
			e.publishError(ctx, sess)
		}
	}()

	if _, err := e.publisher.Publish(ctx, e.target(sess), e.renderer.Fetching(sess)); err != nil {
		return OutcomeError, classify(sess.Token, err)
	}

	in, err := library.Gather(ctx, e.source, sess.Participants, accounts, sess.Metric, e.concurrency)
	if err != nil {
		return OutcomeError, &RuntimeError{Code: ErrCodeUpstreamFatal, Token: sess.Token, Message: "gather libraries", Err: err}
	}

	ranked := e.ranker.Rank(in, sess.Metric, sess.TopN)
	if len(ranked) == 0 {
		if _, err := e.publisher.Publish(ctx, e.target(sess), e.renderer.NoCandidates(sess)); err != nil {
			return OutcomeError, classify(sess.Token, err)
		}
		published = true
		e.logger.Info("no games in common", "token", sess.Token, "metric", sess.Metric)
		return OutcomeNoCandidates, nil
	}

	msg := e.renderer.Result(sess, ranked)
	resp, err := e.publisher.Publish(ctx, e.target(sess), msg)
	if err != nil {
		return OutcomeError, classify(sess.Token, err)
	}
	published = true

	if err := e.lifecycle.Delivered(ctx, sess, msg, resp); err != nil {
		return OutcomeResult, &RuntimeError{Code: ErrCodeInternal, Token: sess.Token, Message: "record delivery", Err: err}
	}
	return OutcomeResult, nil
}

func (e *Engine) publishError(ctx context.Context, sess *model.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorNoticeTimeout)
	defer cancel()
	if _, err := e.publisher.Publish(ctx, e.target(sess), e.renderer.Error(sess)); err != nil {
		e.logger.Error("error notice not delivered", "token", sess.Token, "error", err)
	}
}
