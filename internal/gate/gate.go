// Package gate decides whether an interaction may proceed.
//
// Evaluate reads the precondition cache for every participant and applies
// three whole-group barriers in order: presence (when enabled), an
// authorization token, and a resolved external account. The first barrier
// that any participant fails decides the verdict, and the verdict names every
// participant failing that barrier. The gate never writes to the store.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/gamesincommon/internal/clock"
	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/store"
)

// Reason explains why a group is waiting.
type Reason string

const (
	AwaitingPresence     Reason = "awaiting-presence"
	MissingAuthorization Reason = "missing-authorization"
	MissingAccount       Reason = "missing-account"
)

// Kind is the outcome class of an evaluation.
type Kind int

const (
	Continue Kind = iota + 1
	Waiting
	Expired
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Waiting:
		return "waiting"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Verdict is the result of one evaluation.
//
// Reason and UserIDs are set for Waiting. For Expired they describe what was
// still blocking when time ran out, and are empty if nothing was.
// Accounts maps participant id to external account id and is only set for
// Continue.
type Verdict struct {
	Kind     Kind
	Reason   Reason
	UserIDs  []string
	Accounts map[string]string
}

// DefaultTimeout is how long a group may wait before the request expires.
const DefaultTimeout = 5 * time.Minute

// Gate evaluates preconditions against the shared store.
type Gate struct {
	store    store.Store
	clock    clock.Clock
	timeout  time.Duration
	presence bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) { g.timeout = d }
}

// WithPresence enables the presence barrier.
func WithPresence(enabled bool) Option {
	return func(g *Gate) { g.presence = enabled }
}

// New creates a Gate.
func New(s store.Store, clk clock.Clock, opts ...Option) *Gate {
	g := &Gate{store: s, clock: clk, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout returns the configured expiration timeout.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// Deadline returns the instant after which sess expires.
func (g *Gate) Deadline(sess *model.Session) time.Time {
	return sess.CreatedAt.Add(g.timeout)
}

// Evaluate decides whether sess may proceed.
func (g *Gate) Evaluate(ctx context.Context, sess *model.Session) (Verdict, error) {
	blocked, err := g.check(ctx, sess)
	if err != nil {
		return Verdict{}, err
	}

	if g.clock.Now().Sub(sess.CreatedAt) > g.timeout {
		claimed, err := store.Exists(ctx, g.store, store.ClaimKey(sess.Token))
		if err != nil {
			return Verdict{}, fmt.Errorf("gate %s: read claim: %w", sess.Token, err)
		}
		// A claimed interaction must finish or fail on its own.
		if !claimed {
			v := Verdict{Kind: Expired}
			if blocked != nil {
				v.Reason, v.UserIDs = blocked.reason, blocked.users
			}
			return v, nil
		}
	}

	if blocked != nil {
		return Verdict{Kind: Waiting, Reason: blocked.reason, UserIDs: blocked.users}, nil
	}

	accounts, err := g.Accounts(ctx, sess.Participants)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Kind: Continue, Accounts: accounts}, nil
}

type barrier struct {
	reason Reason
	users  []string
}

func (g *Gate) check(ctx context.Context, sess *model.Session) (*barrier, error) {
	type condition struct {
		reason Reason
		met    func(userID string) (bool, error)
	}
	var conditions []condition
	if g.presence {
		conditions = append(conditions, condition{AwaitingPresence, func(id string) (bool, error) {
			return g.present(ctx, sess.Token, id)
		}})
	}
	conditions = append(conditions,
		condition{MissingAuthorization, func(id string) (bool, error) {
			return store.Exists(ctx, g.store, store.UserTokenKey(id))
		}},
		condition{MissingAccount, func(id string) (bool, error) {
			account, err := g.account(ctx, id)
			return account != "", err
		}},
	)

	for _, c := range conditions {
		var failing []string
		for _, id := range sess.Participants {
			ok, err := c.met(id)
			if err != nil {
				return nil, fmt.Errorf("gate %s: %s for %s: %w", sess.Token, c.reason, id, err)
			}
			if !ok {
				failing = append(failing, id)
			}
		}
		if len(failing) > 0 {
			return &barrier{reason: c.reason, users: failing}, nil
		}
	}
	return nil, nil
}

// present is satisfied by a live presence flag or by the interaction's
// sticky marker, which outlives the flag once presence has been seen.
func (g *Gate) present(ctx context.Context, token, userID string) (bool, error) {
	ok, err := store.Exists(ctx, g.store, store.PresenceSeenKey(token, userID))
	if err != nil || ok {
		return ok, err
	}
	return store.Exists(ctx, g.store, store.UserPresentKey(userID))
}

func (g *Gate) account(ctx context.Context, userID string) (string, error) {
	v, err := g.store.Get(ctx, store.UserAccountKey(userID))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Accounts resolves the external account id of each user. Users without a
// resolved account are omitted.
func (g *Gate) Accounts(ctx context.Context, userIDs []string) (map[string]string, error) {
	accounts := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		account, err := g.account(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve account for %s: %w", id, err)
		}
		if account != "" {
			accounts[id] = account
		}
	}
	return accounts, nil
}
