// Package signal ingests the events that move waiting interactions along:
// presence updates, completed authorizations and reaction deletes.
//
// Each signal updates the precondition cache and then enqueues an immediate
// attempt for every live interaction that involves the affected users, so a
// group does not wait for the next scheduled attempt once it is ready.
package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/gamesincommon/internal/lifecycle"
	"github.com/roach88/gamesincommon/internal/store"
)

// Defaults.
const (
	DefaultPresenceTTL      = 60 * time.Second
	DefaultMarkerTTL        = 15 * time.Minute
	DefaultAuthorizationTTL = 7 * 24 * time.Hour
)

// authorizationSlack is subtracted from a reported token lifetime because
// the moment the user authorized is not known precisely.
const authorizationSlack = 5 * time.Minute

// Rerunner schedules an immediate attempt.
type Rerunner interface {
	Rerun(ctx context.Context, token string) error
}

// Deleter redacts a delivered result on a user's behalf.
type Deleter interface {
	ManualDelete(ctx context.Context, messageID, userID string) (bool, error)
}

// Authorization is a completed authorization for one user. AccountID is the
// linked game-library account and is empty if none is linked. ExpiresIn is
// the lifetime the identity provider granted; zero uses
// DefaultAuthorizationTTL.
type Authorization struct {
	UserID    string
	AccountID string
	ExpiresIn time.Duration
}

// Ingestor applies signals to the store.
type Ingestor struct {
	store       store.Store
	rerunner    Rerunner
	deleter     Deleter
	logger      *slog.Logger
	presenceTTL time.Duration
	markerTTL   time.Duration
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingestor) { i.logger = l }
}

// WithPresenceTTL sets how long a presence signal counts.
func WithPresenceTTL(d time.Duration) Option {
	return func(i *Ingestor) { i.presenceTTL = d }
}

// WithMarkerTTL sets how long the per-interaction presence marker lives.
func WithMarkerTTL(d time.Duration) Option {
	return func(i *Ingestor) { i.markerTTL = d }
}

// New creates an Ingestor.
func New(s store.Store, r Rerunner, d Deleter, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:       s,
		rerunner:    r,
		deleter:     d,
		logger:      slog.Default(),
		presenceTTL: DefaultPresenceTTL,
		markerTTL:   DefaultMarkerTTL,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Presence marks users as active and reruns their interactions. Each
// matching interaction remembers that the user was seen, so presence stays
// satisfied after the short-lived flag expires. It returns the rerun tokens.
func (i *Ingestor) Presence(ctx context.Context, userIDs ...string) ([]string, error) {
	for _, id := range userIDs {
		if err := i.store.Set(ctx, store.UserPresentKey(id), store.Flag, i.presenceTTL); err != nil {
			return nil, fmt.Errorf("mark %s present: %w", id, err)
		}
	}
	return i.rerun(ctx, userIDs, func(token string, involved []string) error {
		for _, id := range involved {
			if err := i.store.Set(ctx, store.PresenceSeenKey(token, id), store.Flag, i.markerTTL); err != nil {
				return err
			}
		}
		return nil
	})
}

// Authorized records a completed authorization and reruns the user's
// interactions.
func (i *Ingestor) Authorized(ctx context.Context, a Authorization) ([]string, error) {
	if a.UserID == "" {
		return nil, errors.New("authorization: user id is required")
	}
	ttl := DefaultAuthorizationTTL
	if a.ExpiresIn > 0 {
		ttl = a.ExpiresIn - authorizationSlack
		if ttl < time.Minute {
			ttl = time.Minute
		}
	}

	if err := i.store.Set(ctx, store.UserTokenKey(a.UserID), store.Flag, ttl); err != nil {
		return nil, fmt.Errorf("store authorization for %s: %w", a.UserID, err)
	}
	if a.AccountID != "" {
		if err := i.store.Set(ctx, store.UserAccountKey(a.UserID), []byte(a.AccountID), ttl); err != nil {
			return nil, fmt.Errorf("store account for %s: %w", a.UserID, err)
		}
	} else if err := i.store.Delete(ctx, store.UserAccountKey(a.UserID)); err != nil {
		return nil, err
	}
	i.logger.Info("user authorized", "user", a.UserID, "linked", a.AccountID != "")
	return i.rerun(ctx, []string{a.UserID}, nil)
}

// Revoke forgets a user's authorization and linked account.
func (i *Ingestor) Revoke(ctx context.Context, userID string) error {
	if err := i.store.Delete(ctx, store.UserTokenKey(userID)); err != nil {
		return err
	}
	return i.store.Delete(ctx, store.UserAccountKey(userID))
}

// Reaction handles a reaction added to a message. Only the delete emoji
// does anything; it reports whether the result was redacted by this call.
func (i *Ingestor) Reaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	if emoji != lifecycle.DeleteEmoji {
		return false, nil
	}
	deleted, err := i.deleter.ManualDelete(ctx, messageID, userID)
	if errors.Is(err, lifecycle.ErrUnknownMessage) {
		return false, nil
	}
	return deleted, err
}

// rerun schedules an attempt for each live interaction involving any of
// userIDs. visit, when set, runs first with the involved users.
func (i *Ingestor) rerun(ctx context.Context, userIDs []string, visit func(token string, involved []string) error) ([]string, error) {
	keys, err := i.store.Scan(ctx, store.SessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}

	var tokens []string
	for _, key := range keys {
		token, ok := store.TokenFromSessionKey(key)
		if !ok {
			continue
		}
		sess, err := store.LoadSession(ctx, i.store, token)
		if err != nil {
			// expired between scan and read, or unreadable
			continue
		}

		var involved []string
		for _, id := range userIDs {
			if sess.HasParticipant(id) {
				involved = append(involved, id)
			}
		}
		if len(involved) == 0 {
			continue
		}

		if visit != nil {
			if err := visit(token, involved); err != nil {
				return tokens, fmt.Errorf("signal %s: %w", token, err)
			}
		}
		if err := i.rerunner.Rerun(ctx, token); err != nil {
			return tokens, fmt.Errorf("rerun %s: %w", token, err)
		}
		tokens = append(tokens, token)
	}

	if len(tokens) > 0 {
		i.logger.Debug("reran interactions", "users", userIDs, "tokens", tokens)
	}
	return tokens, nil
}
