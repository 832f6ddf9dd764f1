package engine

import (
	"context"
	"errors"

	"github.com/roach88/gamesincommon/internal/gate"
	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/store"
)

// Snapshot is the stored state of one interaction, for operators.
type Snapshot struct {
	Token       string           `json:"token"`
	Session     *model.Session   `json:"session,omitempty"`
	Claimed     bool             `json:"claimed"`
	SoftDeleted bool             `json:"soft_deleted"`
	Delivered   *model.Delivered `json:"delivered,omitempty"`
	Verdict     string           `json:"verdict,omitempty"`
	Reason      gate.Reason      `json:"reason,omitempty"`
	Blocking    []string         `json:"blocking,omitempty"`
}

// Inspect reads everything the store holds for token. It evaluates the gate
// but never claims or publishes.
func (e *Engine) Inspect(ctx context.Context, token string) (*Snapshot, error) {
	snap := &Snapshot{Token: token}

	var err error
	if snap.Claimed, err = store.Exists(ctx, e.store, store.ClaimKey(token)); err != nil {
		return nil, err
	}
	if snap.SoftDeleted, err = store.Exists(ctx, e.store, store.SoftDeletedKey(token)); err != nil {
		return nil, err
	}

	delivered, err := e.lifecycle.Load(ctx, token)
	switch {
	case err == nil:
		snap.Delivered = delivered
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	sess, err := store.LoadSession(ctx, e.store, token)
	if errors.Is(err, store.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Session = sess

	verdict, err := e.gate.Evaluate(ctx, sess)
	if err != nil {
		return nil, err
	}
	snap.Verdict = verdict.Kind.String()
	snap.Reason = verdict.Reason
	snap.Blocking = verdict.UserIDs
	return snap, nil
}

// Sessions lists the tokens of every live session record.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	keys, err := e.store.Scan(ctx, store.SessionPrefix)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(keys))
	for _, key := range keys {
		if token, ok := store.TokenFromSessionKey(key); ok {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}
