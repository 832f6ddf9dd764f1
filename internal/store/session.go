package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/gamesincommon/internal/model"
)

// SaveSession writes the record for sess unless one already exists for the
// token. It reports whether this call wrote it.
func SaveSession(ctx context.Context, s Store, sess *model.Session, ttl time.Duration) (bool, error) {
	data, err := model.Encode(sess)
	if err != nil {
		return false, err
	}
	ok, err := s.SetIfAbsent(ctx, SessionKey(sess.Token), data, ttl)
	if err != nil {
		return false, fmt.Errorf("save session %s: %w", sess.Token, err)
	}
	return ok, nil
}

// LoadSession reads and validates the record for token. A missing or
// expired record returns ErrNotFound.
func LoadSession(ctx context.Context, s Store, token string) (*model.Session, error) {
	data, err := s.Get(ctx, SessionKey(token))
	if err != nil {
		return nil, err
	}
	var sess model.Session
	if err := model.Decode(data, &sess); err != nil {
		return nil, fmt.Errorf("load session %s: %w", token, err)
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	return &sess, nil
}
