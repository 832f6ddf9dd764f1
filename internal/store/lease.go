package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes the per-token execution lease for at most ttl. When ok
// is false another holder has it and release is a no-op. release keeps
// working after ctx is cancelled; a release that fails leaves the lease to
// expire on its own.
func AcquireLease(ctx context.Context, s Store, token string, ttl time.Duration) (release func(), ok bool, err error) {
	key := LeaseKey(token)
	ok, err = s.SetIfAbsent(ctx, key, Flag, ttl)
	if err != nil {
		return func() {}, false, fmt.Errorf("acquire lease %s: %w", token, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		_ = s.Delete(context.WithoutCancel(ctx), key)
	}, true, nil
}
