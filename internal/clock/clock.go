// Package clock abstracts wall time for the orchestration engine.
//
// Every deadline in the system is computed relative to a session's created_at,
// never relative to when an attempt happens to run, so components only need
// two things from time: the current instant and a context-aware sleep for the
// dispatcher's bounded backoffs. Tests substitute testutil.FakeClock to make
// both deterministic.
package clock

import (
	"context"
	"time"
)

// Clock supplies the current time and cancellable sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the production clock backed by package time.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Sleep blocks for d or until ctx is done, whichever comes first.
// Non-positive durations return immediately.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
