package engine

import (
	"fmt"
	"time"
)

// Plan is the attempt cadence enqueued at admission.
type Plan struct {
	// FastInterval separates attempts until FastUntil.
	FastInterval time.Duration
	FastUntil    time.Duration

	// SlowInterval separates attempts from FastUntil to the gate timeout.
	SlowInterval time.Duration

	// Grace places the final attempt after the timeout so that a
	// cancellation is always published.
	Grace time.Duration
}

// DefaultPlan checks every 30 seconds for two minutes, then every minute.
func DefaultPlan() Plan {
	return Plan{
		FastInterval: 30 * time.Second,
		FastUntil:    2 * time.Minute,
		SlowInterval: time.Minute,
		Grace:        10 * time.Second,
	}
}

// Validate rejects cadences that would never advance.
func (p Plan) Validate() error {
	if p.FastInterval <= 0 || p.SlowInterval <= 0 {
		return fmt.Errorf("plan: intervals must be positive (fast=%s, slow=%s)", p.FastInterval, p.SlowInterval)
	}
	if p.FastUntil < 0 || p.Grace <= 0 {
		return fmt.Errorf("plan: fast_until must not be negative and grace must be positive")
	}
	return nil
}

// Offsets returns the attempt times relative to created_at for a gate with
// the given timeout. The first is always zero and the last is always after
// the timeout.
func (p Plan) Offsets(timeout time.Duration) []time.Duration {
	var out []time.Duration
	t := time.Duration(0)
	for ; t < p.FastUntil && t <= timeout; t += p.FastInterval {
		out = append(out, t)
	}
	for ; t <= timeout; t += p.SlowInterval {
		out = append(out, t)
	}
	return append(out, timeout+p.Grace)
}
