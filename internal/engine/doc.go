// Package engine orchestrates one /gamesincommon interaction from admission
// to its terminal outcome.
//
// ARCHITECTURE:
//
// Admission writes the session record once and enqueues the whole attempt
// plan on the durable queue. Every attempt is independent: it rehydrates the
// session from the store, asks the gate whether the group is ready, and
// either publishes a progress notice or claims the interaction and delivers.
// Nothing is held in memory between attempts, so any worker can run any
// attempt and a crashed worker costs at most one attempt.
//
// Attempt Flow:
//  1. Claim present -> no-op
//  2. Gate expired -> claim; the winner publishes the cancellation notice
//  3. Gate waiting -> publish a progress notice naming the blocking users
//  4. Gate continue -> claim; the loser returns, the winner gathers library
//     data, ranks and publishes, then hands the result to the lifecycle
//     manager
//
// INVARIANTS:
//   - The claim is set with set-if-absent and never cleared, so at most one
//     attempt per token moves the message out of its placeholder state
//   - Every deadline is computed from the session's created_at
//   - A failure or panic after claiming publishes one error notice and is
//     not retried
//   - Every token ends in exactly one of: result, no-candidates,
//     cancellation, error notice
package engine
