// Package store is the shared key/value substrate every other component
// rehydrates from.
//
// The orchestration engine never keeps interaction state in memory between
// attempts. Everything it needs (session records, claims, the rate budget,
// delivered payloads, precondition flags) lives behind the Store interface,
// whose contract is deliberately small:
//
//   - Get / Set / Delete with per-key TTL (granularity of at least a second)
//   - SetIfAbsent: atomic "set if not already set", the only primitive the
//     claim relies on
//   - DecrementIfPositive: atomic decrement used by the shared rate budget
//   - Scan: prefix listing used by signal ingestion to find live sessions
//
// # Backends
//
// RedisStore (go-redis) is the multi-process deployment: every worker and
// the HTTP front end share one Redis. SQLiteStore keeps the same contract in
// a single WAL-mode database file for single-host deployments and for the
// scenario harness, where an injectable clock makes TTL expiry deterministic.
//
// Expired keys behave exactly like missing keys on both backends.
//
// # Key Layout
//
// Key builders live in keys.go so every package agrees on naming. Session
// keys share the "interaction:" prefix, which is what Scan walks.
package store
