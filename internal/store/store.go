package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is missing or expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the shared state contract. All operations are atomic per key.
//
// A ttl of zero means the key never expires.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value unconditionally, replacing any previous value and TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent writes value only if key is missing or expired.
	// Returns true if this call performed the write.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DecrementIfPositive atomically decrements an integer value that is
	// greater than zero and returns the new value. ok is false when the key
	// is missing, expired, or already at zero; the value is left untouched.
	// The key's TTL is preserved.
	DecrementIfPositive(ctx context.Context, key string) (remaining int64, ok bool, err error)

	// Scan returns every live key starting with prefix, sorted.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backend connection.
	Close() error
}

// Purger is implemented by backends that keep expired records on disk
// until they are purged. Redis expires keys itself and does not implement it.
type Purger interface {
	// Purge deletes expired records and returns how many were removed.
	Purge(ctx context.Context) (int64, error)
}

// Exists reports whether key is present and live.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Flag is the value written for boolean markers (claims, presence, deletion).
var Flag = []byte("1")
