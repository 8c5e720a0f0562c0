// Package lock provides short-lived advisory locks keyed by order.
//
// A lock is held by a named holder for a bounded TTL. The holder is
// recorded for diagnostics; a live lock refuses every second acquire
// until it expires or is released.
package lock

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a payment finalization may hold an order.
const DefaultTTL = 5 * time.Minute

// Pending is the holder recorded before an intent id exists.
const Pending = "-1"

// Store is an advisory lock store.
type Store interface {
	// Acquire takes the lock for holder. It returns false whenever a
	// live lock exists on key, including one recorded for the same
	// holder: a finalize pass runs once per lock window, and a
	// concurrent retry for the same intent must observe the lock and
	// no-op.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// Release frees the lock regardless of holder. Releasing a lock
	// that is not held is not an error.
	Release(ctx context.Context, key string) error
}
