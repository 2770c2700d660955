// Package cache provides the bounded TTL key-value store used for dedup
// fingerprints, correlation counters, alert cooldowns, the IOC store and LLM
// result memoization.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL key-value store. All callers are failure-tolerant: an
// unreachable cache degrades correctness (duplicates may pass, cooldowns may
// reset) but never availability.
type Cache interface {
	// Get returns the value and whether the key exists
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr atomically increments the counter at key, applying ttl on the
	// first increment only, and returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Delete removes key
	Delete(ctx context.Context, key string) error
	// Scan returns all live keys with the given prefix
	Scan(ctx context.Context, prefix string) ([]string, error)
	// Close releases the underlying connection
	Close() error
}
