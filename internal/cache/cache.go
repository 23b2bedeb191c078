// Package cache provides the shared fast-access cache used for seen-URL sets,
// verdict caching, breaker state, and the cluster counter. Every operation is
// individually fallible; callers treat failures as misses, never as ground truth.
package cache

import (
	"context"
	"time"
)

// Cache is the minimal key/value + set surface the pipeline needs.
type Cache interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores a value with an optional TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores the value only if the key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Incr atomically increments an integer key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets or refreshes the TTL on a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// SAdd adds members to a set.
	SAdd(ctx context.Context, key string, members ...string) error
	// SIsMember reports set membership.
	SIsMember(ctx context.Context, key, member string) (bool, error)
}
