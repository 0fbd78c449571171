// Package cache provides the shared key-value cache used for the role-map
// recalculation lease and role-map snapshots.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound indicates the key has no value or its TTL has elapsed.
var ErrKeyNotFound = errors.New("cache key not found")

// Cache is a shared key-value store with TTL and compare-and-swap support.
// SetNX and CompareAndDelete are the primitives the recalculation lease is
// built on; a crashed holder frees the lease by letting the TTL lapse.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX sets the key only if it has no live value, returning whether
	// the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete removes the key only if it currently holds value,
	// returning whether the delete happened.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// Expire resets the TTL of an existing key, returning whether the key
	// was live.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Close() error
}
