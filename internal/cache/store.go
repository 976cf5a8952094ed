// Package cache is the thin key/value + set abstraction over the shared
// presence cache. Every operation is a network call in production; callers
// get a wrapped ErrUnavailable on failure or timeout and decide themselves
// whether to retry.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single store operation
const DefaultTimeout = 3 * time.Second

// ErrUnavailable is wrapped by every store failure, including timeouts
var ErrUnavailable = errors.New("presence store unavailable")

var errStoreClosed = errors.New("store closed")

// Store is a shared key/value cache with per-key TTL and string sets
type Store interface {
	// Set writes value under key, expiring after ttl (no expiry if ttl <= 0)
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value and true, or "" and false when the key is absent or expired
	Get(ctx context.Context, key string) (string, bool, error)

	Del(ctx context.Context, key string) error
	AddToSet(ctx context.Context, set, member string) error
	RemoveFromSet(ctx context.Context, set, member string) error
	Members(ctx context.Context, set string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)

	// Ping checks connectivity for health reporting
	Ping(ctx context.Context) error
	Close() error
}

// unavailable wraps a backend error so callers can match ErrUnavailable
// while keeping the original cause (e.g. context.DeadlineExceeded)
func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, key, err)
}
