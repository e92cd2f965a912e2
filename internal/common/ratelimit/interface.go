package ratelimit

import (
	"context"
	"time"
)

// Backend is a counter and flag store shared by the metered limiter, the
// shared block list and the budget guard
type Backend interface {
	// IncrementWithExpiry increments key and returns the new value. The ttl
	// is applied only when the increment creates the key.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SetFlag stores a marker under key for ttl, replacing any previous one
	SetFlag(ctx context.Context, key string, ttl time.Duration) error

	// FlagTTL reports the remaining lifetime of key and whether it exists
	FlagTTL(ctx context.Context, key string) (time.Duration, bool, error)

	Delete(ctx context.Context, key string) error

	// Name identifies the backend in logs and metrics
	Name() string
}

// RedisInterface defines the minimal Redis interface needed by the distributed backend
type RedisInterface interface {
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	SetFlag(ctx context.Context, key string, ttl time.Duration) error
	FlagTTL(ctx context.Context, key string) (time.Duration, bool, error)
	Delete(ctx context.Context, key string) error
	Health() error
}

// FallbackObserver is notified each time an operation is served by the local
// backend because the primary failed
type FallbackObserver func(operation string)
