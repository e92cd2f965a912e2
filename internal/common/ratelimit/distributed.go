package ratelimit

import (
	"context"
	"fmt"
	"time"

	"gatekeeper/internal/common/errors"
)

// DistributedBackend stores counters in Redis so every gateway instance
// shares them. Each call is bounded by the configured timeout.
type DistributedBackend struct {
	client  RedisInterface
	prefix  string
	timeout time.Duration
}

// NewDistributedBackend creates a Redis-backed counter backend
func NewDistributedBackend(config Config, client RedisInterface) (*DistributedBackend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if client == nil {
		return nil, fmt.Errorf("redis client is required for distributed backend")
	}

	return &DistributedBackend{
		client:  client,
		prefix:  config.KeyPrefix,
		timeout: config.Timeout,
	}, nil
}

func (b *DistributedBackend) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	count, err := b.client.IncrWithExpiry(ctx, b.prefix+key, ttl)
	if err != nil {
		return 0, errors.BackendUnavailableError("increment", err)
	}
	return count, nil
}

func (b *DistributedBackend) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.client.SetFlag(ctx, b.prefix+key, ttl); err != nil {
		return errors.BackendUnavailableError("set_flag", err)
	}
	return nil
}

func (b *DistributedBackend) FlagTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ttl, present, err := b.client.FlagTTL(ctx, b.prefix+key)
	if err != nil {
		return 0, false, errors.BackendUnavailableError("flag_ttl", err)
	}
	return ttl, present, nil
}

func (b *DistributedBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.client.Delete(ctx, b.prefix+key); err != nil {
		return errors.BackendUnavailableError("delete", err)
	}
	return nil
}

func (b *DistributedBackend) Name() string {
	return string(BackendDistributed)
}

// Health checks the underlying Redis connection
func (b *DistributedBackend) Health() error {
	return b.client.Health()
}
