package ratelimit

import (
	"fmt"
)

// New creates the counter backend described by config. Distributed backends
// are always wrapped with a local fallback.
func New(config Config, redisClient RedisInterface, opts ...Option) (*FallbackBackend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	local, err := NewLocalBackend(config)
	if err != nil {
		return nil, err
	}

	switch config.Type {
	case BackendLocal:
		return NewFallbackBackend(nil, local, config.WarnInterval, opts...), nil
	case BackendDistributed, BackendRedis:
		distributed, err := NewDistributedBackend(config, redisClient)
		if err != nil {
			local.Close()
			return nil, err
		}
		return NewFallbackBackend(distributed, local, config.WarnInterval, opts...), nil
	default:
		local.Close()
		return nil, fmt.Errorf("unsupported counter backend type: %s", config.Type)
	}
}

// NewLocal creates a backend that never leaves the process
func NewLocal() (*FallbackBackend, error) {
	return New(DefaultConfig(), nil)
}
