package ratelimit

import (
	"fmt"
	"time"
)

// Config represents counter backend configuration
type Config struct {
	// Backend type
	Type BackendType `json:"type" yaml:"type"`

	// Distributed backend settings
	KeyPrefix string        `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Local backend settings
	Shards        int           `json:"shards,omitempty" yaml:"shards,omitempty"`
	CleanupPeriod time.Duration `json:"cleanup_period,omitempty" yaml:"cleanup_period,omitempty"`

	// Minimum spacing between fallback warnings
	WarnInterval time.Duration `json:"warn_interval,omitempty" yaml:"warn_interval,omitempty"`
}

// BackendType defines the counter backend
type BackendType string

const (
	BackendLocal       BackendType = "local"
	BackendDistributed BackendType = "distributed"
	BackendRedis       BackendType = "redis" // Alias for distributed
)

// Validate fills defaults and rejects unknown backends
func (c *Config) Validate() error {
	if c.Type == "" {
		c.Type = BackendLocal
	}

	switch c.Type {
	case BackendLocal, BackendDistributed, BackendRedis:
	default:
		return fmt.Errorf("unsupported counter backend type: %s", c.Type)
	}

	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
	if c.Shards&(c.Shards-1) != 0 {
		return fmt.Errorf("shard count must be a power of two, got %d", c.Shards)
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 100 * time.Millisecond
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "gatekeeper:"
	}
	if c.WarnInterval <= 0 {
		c.WarnInterval = 10 * time.Second
	}

	return nil
}

// DefaultConfig returns a default counter backend configuration
func DefaultConfig() Config {
	return Config{
		Type:          BackendLocal,
		KeyPrefix:     "gatekeeper:",
		Timeout:       100 * time.Millisecond,
		Shards:        DefaultShards,
		CleanupPeriod: time.Minute,
		WarnInterval:  10 * time.Second,
	}
}
