package ratelimit

import (
	"context"
	"time"

	"gatekeeper/internal/common/logging"
	counters "gatekeeper/internal/common/ratelimit"
)

// MeteredSettings configures the metered endpoint limiter
type MeteredSettings struct {
	RequestsPerMinute int
	RequestsPerHour   int
	BlockDuration     time.Duration
	PathPrefixes      []string
}

// MeteredLimiter guards the paths that reach the metered inference backend.
// Counters and blocks live on the shared backend, so every instance agrees.
type MeteredLimiter struct {
	settings MeteredSettings
	backend  counters.Backend
	blocks   *SharedBlockList
	logger   logging.Logger
}

func NewMeteredLimiter(settings MeteredSettings, backend counters.Backend, opts ...Option) *MeteredLimiter {
	o := buildOptions(opts)
	return &MeteredLimiter{
		settings: settings,
		backend:  backend,
		blocks:   NewSharedBlockList(backend, "metered"),
		logger:   o.logger,
	}
}

// IsMetered reports whether path is in the metered scope
func (m *MeteredLimiter) IsMetered(path string) bool {
	return hasPrefix(path, m.settings.PathPrefixes)
}

// Admit checks an existing block, then the per-minute and per-hour counters.
// Paths outside the metered scope are allowed untouched.
func (m *MeteredLimiter) Admit(ctx context.Context, key, path string) Decision {
	if !m.IsMetered(path) {
		return Allow()
	}

	log := m.logger.WithContext(ctx).WithFields(
		logging.String("key", key),
		logging.String("path", path),
	)

	remaining, blocked, err := m.blocks.Remaining(ctx, key)
	if err != nil {
		log.Error("Failed to read metered block", err)
		return Deny(ReasonMeteredRate, time.Second)
	}
	if blocked {
		if remaining <= 0 {
			remaining = m.settings.BlockDuration
		}
		return Deny(ReasonMeteredRate, remaining)
	}

	windows := []struct {
		name   string
		prefix string
		ttl    time.Duration
		limit  int
	}{
		{"minute", "metered:minute:", time.Minute, m.settings.RequestsPerMinute},
		{"hour", "metered:hour:", time.Hour, m.settings.RequestsPerHour},
	}

	for _, w := range windows {
		count, err := m.backend.IncrementWithExpiry(ctx, w.prefix+key, w.ttl)
		if err != nil {
			log.Error("Failed to count metered request", err, logging.String("window", w.name))
			return Deny(ReasonMeteredRate, time.Second)
		}
		if count > int64(w.limit) {
			return m.trip(ctx, log, key, w.name, w.limit)
		}
	}

	return Allow()
}

func (m *MeteredLimiter) trip(ctx context.Context, log logging.Logger, key, window string, limit int) Decision {
	if err := m.blocks.Block(ctx, key, m.settings.BlockDuration); err != nil {
		log.Error("Failed to store metered block", err)
	}
	log.Warn("Metered rate limit exceeded, caller blocked",
		logging.String("window", window),
		logging.Int("limit", limit),
		logging.Duration("block", m.settings.BlockDuration),
	)
	return Deny(ReasonMeteredRate, m.settings.BlockDuration)
}

// Unblock lifts the metered block on key
func (m *MeteredLimiter) Unblock(ctx context.Context, key string) error {
	return m.blocks.Release(ctx, key)
}
