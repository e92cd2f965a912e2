package ratelimit

import (
	"context"
	"time"

	counters "gatekeeper/internal/common/ratelimit"
)

// SharedBlockList keeps blocks as expiring flags on the counter backend so
// that every gateway instance sees them
type SharedBlockList struct {
	backend counters.Backend
	scope   string
}

func NewSharedBlockList(backend counters.Backend, scope string) *SharedBlockList {
	return &SharedBlockList{backend: backend, scope: scope}
}

func (s *SharedBlockList) flagKey(key string) string {
	return "block:" + s.scope + ":" + key
}

// Block creates or overwrites the block on key for duration
func (s *SharedBlockList) Block(ctx context.Context, key string, duration time.Duration) error {
	return s.backend.SetFlag(ctx, s.flagKey(key), duration)
}

// Remaining reports how long key stays blocked
func (s *SharedBlockList) Remaining(ctx context.Context, key string) (time.Duration, bool, error) {
	return s.backend.FlagTTL(ctx, s.flagKey(key))
}

func (s *SharedBlockList) Release(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, s.flagKey(key))
}
