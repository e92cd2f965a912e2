package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalBackend keeps counters and flags in process memory. Keys are spread
// over independently locked shards; expired entries are dropped on access and
// by a periodic sweep.
type LocalBackend struct {
	shards []*localShard
	now    func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type localShard struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

func (e *localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewLocalBackend creates a local backend and starts its janitor
func NewLocalBackend(config Config) (*LocalBackend, error) {
	return newLocalBackend(config, time.Now)
}

func newLocalBackend(config Config, now func() time.Time) (*LocalBackend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := &LocalBackend{
		shards: make([]*localShard, config.Shards),
		now:    now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for i := range b.shards {
		b.shards[i] = &localShard{entries: make(map[string]*localEntry)}
	}

	go b.cleanupLoop(config.CleanupPeriod)

	return b, nil
}

func (b *LocalBackend) shard(key string) *localShard {
	return b.shards[ShardIndex(key, len(b.shards))]
}

func (b *LocalBackend) deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (b *LocalBackend) IncrementWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := b.now()
	s := b.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(now) {
		s.entries[key] = &localEntry{value: 1, expiresAt: b.deadline(now, ttl)}
		return 1, nil
	}
	entry.value++
	return entry.value, nil
}

func (b *LocalBackend) SetFlag(_ context.Context, key string, ttl time.Duration) error {
	now := b.now()
	s := b.shard(key)

	s.mu.Lock()
	s.entries[key] = &localEntry{value: 1, expiresAt: b.deadline(now, ttl)}
	s.mu.Unlock()
	return nil
}

func (b *LocalBackend) FlagTTL(_ context.Context, key string) (time.Duration, bool, error) {
	now := b.now()
	s := b.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0, false, nil
	}
	if entry.expired(now) {
		delete(s.entries, key)
		return 0, false, nil
	}
	if entry.expiresAt.IsZero() {
		return 0, true, nil
	}
	return entry.expiresAt.Sub(now), true, nil
}

func (b *LocalBackend) Delete(_ context.Context, key string) error {
	s := b.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (b *LocalBackend) Name() string {
	return string(BackendLocal)
}

// Len returns the number of stored entries, expired or not
func (b *LocalBackend) Len() int {
	total := 0
	for _, s := range b.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Sweep removes expired entries one shard at a time
func (b *LocalBackend) Sweep() int {
	now := b.now()
	removed := 0
	for _, s := range b.shards {
		s.mu.Lock()
		for key, entry := range s.entries {
			if entry.expired(now) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Close stops the janitor. It is safe to call more than once.
func (b *LocalBackend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
	return nil
}

func (b *LocalBackend) cleanupLoop(period time.Duration) {
	defer close(b.done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Sweep()
		case <-b.stop:
			return
		}
	}
}
