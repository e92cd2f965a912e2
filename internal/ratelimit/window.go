package ratelimit

import (
	"sync"
	"time"

	counters "gatekeeper/internal/common/ratelimit"
)

// WindowCounter counts events per key over a sliding window. Each key's
// history lives in one of a fixed set of shards, each with its own lock.
type WindowCounter struct {
	window time.Duration
	shards []*windowShard
}

type windowShard struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewWindowCounter creates a counter over window. shards must be a power of two.
func NewWindowCounter(window time.Duration, shards int) *WindowCounter {
	if shards <= 0 {
		shards = counters.DefaultShards
	}
	w := &WindowCounter{
		window: window,
		shards: make([]*windowShard, shards),
	}
	for i := range w.shards {
		w.shards[i] = &windowShard{events: make(map[string][]time.Time)}
	}
	return w
}

// NewBurstGuard is a WindowCounter over one second
func NewBurstGuard(shards int) *WindowCounter {
	return NewWindowCounter(time.Second, shards)
}

func (w *WindowCounter) Window() time.Duration {
	return w.window
}

func (w *WindowCounter) shard(key string) *windowShard {
	return w.shards[counters.ShardIndex(key, len(w.shards))]
}

// prune drops events at or before now-window, reusing the backing array
func (w *WindowCounter) prune(events []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// RecordAndCount appends now to key's history and returns the pruned count
func (w *WindowCounter) RecordAndCount(key string, now time.Time) int {
	s := w.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	events := append(w.prune(s.events[key], now), now)
	s.events[key] = events
	return len(events)
}

// PeekCount prunes key's history and returns the count without recording
func (w *WindowCounter) PeekCount(key string, now time.Time) int {
	s := w.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.events[key]
	if !ok {
		return 0
	}
	events = w.prune(events, now)
	if len(events) == 0 {
		delete(s.events, key)
		return 0
	}
	s.events[key] = events
	return len(events)
}

func (w *WindowCounter) Reset(key string) {
	s := w.shard(key)
	s.mu.Lock()
	delete(s.events, key)
	s.mu.Unlock()
}

// Trim keeps only the newest keep events of key
func (w *WindowCounter) Trim(key string, keep int) {
	s := w.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[key]
	if len(events) <= keep {
		return
	}
	if keep <= 0 {
		delete(s.events, key)
		return
	}
	s.events[key] = append([]time.Time(nil), events[len(events)-keep:]...)
}

// Sweep prunes every key and drops those left empty
func (w *WindowCounter) Sweep(now time.Time) int {
	removed := 0
	for _, s := range w.shards {
		s.mu.Lock()
		for key, events := range s.events {
			events = w.prune(events, now)
			if len(events) == 0 {
				delete(s.events, key)
				removed++
				continue
			}
			s.events[key] = events
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys
func (w *WindowCounter) Len() int {
	total := 0
	for _, s := range w.shards {
		s.mu.Lock()
		total += len(s.events)
		s.mu.Unlock()
	}
	return total
}
