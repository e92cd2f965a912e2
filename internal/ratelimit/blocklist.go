package ratelimit

import (
	"sync"
	"time"

	counters "gatekeeper/internal/common/ratelimit"
)

// BlockEntry denies a key until a point in time
type BlockEntry struct {
	Key    string
	Until  time.Time
	Reason Reason
}

// BlockList is an in-process deny list with one live entry per key.
// Expired entries are dropped on access and by Sweep.
type BlockList struct {
	shards []*blockShard
}

type blockShard struct {
	mu      sync.Mutex
	entries map[string]BlockEntry
}

func NewBlockList(shards int) *BlockList {
	if shards <= 0 {
		shards = counters.DefaultShards
	}
	b := &BlockList{shards: make([]*blockShard, shards)}
	for i := range b.shards {
		b.shards[i] = &blockShard{entries: make(map[string]BlockEntry)}
	}
	return b
}

func (b *BlockList) shard(key string) *blockShard {
	return b.shards[counters.ShardIndex(key, len(b.shards))]
}

// Block creates or overwrites the entry for key; the last writer wins
func (b *BlockList) Block(key string, until time.Time, reason Reason) BlockEntry {
	entry := BlockEntry{Key: key, Until: until, Reason: reason}
	s := b.shard(key)
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return entry
}

// Get returns the live entry for key
func (b *BlockList) Get(key string, now time.Time) (BlockEntry, bool) {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return BlockEntry{}, false
	}
	if !now.Before(entry.Until) {
		delete(s.entries, key)
		return BlockEntry{}, false
	}
	return entry, true
}

func (b *BlockList) Release(key string) {
	s := b.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (b *BlockList) Sweep(now time.Time) int {
	removed := 0
	for _, s := range b.shards {
		s.mu.Lock()
		for key, entry := range s.entries {
			if !now.Before(entry.Until) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (b *BlockList) Len() int {
	total := 0
	for _, s := range b.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}
