package ratelimit

import "github.com/cespare/xxhash/v2"

// DefaultShards is the shard count used by every per-key structure
const DefaultShards = 256

// ShardIndex maps key onto one of count shards. count must be a power of two.
func ShardIndex(key string, count int) int {
	return int(xxhash.Sum64String(key) & uint64(count-1))
}
