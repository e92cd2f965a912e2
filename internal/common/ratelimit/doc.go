// Package ratelimit provides the counter backends shared by the admission
// limiters and the budget guard.
//
// A backend exposes four primitives: fixed-window counters whose TTL is set
// only when the key is created, expiring flags, flag TTL lookup and delete.
//
// # Backends
//
// The local backend keeps everything in process memory, sharded by key hash:
//
//	local, err := ratelimit.NewLocalBackend(ratelimit.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer local.Close()
//
// The distributed backend stores counters in Redis and bounds every call by
// the configured timeout:
//
//	config := ratelimit.DefaultConfig()
//	config.Type = ratelimit.BackendDistributed
//	backend, err := ratelimit.New(config, redisClient)
//
// New always returns a FallbackBackend. When Redis is configured each call
// tries Redis first and, on error, is served from the local backend. Redis is
// tried again on the next call.
//
// # Usage
//
//	count, err := backend.IncrementWithExpiry(ctx, "metered:minute:ip:10.0.0.1", time.Minute)
//	if count > limit {
//		_ = backend.SetFlag(ctx, "block:metered:ip:10.0.0.1", 15*time.Minute)
//	}
//
// # Sharding
//
// ShardIndex spreads keys over a power-of-two number of shards using xxhash.
// Every per-key structure in the gateway shards the same way so that no
// request path takes a global lock.
package ratelimit
