package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLocal(t *testing.T, clock *fakeClock) *LocalBackend {
	t.Helper()
	config := DefaultConfig()
	config.CleanupPeriod = time.Hour
	b, err := newLocalBackend(config, clock.Now)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestLocalBackend_IncrementWithExpiry(t *testing.T) {
	clock := newFakeClock()
	b := newTestLocal(t, clock)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, err := b.IncrementWithExpiry(ctx, "metered:minute:ip:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	// later increments do not extend the window
	clock.Advance(59 * time.Second)
	count, err := b.IncrementWithExpiry(ctx, "metered:minute:ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	clock.Advance(time.Second)
	count, err = b.IncrementWithExpiry(ctx, "metered:minute:ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLocalBackend_KeysAreIndependent(t *testing.T) {
	b := newTestLocal(t, newFakeClock())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.IncrementWithExpiry(ctx, "a", time.Minute)
		require.NoError(t, err)
	}
	count, err := b.IncrementWithExpiry(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLocalBackend_Flags(t *testing.T) {
	clock := newFakeClock()
	b := newTestLocal(t, clock)
	ctx := context.Background()

	_, present, err := b.FlagTTL(ctx, "block:metered:user:7")
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, b.SetFlag(ctx, "block:metered:user:7", 15*time.Minute))
	clock.Advance(5 * time.Minute)

	ttl, present, err := b.FlagTTL(ctx, "block:metered:user:7")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, 10*time.Minute, ttl)

	// last writer wins
	require.NoError(t, b.SetFlag(ctx, "block:metered:user:7", time.Minute))
	ttl, _, err = b.FlagTTL(ctx, "block:metered:user:7")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	clock.Advance(time.Minute)
	_, present, err = b.FlagTTL(ctx, "block:metered:user:7")
	require.NoError(t, err)
	assert.False(t, present)
	assert.Zero(t, b.Len())
}

func TestLocalBackend_FlagWithoutExpiry(t *testing.T) {
	b := newTestLocal(t, newFakeClock())
	ctx := context.Background()

	require.NoError(t, b.SetFlag(ctx, "pinned", 0))
	ttl, present, err := b.FlagTTL(ctx, "pinned")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Zero(t, ttl)

	require.NoError(t, b.Delete(ctx, "pinned"))
	_, present, err = b.FlagTTL(ctx, "pinned")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestLocalBackend_Sweep(t *testing.T) {
	clock := newFakeClock()
	b := newTestLocal(t, clock)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := b.IncrementWithExpiry(ctx, key, time.Second)
		require.NoError(t, err)
	}
	_, err := b.IncrementWithExpiry(ctx, "long", time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 3, b.Sweep())
	assert.Equal(t, 1, b.Len())
}

func TestLocalBackend_ConcurrentIncrements(t *testing.T) {
	b := newTestLocal(t, newFakeClock())
	ctx := context.Background()

	const workers = 64
	const perWorker = 100

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _ = b.IncrementWithExpiry(ctx, "shared", time.Minute)
			}
		}()
	}
	wg.Wait()

	count, err := b.IncrementWithExpiry(ctx, "shared", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker+1), count)
}

func TestLocalBackend_JanitorStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	config := DefaultConfig()
	config.CleanupPeriod = 10 * time.Millisecond
	b, err := NewLocalBackend(config)
	require.NoError(t, err)

	_, err = b.IncrementWithExpiry(context.Background(), "short", time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestConfig_Validate(t *testing.T) {
	config := Config{}
	require.NoError(t, config.Validate())
	assert.Equal(t, BackendLocal, config.Type)
	assert.Equal(t, DefaultShards, config.Shards)
	assert.Equal(t, 100*time.Millisecond, config.Timeout)

	config = Config{Shards: 100}
	assert.Error(t, config.Validate())

	config = Config{Type: "memcached"}
	assert.Error(t, config.Validate())
}

func TestShardIndex(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		idx := ShardIndex(string(rune('a'+i%26))+time.Duration(i).String(), 16)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 16)
		seen[idx] = true
	}
	assert.Greater(t, len(seen), 8)
	assert.Equal(t, ShardIndex("user:42", 256), ShardIndex("user:42", 256))
}
