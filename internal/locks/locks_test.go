package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/redis"
)

func setup(t *testing.T) (*Manager, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	manager, err := NewManager(client, time.Minute)
	require.NoError(t, err)
	return manager, client, mr
}

func TestNewManager_RequiresClient(t *testing.T) {
	manager, err := NewManager(nil, time.Minute)
	assert.Error(t, err)
	assert.Nil(t, manager)
}

func TestManager_TryRun(t *testing.T) {
	manager, client, mr := setup(t)
	ctx := context.Background()

	t.Run("runs and releases", func(t *testing.T) {
		calls := 0
		ran, err := manager.TryRun(ctx, "ledger-prune", func(context.Context) error {
			calls++
			assert.True(t, mr.Exists("gatekeeper:lock:ledger-prune"))
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, 1, calls)
		assert.False(t, mr.Exists("gatekeeper:lock:ledger-prune"))
	})

	t.Run("skips while another instance holds the lock", func(t *testing.T) {
		other := redsync.New(goredis.NewPool(client.GetGoRedisClient())).
			NewMutex("gatekeeper:lock:ledger-prune", redsync.WithExpiry(time.Minute))
		require.NoError(t, other.LockContext(ctx))

		ran, err := manager.TryRun(ctx, "ledger-prune", func(context.Context) error {
			t.Fatal("job must not run")
			return nil
		})
		require.NoError(t, err)
		assert.False(t, ran)

		_, err = other.UnlockContext(ctx)
		require.NoError(t, err)

		ran, err = manager.TryRun(ctx, "ledger-prune", func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.True(t, ran)
	})

	t.Run("job error is returned", func(t *testing.T) {
		boom := assert.AnError
		ran, err := manager.TryRun(ctx, "failing", func(context.Context) error { return boom })
		assert.True(t, ran)
		assert.ErrorIs(t, err, boom)
		assert.False(t, mr.Exists("gatekeeper:lock:failing"))
	})
}

func TestManager_TryRunWithoutRedis(t *testing.T) {
	manager, _, mr := setup(t)
	mr.Close()

	calls := 0
	ran, err := manager.TryRun(context.Background(), "ledger-prune", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)
}
