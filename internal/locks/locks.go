// Package locks serializes periodic jobs across gateway instances using the
// Redlock implementation from go-redsync/redsync/v4.
package locks

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logging"
	"gatekeeper/internal/redis"
)

const defaultExpiry = 10 * time.Minute

// Manager runs a job only on the instance that wins the lock for its key
type Manager struct {
	redsync *redsync.Redsync
	expiry  time.Duration
	logger  logging.Logger
}

// NewManager creates a lock manager on redisClient. expiry bounds how long a
// crashed holder keeps others out; zero selects ten minutes.
func NewManager(redisClient *redis.Client, expiry time.Duration) (*Manager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if expiry <= 0 {
		expiry = defaultExpiry
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())
	return &Manager{
		redsync: redsync.New(pool),
		expiry:  expiry,
		logger:  logging.GetGlobalLogger().WithFields(logging.String("component", "locks")),
	}, nil
}

// TryRun runs fn while holding the lock for key. It does not wait: when
// another instance holds the lock it returns false without running fn. When
// Redis cannot be reached fn runs anyway, so jobs must be idempotent.
func (m *Manager) TryRun(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	mutex := m.redsync.NewMutex(fmt.Sprintf("gatekeeper:lock:%s", key),
		redsync.WithExpiry(m.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		if heldElsewhere(err) {
			m.logger.Debug("Lock held by another instance", logging.String("key", key))
			return false, nil
		}
		m.logger.Warn("Lock unavailable, running without it",
			logging.String("key", key),
			logging.Err(err),
		)
		return true, fn(ctx)
	}

	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			m.logger.Warn("Failed to release lock", logging.String("key", key), logging.Err(err))
		}
	}()

	return true, fn(ctx)
}

func heldElsewhere(err error) bool {
	var taken *redsync.ErrTaken
	return stderrors.As(err, &taken) || stderrors.Is(err, redsync.ErrFailed)
}
