package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrWithExpiry increments KEYS[1] and sets its TTL (ARGV[1] ms) only when
// the increment created the key.
var incrWithExpiry = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	Timeout  time.Duration `json:"timeout"`
}

// NewClient creates a client and verifies the server is reachable
func NewClient(config *Config) (*Client, error) {
	client, err := Dial(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.rdb.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Dial creates a client without contacting the server. Connections are made
// on first use, so a server that is down at startup can recover later.
func Dial(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.Timeout == 0 {
		config.Timeout = 100 * time.Millisecond
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		MaxRetries:   -1,
	})

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

// Timeout is the per-call budget callers should apply to their contexts
func (c *Client) Timeout() time.Duration {
	return c.config.Timeout
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// IncrWithExpiry atomically increments key and returns the new value. The
// TTL is applied only when the key is created, so the window is anchored at
// the first event.
func (c *Client) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrWithExpiry.Run(ctx, c.rdb, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return count, nil
}

// SetFlag stores a marker under key that expires after ttl, replacing any
// previous marker and its TTL
func (c *Client) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set flag %s: %w", key, err)
	}
	return nil
}

// FlagTTL returns the remaining lifetime of key and whether it exists
func (c *Client) FlagTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}
	// go-redis reports the raw -2 (missing) and -1 (no expiry) replies
	switch ttl {
	case -2:
		return 0, false, nil
	case -1:
		return 0, true, nil
	}
	return ttl, true, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// GetGoRedisClient exposes the underlying client for libraries that take a
// go-redis handle, such as redsync
func (c *Client) GetGoRedisClient() *redis.Client {
	return c.rdb
}
