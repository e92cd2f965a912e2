package app

import (
	"gatekeeper/internal/common/logging"
	counters "gatekeeper/internal/common/ratelimit"
	"gatekeeper/internal/redis"
)

// initializeRedis connects to Redis when an address is configured. An
// unreachable server is not fatal: the client keeps dialing on use, and the
// counter backend serves from memory until it answers.
func (app *App) initializeRedis() {
	if app.Config.RedisAddress == "" {
		app.Logger.Info("Redis not configured, using in-process counters")
		return
	}

	redisConfig := &redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
		Timeout:  app.Config.RedisTimeout,
	}

	client, err := redis.NewClient(redisConfig)
	if err != nil {
		app.Logger.Warn("Redis unreachable at startup, counters fall back to memory until it recovers",
			logging.String("address", app.Config.RedisAddress),
			logging.Err(err),
		)
		client, err = redis.Dial(redisConfig)
		if err != nil {
			app.Logger.Warn("Redis client could not be created", logging.Err(err))
			return
		}
	} else {
		app.Logger.Info("Connected to Redis", logging.String("address", app.Config.RedisAddress))
	}

	app.RedisClient = client
}

func (app *App) initializeCounters() error {
	config := counters.DefaultConfig()
	config.Timeout = app.Config.RedisTimeout

	opts := []counters.Option{
		counters.WithLogger(app.Logger.WithFields(logging.String("component", "counters"))),
		counters.WithFallbackObserver(app.Metrics.FallbackObserver()),
	}

	var backend *counters.FallbackBackend
	var err error
	if app.RedisClient != nil {
		config.Type = counters.BackendDistributed
		backend, err = counters.New(config, app.RedisClient, opts...)
	} else {
		// an untyped nil, a nil *redis.Client would not compare equal to nil
		backend, err = counters.New(config, nil, opts...)
	}
	if err != nil {
		return err
	}

	app.Counters = backend
	app.Logger.Info("Counter backend ready", logging.String("backend", backend.Name()))
	return nil
}
