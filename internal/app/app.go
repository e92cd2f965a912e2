package app

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/common/logging"
	counters "gatekeeper/internal/common/ratelimit"
	"gatekeeper/internal/config"
	"gatekeeper/internal/identity"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/quota"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/redis"
)

// App holds all the gateway dependencies
type App struct {
	Config      *config.Config
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	RedisClient *redis.Client
	Counters    *counters.FallbackBackend
	General     *ratelimit.GeneralLimiter
	Metered     *ratelimit.MeteredLimiter
	Ledger      *quota.BreakerLedger
	Pricing     *quota.Pricing
	Estimator   quota.Estimator
	Guard       *quota.Guard
	Retention   *quota.RetentionScheduler
	Auth        *auth.Auth
	Resolver    *identity.Resolver
	Logger      logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new application instance with all dependencies. Background
// workers are not started until Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	app.initializeMetrics()

	// Redis is optional, counters fall back to process memory without it
	app.initializeRedis()

	if err := app.initializeCounters(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeLimiters()

	if err := app.initializeLedger(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeGuard()
	app.initializeAuth()

	return app, nil
}

func (app *App) initializeMetrics() {
	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	app.Metrics = metrics.NewMetrics(app.Registry)
}

func (app *App) initializeAuth() {
	app.Auth = auth.New(app.Config.JWTSecret)
	if app.Auth == nil {
		app.Logger.Warn("JWT_SECRET not set, every caller is identified by client IP")
	}
	app.Resolver = identity.NewResolver(app.Auth, app.Logger)
}

// Start launches the janitor and the retention scheduler. They stop when
// ctx is cancelled or Cleanup runs.
func (app *App) Start(ctx context.Context) error {
	ctx, app.cancel = context.WithCancel(ctx)

	app.startJanitor(ctx)

	if err := app.Retention.Start(ctx); err != nil {
		app.cancel()
		app.wg.Wait()
		return err
	}
	return nil
}

// Cleanup stops background work and releases every resource. It is safe to
// call on a partially initialized App.
func (app *App) Cleanup() {
	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	if app.Retention != nil {
		app.Retention.Stop()
	}

	if app.Ledger != nil {
		if err := app.Ledger.Close(); err != nil {
			app.Logger.Warn("Error closing usage ledger", logging.Err(err))
		}
	}

	if app.Counters != nil {
		if err := app.Counters.Close(); err != nil {
			app.Logger.Warn("Error closing counter backend", logging.Err(err))
		}
	}

	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
}
