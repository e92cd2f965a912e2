package app

import (
	"context"
	"io"
	"net/url"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logging"
	"gatekeeper/internal/config"
	"gatekeeper/internal/quota"
	"gatekeeper/internal/server"
)

const shutdownTimeout = 30 * time.Second

// Bootstrap loads .env and the environment, validates the configuration and
// installs the global logger. The returned closer releases the log file.
func Bootstrap() (*config.Config, io.Closer, error) {
	// Load environment variables
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	closer, err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

// Serve runs the gateway until ctx is cancelled, then shuts down gracefully
func Serve(ctx context.Context, cfg *config.Config) error {
	if cfg.UpstreamURL == "" {
		return errors.ConfigError("UPSTREAM_URL is required to serve")
	}
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return errors.ConfigError("UPSTREAM_URL is not a valid URL")
	}

	logging.Info("Starting gatekeeper",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("version", Version),
		logging.String("environment", cfg.Environment),
		logging.String("upstream", upstream.String()),
	)

	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if err := app.Start(ctx); err != nil {
		return err
	}

	srv := server.New(app.SetupRoutes(upstream), ":"+strconv.Itoa(cfg.Port), "", "")
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	select {
	case <-ctx.Done():
	case err := <-srv.Done():
		return err
	}

	logging.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}

// Usage returns the quota snapshot of callerID, e.g. "user:42" or
// "ip:10.0.0.1". An empty plan selects the default plan.
func Usage(ctx context.Context, cfg *config.Config, callerID, plan string) (quota.QuotaSnapshot, error) {
	app, err := New(ctx, cfg)
	if err != nil {
		return quota.QuotaSnapshot{}, err
	}
	defer app.Cleanup()

	if plan != "" {
		ctx = quota.ContextWithPlan(ctx, plan)
	}
	return app.Guard.Snapshot(ctx, callerID)
}

// Prune deletes ledger records older than the retention period once
func Prune(ctx context.Context, cfg *config.Config) (int64, error) {
	app, err := New(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer app.Cleanup()

	return app.Retention.PruneNow(ctx)
}
