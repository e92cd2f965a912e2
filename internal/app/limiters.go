package app

import (
	"time"

	"gatekeeper/internal/common/logging"
	"gatekeeper/internal/ratelimit"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (app *App) initializeLimiters() {
	cfg := app.Config
	logger := app.Logger.WithFields(logging.String("component", "ratelimit"))

	app.General = ratelimit.NewGeneralLimiter(ratelimit.GeneralSettings{
		RequestsPerMinute:      cfg.RequestsPerMinute,
		BurstSize:              cfg.BurstSize,
		BlockDuration:          seconds(cfg.BlockDurationSeconds),
		BurstBlockDuration:     seconds(cfg.BurstBlockSeconds),
		Development:            cfg.IsDevelopment(),
		DevMultiplier:          cfg.DevMultiplier,
		DevBlockDuration:       seconds(cfg.DevBlockDurationSeconds),
		AuthBlockGrace:         seconds(cfg.AuthBlockGraceSeconds),
		ExcludedPaths:          cfg.ExcludedPaths,
		ReadOnlyExemptPrefixes: cfg.ReadOnlyExemptPrefixes,
		ReadOnlyHistoryTail:    cfg.ReadOnlyHistoryTail,
		ImportantPaths:         cfg.ImportantPaths,
	}, ratelimit.WithLogger(logger))

	app.Metered = ratelimit.NewMeteredLimiter(ratelimit.MeteredSettings{
		RequestsPerMinute: cfg.AIRequestsPerMinute,
		RequestsPerHour:   cfg.AIRequestsPerHour,
		BlockDuration:     seconds(cfg.AIBlockDurationSeconds),
		PathPrefixes:      cfg.MeteredPathPrefixes,
	}, app.Counters, ratelimit.WithLogger(logger))

	limit, burst := app.General.EffectiveLimits(false)
	app.Logger.Info("Rate limiters configured",
		logging.Int("requests_per_minute", limit),
		logging.Int("burst_size", burst),
		logging.Bool("development", cfg.IsDevelopment()),
		logging.Strings("metered_prefixes", cfg.MeteredPathPrefixes),
	)
}
