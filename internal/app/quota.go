package app

import (
	"context"

	"gatekeeper/internal/circuitbreaker"
	"gatekeeper/internal/common/logging"
	"gatekeeper/internal/locks"
	"gatekeeper/internal/quota"
)

// initializeLedger opens the usage ledger behind a circuit breaker and
// prepares its retention schedule
func (app *App) initializeLedger(ctx context.Context) error {
	ledger, err := quota.NewLedger(ctx, quota.LedgerConfig{
		Driver: app.Config.LedgerDriver,
		DSN:    app.Config.LedgerDSN,
	})
	if err != nil {
		return err
	}

	breakerConfig := circuitbreaker.LedgerConfig()
	breakerConfig.OnStateChange = app.Metrics.BreakerStateObserver()
	breaker := circuitbreaker.NewGoBreaker("usage-ledger", breakerConfig,
		app.Logger.WithFields(logging.String("component", "circuitbreaker")))

	app.Ledger = quota.NewBreakerLedger(ledger, breaker)

	var opts []quota.RetentionOption
	if app.RedisClient != nil {
		manager, err := locks.NewManager(app.RedisClient, 0)
		if err != nil {
			return err
		}
		opts = append(opts, quota.WithLocker(manager))
	}
	app.Retention = quota.NewRetentionScheduler(app.Ledger, app.Config.LedgerRetentionDays,
		app.Config.LedgerPruneSchedule, app.Config.Location(), opts...)

	app.Logger.Info("Usage ledger ready", logging.String("driver", app.Config.LedgerDriver))
	return nil
}

func (app *App) initializeGuard() {
	cfg := app.Config

	plans := make(quota.PlanLimits, len(cfg.PlanDailyUnitLimits))
	for plan, limit := range cfg.PlanDailyUnitLimits {
		plans[plan] = limit
	}

	app.Pricing = quota.NewPricing(cfg.ModelUnitCosts, cfg.DefaultModel, cfg.UnitScale)
	app.Estimator = quota.Estimator{
		CharsPerUnit:    cfg.CharsPerUnit,
		OverheadPercent: cfg.UnitOverheadPercent,
		MinUnits:        cfg.MinUnits,
	}

	app.Guard = quota.NewGuard(quota.GuardSettings{
		Plans:               plans,
		DefaultPlan:         cfg.DefaultPlan,
		MonthlyUnitBudget:   cfg.MonthlyUnitBudget,
		MonthlyCostBudget:   cfg.MonthlyCostBudget,
		MonthlyAggregateTTL: cfg.MonthlyAggregateTTL,
		Location:            cfg.Location(),
	}, app.Ledger, app.Counters, app.Pricing,
		quota.WithGuardLogger(app.Logger.WithFields(logging.String("component", "quota"))),
		quota.WithHooks(app.Metrics.QuotaHooks()),
	)
}
