package quota

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logging"
	counters "gatekeeper/internal/common/ratelimit"
	"gatekeeper/internal/common/utils"
	"gatekeeper/internal/ratelimit"
)

// GuardSettings configures budget enforcement
type GuardSettings struct {
	Plans       PlanLimits
	DefaultPlan string

	MonthlyUnitBudget int64
	MonthlyCostBudget float64

	// How long the monthly aggregate is served from memory between ledger reads
	MonthlyAggregateTTL time.Duration

	// Zone of the daily and monthly boundaries
	Location *time.Location
}

// Hooks observe guard outcomes; nil hooks are skipped
type Hooks struct {
	LedgerFault   func(operation string)
	UsageRecorded func(record UsageRecord)
	UsageLost     func(record UsageRecord)
	BudgetDenied  func(scope string)
}

// CallerBudget is the outcome of the per-caller daily check
type CallerBudget struct {
	Allowed bool
	Reason  ratelimit.Reason
	Plan    string
	// Units left today before this request; Unlimited for uncapped plans
	RemainingUnits int64
	FallbackModel  string
	RetryAfter     time.Duration
	FailedOpen     bool
}

// GlobalBudget is the outcome of the monthly check
type GlobalBudget struct {
	Allowed       bool
	Reason        ratelimit.Reason
	EstimatedCost float64
	FallbackModel string
	RetryAfter    time.Duration
	FailedOpen    bool
}

// CostDecision combines both checks. Allowed decisions hold a reservation of
// Reserved units and ReservedCost that must be released with Release once
// the call is done.
type CostDecision struct {
	Allowed        bool
	Reason         ratelimit.Reason
	FallbackModel  string
	RetryAfter     time.Duration
	Reserved       int64
	ReservedCost   float64
	EstimatedCost  float64
	RemainingUnits int64
	FailedOpen     bool
}

// Decision converts d into an admission decision
func (d CostDecision) Decision() ratelimit.Decision {
	if d.Allowed {
		return ratelimit.Allow()
	}
	return ratelimit.Deny(d.Reason, d.RetryAfter)
}

// QuotaSnapshot summarises a caller's standing
type QuotaSnapshot struct {
	CallerID          string    `json:"caller_id"`
	Plan              string    `json:"plan"`
	ConsumedToday     int64     `json:"consumed_today"`
	DailyLimit        int64     `json:"daily_limit"`
	RemainingToday    int64     `json:"remaining_today"`
	ConsumedThisMonth int64     `json:"consumed_this_month"`
	CostThisMonth     float64   `json:"cost_this_month"`
	MonthlyUnitBudget int64     `json:"monthly_unit_budget"`
	MonthlyCostBudget float64   `json:"monthly_cost_budget"`
	Exhausted         bool      `json:"exhausted"`
	ResetsAt          time.Time `json:"resets_at"`
}

// Guard enforces daily caller budgets and monthly global budgets. Ledger
// faults never deny a request: the guard fails open and reports the fault.
type Guard struct {
	settings GuardSettings
	ledger   Ledger
	flags    counters.Backend
	pricing  *Pricing
	plans    PlanResolver

	monthly *cache.Cache
	loads   singleflight.Group
	pending *reservations

	retry  utils.RetryConfig
	hooks  Hooks
	logger logging.Logger
	now    func() time.Time
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

func WithGuardLogger(logger logging.Logger) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

func WithHooks(hooks Hooks) GuardOption {
	return func(g *Guard) { g.hooks = hooks }
}

func WithPlanResolver(resolver PlanResolver) GuardOption {
	return func(g *Guard) { g.plans = resolver }
}

func WithRetryConfig(config utils.RetryConfig) GuardOption {
	return func(g *Guard) { g.retry = config }
}

// NewGuard creates a guard over ledger. flags holds the exhausted markers
// and is normally the shared counter backend.
func NewGuard(settings GuardSettings, ledger Ledger, flags counters.Backend, pricing *Pricing, opts ...GuardOption) *Guard {
	if settings.Location == nil {
		settings.Location = time.Local
	}

	retry := utils.UsageRecordRetryConfig()
	retryable := retry.RetryableErrors
	retry.RetryableErrors = func(err error) bool {
		return !errors.IsType(err, errors.ErrTypeValidation) && retryable(err)
	}

	g := &Guard{
		settings: settings,
		ledger:   ledger,
		flags:    flags,
		pricing:  pricing,
		plans:    ContextPlanResolver{DefaultPlan: settings.DefaultPlan},
		// no janitor: keys are per month and expired items are ignored on read
		monthly: cache.New(settings.MonthlyAggregateTTL, 0),
		pending: newReservations(counters.DefaultShards),
		retry:   retry,
		logger:  logging.GetGlobalLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Pricing returns the price table used for estimates
func (g *Guard) Pricing() *Pricing {
	return g.pricing
}

// exhaustedKey names the marker set when a caller's ledger total reaches its
// limit. The plan and day are part of the key so an upgrade or a new day
// starts without a marker.
func exhaustedKey(callerID, plan string, day time.Time) string {
	return "quota:exhausted:" + callerID + ":" + plan + ":" + day.Format("2006-01-02")
}

func (g *Guard) fault(ctx context.Context, operation string, err error) {
	g.logger.WithContext(ctx).Error("Usage ledger failed, allowing request", err,
		logging.String("operation", operation),
	)
	if g.hooks.LedgerFault != nil {
		g.hooks.LedgerFault(operation)
	}
}

func (g *Guard) denied(scope string) {
	if g.hooks.BudgetDenied != nil {
		g.hooks.BudgetDenied(scope)
	}
}

// limitFor resolves the caller's plan and its daily limit
func (g *Guard) limitFor(ctx context.Context, callerID string) (string, int64) {
	plan := g.plans.ResolvePlan(ctx, callerID)
	if limit, ok := g.settings.Plans.Limit(plan); ok {
		return plan, limit
	}
	g.logger.WithContext(ctx).Warn("Unknown plan, using default",
		logging.String("plan", plan),
		logging.String("default_plan", g.settings.DefaultPlan),
	)
	limit, _ := g.settings.Plans.Limit(g.settings.DefaultPlan)
	return g.settings.DefaultPlan, limit
}

// CheckCallerBudget reports whether est more units fit in the caller's
// daily limit. It does not reserve anything.
func (g *Guard) CheckCallerBudget(ctx context.Context, callerID string, est int64) CallerBudget {
	return g.checkCaller(ctx, callerID, est, false)
}

// checkCaller evaluates the daily limit. With reserve set, allowed outcomes
// keep est reserved for the caller; denials never hold a reservation.
func (g *Guard) checkCaller(ctx context.Context, callerID string, est int64, reserve bool) CallerBudget {
	now := g.now()
	loc := g.settings.Location
	log := g.logger.WithContext(ctx).WithFields(logging.String("caller", callerID))

	plan, limit := g.limitFor(ctx, callerID)
	result := CallerBudget{Allowed: true, Plan: plan, RemainingUnits: Unlimited}

	if limit < 0 {
		if reserve {
			g.pending.add(callerID, est)
		}
		return result
	}

	today := utils.TruncateToDay(now, loc)
	flagKey := exhaustedKey(callerID, plan, today)
	untilMidnight := utils.NextMidnight(now, loc).Sub(now)
	deny := func(remaining int64) CallerBudget {
		if remaining < 0 {
			remaining = 0
		}
		g.denied("caller")
		return CallerBudget{
			Reason:         ratelimit.ReasonBudget,
			Plan:           plan,
			RemainingUnits: remaining,
			FallbackModel:  g.pricing.Cheapest(),
			RetryAfter:     untilMidnight,
		}
	}

	if _, exhausted, err := g.flags.FlagTTL(ctx, flagKey); err != nil {
		log.Warn("Failed to read budget flag", logging.Err(err))
	} else if exhausted {
		return deny(0)
	}

	// pending includes est in both branches
	var pending int64
	if reserve {
		pending = g.pending.add(callerID, est)
	} else {
		pending = g.pending.caller(callerID) + est
	}
	others := pending - est

	totals, err := g.ledger.CallerTotal(ctx, callerID, today)
	if err != nil {
		g.fault(ctx, "caller_total", err)
		result.FailedOpen = true
		return result
	}

	consumed := totals.Units
	if consumed+pending > limit {
		if reserve {
			g.pending.release(callerID, est)
		}
		if consumed >= limit {
			if err := g.flags.SetFlag(ctx, flagKey, untilMidnight); err != nil {
				log.Warn("Failed to store budget flag", logging.Err(err))
			}
		}
		log.Info("Daily budget exceeded",
			logging.String("plan", plan),
			logging.Int64("consumed", consumed),
			logging.Int64("estimated", est),
			logging.Int64("limit", limit),
		)
		return deny(limit - consumed - others)
	}

	result.RemainingUnits = limit - consumed - others
	return result
}

// CheckGlobalBudget reports whether est more units of model fit in the
// monthly unit and cost budgets. It does not reserve anything.
func (g *Guard) CheckGlobalBudget(ctx context.Context, est int64, model string) GlobalBudget {
	return g.checkGlobal(ctx, est, model, false)
}

// checkGlobal evaluates the monthly budgets; reserved tells whether est and
// its cost are already counted among the pending reservations
func (g *Guard) checkGlobal(ctx context.Context, est int64, model string, reserved bool) GlobalBudget {
	now := g.now()
	estCost := g.pricing.Cost(model, est)
	result := GlobalBudget{Allowed: true, EstimatedCost: estCost}

	totals, err := g.monthTotals(ctx, now)
	if err != nil {
		g.fault(ctx, "global_total", err)
		result.FailedOpen = true
		return result
	}

	pending := g.pending.global()
	pendingCost := g.pending.globalCost()
	if !reserved {
		pending += est
		pendingCost += estCost
	}

	if totals.Units+pending > g.settings.MonthlyUnitBudget || totals.Cost+pendingCost > g.settings.MonthlyCostBudget {
		g.denied("global")
		start := utils.StartOfMonth(now, g.settings.Location)
		g.logger.WithContext(ctx).Warn("Monthly budget exceeded",
			logging.Int64("units", totals.Units),
			logging.Float64("cost", totals.Cost),
			logging.Int64("estimated", est),
			logging.Float64("estimated_cost", estCost),
		)
		return GlobalBudget{
			Reason:        ratelimit.ReasonBudget,
			EstimatedCost: estCost,
			FallbackModel: g.pricing.Cheapest(),
			RetryAfter:    start.AddDate(0, 1, 0).Sub(now),
		}
	}
	return result
}

// CheckCost runs the caller check, then the global check. An allowed
// decision reserves est for the caller until Release.
func (g *Guard) CheckCost(ctx context.Context, callerID string, est int64, model string) CostDecision {
	caller := g.checkCaller(ctx, callerID, est, true)
	if !caller.Allowed {
		return CostDecision{
			Reason:         caller.Reason,
			FallbackModel:  caller.FallbackModel,
			RetryAfter:     caller.RetryAfter,
			RemainingUnits: caller.RemainingUnits,
		}
	}

	estCost := g.pricing.Cost(model, est)
	g.pending.addCost(estCost)
	global := g.checkGlobal(ctx, est, model, true)
	if !global.Allowed {
		g.pending.release(callerID, est)
		g.pending.releaseCost(estCost)
		return CostDecision{
			Reason:         global.Reason,
			FallbackModel:  global.FallbackModel,
			RetryAfter:     global.RetryAfter,
			EstimatedCost:  global.EstimatedCost,
			RemainingUnits: caller.RemainingUnits,
		}
	}

	return CostDecision{
		Allowed:        true,
		Reserved:       est,
		ReservedCost:   estCost,
		EstimatedCost:  global.EstimatedCost,
		RemainingUnits: caller.RemainingUnits,
		FailedOpen:     caller.FailedOpen || global.FailedOpen,
	}
}

// Release returns the reservation held by an allowed CheckCost decision
func (g *Guard) Release(callerID string, decision CostDecision) {
	if decision.Reserved > 0 {
		g.pending.release(callerID, decision.Reserved)
	}
	if decision.ReservedCost > 0 {
		g.pending.releaseCost(decision.ReservedCost)
	}
}

// RecordUsage appends the actual usage of a completed call. Failures are
// retried briefly, then logged as a loss; the request path never sees them.
func (g *Guard) RecordUsage(ctx context.Context, callerID, model string, units int64, cost float64) {
	if units <= 0 {
		return
	}
	if model == "" {
		model = g.pricing.DefaultModel()
	}

	record := UsageRecord{
		ID:         utils.NewRecordID(),
		CallerID:   callerID,
		ModelClass: model,
		Units:      units,
		Cost:       cost,
		Timestamp:  g.now(),
	}

	err := utils.RetryWithBackoff(ctx, g.retry, func() error {
		return g.ledger.Append(ctx, record)
	})
	if err != nil {
		g.logger.WithContext(ctx).Error("Usage record lost", err,
			logging.String("caller", callerID),
			logging.String("model", model),
			logging.Int64("units", units),
			logging.Float64("cost", cost),
		)
		if g.hooks.UsageLost != nil {
			g.hooks.UsageLost(record)
		}
		return
	}

	g.bumpMonthly(record)
	if g.hooks.UsageRecorded != nil {
		g.hooks.UsageRecorded(record)
	}
}

// Snapshot reports the caller's standing. Unlike the checks it returns
// ledger errors.
func (g *Guard) Snapshot(ctx context.Context, callerID string) (QuotaSnapshot, error) {
	now := g.now()
	loc := g.settings.Location
	plan, limit := g.limitFor(ctx, callerID)

	today, err := g.ledger.CallerTotal(ctx, callerID, utils.TruncateToDay(now, loc))
	if err != nil {
		return QuotaSnapshot{}, err
	}
	month, err := g.monthTotals(ctx, now)
	if err != nil {
		return QuotaSnapshot{}, err
	}

	snapshot := QuotaSnapshot{
		CallerID:          callerID,
		Plan:              plan,
		ConsumedToday:     today.Units,
		DailyLimit:        limit,
		RemainingToday:    Unlimited,
		ConsumedThisMonth: month.Units,
		CostThisMonth:     month.Cost,
		MonthlyUnitBudget: g.settings.MonthlyUnitBudget,
		MonthlyCostBudget: g.settings.MonthlyCostBudget,
		ResetsAt:          utils.NextMidnight(now, loc),
	}
	if limit >= 0 {
		snapshot.RemainingToday = limit - today.Units
		if snapshot.RemainingToday <= 0 {
			snapshot.RemainingToday = 0
			snapshot.Exhausted = true
		}
	}
	return snapshot, nil
}

// monthlyAggregate is the cached month total, bumped in place on every
// recorded call until it expires and is reloaded from the ledger
type monthlyAggregate struct {
	mu     sync.Mutex
	totals Totals
}

func (a *monthlyAggregate) get() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

func (a *monthlyAggregate) add(units int64, cost float64) {
	a.mu.Lock()
	a.totals = a.totals.Add(units, cost)
	a.mu.Unlock()
}

func monthKey(start time.Time) string {
	return start.Format("2006-01")
}

func (g *Guard) monthTotals(ctx context.Context, now time.Time) (Totals, error) {
	start := utils.StartOfMonth(now, g.settings.Location)
	key := monthKey(start)

	if item, ok := g.monthly.Get(key); ok {
		return item.(*monthlyAggregate).get(), nil
	}

	v, err, _ := g.loads.Do(key, func() (interface{}, error) {
		totals, err := g.ledger.GlobalTotal(ctx, start)
		if err != nil {
			return nil, err
		}
		agg := &monthlyAggregate{totals: totals}
		if g.settings.MonthlyAggregateTTL > 0 {
			g.monthly.Set(key, agg, g.settings.MonthlyAggregateTTL)
		}
		return agg, nil
	})
	if err != nil {
		return Totals{}, err
	}
	return v.(*monthlyAggregate).get(), nil
}

func (g *Guard) bumpMonthly(record UsageRecord) {
	key := monthKey(utils.StartOfMonth(record.Timestamp, g.settings.Location))
	if item, ok := g.monthly.Get(key); ok {
		item.(*monthlyAggregate).add(record.Units, record.Cost)
	}
}
