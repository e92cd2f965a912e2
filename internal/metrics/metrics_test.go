package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"gatekeeper/internal/circuitbreaker"
	"gatekeeper/internal/quota"
	"gatekeeper/internal/ratelimit"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveDecision("general", ratelimit.Allow())
	m.ObserveDecision("general", ratelimit.Deny(ratelimit.ReasonBurst, time.Minute))
	m.ObserveDecision("general", ratelimit.Deny(ratelimit.ReasonBurst, time.Minute))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("general", "allowed", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("general", "denied", "burst")))

	m.FallbackObserver()("increment")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendFallbacks.WithLabelValues("increment")))

	hooks := m.QuotaHooks()
	hooks.LedgerFault("caller_total")
	hooks.BudgetDenied("global")
	hooks.UsageRecorded(quota.UsageRecord{ModelClass: "gpt-4o", Units: 120, Cost: 0.6})
	hooks.UsageRecorded(quota.UsageRecord{ModelClass: "gpt-4o", Units: 30, Cost: 0.15})
	hooks.UsageLost(quota.UsageRecord{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerFaults.WithLabelValues("caller_total")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BudgetDenials.WithLabelValues("global")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.UsageUnits.WithLabelValues("gpt-4o")))
	assert.InDelta(t, 0.75, testutil.ToFloat64(m.UsageCost.WithLabelValues("gpt-4o")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UsageLost))

	m.BreakerStateObserver()("ledger", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState))

	m.SetTrackedKeys("blocks", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TrackedKeys.WithLabelValues("blocks")))

	m.ObserveAdmission("metered", 2*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.AdmissionLatency))
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
