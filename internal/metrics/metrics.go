// Package metrics exposes gateway counters to Prometheus
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gatekeeper/internal/circuitbreaker"
	counters "gatekeeper/internal/common/ratelimit"
	"gatekeeper/internal/quota"
	"gatekeeper/internal/ratelimit"
)

const namespace = "gatekeeper"

// Metrics holds the gateway collectors. Pass it to the components that
// record into it.
type Metrics struct {
	Decisions        *prometheus.CounterVec
	AdmissionLatency *prometheus.HistogramVec
	BackendFallbacks *prometheus.CounterVec
	LedgerFaults     *prometheus.CounterVec
	BudgetDenials    *prometheus.CounterVec
	UsageUnits       *prometheus.CounterVec
	UsageCost        *prometheus.CounterVec
	UsageLost        prometheus.Counter
	BreakerState     prometheus.Gauge
	TrackedKeys      *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_decisions_total",
				Help:      "Admission decisions by limiter and outcome",
			},
			[]string{"limiter", "result", "reason"},
		),
		AdmissionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admission_duration_seconds",
				Help:      "Time spent in the admission chain",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to 2.6s
			},
			[]string{"class"},
		),
		BackendFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "counter_backend_fallbacks_total",
				Help:      "Counter operations served locally because the shared store failed",
			},
			[]string{"operation"},
		),
		LedgerFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_faults_total",
				Help:      "Budget checks that failed open because the usage ledger failed",
			},
			[]string{"operation"},
		),
		BudgetDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "budget_denials_total",
				Help:      "Requests denied by a daily or monthly budget",
			},
			[]string{"scope"}, // caller or global
		),
		UsageUnits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_units_total",
				Help:      "Units recorded in the usage ledger",
			},
			[]string{"model"},
		),
		UsageCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_cost_total",
				Help:      "Cost recorded in the usage ledger",
			},
			[]string{"model"},
		),
		UsageLost: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_records_lost_total",
				Help:      "Usage records dropped after exhausting retries",
			},
		),
		BreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ledger_breaker_state",
				Help:      "Ledger circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
		),
		TrackedKeys: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_keys",
				Help:      "Keys held in memory by the limiters",
			},
			[]string{"structure"},
		),
	}
}

// ObserveDecision counts one admission decision
func (m *Metrics) ObserveDecision(limiter string, d ratelimit.Decision) {
	result, reason := "allowed", string(d.Reason)
	if !d.Allowed {
		result = "denied"
	}
	if reason == "" {
		reason = "none"
	}
	m.Decisions.WithLabelValues(limiter, result, reason).Inc()
}

func (m *Metrics) ObserveAdmission(class string, elapsed time.Duration) {
	m.AdmissionLatency.WithLabelValues(class).Observe(elapsed.Seconds())
}

// FallbackObserver counts backend fallbacks per operation
func (m *Metrics) FallbackObserver() counters.FallbackObserver {
	return func(operation string) {
		m.BackendFallbacks.WithLabelValues(operation).Inc()
	}
}

// QuotaHooks feeds guard outcomes into the collectors
func (m *Metrics) QuotaHooks() quota.Hooks {
	return quota.Hooks{
		LedgerFault: func(operation string) {
			m.LedgerFaults.WithLabelValues(operation).Inc()
		},
		UsageRecorded: func(record quota.UsageRecord) {
			m.UsageUnits.WithLabelValues(record.ModelClass).Add(float64(record.Units))
			m.UsageCost.WithLabelValues(record.ModelClass).Add(record.Cost)
		},
		UsageLost: func(quota.UsageRecord) {
			m.UsageLost.Inc()
		},
		BudgetDenied: func(scope string) {
			m.BudgetDenials.WithLabelValues(scope).Inc()
		},
	}
}

// BreakerStateObserver tracks the ledger breaker; it matches
// circuitbreaker.Config.OnStateChange
func (m *Metrics) BreakerStateObserver() func(name string, from, to circuitbreaker.State) {
	return func(_ string, _, to circuitbreaker.State) {
		m.BreakerState.Set(float64(to))
	}
}

func (m *Metrics) SetTrackedKeys(structure string, n int) {
	m.TrackedKeys.WithLabelValues(structure).Set(float64(n))
}
