// Package handlers holds the HTTP endpoints served by the gateway itself:
// health, the caller's quota snapshot and the upstream proxy.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"gatekeeper/internal/circuitbreaker"
	"gatekeeper/internal/common/logging"
	"gatekeeper/internal/identity"
	"gatekeeper/internal/quota"
)

// HealthChecker is implemented by the Redis client
type HealthChecker interface {
	Health() error
}

// BreakerReporter is implemented by the breaker-guarded ledger
type BreakerReporter interface {
	BreakerState() circuitbreaker.State
}

type Handlers struct {
	guard   *quota.Guard
	redis   HealthChecker
	ledger  BreakerReporter
	version string
	now     func() time.Time
}

// New creates the handlers. redis and ledger are optional health sources.
func New(guard *quota.Guard, redis HealthChecker, ledger BreakerReporter, version string) *Handlers {
	return &Handlers{
		guard:   guard,
		redis:   redis,
		ledger:  ledger,
		version: version,
		now:     time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HealthCheck reports the gateway as healthy while it can serve requests.
// A failing Redis or an open ledger breaker only degrades it, since both
// have fallbacks.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	if h.redis != nil {
		if err := h.redis.Health(); err != nil {
			status = "degraded"
			checks["redis"] = "unreachable, using local counters"
		} else {
			checks["redis"] = "ok"
		}
	}

	if h.ledger != nil {
		state := h.ledger.BreakerState()
		checks["ledger"] = state.String()
		if state != circuitbreaker.StateClosed {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"timestamp": h.now(),
		"version":   h.version,
	})
}

// GetQuota returns the calling identity's quota snapshot
func (h *Handlers) GetQuota(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "caller not identified"})
		return
	}

	snapshot, err := h.guard.Snapshot(r.Context(), id.Key)
	if err != nil {
		logging.WithContext(r.Context()).Error("Failed to build quota snapshot", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "quota unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
