package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logging"
	"gatekeeper/internal/identity"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/quota"
	"gatekeeper/internal/ratelimit"
)

const (
	// HeaderModel lets the upstream client name the model class it intends
	// to call; the default model is priced otherwise
	HeaderModel = "X-Model"

	HeaderUsageUnits = "X-Usage-Units"
	HeaderUsageModel = "X-Usage-Model"

	HeaderEstimatedUnits = "X-Quota-Estimated-Units"
	HeaderFallbackModel  = "X-Fallback-Model"
	HeaderDenyReason     = "X-RateLimit-Reason"

	defaultMaxBodyBytes = 10 << 20
)

// AdmissionConfig collects the collaborators of the admission middleware.
// Metered, Guard and Metrics may be nil.
type AdmissionConfig struct {
	Resolver     *identity.Resolver
	General      *ratelimit.GeneralLimiter
	Metered      *ratelimit.MeteredLimiter
	Guard        *quota.Guard
	Estimator    quota.Estimator
	Metrics      *metrics.Metrics
	Logger       logging.Logger
	MaxBodyBytes int64
}

// Admission runs the admission chain in front of the upstream handler:
// general limiter, then for metered paths the metered limiter and the cost
// guard. After a metered call it records the usage the upstream reported.
type Admission struct {
	config AdmissionConfig
	logger logging.Logger
}

func NewAdmission(config AdmissionConfig) *Admission {
	if config.Logger == nil {
		config.Logger = logging.GetGlobalLogger()
	}
	if config.Resolver == nil {
		config.Resolver = identity.NewResolver(nil, config.Logger)
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Admission{config: config, logger: config.Logger}
}

type denialBody struct {
	Error         string `json:"error"`
	Reason        string `json:"reason"`
	RetryAfter    int    `json:"retry_after"`
	FallbackModel string `json:"fallback_model,omitempty"`
}

// writeDenial answers 429 with Retry-After in whole seconds
func writeDenial(w http.ResponseWriter, d ratelimit.Decision, fallbackModel string) {
	seconds := d.RetryAfterSeconds()

	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set(HeaderDenyReason, string(d.Reason))
	if fallbackModel != "" {
		w.Header().Set(HeaderFallbackModel, fallbackModel)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(denialBody{
		Error:         "too many requests",
		Reason:        string(d.Reason),
		RetryAfter:    seconds,
		FallbackModel: fallbackModel,
	})
}

func (a *Admission) observe(limiter string, d ratelimit.Decision) {
	if a.config.Metrics != nil {
		a.config.Metrics.ObserveDecision(limiter, d)
	}
}

func (a *Admission) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		id, ok := identity.FromContext(ctx)
		if !ok {
			id = a.config.Resolver.Resolve(r)
			ctx = identity.WithIdentity(ctx, id)
			if id.Plan != "" {
				ctx = quota.ContextWithPlan(ctx, id.Plan)
			}
			r = r.WithContext(ctx)
		}

		decision := a.config.General.Admit(ctx, ratelimit.GeneralRequest{
			Key:           id.Key,
			Path:          r.URL.Path,
			Method:        r.Method,
			Authenticated: id.Authenticated,
		})
		a.observe("general", decision)
		if !decision.Allowed {
			a.observeLatency("general", start)
			writeDenial(w, decision, "")
			return
		}

		if a.config.Metered == nil || !a.config.Metered.IsMetered(r.URL.Path) {
			a.observeLatency("general", start)
			next.ServeHTTP(w, r)
			return
		}

		decision = a.config.Metered.Admit(ctx, id.Key, r.URL.Path)
		a.observe("metered", decision)
		if !decision.Allowed {
			a.observeLatency("metered", start)
			writeDenial(w, decision, "")
			return
		}

		if a.config.Guard == nil {
			a.observeLatency("metered", start)
			next.ServeHTTP(w, r)
			return
		}

		a.serveMetered(w, r, id, next, start)
	})
}

func (a *Admission) observeLatency(class string, start time.Time) {
	if a.config.Metrics != nil {
		a.config.Metrics.ObserveAdmission(class, time.Since(start))
	}
}

// serveMetered runs the cost guard, proxies the call, then records the
// usage and releases the reservation
func (a *Admission) serveMetered(w http.ResponseWriter, r *http.Request, id identity.Identity, next http.Handler, start time.Time) {
	ctx := r.Context()
	guard := a.config.Guard

	chars, err := a.measureBody(r)
	if err != nil {
		a.observeLatency("metered", start)
		status := http.StatusBadRequest
		if errors.IsType(err, errors.ErrTypeValidation) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}

	model := r.Header.Get(HeaderModel)
	if model == "" {
		model = guard.Pricing().DefaultModel()
	}
	est := a.config.Estimator.Estimate(chars)

	cost := guard.CheckCost(ctx, id.Key, est, model)
	costDecision := cost.Decision()
	a.observe("budget", costDecision)
	a.observeLatency("metered", start)
	if !cost.Allowed {
		writeDenial(w, costDecision, cost.FallbackModel)
		return
	}

	w.Header().Set(HeaderEstimatedUnits, strconv.FormatInt(est, 10))
	uw := &usageWriter{responseWriter: responseWriter{ResponseWriter: w, statusCode: http.StatusOK}}

	// the reservation must be returned even if the handler panics
	defer guard.Release(id.Key, cost)

	next.ServeHTTP(uw, r)

	units, usedModel := uw.usage()
	if units == 0 && uw.statusCode < http.StatusBadRequest {
		a.logger.WithContext(ctx).Debug("Upstream reported no usage, recording the estimate",
			logging.String("path", r.URL.Path),
			logging.Int64("estimated_units", est),
		)
		units = est
	}
	if usedModel == "" {
		usedModel = model
	}
	if units > 0 {
		// the client may already be gone; the usage still counts
		guard.RecordUsage(context.WithoutCancel(ctx), id.Key, usedModel, units, guard.Pricing().Cost(usedModel, units))
	}
}

// measureBody counts the characters of the request body and restores it for
// the upstream
func (a *Admission) measureBody(r *http.Request) (int64, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return 0, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, a.config.MaxBodyBytes+1))
	r.Body.Close()
	if err != nil {
		return 0, err
	}
	if int64(len(body)) > a.config.MaxBodyBytes {
		return 0, errors.ValidationError("request body too large")
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	return int64(utf8.RuneCount(body)), nil
}

// usageWriter captures the usage headers set by the upstream and strips
// them from the client response. Usage sent as trailers is read after the
// handler returns.
type usageWriter struct {
	responseWriter
	units int64
	model string
}

func (w *usageWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.capture()
	w.responseWriter.WriteHeader(code)
}

func (w *usageWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *usageWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *usageWriter) capture() {
	h := w.Header()
	if v := h.Get(HeaderUsageUnits); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			w.units = n
		}
		h.Del(HeaderUsageUnits)
	}
	if v := h.Get(HeaderUsageModel); v != "" {
		w.model = v
		h.Del(HeaderUsageModel)
	}
}

func (w *usageWriter) usage() (int64, string) {
	if w.units == 0 {
		w.capture()
	}
	return w.units, w.model
}
