// Package ratelimit implements the admission limiters evaluated on every
// request: the general per-caller limiter (burst and sustained windows with a
// local block list) and the stricter limiter for metered endpoints, whose
// counters and blocks live on the shared counter backend.
package ratelimit

import (
	"math"
	"time"
)

// Reason is the machine-readable cause of a denial
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonBurst       Reason = "burst"
	ReasonRateLimit   Reason = "rate_limit"
	ReasonMeteredRate Reason = "metered_rate"
	ReasonBudget      Reason = "budget"
)

// Decision is the outcome of an admission check. Denials are values, never errors.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     Reason
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason Reason, retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Reason: reason, RetryAfter: retryAfter}
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1 for denials
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	seconds := int(math.Ceil(d.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
