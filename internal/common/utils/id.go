// Package utils provides small helpers shared across the gateway.
//
// This package contains identifier generation, bounded retry with
// exponential backoff, and calendar helpers for the budget periods.
//
// Features:
//   - Request and record identifiers (UUID v4)
//   - Exponential backoff retry with jitter and context cancellation
//   - Local-day and calendar-month boundaries in a given location
//   - Human-readable duration formatting
package utils

import (
	"github.com/google/uuid"
)

// NewRequestID returns an identifier for an inbound request.
//
// The value is a random UUID and is propagated in the X-Request-ID header
// and attached to log entries through the request context.
func NewRequestID() string {
	return uuid.NewString()
}

// NewRecordID returns an identifier for a persisted usage record.
func NewRecordID() string {
	return uuid.NewString()
}
