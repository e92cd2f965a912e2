// Package quota enforces per-caller daily budgets and global monthly budgets
// for metered calls, backed by an append-only usage ledger.
package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/common/errors"
)

// UsageRecord is one completed metered call. Records are append-only.
type UsageRecord struct {
	ID         string    `json:"id"`
	CallerID   string    `json:"caller_id"`
	ModelClass string    `json:"model_class"`
	Units      int64     `json:"units"`
	Cost       float64   `json:"cost"`
	Timestamp  time.Time `json:"timestamp"`
}

func (r UsageRecord) validate() error {
	switch {
	case r.ID == "":
		return errors.ValidationError("usage record id is required")
	case r.CallerID == "":
		return errors.ValidationError("usage record caller is required")
	case r.Units < 0:
		return errors.ValidationError(fmt.Sprintf("usage record units must not be negative, got %d", r.Units))
	case r.Cost < 0:
		return errors.ValidationError(fmt.Sprintf("usage record cost must not be negative, got %f", r.Cost))
	case r.Timestamp.IsZero():
		return errors.ValidationError("usage record timestamp is required")
	}
	return nil
}

// Totals is an aggregate of usage records
type Totals struct {
	Units int64   `json:"units"`
	Cost  float64 `json:"cost"`
}

func (t Totals) Add(units int64, cost float64) Totals {
	return Totals{Units: t.Units + units, Cost: t.Cost + cost}
}

// Ledger stores usage records and aggregates them over time ranges.
// Append is idempotent on the record id so that it can be retried.
type Ledger interface {
	Append(ctx context.Context, record UsageRecord) error
	// CallerTotal sums one caller's records with timestamp >= since
	CallerTotal(ctx context.Context, callerID string, since time.Time) (Totals, error)
	// GlobalTotal sums every record with timestamp >= since
	GlobalTotal(ctx context.Context, since time.Time) (Totals, error)
	// Prune deletes records with timestamp < before and returns how many
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// LedgerConfig selects and locates the ledger store
type LedgerConfig struct {
	Driver string
	DSN    string
}

// NewLedger opens the ledger named by config.Driver and prepares its schema
func NewLedger(ctx context.Context, config LedgerConfig) (Ledger, error) {
	switch strings.ToLower(config.Driver) {
	case DriverMemory:
		return NewMemoryLedger(), nil
	case DriverSQLite, "sqlite3":
		return NewSQLiteLedger(ctx, config.DSN)
	case DriverPostgres, "postgresql":
		return NewPostgresLedger(ctx, config.DSN)
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported ledger driver: %s", config.Driver))
	}
}
