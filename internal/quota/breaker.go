package quota

import (
	"context"
	"time"

	"gatekeeper/internal/circuitbreaker"
	"gatekeeper/internal/common/errors"
)

// BreakerLedger guards a durable ledger with a circuit breaker so that a
// failing store is skipped quickly instead of slowing every budget check
type BreakerLedger struct {
	ledger  Ledger
	breaker *circuitbreaker.GoBreakerAdapter
}

func NewBreakerLedger(ledger Ledger, breaker *circuitbreaker.GoBreakerAdapter) *BreakerLedger {
	return &BreakerLedger{ledger: ledger, breaker: breaker}
}

// ledgerErr keeps ledger and validation errors and wraps breaker rejections
func ledgerErr(operation string, err error) error {
	if err == nil || errors.IsType(err, errors.ErrTypeLedger) || errors.IsType(err, errors.ErrTypeValidation) {
		return err
	}
	return errors.LedgerError(operation, err)
}

func (b *BreakerLedger) Append(ctx context.Context, record UsageRecord) error {
	return ledgerErr("append", b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.ledger.Append(ctx, record)
	}))
}

func (b *BreakerLedger) CallerTotal(ctx context.Context, callerID string, since time.Time) (Totals, error) {
	var totals Totals
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		totals, err = b.ledger.CallerTotal(ctx, callerID, since)
		return err
	})
	return totals, ledgerErr("caller_total", err)
}

func (b *BreakerLedger) GlobalTotal(ctx context.Context, since time.Time) (Totals, error) {
	var totals Totals
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		totals, err = b.ledger.GlobalTotal(ctx, since)
		return err
	})
	return totals, ledgerErr("global_total", err)
}

func (b *BreakerLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		removed, err = b.ledger.Prune(ctx, before)
		return err
	})
	return removed, ledgerErr("prune", err)
}

func (b *BreakerLedger) Close() error {
	return b.ledger.Close()
}

// BreakerState reports the breaker state for health checks
func (b *BreakerLedger) BreakerState() circuitbreaker.State {
	return b.breaker.State()
}
