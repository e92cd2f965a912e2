package circuitbreaker

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/common/errors"
)

func TestGoBreakerAdapter_OpensAfterConsecutiveFailures(t *testing.T) {
	var mu sync.Mutex
	var transitions []State

	config := LedgerConfig()
	config.OnStateChange = func(name string, from, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	}
	cb := NewGoBreaker("ledger", config, nil)
	ctx := context.Background()

	failure := stderrors.New("database is locked")
	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func(context.Context) error { return failure })
		assert.ErrorIs(t, err, failure)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrOpen)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))

	mu.Lock()
	assert.Equal(t, []State{StateOpen}, transitions)
	mu.Unlock()
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "open", cb.State().String())
}

func TestGoBreakerAdapter_RecoversThroughHalfOpen(t *testing.T) {
	config := Config{MaxFailures: 1, Timeout: 20 * time.Millisecond, MaxConcurrentRequests: 1}
	cb := NewGoBreaker("ledger", config, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return stderrors.New("down") })
	require.Equal(t, StateOpen, cb.State())

	assert.Eventually(t, func() bool { return cb.State() == StateHalfOpen }, time.Second, 5*time.Millisecond)

	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestGoBreakerAdapter_IgnoresCallerErrors(t *testing.T) {
	cb := NewGoBreaker("ledger", Config{MaxFailures: 1, Timeout: time.Minute, MaxConcurrentRequests: 1}, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errors.ValidationError("negative units") })
	_ = cb.Execute(ctx, func(context.Context) error { return context.Canceled })

	assert.Equal(t, StateClosed, cb.State())
}

func TestNewGoBreaker_InvalidConfigUsesDefaults(t *testing.T) {
	cb := NewGoBreaker("ledger", Config{}, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return stderrors.New("down") })
	}
	assert.Equal(t, StateClosed, cb.State(), "default config tolerates four failures")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
