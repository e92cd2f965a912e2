package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"gatekeeper/internal/common/logging"
)

// FallbackBackend routes every call to the primary backend and serves it from
// the local backend when the primary fails. The primary is retried on every
// call; no down-state is cached.
type FallbackBackend struct {
	primary  Backend
	local    *LocalBackend
	logger   logging.Logger
	warn     *rate.Sometimes
	observer FallbackObserver
}

// Option configures a FallbackBackend
type Option func(*FallbackBackend)

// WithLogger sets the logger used for fallback warnings
func WithLogger(logger logging.Logger) Option {
	return func(f *FallbackBackend) {
		f.logger = logger
	}
}

// WithFallbackObserver registers a hook invoked on every fallback
func WithFallbackObserver(observer FallbackObserver) Option {
	return func(f *FallbackBackend) {
		f.observer = observer
	}
}

// NewFallbackBackend wraps primary with local. A nil primary serves
// everything locally.
func NewFallbackBackend(primary Backend, local *LocalBackend, warnInterval time.Duration, opts ...Option) *FallbackBackend {
	if warnInterval <= 0 {
		warnInterval = 10 * time.Second
	}

	f := &FallbackBackend{
		primary: primary,
		local:   local,
		logger:  logging.GetGlobalLogger(),
		warn:    &rate.Sometimes{First: 1, Interval: warnInterval},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FallbackBackend) fellBack(operation, key string, err error) {
	if f.observer != nil {
		f.observer(operation)
	}
	f.warn.Do(func() {
		f.logger.Warn("Counter backend unavailable, using local counters",
			logging.String("backend", f.primary.Name()),
			logging.String("operation", operation),
			logging.String("key", key),
			logging.Err(err),
		)
	})
}

func (f *FallbackBackend) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if f.primary != nil {
		count, err := f.primary.IncrementWithExpiry(ctx, key, ttl)
		if err == nil {
			return count, nil
		}
		f.fellBack("increment", key, err)
	}
	return f.local.IncrementWithExpiry(ctx, key, ttl)
}

func (f *FallbackBackend) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if f.primary != nil {
		err := f.primary.SetFlag(ctx, key, ttl)
		if err == nil {
			return nil
		}
		f.fellBack("set_flag", key, err)
	}
	return f.local.SetFlag(ctx, key, ttl)
}

func (f *FallbackBackend) FlagTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if f.primary != nil {
		ttl, present, err := f.primary.FlagTTL(ctx, key)
		if err == nil {
			return ttl, present, nil
		}
		f.fellBack("flag_ttl", key, err)
	}
	return f.local.FlagTTL(ctx, key)
}

func (f *FallbackBackend) Delete(ctx context.Context, key string) error {
	if f.primary != nil {
		err := f.primary.Delete(ctx, key)
		if err == nil {
			// stale local copies from earlier fallbacks must not outlive the primary's
			return f.local.Delete(ctx, key)
		}
		f.fellBack("delete", key, err)
	}
	return f.local.Delete(ctx, key)
}

func (f *FallbackBackend) Name() string {
	if f.primary == nil {
		return f.local.Name()
	}
	return f.primary.Name() + "+" + f.local.Name()
}

// Distributed reports whether a shared primary is configured
func (f *FallbackBackend) Distributed() bool {
	return f.primary != nil
}

// Close stops the local janitor
func (f *FallbackBackend) Close() error {
	return f.local.Close()
}
