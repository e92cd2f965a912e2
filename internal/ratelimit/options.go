package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"gatekeeper/internal/common/logging"
)

type options struct {
	logger logging.Logger
	now    func() time.Time
	shards int
}

// Option configures a limiter
type Option func(*options)

// WithLogger sets the logger used for block transitions
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithShards sets the shard count of in-process structures (power of two)
func WithShards(shards int) Option {
	return func(o *options) {
		o.shards = shards
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: logging.GetGlobalLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// matchPath reports whether path equals one of patterns, or starts with the
// part before a trailing "*"
func matchPath(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == pattern {
			return true
		}
	}
	return false
}

func hasPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isReadMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Sweeper drops expired in-process state
type Sweeper interface {
	Sweep(now time.Time) int
}

// RunJanitor sweeps every interval until ctx is cancelled
func RunJanitor(ctx context.Context, interval time.Duration, now func() time.Time, sweepers ...Sweeper) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := 0
			t := now()
			for _, s := range sweepers {
				removed += s.Sweep(t)
			}
			if removed > 0 {
				logging.Debug("Swept expired limiter state", logging.Int("removed", removed))
			}
		}
	}
}
