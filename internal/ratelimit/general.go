package ratelimit

import (
	"context"
	"sync"
	"time"

	"gatekeeper/internal/common/logging"
	counters "gatekeeper/internal/common/ratelimit"
)

// GeneralSettings configures the general limiter
type GeneralSettings struct {
	RequestsPerMinute int
	BurstSize         int

	// Sustained-rate penalty, and the burst penalty for anonymous callers
	BlockDuration time.Duration
	// Burst penalty for authenticated callers
	BurstBlockDuration time.Duration

	Development      bool
	DevMultiplier    int
	DevBlockDuration time.Duration

	// Blocks on authenticated callers are cut down to this
	AuthBlockGrace time.Duration

	ExcludedPaths          []string
	ReadOnlyExemptPrefixes []string
	ReadOnlyHistoryTail    int
	ImportantPaths         []string
}

// GeneralRequest describes the request being admitted
type GeneralRequest struct {
	Key           string
	Path          string
	Method        string
	Authenticated bool
}

// GeneralLimiter applies the per-caller burst and sustained limits. Its
// windows and block list are process-local.
type GeneralLimiter struct {
	settings  GeneralSettings
	burst     *WindowCounter
	sustained *WindowCounter
	blocks    *BlockList

	// per-key serialization of check-then-record, striped like the shards
	locks []sync.Mutex

	logger logging.Logger
	now    func() time.Time
}

func NewGeneralLimiter(settings GeneralSettings, opts ...Option) *GeneralLimiter {
	o := buildOptions(opts)
	if o.shards <= 0 {
		o.shards = counters.DefaultShards
	}
	if settings.DevMultiplier < 1 {
		settings.DevMultiplier = 1
	}

	return &GeneralLimiter{
		settings:  settings,
		burst:     NewBurstGuard(o.shards),
		sustained: NewWindowCounter(time.Minute, o.shards),
		blocks:    NewBlockList(o.shards),
		locks:     make([]sync.Mutex, o.shards),
		logger:    o.logger,
		now:       o.now,
	}
}

// Admit decides whether req may proceed. Allowed requests are recorded in
// both windows; denied requests are not.
func (l *GeneralLimiter) Admit(ctx context.Context, req GeneralRequest) Decision {
	now := l.now()
	key := req.Key

	if matchPath(req.Path, l.settings.ExcludedPaths) {
		l.burst.Reset(key)
		l.sustained.Reset(key)
		return Allow()
	}

	if isReadMethod(req.Method) && hasPrefix(req.Path, l.settings.ReadOnlyExemptPrefixes) {
		l.sustained.Trim(key, l.settings.ReadOnlyHistoryTail)
		return Allow()
	}

	mu := &l.locks[counters.ShardIndex(key, len(l.locks))]
	mu.Lock()
	defer mu.Unlock()

	log := l.logger.WithContext(ctx).WithFields(
		logging.String("key", key),
		logging.String("path", req.Path),
	)

	if entry, blocked := l.blocks.Get(key, now); blocked {
		remaining := entry.Until.Sub(now)
		grace := l.settings.AuthBlockGrace

		switch {
		case req.Authenticated && remaining <= grace:
			l.blocks.Release(key)
			log.Info("Released authenticated caller from block",
				logging.String("reason", string(entry.Reason)),
				logging.Duration("remaining", remaining),
			)
		case req.Authenticated:
			l.blocks.Block(key, now.Add(grace), entry.Reason)
			log.Info("Shortened block for authenticated caller",
				logging.String("reason", string(entry.Reason)),
				logging.Duration("remaining", grace),
			)
			return Deny(entry.Reason, grace)
		case matchPath(req.Path, l.settings.ImportantPaths):
			l.blocks.Release(key)
			log.Info("Released caller from block on important path",
				logging.String("reason", string(entry.Reason)),
			)
		default:
			return Deny(entry.Reason, remaining)
		}
	}

	limit, burst := l.EffectiveLimits(req.Authenticated)

	if l.burst.PeekCount(key, now)+1 > burst {
		duration := l.burstPenalty(req.Authenticated)
		l.blocks.Block(key, now.Add(duration), ReasonBurst)
		log.Warn("Burst limit exceeded, caller blocked",
			logging.Int("burst", burst),
			logging.Duration("block", duration),
			logging.Bool("authenticated", req.Authenticated),
		)
		return Deny(ReasonBurst, duration)
	}

	if l.sustained.PeekCount(key, now)+1 > limit {
		duration := l.devCap(l.settings.BlockDuration)
		l.blocks.Block(key, now.Add(duration), ReasonRateLimit)
		log.Warn("Rate limit exceeded, caller blocked",
			logging.Int("limit", limit),
			logging.Duration("block", duration),
			logging.Bool("authenticated", req.Authenticated),
		)
		return Deny(ReasonRateLimit, duration)
	}

	l.burst.RecordAndCount(key, now)
	l.sustained.RecordAndCount(key, now)
	return Allow()
}

// EffectiveLimits returns the per-minute and per-second limits for a caller class
func (l *GeneralLimiter) EffectiveLimits(authenticated bool) (limit, burst int) {
	limit, burst = l.settings.RequestsPerMinute, l.settings.BurstSize
	if authenticated {
		limit, burst = limit*2, burst*2
	}
	if l.settings.Development {
		limit, burst = limit*l.settings.DevMultiplier, burst*l.settings.DevMultiplier
	}
	return limit, burst
}

func (l *GeneralLimiter) burstPenalty(authenticated bool) time.Duration {
	if authenticated {
		return l.devCap(l.settings.BurstBlockDuration)
	}
	return l.devCap(l.settings.BlockDuration)
}

func (l *GeneralLimiter) devCap(d time.Duration) time.Duration {
	if l.settings.Development && l.settings.DevBlockDuration > 0 && l.settings.DevBlockDuration < d {
		return l.settings.DevBlockDuration
	}
	return d
}

// Blocked returns the live block on key, if any
func (l *GeneralLimiter) Blocked(key string) (BlockEntry, bool) {
	return l.blocks.Get(key, l.now())
}

// Unblock lifts any block on key and clears its history
func (l *GeneralLimiter) Unblock(key string) {
	l.blocks.Release(key)
	l.burst.Reset(key)
	l.sustained.Reset(key)
}

// Sweep drops empty histories and expired blocks
func (l *GeneralLimiter) Sweep(now time.Time) int {
	return l.burst.Sweep(now) + l.sustained.Sweep(now) + l.blocks.Sweep(now)
}

// TrackedKeys reports how many callers have a sustained-rate history and how
// many are blocked
func (l *GeneralLimiter) TrackedKeys() (windows, blocks int) {
	return l.sustained.Len(), l.blocks.Len()
}
