package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gatekeeper/internal/common/logging"
	"gatekeeper/internal/common/utils"
)

// RetentionScheduler prunes usage records older than the retention period
// on a cron schedule, e.g. "0 3 * * *" for daily at 3 AM
type RetentionScheduler struct {
	ledger   Ledger
	days     int
	schedule string
	location *time.Location
	now      func() time.Time

	locker  Locker
	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	logger  logging.Logger
}

// Locker runs a job on at most one gateway instance at a time
type Locker interface {
	TryRun(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error)
}

type RetentionOption func(*RetentionScheduler)

// WithLocker makes scheduled prunes skip while another instance runs one
func WithLocker(locker Locker) RetentionOption {
	return func(s *RetentionScheduler) { s.locker = locker }
}

func NewRetentionScheduler(ledger Ledger, days int, schedule string, location *time.Location, opts ...RetentionOption) *RetentionScheduler {
	if location == nil {
		location = time.Local
	}
	s := &RetentionScheduler{
		ledger:   ledger,
		days:     days,
		schedule: schedule,
		location: location,
		now:      time.Now,
		cron:     cron.New(cron.WithLocation(location)),
		logger:   logging.GetGlobalLogger().WithFields(logging.String("component", "retention")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cutoff is the start of the oldest retained day
func (s *RetentionScheduler) Cutoff(now time.Time) time.Time {
	return utils.TruncateToDay(now, s.location).AddDate(0, 0, -s.days)
}

// PruneNow deletes every record older than the cutoff
func (s *RetentionScheduler) PruneNow(ctx context.Context) (int64, error) {
	cutoff := s.Cutoff(s.now())
	removed, err := s.ledger.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.logger.Info("Pruned usage records",
			logging.Int64("removed", removed),
			logging.String("cutoff", cutoff.Format(time.RFC3339)),
		)
	} else {
		s.logger.Debug("No usage records to prune")
	}
	return removed, nil
}

// Start schedules pruning. Runs use ctx, so cancelling it aborts a prune in
// progress; Stop ends the schedule.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("Prune schedule not configured, skipping scheduler")
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.runScheduled(ctx); err != nil {
			s.logger.Error("Scheduled pruning failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Retention scheduler started",
		logging.String("schedule", s.schedule),
		logging.Int("retention_days", s.days),
	)
	return nil
}

func (s *RetentionScheduler) runScheduled(ctx context.Context) error {
	prune := func(ctx context.Context) error {
		_, err := s.PruneNow(ctx)
		return err
	}
	if s.locker == nil {
		return prune(ctx)
	}

	ran, err := s.locker.TryRun(ctx, "ledger-prune", prune)
	if !ran {
		s.logger.Debug("Pruning skipped, another instance is running it")
	}
	return err
}

// Stop stops the scheduler and waits for a running prune to finish
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("Retention scheduler stopped")
	}
}

// NextRun returns the next scheduled prune, or nil when not scheduled
func (s *RetentionScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
