package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/theSchein/pamela-sub002/internal/domain"
)

// PassRunner executes one synchronization pass. It is implemented by Engine
// and faked in scheduler tests.
type PassRunner interface {
	RunPass(ctx context.Context, kind domain.SyncKind, search string) (domain.SyncSummary, error)
}

// Notifier delivers operator notifications about completed or failed passes.
// Implemented by notify.Notifier; nil disables notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Scheduler owns the timing of synchronization passes: one shortly after
// startup, one per recurring interval, and manual triggers on demand. A
// single in-flight flag guarantees at most one pass runs at a time;
// concurrent triggers are dropped with a warning, never queued.
//
// All scheduler state lives on the instance so tests construct a fresh one
// per case; there are no package-level timers or flags.
type Scheduler struct {
	runner       PassRunner
	interval     time.Duration
	startupDelay time.Duration
	notifier     Notifier
	logger       *slog.Logger

	inFlight atomic.Bool

	mu      sync.Mutex
	nextRun time.Time
}

// NewScheduler creates a Scheduler. notifier may be nil.
func NewScheduler(
	runner PassRunner,
	interval time.Duration,
	startupDelay time.Duration,
	notifier Notifier,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		runner:       runner,
		interval:     interval,
		startupDelay: startupDelay,
		notifier:     notifier,
		logger:       logger.With(slog.String("component", "sync_scheduler")),
	}
}

// Run blocks until ctx is cancelled, executing the startup pass once after
// the configured delay and a scheduled pass on every interval tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sync scheduler starting",
		slog.Duration("interval", s.interval),
		slog.Duration("startup_delay", s.startupDelay),
	)

	// Defer the first pass so dependent infrastructure finishes initializing.
	startup := time.NewTimer(s.startupDelay)
	defer startup.Stop()
	s.setNextRun(time.Now().UTC().Add(s.startupDelay))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-startup.C:
		s.trigger(ctx, domain.SyncKindStartup, "")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.setNextRun(time.Now().UTC().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sync scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.trigger(ctx, domain.SyncKindScheduled, "")
			s.setNextRun(time.Now().UTC().Add(s.interval))
		}
	}
}

// TriggerManual runs a pass on demand, optionally scoped by a free-text
// search term. It returns domain.ErrSyncInFlight when a pass is already
// running; the trigger is dropped, not queued.
func (s *Scheduler) TriggerManual(ctx context.Context, search string) (domain.SyncSummary, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "manual sync dropped, pass already in flight")
		return domain.SyncSummary{}, domain.ErrSyncInFlight
	}
	defer s.inFlight.Store(false)

	return s.runGuarded(ctx, domain.SyncKindManual, search)
}

// Running reports whether a pass is currently in flight.
func (s *Scheduler) Running() bool {
	return s.inFlight.Load()
}

// NextRun returns the time of the next scheduled pass.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Interval returns the configured pass interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

// trigger runs a timed pass, dropping it when one is already in flight.
func (s *Scheduler) trigger(ctx context.Context, kind domain.SyncKind, search string) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "sync trigger dropped, pass already in flight",
			slog.String("kind", string(kind)))
		return
	}
	defer s.inFlight.Store(false)

	_, _ = s.runGuarded(ctx, kind, search)
}

// runGuarded executes a pass with panic containment. A panicking pass is
// reported like any other failed pass; the in-flight flag is cleared by the
// caller's defer either way, so the next trigger proceeds normally.
func (s *Scheduler) runGuarded(ctx context.Context, kind domain.SyncKind, search string) (summary domain.SyncSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync: pass panicked: %v", r)
			s.logger.ErrorContext(ctx, "sync pass panicked",
				slog.String("kind", string(kind)),
				slog.Any("panic", r),
			)
			s.notifyFailure(ctx, kind, err)
		}
	}()

	summary, err = s.runner.RunPass(ctx, kind, search)
	if err != nil {
		s.logger.ErrorContext(ctx, "sync pass returned error",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		s.notifyFailure(ctx, kind, err)
		return summary, err
	}

	s.notifySuccess(ctx, summary)
	return summary, nil
}

func (s *Scheduler) notifySuccess(ctx context.Context, summary domain.SyncSummary) {
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf(
		"fetched %d, written %d, skipped %d, failed %d, deactivated %d, purged %d",
		summary.Fetched, summary.Written, summary.Skipped,
		summary.Failed, summary.Deactivated, summary.Purged,
	)
	if err := s.notifier.Notify(ctx, "sync_completed", "Market sync complete", msg); err != nil {
		s.logger.WarnContext(ctx, "sync notification failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) notifyFailure(ctx context.Context, kind domain.SyncKind, passErr error) {
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("%s pass failed: %v", kind, passErr)
	if err := s.notifier.Notify(ctx, "sync_failed", "Market sync failed", msg); err != nil {
		s.logger.WarnContext(ctx, "sync notification failed", slog.String("error", err.Error()))
	}
}
