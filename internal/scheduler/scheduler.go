// Package scheduler drives the per-minute health checks and the daily
// rollover of check results into history.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazz-dev/statusd/internal/checker"
	"github.com/hazz-dev/statusd/internal/config"
	"github.com/hazz-dev/statusd/internal/metrics"
	"github.com/hazz-dev/statusd/internal/storage"
)

const (
	wakeInterval = time.Second
	checkPeriod  = storage.MinuteSeconds
	dayLength    = storage.DaySeconds
)

// Store defines the storage operations required by the scheduler.
type Store interface {
	InsertHealthcheck(ctx context.Context, id uint64, ts int64, ok bool) error
	AggregateDay(ctx context.Context, id uint64, ref int64) (int64, error)
}

// CheckerFactory creates a Checker for a given service config.
type CheckerFactory func(config.Service) (checker.Checker, error)

// Scheduler wakes once per second, runs a check pass for every service
// each minute and aggregates the day into history before midnight.
type Scheduler struct {
	services []config.Service
	store    Store
	factory  CheckerFactory
	clock    Clock
	onResult func(checker.CheckResult, *checker.Status)
	logger   *slog.Logger

	nextDue    int64
	lastMinute int64
	prev       map[uint64]checker.Status
}

// New creates a new Scheduler. Pass nil logger to use the default logger.
func New(services []config.Service, store Store, factory CheckerFactory, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		services: services,
		store:    store,
		factory:  factory,
		clock:    realClock{},
		logger:   logger,
		prev:     make(map[uint64]checker.Status),
	}
}

// SetClock replaces the time source (for testing).
func (s *Scheduler) SetClock(c Clock) {
	s.clock = c
}

// SetOnResult sets the callback invoked after each stored check.
// result is the current check result; prev is the previous status (nil on first check).
func (s *Scheduler) SetOnResult(fn func(checker.CheckResult, *checker.Status)) {
	s.onResult = fn
}

// Run blocks until ctx is cancelled or a storage write fails. Cancellation
// returns nil; a failed write returns the error and the process is expected
// to stop.
func (s *Scheduler) Run(ctx context.Context) error {
	checkers := make([]checker.Checker, len(s.services))
	for i, svc := range s.services {
		c, err := s.factory(svc)
		if err != nil {
			return fmt.Errorf("creating checker for %q: %w", svc.Name, err)
		}
		checkers[i] = c
	}

	now := s.clock.Now().Unix()
	s.nextDue = storage.MinuteStart(now) + checkPeriod
	s.lastMinute = -1
	s.logger.Info("scheduler started", "services", len(s.services), "first_check", time.Unix(s.nextDue, 0).UTC())

	for {
		if ctx.Err() != nil {
			return nil
		}
		now = s.clock.Now().Unix()

		if now >= s.nextDue {
			// Missed periods are skipped, not replayed.
			s.nextDue += checkPeriod
			if err := s.runPass(ctx, checkers, now); err != nil {
				return err
			}
		}

		endOfDay := storage.DayStart(now) + dayLength
		if s.nextDue >= endOfDay {
			if err := s.rollover(ctx, now); err != nil {
				return err
			}
			if !s.sleep(ctx, time.Duration(endOfDay-now+1)*time.Second) {
				return nil
			}
		}

		if !s.sleep(ctx, wakeInterval) {
			return nil
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether the wait completed.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}

func (s *Scheduler) runPass(ctx context.Context, checkers []checker.Checker, now int64) error {
	minute := storage.MinuteStart(now)
	if minute == s.lastMinute {
		s.logger.Debug("catch-up wake in recorded minute, skipping pass", "minute", minute)
		return nil
	}
	s.lastMinute = minute

	// A pass that has started completes even if shutdown begins meanwhile.
	checkCtx := context.WithoutCancel(ctx)

	results := make([]checker.CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c checker.Checker) {
			defer wg.Done()
			results[i] = c.Check(checkCtx)
		}(i, c)
	}
	wg.Wait()

	for i, svc := range s.services {
		result := results[i]
		s.logger.Debug("check result",
			"service", svc.Name,
			"status", result.Status,
			"duration", result.Duration,
			"error", result.Error,
		)
		metrics.RecordCheck(svc.ID, svc.Name, result.OK(), result.Duration)

		if err := s.store.InsertHealthcheck(checkCtx, svc.ID, minute, result.OK()); err != nil {
			return fmt.Errorf("storing check result for %q: %w", svc.Name, err)
		}

		var prevStatus *checker.Status
		if st, ok := s.prev[svc.ID]; ok {
			prevStatus = &st
		}
		s.prev[svc.ID] = result.Status
		if s.onResult != nil {
			s.onResult(result, prevStatus)
		}
	}
	return nil
}

func (s *Scheduler) rollover(ctx context.Context, now int64) error {
	day := storage.DayStart(now)
	for _, svc := range s.services {
		uptime, err := s.store.AggregateDay(context.WithoutCancel(ctx), svc.ID, now)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			metrics.RecordRollover("duplicate")
			s.logger.Warn("day already aggregated", "service", svc.Name, "day", time.Unix(day, 0).UTC())
		case err != nil:
			metrics.RecordRollover("failure")
			return fmt.Errorf("aggregating day for %q: %w", svc.Name, err)
		default:
			metrics.RecordRollover("success")
			s.logger.Info("day aggregated", "service", svc.Name, "day", time.Unix(day, 0).UTC(), "uptime", uptime)
		}
	}
	return nil
}
