package rescan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/theorogram/server/internal/moderation"
)

// ErrAlreadyRunning is returned by RunOnce when another run holds the lease
var ErrAlreadyRunning = errors.New("rescan already in progress")

const lockKey = "theorogram:rescan:lock"

// Rescanner re-evaluates a single theory
type Rescanner interface {
	Rescan(ctx context.Context, id uuid.UUID) (moderation.RescanOutcome, error)
}

// Source lists theories eligible for rescan
type Source interface {
	ListByStatus(ctx context.Context, status moderation.PublicationState, limit, offset int) ([]*moderation.Theory, error)
}

// Config holds scheduler configuration
type Config struct {
	Interval  time.Duration
	BatchSize int
	ItemDelay time.Duration
	// LockTTL bounds how long a crashed run can block the next one
	LockTTL time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Interval:  6 * time.Hour,
		BatchSize: 100,
		ItemDelay: 500 * time.Millisecond,
		LockTTL:   time.Hour,
	}
}

// ItemResult is the outcome of rescanning one theory
type ItemResult struct {
	ID      uuid.UUID
	Outcome moderation.RescanOutcome
	Err     error
}

// Report summarizes one rescan run
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Scanned   int           `json:"scanned"`
	Demoted   int           `json:"demoted"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
}

// Scheduler periodically re-classifies published theories
type Scheduler struct {
	rescanner Rescanner
	source    Source
	locker    Locker
	cfg       Config
	logger    logrus.FieldLogger

	running atomic.Bool
	last    atomic.Pointer[Report]
}

// NewScheduler creates a new scheduler. A nil locker means process-local locking.
func NewScheduler(rescanner Rescanner, source Source, locker Locker, cfg Config, logger logrus.FieldLogger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = 0
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Scheduler{
		rescanner: rescanner,
		source:    source,
		locker:    locker,
		cfg:       cfg,
		logger:    logger.WithField("component", "rescan"),
	}
}

// Run triggers RunOnce every Interval until ctx is done. Failed runs are
// logged and the schedule continues.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithField("interval", s.cfg.Interval.String()).Info("rescan scheduled")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				if errors.Is(err, ErrAlreadyRunning) {
					s.logger.Warn("previous rescan still running, skipping this tick")
					continue
				}
				s.logger.WithError(err).Error("rescan run failed")
			}
		}
	}
}

// Running reports whether a run is in progress in this process
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastReport returns the report of the most recent completed run, if any
func (s *Scheduler) LastReport() *Report {
	return s.last.Load()
}

// RunOnce performs a single rescan pass over up to BatchSize safe theories.
// It returns ErrAlreadyRunning instead of waiting when a run is in progress.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		runs.WithLabelValues("skipped").Inc()
		return nil, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	unlock, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		runs.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("acquire rescan lock: %w", err)
	}
	if !ok {
		runs.WithLabelValues("skipped").Inc()
		return nil, ErrAlreadyRunning
	}
	defer func() {
		// the run context may already be cancelled
		if err := unlock(context.Background()); err != nil {
			s.logger.WithError(err).Warn("failed to release rescan lock")
		}
	}()

	report := &Report{StartedAt: time.Now()}
	s.logger.Info("starting theory rescan")

	theories, err := s.source.ListByStatus(ctx, moderation.StatusSafe, s.cfg.BatchSize, 0)
	if err != nil {
		runs.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch theories for rescan: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(theories))
	for _, t := range theories {
		ids = append(ids, t.ID)
	}

	for _, r := range s.RescanBatch(ctx, ids) {
		report.Scanned++
		switch r.Outcome {
		case moderation.OutcomeDemoted:
			report.Demoted++
		case moderation.OutcomeUnchanged:
			report.Unchanged++
		case moderation.OutcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	report.Duration = time.Since(report.StartedAt)

	runs.WithLabelValues("ok").Inc()
	runDuration.Observe(report.Duration.Seconds())
	s.last.Store(report)
	s.logger.WithFields(logrus.Fields{
		"scanned":  report.Scanned,
		"demoted":  report.Demoted,
		"failed":   report.Failed,
		"duration": report.Duration.String(),
	}).Info("rescan complete")

	return report, nil
}

// RescanBatch processes ids sequentially, waiting ItemDelay after each item
// finishes before starting the next.
// A failure on one item never stops the batch. Items not reached before
// ctx is cancelled are not included in the result.
func (s *Scheduler) RescanBatch(ctx context.Context, ids []uuid.UUID) []ItemResult {
	var limiter *rate.Limiter
	if s.cfg.ItemDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.cfg.ItemDelay), 1)
	}

	results := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				s.logger.WithError(err).Warn("rescan interrupted")
				break
			}
			// no refill while the item runs, so the next Wait counts ItemDelay from its end
			limiter.SetLimit(0)
		} else if ctx.Err() != nil {
			break
		}

		r := s.rescanOne(ctx, id)
		if limiter != nil {
			limiter.SetLimit(rate.Every(s.cfg.ItemDelay))
		}
		itemOutcomes.WithLabelValues(string(r.Outcome)).Inc()
		if r.Err != nil {
			s.logger.WithError(r.Err).WithField("theory_id", id).Error("error processing theory during rescan")
		}
		results = append(results, r)
	}
	return results
}

func (s *Scheduler) rescanOne(ctx context.Context, id uuid.UUID) (res ItemResult) {
	res.ID = id
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = moderation.OutcomeFailed
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	outcome, err := s.rescanner.Rescan(ctx, id)
	if err != nil {
		outcome = moderation.OutcomeFailed
	}
	res.Outcome = outcome
	res.Err = err
	return res
}
