// Package sweeper fails jobs left in running by a worker that stopped making progress.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule   = "@every 1m"
	DefaultStaleAfter = 15 * time.Minute
)

// ErrAlreadyStarted is returned by Start on a running sweeper.
var ErrAlreadyStarted = errors.New("sweeper already started")

type Sweeper struct {
	store      persistence.Store
	schedule   string
	staleAfter time.Duration
	inFlight   func() []string
	now        func() time.Time
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*Sweeper)

// WithSchedule sets the cron expression; descriptors such as "@every 30s" are accepted.
func WithSchedule(schedule string) Option {
	return func(s *Sweeper) {
		if schedule != "" {
			s.schedule = schedule
		}
	}
}

func WithStaleAfter(staleAfter time.Duration) Option {
	return func(s *Sweeper) {
		if staleAfter > 0 {
			s.staleAfter = staleAfter
		}
	}
}

// WithInFlight excludes the jobs this process is still running, e.g. Dispatcher.InFlight.
func WithInFlight(inFlight func() []string) Option {
	return func(s *Sweeper) {
		s.inFlight = inFlight
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

func New(store persistence.Store, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:      store,
		schedule:   DefaultSchedule,
		staleAfter: DefaultStaleAfter,
		inFlight: func() []string {
			return nil
		},
		now: func() time.Time {
			return time.Now().UTC()
		},
		logger: logger.With("module", "sweeper"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start schedules Sweep on the configured cron expression.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	_, err := cron.ParseStandard(s.schedule)
	if err != nil {
		return fmt.Errorf("invalid sweep schedule '%s': %w", s.schedule, err)
	}

	logger := cronLogger{logger: s.logger}

	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		),
	)

	_, err = s.cron.AddFunc(s.schedule, func() {
		_, err := s.Sweep(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}
	})
	if err != nil {
		s.cron = nil

		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()

	s.logger.InfoContext(ctx, "Sweeper started", "schedule", s.schedule, "stale_after", s.staleAfter)

	return nil
}

// Stop unschedules the sweeper and waits for a sweep in progress.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}

	<-c.Stop().Done()
}

// Sweep marks running jobs without progress for longer than staleAfter as failed
// and returns how many it failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}

	own := persistence.Excluded(s.inFlight())
	now := s.now()
	swept := 0

	var errs []error

	for _, job := range jobs {
		if _, ok := own[job.ID]; ok {
			continue
		}

		if now.Sub(lastProgress(job)) <= s.staleAfter {
			continue
		}

		if err := job.Status.CheckTransition(models.JobStatusFailed); err != nil {
			errs = append(errs, err)

			continue
		}

		completedAt := now

		err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, persistence.JobUpdate{
			Error:       fmt.Sprintf("abandoned: no progress within %s", s.staleAfter),
			CompletedAt: &completedAt,
		})
		if errors.Is(err, models.ErrInvalidTransition) {
			s.logger.InfoContext(ctx, "Job finished before it could be swept", "job_id", job.ID)

			continue
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("failed to fail job %s: %w", job.ID, err))

			continue
		}

		s.logger.WarnContext(ctx, "Failed abandoned job", "job_id", job.ID, "started_at", job.StartedAt)

		swept++
	}

	return swept, errors.Join(errs...)
}

// lastProgress is the latest start or completion time seen on the job or its steps.
func lastProgress(job *models.Job) time.Time {
	latest := job.CreatedAt
	if job.StartedAt != nil && job.StartedAt.After(latest) {
		latest = *job.StartedAt
	}

	for _, step := range job.Steps {
		for _, t := range []*time.Time{step.StartedAt, step.CompletedAt} {
			if t != nil && t.After(latest) {
				latest = *t
			}
		}
	}

	return latest
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
