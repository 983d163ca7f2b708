// Package dispatcher claims pending jobs from the store and runs them under a concurrency ceiling.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"golang.org/x/sync/errgroup"
)

// JobRunner executes one job to a terminal status.
type JobRunner interface {
	Run(ctx context.Context, job *models.Job) error
}

// Dispatcher is a single poll loop feeding jobs to concurrent runner goroutines.
type Dispatcher struct {
	store  persistence.Store
	runner JobRunner
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	inFlight map[string]struct{}
	jobs     errgroup.Group
}

func New(store persistence.Store, runner JobRunner, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		runner:   runner,
		config:   cfg.WithDefaults(),
		logger:   logger.With("module", "dispatcher"),
		inFlight: make(map[string]struct{}),
	}
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.config
}

// Start runs the poll loop until Stop is called or ctx is done. It returns at once
// when the loop is already running. Jobs are not cancelled with ctx.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()

		return nil
	}

	d.running = true
	d.stop = make(chan struct{})
	stop := d.stop
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	d.logger.InfoContext(ctx, "Dispatcher started",
		"concurrency", d.config.Concurrency,
		"timeout", d.config.Timeout,
		"retries", d.config.Retries,
	)

	jobCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-stop:
			d.logger.InfoContext(ctx, "Dispatcher stopped", "in_flight", len(d.InFlight()))

			return nil
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "Dispatcher context done", "in_flight", len(d.InFlight()))

			return nil
		default:
		}

		wait := d.poll(ctx, jobCtx)
		if wait == 0 {
			continue
		}

		timer := time.NewTimer(wait)

		select {
		case <-stop:
		case <-ctx.Done():
		case <-timer.C:
		}

		timer.Stop()
	}
}

// Stop makes the poll loop exit after its current iteration. In-flight jobs keep running.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running && d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
}

// Wait blocks until every dispatched job has finished. Call it after Stop.
func (d *Dispatcher) Wait() {
	_ = d.jobs.Wait()
}

// Running reports whether the poll loop is active.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.running
}

// InFlight returns the sorted IDs of jobs dispatched by this process and not yet finished.
func (d *Dispatcher) InFlight() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.inFlight))
	for id := range d.inFlight {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// poll dispatches at most one job and returns how long to wait before the next poll.
func (d *Dispatcher) poll(ctx, jobCtx context.Context) time.Duration {
	d.mu.Lock()
	if len(d.inFlight) >= d.config.Concurrency {
		d.mu.Unlock()

		return d.config.BusyInterval
	}

	exclude := make([]string, 0, len(d.inFlight))
	for id := range d.inFlight {
		exclude = append(exclude, id)
	}
	d.mu.Unlock()

	job, err := d.store.FindNextPending(ctx, exclude)
	if err != nil {
		if !persistence.IsNoPendingJob(err) {
			d.logger.WarnContext(ctx, "Failed to find pending job", "error", err)
		}

		return d.config.IdleInterval
	}

	d.mu.Lock()
	d.inFlight[job.ID] = struct{}{}
	d.mu.Unlock()

	d.logger.DebugContext(ctx, "Dispatching job", "job_id", job.ID)

	d.jobs.Go(func() error {
		defer d.release(job.ID)

		d.run(jobCtx, job)

		return nil
	})

	return 0
}

func (d *Dispatcher) run(ctx context.Context, job *models.Job) {
	logger := d.logger.With("job_id", job.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Job runner panicked", "panic", r)
		}
	}()

	err := d.runner.Run(ctx, job)

	switch {
	case err == nil:
		logger.DebugContext(ctx, "Job finished")
	case errors.Is(err, persistence.ErrJobAlreadyClaimed):
		logger.InfoContext(ctx, "Job claimed by another worker")
	default:
		logger.ErrorContext(ctx, "Job failed", "error", err)
	}
}

func (d *Dispatcher) release(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inFlight, jobID)
}
