package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Runner drives a job through pending -> running -> completed|failed.
type Runner struct {
	store     persistence.Store
	steps     *StepRunner
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	workerID  string
	now       func() time.Time
	logger    *slog.Logger
}

func NewRunner(
	store persistence.Store,
	executors ExecutorProvider,
	logger *slog.Logger,
	opts ...Option,
) *Runner {
	o := newOptions(opts)

	return &Runner{
		store:     store,
		steps:     NewStepRunner(store, executors, logger, opts...),
		publisher: o.publisher,
		tracer:    o.tracer,
		workerID:  o.workerID,
		now:       o.now,
		logger:    logger.With("module", "workflow_runner"),
	}
}

// Run claims job and executes its steps in order until the graph ends or a step fails.
// A failed job is persisted as failed and the cause is returned.
func (r *Runner) Run(ctx context.Context, job *models.Job) error {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.run",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.JobNameKey, job.Name),
		attribute.String(otelhelper.WorkerIDKey, r.workerID),
	)
	defer span.End()

	logger := r.logger.With("job_id", job.ID)

	err := job.Status.CheckTransition(models.JobStatusRunning)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	startedAt := r.now()

	err = r.store.ClaimJob(ctx, job.ID, startedAt)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}

	job.Status = models.JobStatusRunning
	job.StartedAt = &startedAt

	logger.InfoContext(ctx, "Job started", "steps", len(job.Steps))

	first, err := job.FirstStep()
	if err != nil {
		return r.fail(ctx, span, logger, job, "", err)
	}

	r.publish(ctx, logger, job.ID, events.JobStarted{
		BaseEvent:   events.NewBaseEvent(events.JobStartedEvent, job.ID, r.workerID),
		JobName:     job.Name,
		FirstStepID: first.ID,
	})

	visited := make(map[string]struct{}, len(job.Steps))
	result := job.Input

	for current := first; current != nil; {
		if _, seen := visited[current.ID]; seen {
			return r.fail(ctx, span, logger, job, current.ID,
				fmt.Errorf("%w: step %s visited twice", models.ErrCyclicStepGraph, current.ID))
		}

		visited[current.ID] = struct{}{}

		output, err := r.steps.Run(ctx, job, current, result)
		if err != nil {
			return r.fail(ctx, span, logger, job, current.ID, err)
		}

		nextID := ""

		if current.Type == models.StepTypeCondition {
			// The branch ID routes; the condition's own input flows on.
			nextID, _ = output.(string)
		} else {
			result = output

			if current.HasNext() {
				nextID = *current.NextStepID
			}
		}

		current = r.next(ctx, logger, job, current, nextID)
	}

	return r.complete(ctx, span, logger, job, len(visited))
}

func (r *Runner) next(
	ctx context.Context,
	logger *slog.Logger,
	job *models.Job,
	current *models.Step,
	nextID string,
) *models.Step {
	if nextID == "" {
		return nil
	}

	next, ok := job.StepByID(nextID)
	if !ok {
		logger.WarnContext(ctx, "Next step not found, ending job", "step_id", current.ID, "next_step_id", nextID)

		return nil
	}

	return next
}

func (r *Runner) complete(
	ctx context.Context,
	span trace.Span,
	logger *slog.Logger,
	job *models.Job,
	executed int,
) error {
	err := job.Status.CheckTransition(models.JobStatusCompleted)
	if err != nil {
		return err
	}

	completedAt := r.now()

	err = r.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, persistence.JobUpdate{
		CompletedAt: &completedAt,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}

	job.Status = models.JobStatusCompleted
	job.CompletedAt = &completedAt

	duration := completedAt.Sub(*job.StartedAt)
	logger.InfoContext(ctx, "Job completed", "steps_executed", executed, "duration", duration)

	r.publish(ctx, logger, job.ID, events.JobCompleted{
		BaseEvent:     events.NewBaseEvent(events.JobCompletedEvent, job.ID, r.workerID),
		StepsExecuted: executed,
		Duration:      duration,
	})

	return nil
}

func (r *Runner) fail(
	ctx context.Context,
	span trace.Span,
	logger *slog.Logger,
	job *models.Job,
	stepID string,
	cause error,
) error {
	otelhelper.SetError(span, cause, attribute.String(otelhelper.StepIDKey, stepID))

	err := job.Status.CheckTransition(models.JobStatusFailed)
	if err != nil {
		return errors.Join(cause, err)
	}

	completedAt := r.now()

	err = r.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, persistence.JobUpdate{
		Error:       cause.Error(),
		CompletedAt: &completedAt,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to persist job failure", "error", err)

		return errors.Join(cause, err)
	}

	job.Status = models.JobStatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &completedAt

	duration := completedAt.Sub(*job.StartedAt)

	r.publish(ctx, logger, job.ID, events.JobFailed{
		BaseEvent: events.NewBaseEvent(events.JobFailedEvent, job.ID, r.workerID),
		StepID:    stepID,
		Error:     cause.Error(),
		Duration:  duration,
	})

	return cause
}

func (r *Runner) publish(ctx context.Context, logger *slog.Logger, jobID string, event eventbus.Event) {
	err := r.publisher.Publish(ctx, jobID, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
