// Package workflow runs claimed jobs step by step and persists their progress.
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
	"github.com/dukex/stepflow/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrStepTimeout is returned when a step ran longer than the configured budget.
// The step itself keeps the outcome it finished with.
var ErrStepTimeout = errors.New("step exceeded timeout")

// ExecutorProvider builds the executor for a step type.
type ExecutorProvider interface {
	CreateExecutor(ctx context.Context, stepType models.StepType, config map[string]any) (protocol.StepExecutor, error)
}

// StepRunner executes exactly one step and persists its status transitions.
type StepRunner struct {
	store     persistence.Store
	executors ExecutorProvider
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	timeout   time.Duration
	workerID  string
	now       func() time.Time
	logger    *slog.Logger
}

func NewStepRunner(
	store persistence.Store,
	executors ExecutorProvider,
	logger *slog.Logger,
	opts ...Option,
) *StepRunner {
	o := newOptions(opts)

	return &StepRunner{
		store:     store,
		executors: executors,
		publisher: o.publisher,
		tracer:    o.tracer,
		timeout:   o.timeout,
		workerID:  o.workerID,
		now:       o.now,
		logger:    logger.With("module", "step_runner"),
	}
}

// Run executes step with input. On success the output is persisted and returned.
// When the step took longer than the timeout, the output is still returned together
// with an error wrapping ErrStepTimeout.
func (r *StepRunner) Run(ctx context.Context, job *models.Job, step *models.Step, input any) (any, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.step",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	logger := r.logger.With("job_id", job.ID, "step_id", step.ID, "step_type", step.Type)

	startedAt := r.now()

	err := r.store.UpdateStepStatus(ctx, job.ID, step.ID, models.StepStatusRunning, persistence.StepUpdate{
		Input:     input,
		StartedAt: &startedAt,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to mark step %s running: %w", step.ID, err)
	}

	logger.DebugContext(ctx, "Executing step")

	output, execErr := r.execute(ctx, step, input, logger)

	completedAt := r.now()
	elapsed := completedAt.Sub(startedAt)

	if execErr != nil {
		otelhelper.SetError(span, execErr)
		logger.ErrorContext(ctx, "Step failed", "error", execErr, "duration", elapsed)

		err = r.store.UpdateStepStatus(ctx, job.ID, step.ID, models.StepStatusFailed, persistence.StepUpdate{
			Error:       execErr.Error(),
			CompletedAt: &completedAt,
		})

		r.publish(ctx, logger, job.ID, events.StepFailed{
			BaseEvent: events.NewBaseEvent(events.StepFailedEvent, job.ID, r.workerID),
			StepID:    step.ID,
			StepType:  string(step.Type),
			Error:     execErr.Error(),
			Duration:  elapsed,
		})

		return nil, errors.Join(execErr, err, r.checkBudget(step, elapsed))
	}

	err = r.store.UpdateStepStatus(ctx, job.ID, step.ID, models.StepStatusCompleted, persistence.StepUpdate{
		Output:      output,
		CompletedAt: &completedAt,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to mark step %s completed: %w", step.ID, err)
	}

	logger.InfoContext(ctx, "Step completed", "duration", elapsed)

	r.publish(ctx, logger, job.ID, events.StepCompleted{
		BaseEvent: events.NewBaseEvent(events.StepCompletedEvent, job.ID, r.workerID),
		StepID:    step.ID,
		StepType:  string(step.Type),
		Output:    output,
		Duration:  elapsed,
	})

	if err := r.checkBudget(step, elapsed); err != nil {
		otelhelper.SetError(span, err)
		logger.WarnContext(ctx, "Step exceeded timeout", "duration", elapsed, "timeout", r.timeout)

		return output, err
	}

	return output, nil
}

func (r *StepRunner) execute(ctx context.Context, step *models.Step, input any, logger *slog.Logger) (any, error) {
	executor, err := r.executors.CreateExecutor(ctx, step.Type, step.Config)
	if err != nil {
		return nil, err
	}

	return executor.Execute(ctx, input, logger)
}

func (r *StepRunner) checkBudget(step *models.Step, elapsed time.Duration) error {
	if r.timeout <= 0 || elapsed <= r.timeout {
		return nil
	}

	return fmt.Errorf("%w: step %s took %s, timeout is %s", ErrStepTimeout, step.ID, elapsed, r.timeout)
}

func (r *StepRunner) publish(ctx context.Context, logger *slog.Logger, jobID string, event eventbus.Event) {
	err := r.publisher.Publish(ctx, jobID, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
