package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ConfigValidator checks a step config against its step type.
type ConfigValidator interface {
	ValidateConfig(stepType models.StepType, config map[string]any) error
}

type Jobs struct {
	store    persistence.Store
	configs  ConfigValidator
	validate *validator.Validate
	now      func() time.Time
}

// NewJobs creates a job service. configs may be nil to skip per-type config checks.
func NewJobs(store persistence.Store, configs ConfigValidator) *Jobs {
	return &Jobs{
		store:    store,
		configs:  configs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// HealthCheck checks the health of the job store.
func (j *Jobs) HealthCheck(ctx context.Context) (string, bool) {
	if j.store == nil {
		return "Job store not initialized", false
	}

	err := j.store.HealthCheck(ctx)
	if err != nil {
		return "Job store is unhealthy: " + err.Error(), false
	}

	return "Job store is healthy", true
}

// Prepare normalizes a job definition for submission and validates it without storing it.
// Missing job and step IDs are generated, statuses reset to pending and positions follow
// the order of Steps.
func (j *Jobs) Prepare(job *models.Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", ErrInvalidJob)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	job.Status = models.JobStatusPending
	job.Error = ""
	job.CreatedAt = j.now()
	job.StartedAt = nil
	job.CompletedAt = nil

	for i, step := range job.Steps {
		if step == nil {
			return fmt.Errorf("%w: step %d is empty", ErrInvalidJob, i)
		}

		if step.ID == "" {
			step.ID = uuid.NewString()
		}

		step.JobID = job.ID
		step.Position = i
		step.Status = models.StepStatusPending
		step.Input = nil
		step.Output = nil
		step.Error = ""
		step.StartedAt = nil
		step.CompletedAt = nil
	}

	return j.check(job)
}

func (j *Jobs) check(job *models.Job) error {
	err := j.validate.Struct(job)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	err = persistence.ValidateJobIDs(job)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if j.configs != nil {
		var errs []error

		for _, step := range job.Steps {
			if err := j.configs.ValidateConfig(step.Type, step.Config); err != nil {
				errs = append(errs, fmt.Errorf("step %s: %w", step.ID, err))
			}
		}

		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidJob, err)
		}
	}

	err = models.ValidateGraph(job)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	return nil
}

// Submit prepares job and queues it as pending.
func (j *Jobs) Submit(ctx context.Context, job *models.Job) (*models.Job, error) {
	err := j.Prepare(job)
	if err != nil {
		return nil, err
	}

	err = j.store.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}

	return job, nil
}

// Get returns the job with its steps.
func (j *Jobs) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := j.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	return job, nil
}

// List returns jobs with the given status, all jobs when status is empty.
func (j *Jobs) List(ctx context.Context, status string) ([]*models.Job, error) {
	filter := models.JobStatus(status)
	if status != "" && !filter.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	jobs, err := j.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
