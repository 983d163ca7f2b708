// Package persistence provides the job store abstraction shared by the dispatcher,
// the workflow runner and the API.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

// Store persists jobs and their steps. Steps are stored per (job ID, step ID) so a
// step write never rewrites its siblings.
type Store interface {
	// CreateJob stores a new job with its steps. ErrJobAlreadyExists on duplicate ID.
	CreateJob(ctx context.Context, job *models.Job) error

	// FindNextPending returns the oldest pending job whose ID is not in exclude.
	// ErrNoPendingJob when none is eligible.
	FindNextPending(ctx context.Context, exclude []string) (*models.Job, error)

	// ClaimJob atomically moves a pending job to running. ErrJobAlreadyClaimed when
	// the job is no longer pending.
	ClaimJob(ctx context.Context, jobID string, startedAt time.Time) error

	// UpdateJobStatus sets the job status and applies the non-empty fields of update.
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, update JobUpdate) error

	// UpdateStepStatus sets one step's status and applies the non-empty fields of update.
	UpdateStepStatus(
		ctx context.Context,
		jobID, stepID string,
		status models.StepStatus,
		update StepUpdate,
	) error

	// GetJob returns the job with its steps ordered by position.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// ListJobs returns jobs with the given status, or all jobs when status is empty, oldest first.
	ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// JobUpdate carries optional job fields written with a status change.
type JobUpdate struct {
	Error       string
	CompletedAt *time.Time
}

// StepUpdate carries optional step fields written with a status change.
type StepUpdate struct {
	Input       any
	Output      any
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}
