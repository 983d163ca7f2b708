// Package models defines the core domain models for queued multi-step automation jobs.
package models

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"   // Queued, waiting to be claimed
	JobStatusRunning   JobStatus = "running"   // Claimed by a worker
	JobStatusCompleted JobStatus = "completed" // Terminal
	JobStatusFailed    JobStatus = "failed"    // Terminal
)

// ErrInvalidTransition is returned when a status change would break the job state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// IsTerminal reports whether no further transition is allowed out of the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid reports whether s is one of the known job statuses.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the job state machine allows moving from s to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// CheckTransition returns ErrInvalidTransition when moving from s to next is not allowed.
func (s JobStatus) CheckTransition(next JobStatus) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}

	return nil
}

// Job represents one run of a workflow definition: a step graph plus its overall status.
type Job struct {
	ID          string     `json:"id"                      yaml:"id"            validate:"required"`
	Name        string     `json:"name,omitempty"          yaml:"name"`
	Status      JobStatus  `json:"status"                  yaml:"-"             validate:"required,oneof=pending running completed failed"`
	Input       any        `json:"input,omitempty"         yaml:"input"`
	Error       string     `json:"error,omitempty"         yaml:"-"`
	FirstStepID string     `json:"first_step_id,omitempty" yaml:"first_step_id"`
	Steps       []*Step    `json:"steps"                   yaml:"steps"         validate:"required,min=1,dive"`
	CreatedAt   time.Time  `json:"created_at"              yaml:"-"`
	StartedAt   *time.Time `json:"started_at,omitempty"    yaml:"-"`
	CompletedAt *time.Time `json:"completed_at,omitempty"  yaml:"-"`
}

// StepByID returns the step with the given ID, if it belongs to the job.
func (j *Job) StepByID(stepID string) (*Step, bool) {
	for _, step := range j.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}

// FirstStep resolves the step the job starts from: FirstStepID when set,
// otherwise the step with the lowest position.
func (j *Job) FirstStep() (*Step, error) {
	if len(j.Steps) == 0 {
		return nil, fmt.Errorf("%w: job %s has no steps", ErrFirstStepMissing, j.ID)
	}

	if j.FirstStepID != "" {
		step, ok := j.StepByID(j.FirstStepID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFirstStepMissing, j.FirstStepID)
		}

		return step, nil
	}

	first := j.Steps[0]
	for _, step := range j.Steps[1:] {
		if step.Position < first.Position {
			first = step
		}
	}

	return first, nil
}
