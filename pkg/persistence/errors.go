package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrJobNotFound indicates a job was not found by the given identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrStepNotFound indicates a step was not found in the given job.
	ErrStepNotFound = errors.New("step not found")

	// ErrNoPendingJob indicates no pending job is eligible to be claimed.
	ErrNoPendingJob = errors.New("no pending job")

	// ErrJobAlreadyClaimed indicates the job left the pending state before the claim.
	ErrJobAlreadyClaimed = errors.New("job already claimed")

	// ErrJobAlreadyExists indicates a job with the same identifier already exists.
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrInvalidID indicates an identifier that cannot be stored safely.
	ErrInvalidID = errors.New("invalid identifier")
)

// JobError wraps job-related errors with additional context.
type JobError struct {
	Op    string // Operation being performed (e.g., "GetJob", "ClaimJob")
	JobID string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s operation failed for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for job errors.
func (e *JobError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewJobError creates a new job error with context.
func NewJobError(op, jobID string, err error) *JobError {
	return &JobError{
		Op:    op,
		JobID: jobID,
		Err:   err,
	}
}

// StepError wraps step-related errors with additional context.
type StepError struct {
	Op     string
	JobID  string
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s operation failed for step %s in job %s: %v", e.Op, e.StepID, e.JobID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStepError creates a new step error with context.
func NewStepError(op, jobID, stepID string, err error) *StepError {
	return &StepError{
		Op:     op,
		JobID:  jobID,
		StepID: stepID,
		Err:    err,
	}
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsNoPendingJob checks if an error indicates the queue is empty.
func IsNoPendingJob(err error) bool {
	return errors.Is(err, ErrNoPendingJob)
}

// IsJobAlreadyClaimed checks if an error indicates another worker won the claim.
func IsJobAlreadyClaimed(err error) bool {
	return errors.Is(err, ErrJobAlreadyClaimed)
}
