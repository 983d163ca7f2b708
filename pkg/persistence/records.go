package persistence

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
)

// ApplyJobUpdate writes status and the non-empty fields of update onto job. It returns
// models.ErrInvalidTransition, leaving job untouched, when the job state machine forbids the move.
func ApplyJobUpdate(job *models.Job, status models.JobStatus, update JobUpdate) error {
	if err := job.Status.CheckTransition(status); err != nil {
		return err
	}

	job.Status = status

	if update.Error != "" {
		job.Error = update.Error
	}

	if update.CompletedAt != nil {
		completedAt := *update.CompletedAt
		job.CompletedAt = &completedAt
	}

	return nil
}

// ApplyStepUpdate writes status and the non-nil fields of update onto step.
func ApplyStepUpdate(step *models.Step, status models.StepStatus, update StepUpdate) {
	step.Status = status

	if update.Input != nil {
		step.Input = update.Input
	}

	if update.Output != nil {
		step.Output = update.Output
	}

	if update.Error != "" {
		step.Error = update.Error
	}

	if update.StartedAt != nil {
		startedAt := *update.StartedAt
		step.StartedAt = &startedAt
	}

	if update.CompletedAt != nil {
		completedAt := *update.CompletedAt
		step.CompletedAt = &completedAt
	}
}

// SortJobs orders jobs oldest first, breaking ties by ID.
func SortJobs(jobs []*models.Job) {
	slices.SortStableFunc(jobs, func(a, b *models.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})
}

// SortSteps orders steps by position.
func SortSteps(steps []*models.Step) {
	slices.SortStableFunc(steps, func(a, b *models.Step) int {
		return cmp.Compare(a.Position, b.Position)
	})
}

// ValidateID rejects identifiers that are empty or could escape a key or path namespace.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\:") {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidID, id)
	}

	return nil
}

// ValidateJobIDs checks the job ID and every step ID.
func ValidateJobIDs(job *models.Job) error {
	if err := ValidateID(job.ID); err != nil {
		return err
	}

	for _, step := range job.Steps {
		if err := ValidateID(step.ID); err != nil {
			return fmt.Errorf("step: %w", err)
		}
	}

	return nil
}

// Excluded builds a lookup set from exclude.
func Excluded(exclude []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		set[id] = struct{}{}
	}

	return set
}
