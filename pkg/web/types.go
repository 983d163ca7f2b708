package web

import "github.com/dukex/stepflow/pkg/models"

// SubmitJobRequest is the body of POST /jobs.
type SubmitJobRequest struct {
	ID          string        `json:"id,omitempty"`
	Name        string        `json:"name"`
	Input       any           `json:"input"`
	FirstStepID string        `json:"first_step_id,omitempty"`
	Steps       []StepRequest `json:"steps"                   validate:"required,min=1,dive"`
}

// StepRequest is one step of a submitted job; list order sets the step position.
type StepRequest struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Type       string         `json:"type"                   validate:"required"`
	NextStepID *string        `json:"next_step_id,omitempty"`
	Config     map[string]any `json:"config"`
}

// Job converts the request into a job definition ready for submission.
func (r SubmitJobRequest) Job() *models.Job {
	job := &models.Job{
		ID:          r.ID,
		Name:        r.Name,
		Input:       r.Input,
		FirstStepID: r.FirstStepID,
		Steps:       make([]*models.Step, 0, len(r.Steps)),
	}

	for _, step := range r.Steps {
		job.Steps = append(job.Steps, &models.Step{
			ID:         step.ID,
			Name:       step.Name,
			Type:       models.StepType(step.Type),
			NextStepID: step.NextStepID,
			Config:     step.Config,
		})
	}

	return job
}

// ListJobsResponse is the body of GET /jobs.
type ListJobsResponse struct {
	Jobs       []*models.Job `json:"jobs"`
	TotalCount int           `json:"total_count"`
}
