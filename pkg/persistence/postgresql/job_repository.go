package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/goccy/go-json"
	"github.com/lib/pq"
)

const jobColumns = `id, name, status, input, error_message, first_step_id, created_at, started_at, completed_at`

const stepColumns = `job_id, id, position, name, step_type, status, input, output, error_message,
	started_at, completed_at, next_step_id, config`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	input, err := marshalNullable(job.Input)
	if err != nil {
		return persistence.NewJobError("CreateJob", job.ID, err)
	}

	transaction, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewJobError("CreateJob", job.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		_ = transaction.Rollback()
	}()

	result, err := transaction.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		job.ID,
		job.Name,
		job.Status,
		input,
		job.Error,
		job.FirstStepID,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return persistence.NewJobError("CreateJob", job.ID, fmt.Errorf("failed to insert job: %w", err))
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError("CreateJob", job.ID, err)
	}

	if inserted == 0 {
		return persistence.NewJobError("CreateJob", job.ID, persistence.ErrJobAlreadyExists)
	}

	for _, step := range job.Steps {
		err := insertStep(ctx, transaction, job.ID, step)
		if err != nil {
			return persistence.NewStepError("CreateJob", job.ID, step.ID, err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return persistence.NewJobError("CreateJob", job.ID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

func insertStep(ctx context.Context, transaction *sql.Tx, jobID string, step *models.Step) error {
	input, err := marshalNullable(step.Input)
	if err != nil {
		return err
	}

	output, err := marshalNullable(step.Output)
	if err != nil {
		return err
	}

	config := step.Config
	if config == nil {
		config = map[string]any{}
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = transaction.ExecContext(ctx, `
		INSERT INTO job_steps (`+stepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		jobID,
		step.ID,
		step.Position,
		step.Name,
		step.Type,
		step.Status,
		input,
		output,
		step.Error,
		step.StartedAt,
		step.CompletedAt,
		step.NextStepID,
		string(configJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}

	return nil
}

func (s *Store) FindNextPending(ctx context.Context, exclude []string) (*models.Job, error) {
	if exclude == nil {
		exclude = []string{}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = $1 AND NOT (id = ANY($2::text[]))
		ORDER BY created_at, id
		LIMIT 1`,
		models.JobStatusPending,
		pq.Array(exclude),
	)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNoPendingJob
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find next pending job: %w", err)
	}

	job.Steps, err = s.stepsByJob(ctx, job.ID)
	if err != nil {
		return nil, persistence.NewJobError("FindNextPending", job.ID, err)
	}

	return job, nil
}

func (s *Store) ClaimJob(ctx context.Context, jobID string, startedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`,
		jobID,
		models.JobStatusRunning,
		startedAt,
		models.JobStatusPending,
	)
	if err != nil {
		return persistence.NewJobError("ClaimJob", jobID, err)
	}

	claimed, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError("ClaimJob", jobID, err)
	}

	if claimed == 1 {
		return nil
	}

	exists, err := s.jobExists(ctx, jobID)
	if err != nil {
		return persistence.NewJobError("ClaimJob", jobID, err)
	}

	if !exists {
		return persistence.NewJobError("ClaimJob", jobID, persistence.ErrJobNotFound)
	}

	return persistence.NewJobError("ClaimJob", jobID, persistence.ErrJobAlreadyClaimed)
}

func (s *Store) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status models.JobStatus,
	update persistence.JobUpdate,
) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = $2,
			error_message = COALESCE(NULLIF($3, ''), error_message),
			completed_at = COALESCE($4, completed_at)
		WHERE id = $1 AND status = ANY($5)`,
		jobID,
		status,
		update.Error,
		update.CompletedAt,
		pq.Array(transitionSources(status)),
	)
	if err != nil {
		return persistence.NewJobError("UpdateJobStatus", jobID, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError("UpdateJobStatus", jobID, err)
	}

	if updated == 1 {
		return nil
	}

	var current models.JobStatus

	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewJobError("UpdateJobStatus", jobID, persistence.ErrJobNotFound)
	}

	if err != nil {
		return persistence.NewJobError("UpdateJobStatus", jobID, err)
	}

	err = current.CheckTransition(status)
	if err == nil {
		err = fmt.Errorf("%w: job %s changed concurrently", models.ErrInvalidTransition, jobID)
	}

	return persistence.NewJobError("UpdateJobStatus", jobID, err)
}

// transitionSources lists the statuses a job may move to next from.
func transitionSources(next models.JobStatus) []string {
	var sources []string

	for _, status := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusCompleted,
		models.JobStatusFailed,
	} {
		if status.CanTransitionTo(next) {
			sources = append(sources, string(status))
		}
	}

	return sources
}

func (s *Store) UpdateStepStatus(
	ctx context.Context,
	jobID, stepID string,
	status models.StepStatus,
	update persistence.StepUpdate,
) error {
	input, err := marshalNullable(update.Input)
	if err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, err)
	}

	output, err := marshalNullable(update.Output)
	if err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE job_steps SET
			status = $3,
			input = COALESCE($4::jsonb, input),
			output = COALESCE($5::jsonb, output),
			error_message = COALESCE(NULLIF($6, ''), error_message),
			started_at = COALESCE($7, started_at),
			completed_at = COALESCE($8, completed_at)
		WHERE job_id = $1 AND id = $2`,
		jobID,
		stepID,
		status,
		input,
		output,
		update.Error,
		update.StartedAt,
		update.CompletedAt,
	)
	if err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, err)
	}

	if updated == 1 {
		return nil
	}

	exists, err := s.jobExists(ctx, jobID)
	if err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, err)
	}

	if !exists {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, persistence.ErrJobNotFound)
	}

	return persistence.NewStepError("UpdateStepStatus", jobID, stepID, persistence.ErrStepNotFound)
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewJobError("GetJob", jobID, persistence.ErrJobNotFound)
	}

	if err != nil {
		return nil, persistence.NewJobError("GetJob", jobID, fmt.Errorf("failed to scan job: %w", err))
	}

	job.Steps, err = s.stepsByJob(ctx, jobID)
	if err != nil {
		return nil, persistence.NewJobError("GetJob", jobID, err)
	}

	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE $1::text = '' OR status = $1::text
		ORDER BY created_at, id`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var (
		jobs []*models.Job
		ids  []string
	)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		job.Steps = []*models.Step{}
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	if len(jobs) == 0 {
		return []*models.Job{}, nil
	}

	steps, err := s.stepsByJobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if jobSteps, ok := steps[job.ID]; ok {
			job.Steps = jobSteps
		}
	}

	return jobs, nil
}

func (s *Store) jobExists(ctx context.Context, jobID string) (bool, error) {
	var exists bool

	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check job existence: %w", err)
	}

	return exists, nil
}

func (s *Store) stepsByJob(ctx context.Context, jobID string) ([]*models.Step, error) {
	steps, err := s.stepsByJobs(ctx, []string{jobID})
	if err != nil {
		return nil, err
	}

	if jobSteps, ok := steps[jobID]; ok {
		return jobSteps, nil
	}

	return []*models.Step{}, nil
}

func (s *Store) stepsByJobs(ctx context.Context, jobIDs []string) (map[string][]*models.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM job_steps
		WHERE job_id = ANY($1::text[])
		ORDER BY job_id, position`,
		pq.Array(jobIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	steps := make(map[string][]*models.Step, len(jobIDs))

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		steps[step.JobID] = append(steps[step.JobID], step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}

	return steps, nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job         models.Job
		input       []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Status,
		&input,
		&job.Error,
		&job.FirstStepID,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Input, err = unmarshalNullable(input)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job input: %w", err)
	}

	job.CreatedAt = job.CreatedAt.UTC()
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)

	return &job, nil
}

func scanStep(row rowScanner) (*models.Step, error) {
	var (
		step        models.Step
		input       []byte
		output      []byte
		config      []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
		nextStepID  sql.NullString
	)

	err := row.Scan(
		&step.JobID,
		&step.ID,
		&step.Position,
		&step.Name,
		&step.Type,
		&step.Status,
		&input,
		&output,
		&step.Error,
		&startedAt,
		&completedAt,
		&nextStepID,
		&config,
	)
	if err != nil {
		return nil, err
	}

	step.Input, err = unmarshalNullable(input)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal step input: %w", err)
	}

	step.Output, err = unmarshalNullable(output)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
	}

	err = json.Unmarshal(config, &step.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal step config: %w", err)
	}

	if nextStepID.Valid {
		next := nextStepID.String
		step.NextStepID = &next
	}

	step.StartedAt = timePtr(startedAt)
	step.CompletedAt = timePtr(completedAt)

	return &step, nil
}

// marshalNullable encodes v for a JSONB column, mapping nil to SQL NULL.
func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	return string(data), nil
}

func unmarshalNullable(data []byte) (any, error) {
	if data == nil {
		return nil, nil
	}

	var v any

	err := json.Unmarshal(data, &v)
	if err != nil {
		return nil, err
	}

	return v, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	utc := t.Time.UTC()

	return &utc
}
