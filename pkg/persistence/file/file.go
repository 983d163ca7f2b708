// Package file provides a file-based job store: one JSON document per job and per step.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/goccy/go-json"
)

const (
	dirMode  = 0o750
	fileMode = 0o600
)

// Store implements persistence.Store on the local file system. Layout:
//
//	<root>/jobs/<job id>.json
//	<root>/jobs/<job id>/steps/<step id>.json
//
// A process-wide lock serializes writers, so the store supports a single worker process.
type Store struct {
	root string
	mu   sync.RWMutex
}

// NewStore creates a store rooted at root, accepting an optional file:// prefix.
func NewStore(root string) (*Store, error) {
	cleanRoot := strings.TrimPrefix(root, "file://")

	err := os.MkdirAll(filepath.Join(cleanRoot, "jobs"), dirMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}

	return &Store{root: cleanRoot}, nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (s *Store) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks the root directory still exists.
func (s *Store) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.jobsDir()); err != nil {
		return fmt.Errorf("file store unavailable: %w", err)
	}

	return nil
}

func (s *Store) CreateJob(_ context.Context, job *models.Job) error {
	if err := persistence.ValidateJobIDs(job); err != nil {
		return persistence.NewJobError("CreateJob", job.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.jobPath(job.ID)); err == nil {
		return persistence.NewJobError("CreateJob", job.ID, persistence.ErrJobAlreadyExists)
	}

	for _, step := range job.Steps {
		record := *step
		record.JobID = job.ID

		if err := s.writeJSON(s.stepPath(job.ID, step.ID), &record); err != nil {
			return persistence.NewStepError("CreateJob", job.ID, step.ID, err)
		}
	}

	// The job document is written last: its presence marks the job as created.
	if err := s.writeJob(job); err != nil {
		return persistence.NewJobError("CreateJob", job.ID, err)
	}

	return nil
}

func (s *Store) FindNextPending(_ context.Context, exclude []string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.readJobs(models.JobStatusPending)
	if err != nil {
		return nil, err
	}

	skip := persistence.Excluded(exclude)

	for _, job := range jobs {
		if _, excluded := skip[job.ID]; excluded {
			continue
		}

		job.Steps, err = s.readSteps(job.ID)
		if err != nil {
			return nil, persistence.NewJobError("FindNextPending", job.ID, err)
		}

		return job, nil
	}

	return nil, persistence.ErrNoPendingJob
}

func (s *Store) ClaimJob(_ context.Context, jobID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.readJob(jobID)
	if err != nil {
		return persistence.NewJobError("ClaimJob", jobID, err)
	}

	if job.Status != models.JobStatusPending {
		return persistence.NewJobError("ClaimJob", jobID, persistence.ErrJobAlreadyClaimed)
	}

	job.Status = models.JobStatusRunning
	job.StartedAt = &startedAt

	if err := s.writeJob(job); err != nil {
		return persistence.NewJobError("ClaimJob", jobID, err)
	}

	return nil
}

func (s *Store) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status models.JobStatus,
	update persistence.JobUpdate,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.readJob(jobID)
	if err != nil {
		return persistence.NewJobError("UpdateJobStatus", jobID, err)
	}

	if err := persistence.ApplyJobUpdate(job, status, update); err != nil {
		return persistence.NewJobError("UpdateJobStatus", jobID, err)
	}

	if err := s.writeJob(job); err != nil {
		return persistence.NewJobError("UpdateJobStatus", jobID, err)
	}

	return nil
}

func (s *Store) UpdateStepStatus(
	_ context.Context,
	jobID, stepID string,
	status models.StepStatus,
	update persistence.StepUpdate,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readJob(jobID); err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, err)
	}

	if err := persistence.ValidateID(stepID); err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, persistence.ErrStepNotFound)
	}

	var step models.Step

	err := s.readJSON(s.stepPath(jobID, stepID), &step)
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, persistence.ErrStepNotFound)
	}

	if err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, err)
	}

	persistence.ApplyStepUpdate(&step, status, update)

	if err := s.writeJSON(s.stepPath(jobID, stepID), &step); err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, err)
	}

	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, err := s.readJob(jobID)
	if err != nil {
		return nil, persistence.NewJobError("GetJob", jobID, err)
	}

	job.Steps, err = s.readSteps(jobID)
	if err != nil {
		return nil, persistence.NewJobError("GetJob", jobID, err)
	}

	return job, nil
}

func (s *Store) ListJobs(_ context.Context, status models.JobStatus) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.readJobs(status)
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		job.Steps, err = s.readSteps(job.ID)
		if err != nil {
			return nil, persistence.NewJobError("ListJobs", job.ID, err)
		}
	}

	return jobs, nil
}

func (s *Store) jobsDir() string {
	return filepath.Join(s.root, "jobs")
}

func (s *Store) jobPath(jobID string) string {
	return filepath.Join(s.jobsDir(), jobID+".json")
}

func (s *Store) stepsDir(jobID string) string {
	return filepath.Join(s.jobsDir(), jobID, "steps")
}

func (s *Store) stepPath(jobID, stepID string) string {
	return filepath.Join(s.stepsDir(jobID), stepID+".json")
}

func (s *Store) readJob(jobID string) (*models.Job, error) {
	if err := persistence.ValidateID(jobID); err != nil {
		return nil, persistence.ErrJobNotFound
	}

	var job models.Job

	err := s.readJSON(s.jobPath(jobID), &job)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.ErrJobNotFound
	}

	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (s *Store) writeJob(job *models.Job) error {
	record := *job
	record.Steps = nil

	return s.writeJSON(s.jobPath(job.ID), &record)
}

// readJobs loads job documents without steps, filtered by status and sorted oldest first.
func (s *Store) readJobs(status models.JobStatus) ([]*models.Job, error) {
	entries, err := os.ReadDir(s.jobsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	jobs := make([]*models.Job, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		job, err := s.readJob(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		if status == "" || job.Status == status {
			jobs = append(jobs, job)
		}
	}

	persistence.SortJobs(jobs)

	return jobs, nil
}

func (s *Store) readSteps(jobID string) ([]*models.Step, error) {
	entries, err := os.ReadDir(s.stepsDir(jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return []*models.Step{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read steps directory: %w", err)
	}

	steps := make([]*models.Step, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var step models.Step
		if err := s.readJSON(filepath.Join(s.stepsDir(jobID), entry.Name()), &step); err != nil {
			return nil, err
		}

		steps = append(steps, &step)
	}

	persistence.SortSteps(steps)

	return slices.Clip(steps), nil
}

func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- ids are validated before paths are built
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}

	return nil
}

// writeJSON replaces path atomically through a temporary file in the same directory.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to chmod %s: %w", filepath.Base(path), err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	return nil
}
