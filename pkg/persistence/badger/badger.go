// Package badger provides an embedded job store on Badger. Claims run in serializable
// read-write transactions, so concurrent workers inside one process never double-claim.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/goccy/go-json"
)

const (
	jobPrefix     = "job:"
	stepPrefix    = "step:"
	pendingPrefix = "pending:"
	maxTxRetries  = 16
)

var errTxRetriesExhausted = errors.New("badger transaction retries exhausted")

// Store implements persistence.Store on a Badger database.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewStore opens the database at path, accepting an optional badger:// prefix.
// An empty path or ":memory:" opens an in-memory database.
func NewStore(logger *slog.Logger, path string) (*Store, error) {
	logger = logger.With("module", "badger_store")
	dir := strings.TrimPrefix(path, "badger://")

	opts := badger.DefaultOptions(dir)
	if dir == "" || dir == ":memory:" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	opts = opts.WithLogger(&badgerLogger{logger: logger}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close(_ context.Context) error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	return nil
}

// HealthCheck reports whether the database is still open.
func (s *Store) HealthCheck(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}

	return nil
}

func jobKey(jobID string) []byte {
	return []byte(jobPrefix + jobID)
}

func stepKey(jobID, stepID string) []byte {
	return []byte(stepPrefix + jobID + ":" + stepID)
}

func stepsPrefix(jobID string) []byte {
	return []byte(stepPrefix + jobID + ":")
}

// pendingKey orders the pending index by creation time, then job ID.
func pendingKey(job *models.Job) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", pendingPrefix, job.CreatedAt.UnixMicro(), job.ID))
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for range maxTxRetries {
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}

		return err
	}

	return errTxRetriesExhausted
}

func (s *Store) CreateJob(_ context.Context, job *models.Job) error {
	if err := persistence.ValidateJobIDs(job); err != nil {
		return persistence.NewJobError("CreateJob", job.ID, err)
	}

	err := s.update(func(txn *badger.Txn) error {
		_, err := txn.Get(jobKey(job.ID))
		if err == nil {
			return persistence.ErrJobAlreadyExists
		}

		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		for _, step := range job.Steps {
			record := *step
			record.JobID = job.ID

			if err := setJSON(txn, stepKey(job.ID, step.ID), &record); err != nil {
				return err
			}
		}

		return writeJob(txn, job, nil)
	})
	if err != nil {
		return persistence.NewJobError("CreateJob", job.ID, err)
	}

	return nil
}

func (s *Store) FindNextPending(_ context.Context, exclude []string) (*models.Job, error) {
	skip := persistence.Excluded(exclude)

	var job *models.Job

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(pendingPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			jobID := key[strings.LastIndexByte(key, ':')+1:]

			if _, excluded := skip[jobID]; excluded {
				continue
			}

			found, err := readJob(txn, jobID)
			if err != nil {
				return err
			}

			found.Steps, err = readSteps(txn, jobID)
			if err != nil {
				return err
			}

			job = found

			return nil
		}

		return persistence.ErrNoPendingJob
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}

func (s *Store) ClaimJob(_ context.Context, jobID string, startedAt time.Time) error {
	err := s.update(func(txn *badger.Txn) error {
		job, err := readJob(txn, jobID)
		if err != nil {
			return err
		}

		if job.Status != models.JobStatusPending {
			return persistence.ErrJobAlreadyClaimed
		}

		previous := *job
		job.Status = models.JobStatusRunning
		job.StartedAt = &startedAt

		return writeJob(txn, job, &previous)
	})
	if err != nil {
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
	err := s.update(func(txn *badger.Txn) error {
		job, err := readJob(txn, jobID)
		if err != nil {
			return err
		}

		previous := *job

		if err := persistence.ApplyJobUpdate(job, status, update); err != nil {
			return err
		}

		return writeJob(txn, job, &previous)
	})
	if err != nil {
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
	err := s.update(func(txn *badger.Txn) error {
		if _, err := readJob(txn, jobID); err != nil {
			return err
		}

		var step models.Step

		err := getJSON(txn, stepKey(jobID, stepID), &step)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return persistence.ErrStepNotFound
		}

		if err != nil {
			return err
		}

		persistence.ApplyStepUpdate(&step, status, update)

		return setJSON(txn, stepKey(jobID, stepID), &step)
	})
	if err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, err)
	}

	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	var job *models.Job

	err := s.db.View(func(txn *badger.Txn) error {
		found, err := readJob(txn, jobID)
		if err != nil {
			return err
		}

		found.Steps, err = readSteps(txn, jobID)
		if err != nil {
			return err
		}

		job = found

		return nil
	})
	if err != nil {
		return nil, persistence.NewJobError("GetJob", jobID, err)
	}

	return job, nil
}

func (s *Store) ListJobs(_ context.Context, status models.JobStatus) ([]*models.Job, error) {
	jobs := []*models.Job{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(jobPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job models.Job

			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal job: %w", err)
			}

			if status != "" && job.Status != status {
				continue
			}

			job.Steps, err = readSteps(txn, job.ID)
			if err != nil {
				return err
			}

			jobs = append(jobs, &job)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	persistence.SortJobs(jobs)

	return jobs, nil
}

func readJob(txn *badger.Txn, jobID string) (*models.Job, error) {
	var job models.Job

	err := getJSON(txn, jobKey(jobID), &job)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, persistence.ErrJobNotFound
	}

	if err != nil {
		return nil, err
	}

	return &job, nil
}

// writeJob stores the job document and moves its pending index entry to match its status.
func writeJob(txn *badger.Txn, job *models.Job, previous *models.Job) error {
	if previous != nil && previous.Status == models.JobStatusPending {
		if err := txn.Delete(pendingKey(previous)); err != nil {
			return err
		}
	}

	if job.Status == models.JobStatusPending {
		if err := txn.Set(pendingKey(job), []byte(job.ID)); err != nil {
			return err
		}
	}

	record := *job
	record.Steps = nil

	return setJSON(txn, jobKey(job.ID), &record)
}

func readSteps(txn *badger.Txn, jobID string) ([]*models.Step, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	steps := []*models.Step{}

	prefix := stepsPrefix(jobID)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var step models.Step

		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &step)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step: %w", err)
		}

		steps = append(steps, &step)
	}

	persistence.SortSteps(steps)

	return steps, nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	return txn.Set(key, data)
}

// badgerLogger routes Badger's printf-style logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
