// Package redis provides a Redis job store. Jobs and steps are JSON documents; a sorted
// set scored by creation time indexes pending jobs, and claims run in WATCH transactions.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "stepflow"
	maxTxRetries  = 16
	pendingPage   = 100
)

var errTxRetriesExhausted = errors.New("redis transaction retries exhausted")

// Store implements persistence.Store on Redis.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
	prefix string
}

// Option customizes a Store.
type Option func(*Store)

// WithPrefix namespaces every key under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// NewStore connects to the redis:// URL and verifies the connection.
func NewStore(ctx context.Context, logger *slog.Logger, redisURL string, opts ...Option) (*Store, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &Store{
		client: client,
		logger: logger.With("module", "redis_store"),
		prefix: defaultPrefix,
	}

	for _, opt := range opts {
		opt(store)
	}

	store.logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return store, nil
}

// Close closes the client.
func (s *Store) Close(_ context.Context) error {
	err := s.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

// HealthCheck pings the server.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (s *Store) jobKey(jobID string) string {
	return s.prefix + ":job:" + jobID
}

func (s *Store) stepsKey(jobID string) string {
	return s.prefix + ":job:" + jobID + ":steps"
}

func (s *Store) pendingKey() string {
	return s.prefix + ":pending"
}

func (s *Store) jobsKey() string {
	return s.prefix + ":jobs"
}

func score(createdAt time.Time) float64 {
	return float64(createdAt.UnixMicro())
}

// watch runs fn in an optimistic transaction over keys, retrying when a watched key changes.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		return err
	}

	return errTxRetriesExhausted
}

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	if err := persistence.ValidateJobIDs(job); err != nil {
		return persistence.NewJobError("CreateJob", job.ID, err)
	}

	record := *job
	record.Steps = nil

	jobData, err := json.Marshal(&record)
	if err != nil {
		return persistence.NewJobError("CreateJob", job.ID, fmt.Errorf("failed to marshal job: %w", err))
	}

	steps := make(map[string]any, len(job.Steps))

	for _, step := range job.Steps {
		stepRecord := *step
		stepRecord.JobID = job.ID

		stepData, err := json.Marshal(&stepRecord)
		if err != nil {
			return persistence.NewStepError("CreateJob", job.ID, step.ID, fmt.Errorf("failed to marshal step: %w", err))
		}

		steps[step.ID] = string(stepData)
	}

	err = s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, s.jobKey(job.ID)).Result()
		if err != nil {
			return err
		}

		if exists > 0 {
			return persistence.ErrJobAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.jobKey(job.ID), jobData, 0)

			if len(steps) > 0 {
				pipe.HSet(ctx, s.stepsKey(job.ID), steps)
			}

			member := redis.Z{Score: score(job.CreatedAt), Member: job.ID}
			pipe.ZAdd(ctx, s.jobsKey(), member)

			if job.Status == models.JobStatusPending {
				pipe.ZAdd(ctx, s.pendingKey(), member)
			}

			return nil
		})

		return err
	}, s.jobKey(job.ID))
	if err != nil {
		return persistence.NewJobError("CreateJob", job.ID, err)
	}

	return nil
}

func (s *Store) FindNextPending(ctx context.Context, exclude []string) (*models.Job, error) {
	skip := persistence.Excluded(exclude)

	for start := int64(0); ; start += pendingPage {
		ids, err := s.client.ZRange(ctx, s.pendingKey(), start, start+pendingPage-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read pending index: %w", err)
		}

		for _, id := range ids {
			if _, excluded := skip[id]; excluded {
				continue
			}

			job, err := s.GetJob(ctx, id)
			if persistence.IsJobNotFound(err) {
				continue
			}

			if err != nil {
				return nil, err
			}

			if job.Status != models.JobStatusPending {
				continue
			}

			return job, nil
		}

		if len(ids) < pendingPage {
			return nil, persistence.ErrNoPendingJob
		}
	}
}

func (s *Store) ClaimJob(ctx context.Context, jobID string, startedAt time.Time) error {
	err := s.watch(ctx, func(tx *redis.Tx) error {
		job, err := s.readJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if job.Status != models.JobStatusPending {
			return persistence.ErrJobAlreadyClaimed
		}

		job.Status = models.JobStatusRunning
		job.StartedAt = &startedAt

		return s.writeJob(ctx, tx, job)
	}, s.jobKey(jobID))
	if err != nil {
		return persistence.NewJobError("ClaimJob", jobID, err)
	}

	return nil
}

func (s *Store) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status models.JobStatus,
	update persistence.JobUpdate,
) error {
	err := s.watch(ctx, func(tx *redis.Tx) error {
		job, err := s.readJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if err := persistence.ApplyJobUpdate(job, status, update); err != nil {
			return err
		}

		return s.writeJob(ctx, tx, job)
	}, s.jobKey(jobID))
	if err != nil {
		return persistence.NewJobError("UpdateJobStatus", jobID, err)
	}

	return nil
}

func (s *Store) UpdateStepStatus(
	ctx context.Context,
	jobID, stepID string,
	status models.StepStatus,
	update persistence.StepUpdate,
) error {
	err := s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, s.jobKey(jobID)).Result()
		if err != nil {
			return err
		}

		if exists == 0 {
			return persistence.ErrJobNotFound
		}

		data, err := tx.HGet(ctx, s.stepsKey(jobID), stepID).Bytes()
		if errors.Is(err, redis.Nil) {
			return persistence.ErrStepNotFound
		}

		if err != nil {
			return err
		}

		var step models.Step
		if err := json.Unmarshal(data, &step); err != nil {
			return fmt.Errorf("failed to unmarshal step: %w", err)
		}

		persistence.ApplyStepUpdate(&step, status, update)

		stepData, err := json.Marshal(&step)
		if err != nil {
			return fmt.Errorf("failed to marshal step: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.stepsKey(jobID), stepID, stepData)

			return nil
		})

		return err
	}, s.jobKey(jobID), s.stepsKey(jobID))
	if err != nil {
		return persistence.NewStepError("UpdateStepStatus", jobID, stepID, err)
	}

	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.readJob(ctx, s.client, jobID)
	if err != nil {
		return nil, persistence.NewJobError("GetJob", jobID, err)
	}

	job.Steps, err = s.readSteps(ctx, jobID)
	if err != nil {
		return nil, persistence.NewJobError("GetJob", jobID, err)
	}

	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	ids, err := s.client.ZRange(ctx, s.jobsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs index: %w", err)
	}

	jobs := make([]*models.Job, 0, len(ids))

	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if persistence.IsJobNotFound(err) {
			continue
		}

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

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) readJob(ctx context.Context, client getter, jobID string) (*models.Job, error) {
	data, err := client.Get(ctx, s.jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrJobNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// writeJob stores the job document and keeps the pending index in step with its status.
func (s *Store) writeJob(ctx context.Context, tx *redis.Tx, job *models.Job) error {
	record := *job
	record.Steps = nil

	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(job.ID), data, 0)

		if job.Status == models.JobStatusPending {
			pipe.ZAdd(ctx, s.pendingKey(), redis.Z{Score: score(job.CreatedAt), Member: job.ID})
		} else {
			pipe.ZRem(ctx, s.pendingKey(), job.ID)
		}

		return nil
	})

	return err
}

func (s *Store) readSteps(ctx context.Context, jobID string) ([]*models.Step, error) {
	values, err := s.client.HVals(ctx, s.stepsKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read steps: %w", err)
	}

	steps := make([]*models.Step, 0, len(values))

	for _, value := range values {
		var step models.Step
		if err := json.Unmarshal([]byte(value), &step); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step: %w", err)
		}

		steps = append(steps, &step)
	}

	persistence.SortSteps(steps)

	return steps, nil
}
