// Package persistencetest holds the behavioural suite every persistence.Store must pass.
package persistencetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) persistence.Store

// NewJob builds a pending two-step job created at createdAt.
func NewJob(id string, createdAt time.Time) *models.Job {
	next := "double"

	return &models.Job{
		ID:        id,
		Name:      "job " + id,
		Status:    models.JobStatusPending,
		Input:     map[string]any{"value": 21.0},
		CreatedAt: createdAt.UTC().Truncate(time.Millisecond),
		Steps: []*models.Step{
			{
				ID:         "fetch",
				JobID:      id,
				Position:   0,
				Type:       models.StepTypeAPI,
				Status:     models.StepStatusPending,
				NextStepID: &next,
				Config:     map[string]any{"url": "https://example.com", "method": "GET"},
			},
			{
				ID:       "double",
				JobID:    id,
				Position: 1,
				Type:     models.StepTypeTransform,
				Status:   models.StepStatusPending,
				Config:   map[string]any{"transform": `{"value": {{ mul .value 2 }}}`},
			},
		},
	}
}

// Run executes the store suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.CreateJob(ctx, NewJob("job-1", base)))

		job, err := store.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, "job job-1", job.Name)
		assert.Equal(t, models.JobStatusPending, job.Status)
		assert.Equal(t, map[string]any{"value": 21.0}, job.Input)
		assert.WithinDuration(t, base, job.CreatedAt, time.Millisecond)
		assert.Nil(t, job.StartedAt)

		require.Len(t, job.Steps, 2)
		assert.Equal(t, "fetch", job.Steps[0].ID)
		assert.Equal(t, "double", job.Steps[1].ID)
		assert.Equal(t, "job-1", job.Steps[1].JobID)
		assert.Equal(t, models.StepTypeAPI, job.Steps[0].Type)
		require.NotNil(t, job.Steps[0].NextStepID)
		assert.Equal(t, "double", *job.Steps[0].NextStepID)
		assert.Equal(t, "GET", job.Steps[0].Config["method"])
		assert.Equal(t, models.StepStatusPending, job.Steps[1].Status)
	})

	t.Run("create duplicate", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.CreateJob(ctx, NewJob("job-1", base)))

		err := store.CreateJob(ctx, NewJob("job-1", base))
		assert.ErrorIs(t, err, persistence.ErrJobAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, persistence.ErrJobNotFound)
	})

	t.Run("find next pending is oldest first", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.CreateJob(ctx, NewJob("job-b", base.Add(2*time.Second))))
		require.NoError(t, store.CreateJob(ctx, NewJob("job-a", base.Add(time.Second))))
		require.NoError(t, store.CreateJob(ctx, NewJob("job-c", base.Add(3*time.Second))))

		job, err := store.FindNextPending(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "job-a", job.ID)
		assert.Len(t, job.Steps, 2)

		job, err = store.FindNextPending(ctx, []string{"job-a"})
		require.NoError(t, err)
		assert.Equal(t, "job-b", job.ID)

		require.NoError(t, store.ClaimJob(ctx, "job-b", time.Now().UTC()))

		job, err = store.FindNextPending(ctx, []string{"job-a"})
		require.NoError(t, err)
		assert.Equal(t, "job-c", job.ID)

		_, err = store.FindNextPending(ctx, []string{"job-a", "job-c"})
		assert.ErrorIs(t, err, persistence.ErrNoPendingJob)
	})

	t.Run("find next pending on empty store", func(t *testing.T) {
		store := newStore(t)

		_, err := store.FindNextPending(ctx, nil)
		assert.ErrorIs(t, err, persistence.ErrNoPendingJob)
	})

	t.Run("claim job", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.CreateJob(ctx, NewJob("job-1", base)))

		startedAt := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.ClaimJob(ctx, "job-1", startedAt))

		job, err := store.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusRunning, job.Status)
		require.NotNil(t, job.StartedAt)
		assert.WithinDuration(t, startedAt, *job.StartedAt, time.Millisecond)

		err = store.ClaimJob(ctx, "job-1", time.Now().UTC())
		assert.ErrorIs(t, err, persistence.ErrJobAlreadyClaimed)

		err = store.ClaimJob(ctx, "missing", time.Now().UTC())
		assert.ErrorIs(t, err, persistence.ErrJobNotFound)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.CreateJob(ctx, NewJob("job-1", base)))

		const workers = 8

		var (
			wg      sync.WaitGroup
			winners atomic.Int32
		)

		for range workers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				err := store.ClaimJob(ctx, "job-1", time.Now().UTC())
				if err == nil {
					winners.Add(1)

					return
				}

				assert.ErrorIs(t, err, persistence.ErrJobAlreadyClaimed)
			}()
		}

		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})

	t.Run("update job status", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.CreateJob(ctx, NewJob("job-1", base)))
		require.NoError(t, store.ClaimJob(ctx, "job-1", time.Now().UTC()))

		completedAt := time.Now().UTC().Truncate(time.Millisecond)
		err := store.UpdateJobStatus(ctx, "job-1", models.JobStatusFailed, persistence.JobUpdate{
			Error:       "boom",
			CompletedAt: &completedAt,
		})
		require.NoError(t, err)

		job, err := store.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, job.Status)
		assert.Equal(t, "boom", job.Error)
		require.NotNil(t, job.CompletedAt)
		assert.WithinDuration(t, completedAt, *job.CompletedAt, time.Millisecond)
		require.NotNil(t, job.StartedAt)

		err = store.UpdateJobStatus(ctx, "missing", models.JobStatusFailed, persistence.JobUpdate{})
		assert.ErrorIs(t, err, persistence.ErrJobNotFound)
	})

	t.Run("terminal job status is final", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.CreateJob(ctx, NewJob("job-1", base)))

		err := store.UpdateJobStatus(ctx, "job-1", models.JobStatusCompleted, persistence.JobUpdate{})
		require.ErrorIs(t, err, models.ErrInvalidTransition)

		require.NoError(t, store.ClaimJob(ctx, "job-1", time.Now().UTC()))

		completedAt := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.UpdateJobStatus(ctx, "job-1", models.JobStatusFailed, persistence.JobUpdate{
			Error:       "abandoned",
			CompletedAt: &completedAt,
		}))

		err = store.UpdateJobStatus(ctx, "job-1", models.JobStatusCompleted, persistence.JobUpdate{
			CompletedAt: &completedAt,
		})
		require.ErrorIs(t, err, models.ErrInvalidTransition)

		job, err := store.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, job.Status)
		assert.Equal(t, "abandoned", job.Error)
	})

	t.Run("update step status leaves siblings alone", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.CreateJob(ctx, NewJob("job-1", base)))

		startedAt := time.Now().UTC().Truncate(time.Millisecond)
		err := store.UpdateStepStatus(ctx, "job-1", "fetch", models.StepStatusRunning, persistence.StepUpdate{
			Input:     map[string]any{"value": 21.0},
			StartedAt: &startedAt,
		})
		require.NoError(t, err)

		completedAt := startedAt.Add(time.Second)
		err = store.UpdateStepStatus(ctx, "job-1", "fetch", models.StepStatusCompleted, persistence.StepUpdate{
			Output:      map[string]any{"ok": true},
			CompletedAt: &completedAt,
		})
		require.NoError(t, err)

		job, err := store.GetJob(ctx, "job-1")
		require.NoError(t, err)

		fetch := job.Steps[0]
		assert.Equal(t, models.StepStatusCompleted, fetch.Status)
		assert.Equal(t, map[string]any{"value": 21.0}, fetch.Input)
		assert.Equal(t, map[string]any{"ok": true}, fetch.Output)
		require.NotNil(t, fetch.StartedAt)
		require.NotNil(t, fetch.CompletedAt)
		assert.WithinDuration(t, completedAt, *fetch.CompletedAt, time.Millisecond)

		double := job.Steps[1]
		assert.Equal(t, models.StepStatusPending, double.Status)
		assert.Nil(t, double.Output)
		assert.Equal(t, models.JobStatusPending, job.Status)

		err = store.UpdateStepStatus(ctx, "job-1", "ghost", models.StepStatusFailed, persistence.StepUpdate{})
		assert.ErrorIs(t, err, persistence.ErrStepNotFound)

		err = store.UpdateStepStatus(ctx, "missing", "fetch", models.StepStatusFailed, persistence.StepUpdate{})
		assert.ErrorIs(t, err, persistence.ErrJobNotFound)
	})

	t.Run("list jobs", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.CreateJob(ctx, NewJob("job-2", base.Add(time.Second))))
		require.NoError(t, store.CreateJob(ctx, NewJob("job-1", base)))
		require.NoError(t, store.CreateJob(ctx, NewJob("job-3", base.Add(2*time.Second))))
		require.NoError(t, store.ClaimJob(ctx, "job-3", time.Now().UTC()))

		all, err := store.ListJobs(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "job-1", all[0].ID)
		assert.Equal(t, "job-2", all[1].ID)
		assert.Equal(t, "job-3", all[2].ID)

		running, err := store.ListJobs(ctx, models.JobStatusRunning)
		require.NoError(t, err)
		require.Len(t, running, 1)
		assert.Equal(t, "job-3", running[0].ID)
		assert.Len(t, running[0].Steps, 2)

		failed, err := store.ListJobs(ctx, models.JobStatusFailed)
		require.NoError(t, err)
		assert.Empty(t, failed)
	})

	t.Run("health check", func(t *testing.T) {
		store := newStore(t)

		assert.NoError(t, store.HealthCheck(ctx))
	})
}
