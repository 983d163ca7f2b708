package mocks

import (
	"context"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of persistence.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateJob(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockStore) FindNextPending(ctx context.Context, exclude []string) (*models.Job, error) {
	args := m.Called(ctx, exclude)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *MockStore) ClaimJob(ctx context.Context, jobID string, startedAt time.Time) error {
	args := m.Called(ctx, jobID, startedAt)

	return args.Error(0)
}

func (m *MockStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status models.JobStatus,
	update persistence.JobUpdate,
) error {
	args := m.Called(ctx, jobID, status, update)

	return args.Error(0)
}

func (m *MockStore) UpdateStepStatus(
	ctx context.Context,
	jobID, stepID string,
	status models.StepStatus,
	update persistence.StepUpdate,
) error {
	args := m.Called(ctx, jobID, stepID, status, update)

	return args.Error(0)
}

func (m *MockStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *MockStore) ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Job), args.Error(1)
}

func (m *MockStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockStore) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

var _ persistence.Store = (*MockStore)(nil)
