package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	t.Parallel()

	base := NewBaseEvent(JobStartedEvent, "job-1", "worker-1")

	assert.NotEmpty(t, base.ID)
	assert.Equal(t, JobStartedEvent, base.Type)
	assert.Equal(t, "job-1", base.JobID)
	assert.Equal(t, "worker-1", base.WorkerID)
	assert.WithinDuration(t, time.Now().UTC(), base.Timestamp, time.Second)
}

func TestEvents_GetType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, JobStartedEvent, JobStarted{}.GetType())
	assert.Equal(t, JobCompletedEvent, JobCompleted{}.GetType())
	assert.Equal(t, JobFailedEvent, JobFailed{}.GetType())
	assert.Equal(t, StepCompletedEvent, StepCompleted{}.GetType())
	assert.Equal(t, StepFailedEvent, StepFailed{}.GetType())
}

func TestStepFailed_JSON(t *testing.T) {
	t.Parallel()

	event := StepFailed{
		BaseEvent: NewBaseEvent(StepFailedEvent, "job-1", ""),
		StepID:    "fetch",
		StepType:  "api",
		Error:     "invalid step configuration",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "step.failed", decoded["type"])
	assert.Equal(t, "job-1", decoded["job_id"])
	assert.Equal(t, "fetch", decoded["step_id"])
	assert.NotContains(t, decoded, "worker_id")
}
