// Package events defines the job and step lifecycle notifications published while jobs run.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every lifecycle event.
const Topic = "stepflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	JobStartedEvent   EventType = "job.started"
	JobCompletedEvent EventType = "job.completed"
	JobFailedEvent    EventType = "job.failed"

	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id"`
	WorkerID  string    `json:"worker_id,omitempty"`
}

// NewBaseEvent stamps a new event of eventType for jobID.
func NewBaseEvent(eventType EventType, jobID, workerID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		JobID:     jobID,
		WorkerID:  workerID,
	}
}

type JobStarted struct {
	BaseEvent

	JobName     string `json:"job_name,omitempty"`
	FirstStepID string `json:"first_step_id"`
}

func (e JobStarted) GetType() EventType {
	return JobStartedEvent
}

type JobCompleted struct {
	BaseEvent

	StepsExecuted int           `json:"steps_executed"`
	Duration      time.Duration `json:"duration"`
}

func (e JobCompleted) GetType() EventType {
	return JobCompletedEvent
}

type JobFailed struct {
	BaseEvent

	StepID   string        `json:"step_id,omitempty"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (e JobFailed) GetType() EventType {
	return JobFailedEvent
}

type StepCompleted struct {
	BaseEvent

	StepID   string        `json:"step_id"`
	StepType string        `json:"step_type"`
	Output   any           `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	StepID   string        `json:"step_id"`
	StepType string        `json:"step_type"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}
