// Package events defines the lifecycle events published while jobs and
// workflow executions move through the engine.
package events

import (
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

type EventType string

// Topic is the single bus topic; consumers filter on the event_type
// metadata key.
const Topic = "cadence.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	JobEnqueuedEvent  EventType = "job.enqueued"
	JobStartedEvent   EventType = "job.started"
	JobCompletedEvent EventType = "job.completed"
	JobFailedEvent    EventType = "job.failed"
	JobRetriedEvent   EventType = "job.retried"

	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"

	NotificationSentEvent EventType = "notification.sent"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
	PatientID  string    `json:"patient_id,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

type JobEnqueued struct {
	BaseEvent

	JobID        string             `json:"job_id"`
	Priority     models.JobPriority `json:"priority"`
	ScheduledFor *time.Time         `json:"scheduled_for,omitempty"`
}

func (e JobEnqueued) GetType() EventType { return JobEnqueuedEvent }

type JobStarted struct {
	BaseEvent

	JobID      string `json:"job_id"`
	RetryCount int    `json:"retry_count"`
}

func (e JobStarted) GetType() EventType { return JobStartedEvent }

type JobCompleted struct {
	BaseEvent

	JobID    string        `json:"job_id"`
	Duration time.Duration `json:"duration"`
}

func (e JobCompleted) GetType() EventType { return JobCompletedEvent }

type JobFailed struct {
	BaseEvent

	JobID string `json:"job_id"`
	Error string `json:"error"`
}

func (e JobFailed) GetType() EventType { return JobFailedEvent }

type JobRetried struct {
	BaseEvent

	JobID      string        `json:"job_id"`
	RetryCount int           `json:"retry_count"`
	Backoff    time.Duration `json:"backoff"`
	Error      string        `json:"error"`
}

func (e JobRetried) GetType() EventType { return JobRetriedEvent }

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	TriggerType string `json:"trigger_type,omitempty"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionResumed struct {
	BaseEvent

	ExecutionID      string `json:"execution_id"`
	ResumeFromNodeID string `json:"resume_from_node_id"`
}

func (e ExecutionResumed) GetType() EventType { return ExecutionResumedEvent }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string        `json:"execution_id"`
	ExecutedNodes []string      `json:"executed_nodes,omitempty"`
	Duration      time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id,omitempty"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type NotificationSent struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	NodeID        string `json:"node_id"`
	AppointmentID string `json:"appointment_id,omitempty"`
	Channel       string `json:"channel"`
}

func (e NotificationSent) GetType() EventType { return NotificationSentEvent }
