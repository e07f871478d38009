package models

import "time"

// JobPriority orders jobs within the in-memory queue.
type JobPriority string

const (
	JobPriorityLow      JobPriority = "low"
	JobPriorityNormal   JobPriority = "normal"
	JobPriorityHigh     JobPriority = "high"
	JobPriorityCritical JobPriority = "critical"
)

// Rank returns the numeric rank of a priority; higher runs first. Unknown
// priorities rank as normal.
func (p JobPriority) Rank() int {
	switch p {
	case JobPriorityCritical:
		return 3
	case JobPriorityHigh:
		return 2
	case JobPriorityLow:
		return 0
	default:
		return 1
	}
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// DefaultJobTimeout bounds a single job execution attempt.
const DefaultJobTimeout = 5 * time.Minute

// Job is one unit of deferred workflow work. Jobs scheduled beyond the
// queue's in-memory horizon exist only as durable records until a scheduling
// pass claims them.
type Job struct {
	ID            string           `json:"id"`
	WorkflowID    string           `json:"workflow_id"`
	PatientID     string           `json:"patient_id"`
	AppointmentID string           `json:"appointment_id,omitempty"`
	Context       ExecutionContext `json:"context"`

	Priority   JobPriority   `json:"priority"`
	Status     JobStatus     `json:"status"`
	RetryCount int           `json:"retry_count"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout"`

	CreatedAt    time.Time  `json:"created_at"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`

	Tags      []string `json:"tags,omitempty"`
	LastError string   `json:"last_error,omitempty"`
}

// Due reports whether the job is eligible to run at the given instant.
func (j *Job) Due(now time.Time) bool {
	return j.ScheduledFor == nil || !j.ScheduledFor.After(now)
}
