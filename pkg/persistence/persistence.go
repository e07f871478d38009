// Package persistence defines the durable-store abstraction shared by the
// job queue, the execution engine, and the worker pool. The durable store is
// the single source of truth; all in-memory structures are caches over it.
package persistence

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// Persistence aggregates the repositories the engine depends on.
type Persistence interface {
	Jobs() JobRepository
	ExecutionStates() ExecutionStateRepository
	NotificationLog() NotificationLogRepository
	Workflows() WorkflowRepository
	Patients() PatientRepository
	Appointments() AppointmentRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// JobRepository stores jobs. ClaimDue is the concurrency-critical operation:
// it must atomically select due queued jobs and mark them processing so that
// overlapping scheduler invocations never double-claim.
type JobRepository interface {
	Save(ctx context.Context, job *models.Job) error
	ByID(ctx context.Context, id string) (*models.Job, error)

	// ClaimDue atomically claims up to limit jobs whose scheduled_for is at
	// or before now (or unset), transitioning them queued → processing.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)

	// MarkStatus transitions a job to the given status, recording the error
	// message for failed jobs.
	MarkStatus(ctx context.Context, id string, status models.JobStatus, lastError string) error

	// QueuedWithTag returns non-terminal jobs carrying the given tag, used
	// to suppress duplicate continuation jobs.
	QueuedWithTag(ctx context.Context, tag string) ([]*models.Job, error)

	// ReleaseOrphans requeues processing jobs whose claim is older than the
	// staleness cutoff, recovering work lost to a crashed worker.
	ReleaseOrphans(ctx context.Context, olderThan time.Time) (int, error)
}

// ExecutionStateRepository stores per-run checkpoints.
type ExecutionStateRepository interface {
	Save(ctx context.Context, state *models.ExecutionState) error
	ByID(ctx context.Context, executionID string) (*models.ExecutionState, error)

	// ActiveByWorkflowAndPatient returns the non-terminal state for the
	// pair, or ErrExecutionStateNotFound.
	ActiveByWorkflowAndPatient(ctx context.Context, workflowID, patientID string) (*models.ExecutionState, error)

	// PurgeTerminalBefore deletes completed/failed states last updated
	// before the cutoff, enforcing the retention window.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// NotificationLogRepository is the queryable execution log backing the
// idempotency check.
type NotificationLogRepository interface {
	Append(ctx context.Context, record *models.NotificationRecord) error

	// Exists reports whether a log entry is already recorded for the
	// (workflow, node, patient, appointment) tuple.
	Exists(ctx context.Context, workflowID, nodeID, patientID, appointmentID string) (bool, error)
}

// WorkflowRepository provides read/write access to workflow graphs.
type WorkflowRepository interface {
	Save(ctx context.Context, graph *models.WorkflowGraph) error
	ByID(ctx context.Context, id string) (*models.WorkflowGraph, error)
	List(ctx context.Context) ([]*models.WorkflowGraph, error)
}

// PatientRepository is the read-only patient provider.
type PatientRepository interface {
	ByID(ctx context.Context, id string) (*models.Patient, error)
}

// AppointmentRepository is the read-only appointment provider.
type AppointmentRepository interface {
	ByID(ctx context.Context, id string) (*models.Appointment, error)
}
