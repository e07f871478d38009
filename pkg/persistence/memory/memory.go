// Package memory implements the persistence interfaces in process memory.
// It mirrors the PostgreSQL claim semantics (atomic queued → processing
// transitions under a single lock) so that queue and engine tests exercise
// the same contract the production store provides.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// Persistence implements persistence.Persistence with in-memory maps.
type Persistence struct {
	jobs         *JobRepository
	states       *ExecutionStateRepository
	notification *NotificationLogRepository
	workflows    *WorkflowRepository
	patients     *PatientRepository
	appointments *AppointmentRepository
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		jobs:         &JobRepository{jobs: make(map[string]*models.Job)},
		states:       &ExecutionStateRepository{states: make(map[string]*models.ExecutionState)},
		notification: &NotificationLogRepository{seen: make(map[string]*models.NotificationRecord)},
		workflows:    &WorkflowRepository{workflows: make(map[string]*models.WorkflowGraph)},
		patients:     &PatientRepository{patients: make(map[string]*models.Patient)},
		appointments: &AppointmentRepository{appointments: make(map[string]*models.Appointment)},
	}
}

func (p *Persistence) Jobs() persistence.JobRepository { return p.jobs }

func (p *Persistence) ExecutionStates() persistence.ExecutionStateRepository { return p.states }

func (p *Persistence) NotificationLog() persistence.NotificationLogRepository {
	return p.notification
}

func (p *Persistence) Workflows() persistence.WorkflowRepository { return p.workflows }

func (p *Persistence) Patients() persistence.PatientRepository { return p.patients }

func (p *Persistence) Appointments() persistence.AppointmentRepository { return p.appointments }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

// SeedPatient registers a patient for lookups. Test helper.
func (p *Persistence) SeedPatient(patient *models.Patient) {
	p.patients.mu.Lock()
	defer p.patients.mu.Unlock()
	p.patients.patients[patient.ID] = patient
}

// SeedAppointment registers an appointment for lookups. Test helper.
func (p *Persistence) SeedAppointment(appointment *models.Appointment) {
	p.appointments.mu.Lock()
	defer p.appointments.mu.Unlock()
	p.appointments.appointments[appointment.ID] = appointment
}

// JobRepository is the in-memory job store.
type JobRepository struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func (r *JobRepository) Save(_ context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *job
	r.jobs[job.ID] = &copied

	return nil
}

func (r *JobRepository) ByID(_ context.Context, id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, persistence.ErrJobNotFound
	}

	copied := *job

	return &copied, nil
}

// ClaimDue selects due queued jobs ordered by priority then creation time and
// marks them processing, all under one lock. Concurrent claimers see disjoint
// result sets.
func (r *JobRepository) ClaimDue(_ context.Context, now time.Time, limit int) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*models.Job

	for _, job := range r.jobs {
		if job.Status == models.JobStatusQueued && job.Due(now) {
			due = append(due, job)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if ri, rj := due[i].Priority.Rank(), due[j].Priority.Rank(); ri != rj {
			return ri > rj
		}

		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*models.Job, 0, len(due))

	for _, job := range due {
		startedAt := now
		job.Status = models.JobStatusProcessing
		job.StartedAt = &startedAt

		copied := *job
		claimed = append(claimed, &copied)
	}

	return claimed, nil
}

func (r *JobRepository) MarkStatus(_ context.Context, id string, status models.JobStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return persistence.ErrJobNotFound
	}

	job.Status = status
	job.LastError = lastError

	if status.IsTerminal() {
		now := time.Now().UTC()
		job.FinishedAt = &now
	}

	return nil
}

func (r *JobRepository) QueuedWithTag(_ context.Context, tag string) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Job

	for _, job := range r.jobs {
		if job.Status.IsTerminal() {
			continue
		}

		for _, t := range job.Tags {
			if t == tag {
				copied := *job
				out = append(out, &copied)

				break
			}
		}
	}

	return out, nil
}

func (r *JobRepository) ReleaseOrphans(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0

	for _, job := range r.jobs {
		if job.Status == models.JobStatusProcessing && job.StartedAt != nil && job.StartedAt.Before(olderThan) {
			job.Status = models.JobStatusQueued
			job.StartedAt = nil
			released++
		}
	}

	return released, nil
}

// ExecutionStateRepository is the in-memory execution state store.
type ExecutionStateRepository struct {
	mu     sync.Mutex
	states map[string]*models.ExecutionState
}

func (r *ExecutionStateRepository) Save(_ context.Context, state *models.ExecutionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *state
	r.states[state.ExecutionID] = &copied

	return nil
}

func (r *ExecutionStateRepository) ByID(_ context.Context, executionID string) (*models.ExecutionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[executionID]
	if !ok {
		return nil, persistence.ErrExecutionStateNotFound
	}

	copied := *state

	return &copied, nil
}

func (r *ExecutionStateRepository) ActiveByWorkflowAndPatient(_ context.Context, workflowID, patientID string) (*models.ExecutionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.ExecutionState

	for _, state := range r.states {
		if state.WorkflowID != workflowID || state.PatientID != patientID || state.Status.IsTerminal() {
			continue
		}

		if latest == nil || state.LastUpdated.After(latest.LastUpdated) {
			latest = state
		}
	}

	if latest == nil {
		return nil, persistence.ErrExecutionStateNotFound
	}

	copied := *latest

	return &copied, nil
}

func (r *ExecutionStateRepository) PurgeTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0

	for id, state := range r.states {
		if state.Status.IsTerminal() && state.LastUpdated.Before(cutoff) {
			delete(r.states, id)
			purged++
		}
	}

	return purged, nil
}

// NotificationLogRepository is the in-memory send log. The dedup key mirrors
// the unique index of the PostgreSQL implementation.
type NotificationLogRepository struct {
	mu   sync.Mutex
	seen map[string]*models.NotificationRecord
}

func dedupKey(workflowID, nodeID, patientID, appointmentID string) string {
	return workflowID + "\x00" + nodeID + "\x00" + patientID + "\x00" + appointmentID
}

func (r *NotificationLogRepository) Append(_ context.Context, record *models.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dedupKey(record.WorkflowID, record.NodeID, record.PatientID, record.AppointmentID)
	if _, ok := r.seen[key]; ok {
		return nil
	}

	copied := *record
	r.seen[key] = &copied

	return nil
}

func (r *NotificationLogRepository) Exists(_ context.Context, workflowID, nodeID, patientID, appointmentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.seen[dedupKey(workflowID, nodeID, patientID, appointmentID)]

	return ok, nil
}

// WorkflowRepository is the in-memory workflow store.
type WorkflowRepository struct {
	mu        sync.Mutex
	workflows map[string]*models.WorkflowGraph
}

func (r *WorkflowRepository) Save(_ context.Context, graph *models.WorkflowGraph) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *graph
	r.workflows[graph.ID] = &copied

	return nil
}

func (r *WorkflowRepository) ByID(_ context.Context, id string) (*models.WorkflowGraph, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	graph, ok := r.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	copied := *graph

	return &copied, nil
}

func (r *WorkflowRepository) List(_ context.Context) ([]*models.WorkflowGraph, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.WorkflowGraph, 0, len(r.workflows))

	for _, graph := range r.workflows {
		copied := *graph
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

// PatientRepository is the in-memory patient store.
type PatientRepository struct {
	mu       sync.Mutex
	patients map[string]*models.Patient
}

func (r *PatientRepository) ByID(_ context.Context, id string) (*models.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	patient, ok := r.patients[id]
	if !ok {
		return nil, persistence.ErrPatientNotFound
	}

	copied := *patient

	return &copied, nil
}

// AppointmentRepository is the in-memory appointment store.
type AppointmentRepository struct {
	mu           sync.Mutex
	appointments map[string]*models.Appointment
}

func (r *AppointmentRepository) ByID(_ context.Context, id string) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appointment, ok := r.appointments[id]
	if !ok {
		return nil, persistence.ErrAppointmentNotFound
	}

	copied := *appointment

	return &copied, nil
}
