// Package queue implements the job queue feeding the worker pool. The
// durable store is the source of truth; the in-memory tiers only ever hold
// jobs already claimed from it, so two queue instances sharing one store
// never dispatch the same job twice.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// Config tunes queue behavior. Zero values fall back to defaults.
type Config struct {
	// Horizon bounds how far ahead a job may be scheduled and still get
	// loaded into memory by a reload pass. Jobs beyond it exist only as
	// durable records until they come due.
	Horizon time.Duration

	// RingSize caps the completed and failed ring buffers.
	RingSize int

	// ClaimBatch caps how many due jobs one reload pass claims.
	ClaimBatch int
}

const (
	defaultHorizon    = time.Hour
	defaultRingSize   = 256
	defaultClaimBatch = 100
)

var priorityOrder = []models.JobPriority{
	models.JobPriorityCritical,
	models.JobPriorityHigh,
	models.JobPriorityNormal,
	models.JobPriorityLow,
}

// Queue is the three-tier job queue: in-memory priority tiers for claimed
// work, bounded ring buffers for recently finished jobs, and the durable
// store behind both.
type Queue struct {
	logger *slog.Logger
	store  persistence.JobRepository
	config Config

	mu        sync.Mutex
	pending   map[models.JobPriority][]*models.Job
	active    map[string]*models.Job
	cancelled map[string]struct{}
	completed *ring
	failed    *ring

	wake chan struct{}
}

// NewQueue creates a queue over the given job store.
func NewQueue(logger *slog.Logger, store persistence.JobRepository, config Config) *Queue {
	if config.Horizon <= 0 {
		config.Horizon = defaultHorizon
	}

	if config.RingSize <= 0 {
		config.RingSize = defaultRingSize
	}

	if config.ClaimBatch <= 0 {
		config.ClaimBatch = defaultClaimBatch
	}

	return &Queue{
		logger:    logger.With("module", "queue"),
		store:     store,
		config:    config,
		pending:   make(map[models.JobPriority][]*models.Job),
		active:    make(map[string]*models.Job),
		cancelled: make(map[string]struct{}),
		completed: newRing(config.RingSize),
		failed:    newRing(config.RingSize),
		wake:      make(chan struct{}, 1),
	}
}

// JobOption configures a job at construction time.
type JobOption func(*models.Job)

// WithPriority sets the job priority.
func WithPriority(p models.JobPriority) JobOption {
	return func(j *models.Job) { j.Priority = p }
}

// WithDelay schedules the job delay from now.
func WithDelay(d time.Duration) JobOption {
	return func(j *models.Job) {
		at := time.Now().UTC().Add(d)
		j.ScheduledFor = &at
	}
}

// WithScheduledFor schedules the job for an absolute instant.
func WithScheduledFor(at time.Time) JobOption {
	return func(j *models.Job) { j.ScheduledFor = &at }
}

// WithTags attaches tags used for duplicate-continuation suppression.
func WithTags(tags ...string) JobOption {
	return func(j *models.Job) { j.Tags = append(j.Tags, tags...) }
}

// WithTimeout overrides the per-attempt execution timeout.
func WithTimeout(d time.Duration) JobOption {
	return func(j *models.Job) { j.Timeout = d }
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) JobOption {
	return func(j *models.Job) { j.MaxRetries = n }
}

// NewJob builds a queued job from an execution context.
func NewJob(execCtx models.ExecutionContext, opts ...JobOption) *models.Job {
	job := &models.Job{
		ID:            uuid.New().String(),
		WorkflowID:    execCtx.WorkflowID,
		PatientID:     execCtx.PatientID,
		AppointmentID: execCtx.AppointmentID,
		Context:       execCtx,
		Priority:      models.JobPriorityNormal,
		Status:        models.JobStatusQueued,
		MaxRetries:    3,
		Timeout:       models.DefaultJobTimeout,
		CreatedAt:     time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(job)
	}

	return job
}

// Enqueue persists a job. Jobs due within the horizon are picked up by the
// next reload pass; a wake signal nudges any blocked reload loop.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	if err := q.store.Save(ctx, job); err != nil {
		return err
	}

	q.logger.DebugContext(ctx, "Job enqueued",
		"job_id", job.ID, "workflow_id", job.WorkflowID, "priority", job.Priority)

	if job.Due(time.Now().UTC().Add(q.config.Horizon)) {
		q.signal()
	}

	return nil
}

// ReloadDue claims due jobs from the store and loads them into the in-memory
// tiers. The claim is atomic in the store, so concurrent reloads across
// instances receive disjoint jobs.
func (q *Queue) ReloadDue(ctx context.Context, now time.Time) (int, error) {
	jobs, err := q.store.ClaimDue(ctx, now, q.config.ClaimBatch)
	if err != nil {
		return 0, err
	}

	if len(jobs) == 0 {
		return 0, nil
	}

	var dropCancelled []string

	q.mu.Lock()

	for _, job := range jobs {
		if _, wanted := q.cancelled[job.ID]; wanted {
			delete(q.cancelled, job.ID)
			dropCancelled = append(dropCancelled, job.ID)

			continue
		}

		q.pending[job.Priority] = append(q.pending[job.Priority], job)
	}

	q.mu.Unlock()

	for _, id := range dropCancelled {
		if err := q.store.MarkStatus(ctx, id, models.JobStatusCancelled, ""); err != nil {
			q.logger.WarnContext(ctx, "Failed to cancel claimed job", "job_id", id, "error", err)
		}
	}

	q.signal()

	return len(jobs), nil
}

// Dequeue blocks until a claimed job is available or the context ends.
// Highest priority tier first, FIFO within a tier.
func (q *Queue) Dequeue(ctx context.Context) (*models.Job, error) {
	for {
		if job := q.pop(); job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *Queue) pop() *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, priority := range priorityOrder {
		tier := q.pending[priority]
		if len(tier) == 0 {
			continue
		}

		job := tier[0]
		q.pending[priority] = tier[1:]
		q.active[job.ID] = job

		// A reload pass can land many jobs while the wake channel holds a
		// single token. Re-arming it here lets each dequeue unpark the next
		// blocked worker until the tiers drain.
		if q.depthLocked() > 0 {
			q.signal()
		}

		return job
	}

	return nil
}

// Complete marks a job finished and records it in the completed ring.
func (q *Queue) Complete(ctx context.Context, job *models.Job) error {
	q.finish(job, models.JobStatusCompleted, q.completed)

	return q.store.MarkStatus(ctx, job.ID, models.JobStatusCompleted, "")
}

// Fail marks a job terminally failed and records it in the failed ring.
func (q *Queue) Fail(ctx context.Context, job *models.Job, cause string) error {
	q.finish(job, models.JobStatusFailed, q.failed)

	return q.store.MarkStatus(ctx, job.ID, models.JobStatusFailed, cause)
}

// Requeue returns a job to the queued state for a later attempt, scheduled
// after the given backoff.
func (q *Queue) Requeue(ctx context.Context, job *models.Job, backoff time.Duration, cause string) error {
	q.mu.Lock()
	delete(q.active, job.ID)
	q.mu.Unlock()

	at := time.Now().UTC().Add(backoff)
	job.Status = models.JobStatusQueued
	job.RetryCount++
	job.ScheduledFor = &at
	job.StartedAt = nil
	job.LastError = cause

	return q.store.Save(ctx, job)
}

func (q *Queue) finish(job *models.Job, status models.JobStatus, bucket *ring) {
	now := time.Now().UTC()
	job.Status = status
	job.FinishedAt = &now

	q.mu.Lock()
	delete(q.active, job.ID)
	delete(q.cancelled, job.ID)
	bucket.push(job)
	q.mu.Unlock()
}

// JobStatus resolves a job's status through the three tiers: in-memory
// active/pending, then the finished rings, then the durable store.
func (q *Queue) JobStatus(ctx context.Context, id string) (models.JobStatus, error) {
	q.mu.Lock()

	if _, ok := q.active[id]; ok {
		q.mu.Unlock()

		return models.JobStatusProcessing, nil
	}

	for _, tier := range q.pending {
		for _, job := range tier {
			if job.ID == id {
				q.mu.Unlock()

				return models.JobStatusQueued, nil
			}
		}
	}

	if job := q.completed.find(id); job != nil {
		q.mu.Unlock()

		return job.Status, nil
	}

	if job := q.failed.find(id); job != nil {
		q.mu.Unlock()

		return job.Status, nil
	}

	q.mu.Unlock()

	job, err := q.store.ByID(ctx, id)
	if err != nil {
		return "", err
	}

	return job.Status, nil
}

// Cancel removes a job from the queue. Pending jobs are dropped and marked
// cancelled durably. For jobs already processing the cancellation is
// best-effort: the id is remembered and suppressed if the job resurfaces.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()

	for priority, tier := range q.pending {
		for i, job := range tier {
			if job.ID != id {
				continue
			}

			q.pending[priority] = append(tier[:i], tier[i+1:]...)
			q.mu.Unlock()

			return q.store.MarkStatus(ctx, id, models.JobStatusCancelled, "")
		}
	}

	if _, processing := q.active[id]; processing {
		q.cancelled[id] = struct{}{}
		q.mu.Unlock()

		return nil
	}

	q.mu.Unlock()

	job, err := q.store.ByID(ctx, id)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return nil
	}

	return q.store.MarkStatus(ctx, id, models.JobStatusCancelled, "")
}

// CancelRequested reports whether a best-effort cancel was filed for the job.
// Workers check it between node executions.
func (q *Queue) CancelRequested(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.cancelled[id]

	return ok
}

// Depth returns the number of claimed jobs awaiting a worker. The autoscaler
// samples it.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.depthLocked()
}

func (q *Queue) depthLocked() int {
	n := 0
	for _, tier := range q.pending {
		n += len(tier)
	}

	return n
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
