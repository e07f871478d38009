// Package worker runs the executors that drain the job queue. A fixed Pool
// holds N workers; AutoScalingPool grows and shrinks the worker set from
// queue depth.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cadencehq/cadence/pkg/eventbus"
	"github.com/cadencehq/cadence/pkg/events"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/otelhelper"
	"github.com/cadencehq/cadence/pkg/queue"
)

// Executor runs one claimed job to completion.
type Executor interface {
	ExecuteJob(ctx context.Context, workerID string, job *models.Job) error
}

// ExecutionFailer settles the durable execution state behind a job once the
// pool gives up on it. Without this the state would sit in running forever,
// get resumed on the next trigger and survive retention purges. The engine
// implements it; executors without durable state may not.
type ExecutionFailer interface {
	FailExecution(ctx context.Context, job *models.Job, cause error)
}

// RetryPolicy decides what happens to a failed job.
type RetryPolicy interface {
	// Decide returns the backoff before the next attempt and whether the
	// failure is worth retrying at all. The pool still enforces MaxRetries.
	Decide(job *models.Job, err error) (time.Duration, bool)
}

// Pool is a fixed-size worker pool draining the queue.
type Pool struct {
	logger     *slog.Logger
	queue      *queue.Queue
	executor   Executor
	retry      RetryPolicy
	tracer     trace.Tracer
	publisher  eventbus.EventPublisher
	thresholds HealthThresholds

	mu      sync.Mutex
	workers map[string]*poolWorker
	nextID  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type poolWorker struct {
	id     string
	cancel context.CancelFunc
	health *health
}

// Option configures a Pool.
type Option func(*Pool)

// WithTracer wraps each job execution in a span.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pool) { p.tracer = tracer }
}

// WithPublisher publishes job lifecycle events to the bus.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(p *Pool) { p.publisher = publisher }
}

// WithHealthThresholds overrides the health limits.
func WithHealthThresholds(thresholds HealthThresholds) Option {
	return func(p *Pool) { p.thresholds = thresholds }
}

// NewPool creates a pool over the given queue and executor.
func NewPool(logger *slog.Logger, q *queue.Queue, executor Executor, retry RetryPolicy, opts ...Option) *Pool {
	pool := &Pool{
		logger:   logger.With("module", "worker_pool"),
		queue:    q,
		executor: executor,
		retry:    retry,
		workers:  make(map[string]*poolWorker),
	}

	for _, opt := range opts {
		opt(pool)
	}

	pool.thresholds = pool.thresholds.withDefaults()

	return pool
}

// Start launches n workers. It returns immediately; workers run until Stop
// or the context ends.
func (p *Pool) Start(ctx context.Context, n int) {
	p.mu.Lock()

	if p.ctx == nil {
		p.ctx, p.cancel = context.WithCancel(ctx)
	}

	p.mu.Unlock()

	for i := 0; i < n; i++ {
		p.grow()
	}
}

// Stop cancels all workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()

	if p.cancel != nil {
		p.cancel()
	}

	p.mu.Unlock()
	p.wg.Wait()

	p.logger.Info("Worker pool stopped")
}

// Size returns the current worker count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.workers)
}

// Health returns a snapshot of every worker.
func (p *Pool) Health() []HealthReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	reports := make([]HealthReport, 0, len(p.workers))

	for _, w := range p.workers {
		reports = append(reports, w.health.report(p.thresholds))
	}

	return reports
}

// grow adds one worker. Caller must have called Start first.
func (p *Pool) grow() {
	p.mu.Lock()

	if p.ctx == nil || p.ctx.Err() != nil {
		p.mu.Unlock()

		return
	}

	p.nextID++
	id := fmt.Sprintf("worker-%d", p.nextID)
	workerCtx, workerCancel := context.WithCancel(p.ctx)
	w := &poolWorker{id: id, cancel: workerCancel, health: newHealth(id)}
	p.workers[id] = w
	p.wg.Add(1)
	p.mu.Unlock()

	p.logger.Info("Worker started", "worker_id", id)

	go func() {
		defer p.wg.Done()
		defer p.retire(id)

		p.run(workerCtx, w)
	}()
}

// shrink retires one worker after its current job.
func (p *Pool) shrink() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		w.cancel()

		return
	}
}

func (p *Pool) retire(id string) {
	p.mu.Lock()
	delete(p.workers, id)
	p.mu.Unlock()

	p.logger.Info("Worker retired", "worker_id", id)
}

func (p *Pool) run(ctx context.Context, w *poolWorker) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}

		p.process(ctx, w, job)
	}
}

func (p *Pool) process(ctx context.Context, w *poolWorker, job *models.Job) {
	w.health.beat()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = models.DefaultJobTimeout
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var span trace.Span

	if p.tracer != nil {
		jobCtx, span = otelhelper.StartSpan(jobCtx, p.tracer, "job.execute",
			attribute.String(otelhelper.JobIDKey, job.ID),
			attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
			attribute.String(otelhelper.PatientIDKey, job.PatientID),
			attribute.String(otelhelper.WorkerIDKey, w.id),
		)
		defer span.End()
	}

	p.publish(jobCtx, job, events.JobStarted{
		BaseEvent:  p.baseEvent(events.JobStartedEvent, job, w.id),
		JobID:      job.ID,
		RetryCount: job.RetryCount,
	})

	start := time.Now()
	err := p.executor.ExecuteJob(jobCtx, w.id, job)
	duration := time.Since(start)

	if err != nil && span != nil {
		otelhelper.SetError(span, err)
	}

	if err == nil {
		w.health.record(false)

		if completeErr := p.queue.Complete(ctx, job); completeErr != nil {
			p.logger.ErrorContext(ctx, "Failed to mark job completed", "job_id", job.ID, "error", completeErr)
		}

		p.publish(ctx, job, events.JobCompleted{
			BaseEvent: p.baseEvent(events.JobCompletedEvent, job, w.id),
			JobID:     job.ID,
			Duration:  duration,
		})

		return
	}

	w.health.record(true)
	p.logger.WarnContext(ctx, "Job execution failed",
		"job_id", job.ID, "workflow_id", job.WorkflowID, "retry_count", job.RetryCount, "error", err)

	backoff, retryable := p.retry.Decide(job, err)

	if retryable && job.RetryCount < job.MaxRetries {
		if requeueErr := p.queue.Requeue(ctx, job, backoff, err.Error()); requeueErr != nil {
			p.logger.ErrorContext(ctx, "Failed to requeue job", "job_id", job.ID, "error", requeueErr)
		}

		p.publish(ctx, job, events.JobRetried{
			BaseEvent:  p.baseEvent(events.JobRetriedEvent, job, w.id),
			JobID:      job.ID,
			RetryCount: job.RetryCount,
			Backoff:    backoff,
			Error:      err.Error(),
		})

		return
	}

	if failErr := p.queue.Fail(ctx, job, err.Error()); failErr != nil {
		p.logger.ErrorContext(ctx, "Failed to mark job failed", "job_id", job.ID, "error", failErr)
	}

	if failer, ok := p.executor.(ExecutionFailer); ok {
		failer.FailExecution(ctx, job, err)
	}

	p.publish(ctx, job, events.JobFailed{
		BaseEvent: p.baseEvent(events.JobFailedEvent, job, w.id),
		JobID:     job.ID,
		Error:     err.Error(),
	})
}

func (p *Pool) baseEvent(eventType events.EventType, job *models.Job, workerID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: job.WorkflowID,
		PatientID:  job.PatientID,
		WorkerID:   workerID,
	}
}

func (p *Pool) publish(ctx context.Context, job *models.Job, event eventbus.Event) {
	if p.publisher == nil {
		return
	}

	if err := p.publisher.Publish(ctx, job.WorkflowID, event); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
