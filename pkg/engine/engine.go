// Package engine ties planning, queueing, persistence and actions together
// behind a small facade. Everything the binaries and the API expose goes
// through it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/pkg/actions"
	"github.com/cadencehq/cadence/pkg/breaker"
	"github.com/cadencehq/cadence/pkg/cache"
	"github.com/cadencehq/cadence/pkg/eventbus"
	"github.com/cadencehq/cadence/pkg/events"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/plan"
	"github.com/cadencehq/cadence/pkg/queue"
)

// Config tunes engine housekeeping. Zero values fall back to defaults.
type Config struct {
	// OrphanStaleness is how long a job may sit in processing before a tick
	// assumes its worker died and requeues it.
	OrphanStaleness time.Duration

	// StateRetention is how long terminal execution states are kept before
	// a tick purges them.
	StateRetention time.Duration
}

const (
	defaultOrphanStaleness = 10 * time.Minute
	defaultStateRetention  = 30 * 24 * time.Hour
)

// ExecutionReport is the structured result of one workflow execution. The
// engine never panics across this boundary; failures land in the report.
type ExecutionReport struct {
	Success     bool       `json:"success"`
	ExecutionID string     `json:"execution_id"`
	Executed    []string   `json:"executed,omitempty"`
	Log         []LogEntry `json:"log,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// LogEntry records one node outcome within a run.
type LogEntry struct {
	NodeID    string          `json:"node_id"`
	NodeKind  models.NodeKind `json:"node_kind"`
	Outcome   string          `json:"outcome"`
	Detail    map[string]any  `json:"detail,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ExecutionSummary is the API-facing view of a stored execution state.
type ExecutionSummary struct {
	ExecutionID   string                 `json:"execution_id"`
	WorkflowID    string                 `json:"workflow_id"`
	PatientID     string                 `json:"patient_id"`
	Status        models.ExecutionStatus `json:"status"`
	ExecutedNodes []string               `json:"executed_nodes,omitempty"`
	PendingNodes  []string               `json:"pending_nodes,omitempty"`
	FailedNodes   map[string]string      `json:"failed_nodes,omitempty"`
	LastUpdated   time.Time              `json:"last_updated"`
}

// Engine is the workflow execution facade.
type Engine struct {
	logger    *slog.Logger
	store     persistence.Persistence
	queue     *queue.Queue
	planner   *plan.Planner
	registry  *actions.Registry
	publisher eventbus.EventPublisher
	cache     cache.Cache
	config    Config

	gatewayBreaker  *breaker.CircuitBreaker
	workflowBreaker *breaker.CircuitBreaker

	clock func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher publishes execution lifecycle events to the bus.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

// WithCache fronts the notification-log idempotency lookups with a cache,
// keeping overlapping ticks off the durable store.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithBreakers overrides the gateway and workflow circuit breakers.
func WithBreakers(gateway, workflow *breaker.CircuitBreaker) Option {
	return func(e *Engine) {
		e.gatewayBreaker = gateway
		e.workflowBreaker = workflow
	}
}

// New creates an engine over the given store, queue, planner and action
// registry.
func New(logger *slog.Logger, store persistence.Persistence, q *queue.Queue, planner *plan.Planner, registry *actions.Registry, config Config, opts ...Option) *Engine {
	if config.OrphanStaleness <= 0 {
		config.OrphanStaleness = defaultOrphanStaleness
	}

	if config.StateRetention <= 0 {
		config.StateRetention = defaultStateRetention
	}

	logger = logger.With("module", "engine")

	e := &Engine{
		logger:          logger,
		store:           store,
		queue:           q,
		planner:         planner,
		registry:        registry,
		config:          config,
		gatewayBreaker:  breaker.New("gateway", breaker.DefaultGatewayConfig(), logger),
		workflowBreaker: breaker.New("workflow", breaker.DefaultWorkflowConfig(), logger),
		clock:           func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// GatewayBreaker exposes the gateway circuit breaker for health reporting
// and manual reset.
func (e *Engine) GatewayBreaker() *breaker.CircuitBreaker { return e.gatewayBreaker }

// WorkflowBreaker exposes the workflow circuit breaker.
func (e *Engine) WorkflowBreaker() *breaker.CircuitBreaker { return e.workflowBreaker }

// ScheduleTick performs one scheduling pass: requeue orphaned jobs, claim
// due jobs into the in-memory queue, purge expired terminal states. Safe
// under concurrent invocation; the store claim keeps result sets disjoint.
func (e *Engine) ScheduleTick(ctx context.Context, now time.Time) (int, error) {
	if _, err := e.store.Jobs().ReleaseOrphans(ctx, now.Add(-e.config.OrphanStaleness)); err != nil {
		e.logger.ErrorContext(ctx, "Orphan release failed", "error", err)
	}

	if _, err := e.store.ExecutionStates().PurgeTerminalBefore(ctx, now.Add(-e.config.StateRetention)); err != nil {
		e.logger.ErrorContext(ctx, "State purge failed", "error", err)
	}

	claimed, err := e.queue.ReloadDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reload due jobs: %w", err)
	}

	if claimed > 0 {
		e.logger.InfoContext(ctx, "Scheduling tick claimed jobs", "count", claimed)
	}

	return claimed, nil
}

// ExecuteWorkflow runs one workflow for one patient synchronously and
// returns a structured report. It never panics across this boundary.
func (e *Engine) ExecuteWorkflow(ctx context.Context, execCtx models.ExecutionContext) (report *ExecutionReport) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "Execution panicked",
				"workflow_id", execCtx.WorkflowID, "patient_id", execCtx.PatientID, "panic", r)

			report = &ExecutionReport{
				Success: false,
				Error:   fmt.Sprintf("execution panicked: %v", r),
			}
		}
	}()

	result, err := e.run(ctx, execCtx, "")
	if err != nil {
		if result == nil {
			result = &ExecutionReport{}
		}

		result.Success = false
		result.Error = err.Error()

		return result
	}

	result.Success = true

	return result
}

// ExecuteJob runs one claimed job. It implements the worker pool's Executor;
// the returned error feeds retry classification.
func (e *Engine) ExecuteJob(ctx context.Context, workerID string, job *models.Job) error {
	if e.queue.CancelRequested(job.ID) {
		return ErrCancelRequested
	}

	_, err := e.run(ctx, job.Context, job.ID)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	return nil
}

// FailExecution marks the execution state behind a terminally failed job as
// failed, so later triggers stop resuming a dead run and retention can purge
// it. It implements the worker pool's ExecutionFailer.
func (e *Engine) FailExecution(ctx context.Context, job *models.Job, cause error) {
	state, err := e.stateForJob(ctx, job)
	if err != nil {
		if !persistence.IsNotFound(err) {
			e.logger.ErrorContext(ctx, "Failed to load state for failed job",
				"job_id", job.ID, "workflow_id", job.WorkflowID, "error", err)
		}

		return
	}

	if state.Status.IsTerminal() {
		return
	}

	state.Status = models.ExecutionStatusFailed
	state.LastUpdated = e.clock()
	e.saveState(ctx, state)

	e.publish(ctx, job.WorkflowID, events.ExecutionFailed{
		BaseEvent:   e.baseEvent(events.ExecutionFailedEvent, job.Context),
		ExecutionID: state.ExecutionID,
		Error:       cause.Error(),
	})
}

// stateForJob resolves the execution state a job was advancing. Continuation
// jobs carry the execution id; fresh jobs map through the active (workflow,
// patient) pair.
func (e *Engine) stateForJob(ctx context.Context, job *models.Job) (*models.ExecutionState, error) {
	if job.Context.OriginalExecutionID != "" {
		state, err := e.store.ExecutionStates().ByID(ctx, job.Context.OriginalExecutionID)
		if err == nil || !persistence.IsNotFound(err) {
			return state, err
		}
	}

	return e.store.ExecutionStates().ActiveByWorkflowAndPatient(ctx, job.WorkflowID, job.PatientID)
}

// JobStatus resolves a job's status through the queue's three tiers.
func (e *Engine) JobStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	return e.queue.JobStatus(ctx, jobID)
}

// CancelJob removes a job from the queue; best-effort if already running.
func (e *Engine) CancelJob(ctx context.Context, jobID string) error {
	return e.queue.Cancel(ctx, jobID)
}

// Summary returns the stored view of one execution.
func (e *Engine) Summary(ctx context.Context, executionID string) (*ExecutionSummary, error) {
	state, err := e.store.ExecutionStates().ByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &ExecutionSummary{
		ExecutionID:   state.ExecutionID,
		WorkflowID:    state.WorkflowID,
		PatientID:     state.PatientID,
		Status:        state.Status,
		ExecutedNodes: state.ExecutedNodes,
		PendingNodes:  state.PendingNodes,
		FailedNodes:   state.FailedNodes,
		LastUpdated:   state.LastUpdated,
	}, nil
}

func (e *Engine) baseEvent(eventType events.EventType, execCtx models.ExecutionContext) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  e.clock(),
		WorkflowID: execCtx.WorkflowID,
		PatientID:  execCtx.PatientID,
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
