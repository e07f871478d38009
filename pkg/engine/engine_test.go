package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/actions"
	"github.com/cadencehq/cadence/pkg/breaker"
	"github.com/cadencehq/cadence/pkg/cache"
	"github.com/cadencehq/cadence/pkg/gateway"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence/memory"
	"github.com/cadencehq/cadence/pkg/plan"
	"github.com/cadencehq/cadence/pkg/queue"
)

// recordingGateway captures every send and can be scripted to fail.
type recordingGateway struct {
	mu   sync.Mutex
	sent []gateway.Message
	err  error
}

func (g *recordingGateway) Send(ctx context.Context, msg gateway.Message) (*gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return nil, g.err
	}

	g.sent = append(g.sent, msg)

	return &gateway.Result{ProviderID: "prov-1", DeliveredAt: time.Now().UTC()}, nil
}

func (g *recordingGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.sent)
}

func (g *recordingGateway) setError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.err = err
}

// countingCache wraps a Cache and counts hits and writes.
type countingCache struct {
	inner cache.Cache

	mu   sync.Mutex
	hits int
	sets int
}

func (c *countingCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.inner.Get(ctx, key)
	if err == nil {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
	}

	return value, err
}

func (c *countingCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()

	return c.inner.Set(ctx, key, value, ttl)
}

func (c *countingCache) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

func (c *countingCache) Close() error { return c.inner.Close() }

func (c *countingCache) hitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits
}

func (c *countingCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sets
}

type engineFixture struct {
	store   *memory.Persistence
	queue   *queue.Queue
	gateway *recordingGateway
	cache   *countingCache
	engine  *Engine

	mu  sync.Mutex
	now time.Time
}

func (f *engineFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *engineFixture) advanceTo(at time.Time) {
	f.mu.Lock()
	f.now = at
	f.mu.Unlock()
}

func newEngineFixture(t *testing.T, graph *models.WorkflowGraph) *engineFixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := memory.NewPersistence()
	q := queue.NewQueue(logger, store.Jobs(), queue.Config{})
	gw := &recordingGateway{}

	registry := actions.NewRegistry()
	registry.Register(models.ActionTypeMessage, actions.NewMessageAction(gw, logger))

	c := &countingCache{inner: cache.NewMemoryCache(time.Minute)}
	t.Cleanup(func() { _ = c.Close() })

	f := &engineFixture{
		store:   store,
		queue:   q,
		gateway: gw,
		cache:   c,
		now:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}

	f.engine = New(logger, store, q, plan.NewPlanner(nil, logger), registry, Config{},
		WithClock(f.clock), WithCache(c))

	store.SeedPatient(&models.Patient{
		ID:    "p-1",
		Name:  "Maria Silva",
		Phone: "+5511999990000",
		Email: "maria@example.com",
	})

	if graph != nil {
		require.NoError(t, store.Workflows().Save(t.Context(), graph))
	}

	return f
}

func trigger(id, triggerType string) *models.Node {
	return &models.Node{
		ID:      id,
		Kind:    models.NodeKindTrigger,
		Trigger: &models.TriggerPayload{TriggerType: triggerType},
	}
}

func message(id, template string) *models.Node {
	return &models.Node{
		ID:     id,
		Kind:   models.NodeKindAction,
		Action: &models.ActionPayload{Type: models.ActionTypeMessage, Template: template},
	}
}

func delay(id string, days int) *models.Node {
	return &models.Node{
		ID:    id,
		Kind:  models.NodeKindDelay,
		Delay: &models.DelayPayload{Unit: models.DelayUnitDays, Value: days},
	}
}

func link(id, source, target string) *models.Edge {
	return &models.Edge{ID: id, SourceNodeID: source, TargetNodeID: target}
}

func singleMessageGraph() *models.WorkflowGraph {
	return &models.WorkflowGraph{
		ID:     "wf-welcome",
		Name:   "Welcome message",
		Status: models.GraphStatusActive,
		Nodes: []*models.Node{
			trigger("t1", "intake_completed"),
			message("msg-welcome", "Welcome, {{.patient_name}}!"),
		},
		Edges: []*models.Edge{link("e1", "t1", "msg-welcome")},
	}
}

// followUpGraph sends on day 0, day 3 and day 7 after surgery.
func followUpGraph() *models.WorkflowGraph {
	return &models.WorkflowGraph{
		ID:     "wf-follow-up",
		Name:   "Post-surgery follow-up",
		Status: models.GraphStatusActive,
		Nodes: []*models.Node{
			trigger("t1", "surgery_completed"),
			message("msg-day0", "How are you feeling, {{.patient_name}}?"),
			delay("wait-3d", 3),
			message("msg-day3", "Remember your wound care routine."),
			delay("wait-4d", 4),
			message("msg-day7", "Your follow-up appointment is coming up."),
		},
		Edges: []*models.Edge{
			link("e1", "t1", "msg-day0"),
			link("e2", "msg-day0", "wait-3d"),
			link("e3", "wait-3d", "msg-day3"),
			link("e4", "msg-day3", "wait-4d"),
			link("e5", "wait-4d", "msg-day7"),
		},
	}
}

func TestEngine_ExecuteWorkflowSendsMessage(t *testing.T) {
	f := newEngineFixture(t, singleMessageGraph())

	report := f.engine.ExecuteWorkflow(t.Context(), models.ExecutionContext{
		WorkflowID:  "wf-welcome",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	})

	require.True(t, report.Success, "report error: %s", report.Error)
	assert.Equal(t, []string{"msg-welcome"}, report.Executed)
	require.Equal(t, 1, f.gateway.sendCount())
	assert.Equal(t, "Welcome, Maria Silva!", f.gateway.sent[0].Content)
	assert.Equal(t, "+5511999990000", f.gateway.sent[0].Recipient)

	exists, err := f.store.NotificationLog().Exists(t.Context(), "wf-welcome", "msg-welcome", "p-1", "")
	require.NoError(t, err)
	assert.True(t, exists)

	summary, err := f.engine.Summary(t.Context(), report.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, summary.Status)
	assert.Equal(t, []string{"msg-welcome"}, summary.ExecutedNodes)
}

func TestEngine_DuplicateRunSendsNothing(t *testing.T) {
	f := newEngineFixture(t, singleMessageGraph())

	execCtx := models.ExecutionContext{
		WorkflowID:  "wf-welcome",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	}

	first := f.engine.ExecuteWorkflow(t.Context(), execCtx)
	require.True(t, first.Success)

	second := f.engine.ExecuteWorkflow(t.Context(), execCtx)
	require.True(t, second.Success)
	assert.Empty(t, second.Executed)

	// The notification log suppressed the duplicate send.
	assert.Equal(t, 1, f.gateway.sendCount())

	require.NotEmpty(t, second.Log)
	assert.Equal(t, "skipped_duplicate", second.Log[0].Outcome)
}

func TestEngine_DuplicateCheckServedFromCache(t *testing.T) {
	f := newEngineFixture(t, singleMessageGraph())

	execCtx := models.ExecutionContext{
		WorkflowID:  "wf-welcome",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	}

	first := f.engine.ExecuteWorkflow(t.Context(), execCtx)
	require.True(t, first.Success)

	// The send populated the cache alongside the durable log.
	require.Equal(t, 1, f.cache.setCount())

	second := f.engine.ExecuteWorkflow(t.Context(), execCtx)
	require.True(t, second.Success)
	assert.Empty(t, second.Executed)
	assert.Equal(t, 1, f.gateway.sendCount())

	// The rerun's idempotency check hit the cache instead of the log.
	assert.GreaterOrEqual(t, f.cache.hitCount(), 1)
}

func TestEngine_ResumedRunSkipsExecutedNodes(t *testing.T) {
	f := newEngineFixture(t, singleMessageGraph())

	// A prior segment already executed the node; the checkpoint survives a
	// process restart and the rerun must not send again.
	require.NoError(t, f.store.ExecutionStates().Save(t.Context(), &models.ExecutionState{
		ExecutionID:   "exec-1",
		WorkflowID:    "wf-welcome",
		PatientID:     "p-1",
		Status:        models.ExecutionStatusRunning,
		ExecutedNodes: []string{"msg-welcome"},
		CreatedAt:     f.clock(),
		LastUpdated:   f.clock(),
	}))

	report := f.engine.ExecuteWorkflow(t.Context(), models.ExecutionContext{
		WorkflowID:  "wf-welcome",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	})

	require.True(t, report.Success)
	assert.Equal(t, "exec-1", report.ExecutionID)
	assert.Zero(t, f.gateway.sendCount())

	require.NotEmpty(t, report.Log)
	assert.Equal(t, "skipped_already_executed", report.Log[0].Outcome)
}

func TestEngine_InactiveGraphRejected(t *testing.T) {
	graph := singleMessageGraph()
	graph.Status = models.GraphStatusDraft

	f := newEngineFixture(t, graph)

	report := f.engine.ExecuteWorkflow(t.Context(), models.ExecutionContext{
		WorkflowID:  "wf-welcome",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	})

	require.False(t, report.Success)
	assert.Contains(t, report.Error, "not executable")
	assert.Zero(t, f.gateway.sendCount())
}

func TestEngine_UnknownPatientFails(t *testing.T) {
	f := newEngineFixture(t, singleMessageGraph())

	report := f.engine.ExecuteWorkflow(t.Context(), models.ExecutionContext{
		WorkflowID:  "wf-welcome",
		PatientID:   "nobody",
		TriggerType: "intake_completed",
	})

	require.False(t, report.Success)
	assert.Contains(t, report.Error, "patient not found")
}

func TestEngine_GatewayFailureRecordedAndRetryable(t *testing.T) {
	f := newEngineFixture(t, singleMessageGraph())
	f.gateway.setError(errors.New("provider unavailable"))

	report := f.engine.ExecuteWorkflow(t.Context(), models.ExecutionContext{
		WorkflowID:  "wf-welcome",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	})

	require.False(t, report.Success)
	assert.Contains(t, report.Error, "provider unavailable")

	summary, err := f.engine.Summary(t.Context(), report.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, summary.Status)
	assert.Contains(t, summary.FailedNodes, "msg-welcome")
}

func TestEngine_FailExecutionSettlesExhaustedRun(t *testing.T) {
	f := newEngineFixture(t, singleMessageGraph())
	f.gateway.setError(errors.New("recipient opted out"))

	job := queue.NewJob(models.ExecutionContext{
		WorkflowID:  "wf-welcome",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	}, queue.WithMaxRetries(0))
	require.NoError(t, f.queue.Enqueue(t.Context(), job))

	_, err := f.queue.ReloadDue(t.Context(), time.Now().UTC())
	require.NoError(t, err)

	claimed, err := f.queue.Dequeue(t.Context())
	require.NoError(t, err)

	execErr := f.engine.ExecuteJob(t.Context(), "worker-1", claimed)
	require.Error(t, execErr)

	// The failed segment leaves the run open for a retry.
	state, err := f.store.ExecutionStates().ActiveByWorkflowAndPatient(t.Context(), "wf-welcome", "p-1")
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusRunning, state.Status)

	// With the retry budget spent the pool gives up on the job and settles
	// the run with it.
	require.NoError(t, f.queue.Fail(t.Context(), claimed, execErr.Error()))
	f.engine.FailExecution(t.Context(), claimed, execErr)

	stored, err := f.store.ExecutionStates().ByID(t.Context(), state.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)

	// Nothing left to resume for the pair.
	_, err = f.store.ExecutionStates().ActiveByWorkflowAndPatient(t.Context(), "wf-welcome", "p-1")
	require.Error(t, err)
}

func TestEngine_GatewayBreakerOpensAfterSustainedFailure(t *testing.T) {
	f := newEngineFixture(t, singleMessageGraph())
	f.gateway.setError(errors.New("provider unavailable"))

	execCtx := models.ExecutionContext{
		WorkflowID:  "wf-welcome",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	}

	// DefaultGatewayConfig opens the circuit on the third failure.
	for range 3 {
		report := f.engine.ExecuteWorkflow(t.Context(), execCtx)
		require.False(t, report.Success)
	}

	require.Equal(t, breaker.StateOpen, f.engine.GatewayBreaker().State())

	// Further sends are short-circuited without reaching the provider, and
	// the failure classifies as retry-worthy.
	f.gateway.setError(nil)

	report := f.engine.ExecuteWorkflow(t.Context(), execCtx)
	require.False(t, report.Success)
	assert.Zero(t, f.gateway.sendCount())
	assert.Contains(t, report.Error, breaker.ErrCircuitOpen.Error())
}

func TestEngine_FollowUpSequenceOverEightDays(t *testing.T) {
	f := newEngineFixture(t, followUpGraph())

	day0 := f.clock()
	execCtx := models.ExecutionContext{
		WorkflowID:  "wf-follow-up",
		PatientID:   "p-1",
		TriggerType: "surgery_completed",
	}

	// Day 0: the immediate message goes out and continuation jobs cover the
	// delayed ones.
	report := f.engine.ExecuteWorkflow(t.Context(), execCtx)
	require.True(t, report.Success, "report error: %s", report.Error)
	assert.Equal(t, []string{"msg-day0"}, report.Executed)
	require.Equal(t, 1, f.gateway.sendCount())

	summary, err := f.engine.Summary(t.Context(), report.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, summary.Status)
	assert.ElementsMatch(t, []string{"msg-day3", "msg-day7"}, summary.PendingNodes)

	// Day 3: the scheduling tick claims the continuation and a worker runs
	// it. Only the day-3 job is due.
	f.advanceTo(day0.AddDate(0, 0, 3))

	claimed, err := f.engine.ScheduleTick(t.Context(), f.clock())
	require.NoError(t, err)
	require.Equal(t, 1, claimed)

	job, err := f.queue.Dequeue(t.Context())
	require.NoError(t, err)
	require.NoError(t, f.engine.ExecuteJob(t.Context(), "worker-1", job))
	require.NoError(t, f.queue.Complete(t.Context(), job))

	assert.Equal(t, 2, f.gateway.sendCount())
	assert.Equal(t, "Remember your wound care routine.", f.gateway.sent[1].Content)

	summary, err = f.engine.Summary(t.Context(), report.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, summary.Status)
	assert.Equal(t, []string{"msg-day7"}, summary.PendingNodes)

	// Day 7: the final continuation completes the run.
	f.advanceTo(day0.AddDate(0, 0, 7))

	claimed, err = f.engine.ScheduleTick(t.Context(), f.clock())
	require.NoError(t, err)
	require.Equal(t, 1, claimed)

	job, err = f.queue.Dequeue(t.Context())
	require.NoError(t, err)
	require.NoError(t, f.engine.ExecuteJob(t.Context(), "worker-1", job))
	require.NoError(t, f.queue.Complete(t.Context(), job))

	assert.Equal(t, 3, f.gateway.sendCount())

	summary, err = f.engine.Summary(t.Context(), report.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, summary.Status)
	assert.ElementsMatch(t, []string{"msg-day0", "msg-day3", "msg-day7"}, summary.ExecutedNodes)
	assert.Empty(t, summary.PendingNodes)
}

func TestEngine_CheckpointCarriesVariablesAcrossContinuations(t *testing.T) {
	graph := &models.WorkflowGraph{
		ID:     "wf-checkpoint",
		Name:   "Clinic-specific follow-up",
		Status: models.GraphStatusActive,
		Nodes: []*models.Node{
			trigger("t1", "intake_completed"),
			message("msg-day0", "Welcome, {{.patient_name}}!"),
			delay("wait-1d", 1),
			message("msg-day1", "Your check-up at {{.clinic_name}} is tomorrow."),
		},
		Edges: []*models.Edge{
			link("e1", "t1", "msg-day0"),
			link("e2", "msg-day0", "wait-1d"),
			link("e3", "wait-1d", "msg-day1"),
		},
	}

	f := newEngineFixture(t, graph)
	day0 := f.clock()

	report := f.engine.ExecuteWorkflow(t.Context(), models.ExecutionContext{
		WorkflowID:  "wf-checkpoint",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
		Variables:   map[string]string{"clinic_name": "Clinica Norte"},
	})
	require.True(t, report.Success, "report error: %s", report.Error)

	// The segment snapshots its merged variables into the state.
	state, err := f.store.ExecutionStates().ByID(t.Context(), report.ExecutionID)
	require.NoError(t, err)
	require.NotEmpty(t, state.CheckpointData)

	vars, ok := state.CheckpointData["variables"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Clinica Norte", vars["clinic_name"])

	f.advanceTo(day0.AddDate(0, 0, 1))

	claimed, err := f.engine.ScheduleTick(t.Context(), f.clock())
	require.NoError(t, err)
	require.Equal(t, 1, claimed)

	job, err := f.queue.Dequeue(t.Context())
	require.NoError(t, err)

	// A continuation payload stripped of caller variables still renders the
	// day-1 message from the checkpoint.
	job.Context.Variables = nil

	require.NoError(t, f.engine.ExecuteJob(t.Context(), "worker-1", job))
	require.Equal(t, 2, f.gateway.sendCount())
	assert.Equal(t, "Your check-up at Clinica Norte is tomorrow.", f.gateway.sent[1].Content)
}

func TestEngine_OverlappingTicksScheduleOneContinuation(t *testing.T) {
	f := newEngineFixture(t, followUpGraph())

	execCtx := models.ExecutionContext{
		WorkflowID:  "wf-follow-up",
		PatientID:   "p-1",
		TriggerType: "surgery_completed",
	}

	first := f.engine.ExecuteWorkflow(t.Context(), execCtx)
	require.True(t, first.Success)

	// A second planning pass for the same patient finds the queued
	// continuations by tag and enqueues nothing new.
	second := f.engine.ExecuteWorkflow(t.Context(), execCtx)
	require.True(t, second.Success)

	day3Jobs, err := f.store.Jobs().QueuedWithTag(t.Context(), continuationTag("wf-follow-up", "msg-day3", "p-1"))
	require.NoError(t, err)
	assert.Len(t, day3Jobs, 1)

	day7Jobs, err := f.store.Jobs().QueuedWithTag(t.Context(), continuationTag("wf-follow-up", "msg-day7", "p-1"))
	require.NoError(t, err)
	assert.Len(t, day7Jobs, 1)
}

func TestEngine_MidSequenceEntrySkipsEarlierDays(t *testing.T) {
	f := newEngineFixture(t, followUpGraph())

	// A patient registered on day 3 of the protocol gets the day-3 message,
	// not the day-0 one.
	report := f.engine.ExecuteWorkflow(t.Context(), models.ExecutionContext{
		WorkflowID:  "wf-follow-up",
		PatientID:   "p-1",
		TriggerType: "surgery_completed",
		DaysElapsed: 3,
	})

	require.True(t, report.Success, "report error: %s", report.Error)
	assert.Equal(t, []string{"msg-day3"}, report.Executed)
	require.Equal(t, 1, f.gateway.sendCount())
	assert.Equal(t, "Remember your wound care routine.", f.gateway.sent[0].Content)
}

func TestEngine_TimeWindowDefersExecution(t *testing.T) {
	graph := &models.WorkflowGraph{
		ID:     "wf-quiet-hours",
		Name:   "Daytime reminders",
		Status: models.GraphStatusActive,
		Nodes: []*models.Node{
			trigger("t1", "intake_completed"),
			{
				ID:         "daytime",
				Kind:       models.NodeKindTimeWindow,
				TimeWindow: &models.TimeWindowPayload{StartHour: 8, EndHour: 20},
			},
			message("msg", "Good morning, {{.patient_name}}."),
		},
		Edges: []*models.Edge{
			link("e1", "t1", "daytime"),
			link("e2", "daytime", "msg"),
		},
	}

	f := newEngineFixture(t, graph)
	f.advanceTo(time.Date(2026, 3, 2, 22, 30, 0, 0, time.UTC))

	report := f.engine.ExecuteWorkflow(t.Context(), models.ExecutionContext{
		WorkflowID:  "wf-quiet-hours",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	})

	require.True(t, report.Success)
	assert.Empty(t, report.Executed)
	assert.Zero(t, f.gateway.sendCount())

	require.NotEmpty(t, report.Log)
	assert.Equal(t, "deferred_outside_window", report.Log[0].Outcome)

	// The resume job waits for the window to open the next morning.
	deferred, err := f.store.Jobs().QueuedWithTag(t.Context(), continuationTag("wf-quiet-hours", "msg", "p-1"))
	require.NoError(t, err)
	require.Len(t, deferred, 1)
	require.NotNil(t, deferred[0].ScheduledFor)
	assert.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), *deferred[0].ScheduledFor)

	summary, err := f.engine.Summary(t.Context(), report.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, summary.Status)
}

func TestEngine_ExecuteJobHonorsCancellation(t *testing.T) {
	f := newEngineFixture(t, singleMessageGraph())

	job := queue.NewJob(models.ExecutionContext{
		WorkflowID:  "wf-welcome",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	})
	require.NoError(t, f.queue.Enqueue(t.Context(), job))

	_, err := f.queue.ReloadDue(t.Context(), time.Now().UTC())
	require.NoError(t, err)

	claimed, err := f.queue.Dequeue(t.Context())
	require.NoError(t, err)

	require.NoError(t, f.engine.CancelJob(t.Context(), claimed.ID))

	err = f.engine.ExecuteJob(t.Context(), "worker-1", claimed)
	require.ErrorIs(t, err, ErrCancelRequested)
	assert.Zero(t, f.gateway.sendCount())
}

func TestEngine_ExecuteWorkflowRecoversFromPanic(t *testing.T) {
	f := newEngineFixture(t, nil)

	// A nil graph pointer in the store is a programming error; the report
	// boundary still holds.
	require.NoError(t, f.store.Workflows().Save(t.Context(), &models.WorkflowGraph{
		ID:     "wf-broken",
		Name:   "Broken graph",
		Status: models.GraphStatusActive,
		Nodes: []*models.Node{
			trigger("t1", "intake_completed"),
			{ID: "bad", Kind: models.NodeKindAction},
		},
		Edges: []*models.Edge{link("e1", "t1", "bad")},
	}))

	report := f.engine.ExecuteWorkflow(t.Context(), models.ExecutionContext{
		WorkflowID:  "wf-broken",
		PatientID:   "p-1",
		TriggerType: "intake_completed",
	})

	require.False(t, report.Success)
	assert.NotEmpty(t, report.Error)
}

func TestEngine_ScheduleTickReleasesOrphans(t *testing.T) {
	f := newEngineFixture(t, singleMessageGraph())

	job := queue.NewJob(models.ExecutionContext{WorkflowID: "wf-welcome", PatientID: "p-1"})
	require.NoError(t, f.queue.Enqueue(t.Context(), job))

	// A crashed worker claimed the job an hour ago and never reported back.
	staleStart := time.Now().UTC().Add(-time.Hour)
	_, err := f.store.Jobs().ClaimDue(t.Context(), staleStart, 10)
	require.NoError(t, err)

	claimed, err := f.engine.ScheduleTick(t.Context(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
}
