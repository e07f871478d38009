package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/pkg/events"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/plan"
	"github.com/cadencehq/cadence/pkg/queue"
)

// continuationTag builds the job tag suppressing duplicate continuation
// jobs for the same resume point and patient.
func continuationTag(workflowID, nodeID, patientID string) string {
	return "resume:" + workflowID + ":" + nodeID + ":" + patientID
}

// run executes one segment of a workflow for one patient: the actions due
// at the current day offset, plus continuation jobs for everything behind a
// delay. jobID is empty for synchronous API-triggered runs.
func (e *Engine) run(ctx context.Context, execCtx models.ExecutionContext, jobID string) (*ExecutionReport, error) {
	graph, err := e.store.Workflows().ByID(ctx, execCtx.WorkflowID)
	if err != nil {
		return nil, err
	}

	if graph.Status != models.GraphStatusActive {
		return nil, fmt.Errorf("workflow %s has status %q: %w", graph.ID, graph.Status, ErrGraphNotExecutable)
	}

	patient, err := e.store.Patients().ByID(ctx, execCtx.PatientID)
	if err != nil {
		return nil, err
	}

	var appointment *models.Appointment

	if execCtx.AppointmentID != "" {
		appointment, err = e.store.Appointments().ByID(ctx, execCtx.AppointmentID)
		if err != nil {
			return nil, err
		}
	}

	now := e.clock()
	execCtx.Variables = mergeVariables(models.ContextVariables(patient, appointment, now), execCtx.Variables)

	state, resumedState, err := e.loadOrCreateState(ctx, execCtx, now)
	if err != nil {
		return nil, err
	}

	if resumedState {
		// Variables captured at trigger time survive restarts through the
		// checkpoint; anything the resuming context carries wins on conflict.
		execCtx.Variables = mergeVariables(checkpointVariables(state), execCtx.Variables)
	}

	report := &ExecutionReport{ExecutionID: state.ExecutionID}

	// Anchor grounds business-day arithmetic: the trigger date for fresh
	// runs, the resume instant for continuations.
	var (
		anchor    time.Time
		offsetNow int
		planned   *plan.Plan
	)

	if execCtx.ResumeFromNodeID != "" {
		anchor = now
		offsetNow = 0
		planned, err = e.planner.PlanFrom(graph, execCtx.ResumeFromNodeID, execCtx, anchor)
	} else {
		anchor = now.AddDate(0, 0, -execCtx.DaysElapsed)
		offsetNow = execCtx.DaysElapsed
		planned, err = e.planner.Plan(graph, execCtx, anchor)
	}

	if err != nil {
		state.Status = models.ExecutionStatusFailed
		state.LastUpdated = now
		e.saveState(ctx, state)
		e.publish(ctx, execCtx.WorkflowID, events.ExecutionFailed{
			BaseEvent:   e.baseEvent(events.ExecutionFailedEvent, execCtx),
			ExecutionID: state.ExecutionID,
			Error:       err.Error(),
		})

		return report, err
	}

	if execCtx.ResumeFromNodeID != "" && resumedState {
		e.publish(ctx, execCtx.WorkflowID, events.ExecutionResumed{
			BaseEvent:        e.baseEvent(events.ExecutionResumedEvent, execCtx),
			ExecutionID:      state.ExecutionID,
			ResumeFromNodeID: execCtx.ResumeFromNodeID,
		})
	}

	runErr := e.workflowBreaker.Execute(ctx, func(breakerCtx context.Context) error {
		return e.executeActions(breakerCtx, execCtx, state, planned.ActionsAt(offsetNow), report, jobID, now)
	})

	scheduled := e.scheduleContinuations(ctx, execCtx, state, planned, offsetNow, anchor, now)

	state.CheckpointData = checkpoint(execCtx, now)
	e.finishState(state, planned, offsetNow, scheduled, runErr, now)
	e.saveState(ctx, state)

	if runErr != nil {
		e.publish(ctx, execCtx.WorkflowID, events.ExecutionFailed{
			BaseEvent:   e.baseEvent(events.ExecutionFailedEvent, execCtx),
			ExecutionID: state.ExecutionID,
			Error:       runErr.Error(),
		})

		return report, runErr
	}

	if state.Status == models.ExecutionStatusCompleted {
		e.publish(ctx, execCtx.WorkflowID, events.ExecutionCompleted{
			BaseEvent:     e.baseEvent(events.ExecutionCompletedEvent, execCtx),
			ExecutionID:   state.ExecutionID,
			ExecutedNodes: state.ExecutedNodes,
		})
	}

	return report, nil
}

// loadOrCreateState finds the checkpoint for this run. Continuation jobs
// carry the original execution id; fresh runs look for a non-terminal state
// for the (workflow, patient) pair before creating one.
func (e *Engine) loadOrCreateState(ctx context.Context, execCtx models.ExecutionContext, now time.Time) (*models.ExecutionState, bool, error) {
	if execCtx.OriginalExecutionID != "" {
		state, err := e.store.ExecutionStates().ByID(ctx, execCtx.OriginalExecutionID)
		if err == nil {
			return state, true, nil
		}

		if !persistence.IsNotFound(err) {
			return nil, false, err
		}
	}

	state, err := e.store.ExecutionStates().ActiveByWorkflowAndPatient(ctx, execCtx.WorkflowID, execCtx.PatientID)
	if err == nil {
		return state, true, nil
	}

	if !persistence.IsNotFound(err) {
		return nil, false, err
	}

	state = &models.ExecutionState{
		ExecutionID: uuid.New().String(),
		WorkflowID:  execCtx.WorkflowID,
		PatientID:   execCtx.PatientID,
		Status:      models.ExecutionStatusRunning,
		FailedNodes: make(map[string]string),
		CreatedAt:   now,
		LastUpdated: now,
	}

	if err := e.store.ExecutionStates().Save(ctx, state); err != nil {
		return nil, false, err
	}

	e.publish(ctx, execCtx.WorkflowID, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, execCtx),
		ExecutionID: state.ExecutionID,
		TriggerType: execCtx.TriggerType,
	})

	return state, false, nil
}

// executeActions runs the actions due now, in plan order. Sub-day delayed
// actions are excluded here: the continuation job enqueued at their delay
// node executes them at the right instant.
func (e *Engine) executeActions(ctx context.Context, execCtx models.ExecutionContext, state *models.ExecutionState, due []plan.PlannedAction, report *ExecutionReport, jobID string, now time.Time) error {
	for _, action := range due {
		if action.SubDay > 0 {
			continue
		}

		if jobID != "" && e.queue.CancelRequested(jobID) {
			return ErrCancelRequested
		}

		node := action.Node

		if state.HasExecuted(node.ID) {
			report.Log = append(report.Log, e.logEntry(node, "skipped_already_executed", nil, now))

			continue
		}

		sent, err := e.notificationSent(ctx, execCtx, node.ID)
		if err != nil {
			return fmt.Errorf("idempotency check failed for node %s: %w", node.ID, err)
		}

		if sent {
			e.markExecuted(state, node.ID, now)
			report.Log = append(report.Log, e.logEntry(node, "skipped_duplicate", nil, now))

			continue
		}

		if deferred, openAt := outsideWindow(action.Windows, now); deferred {
			e.deferForWindow(ctx, execCtx, state, node, openAt)
			report.Log = append(report.Log, e.logEntry(node, "deferred_outside_window", map[string]any{"open_at": openAt}, now))

			continue
		}

		detail, err := e.executeAction(ctx, execCtx, node)
		if err != nil {
			state.FailedNodes[node.ID] = err.Error()
			state.RetryCount++
			report.Log = append(report.Log, e.logEntry(node, "failed", map[string]any{"error": err.Error()}, now))

			return fmt.Errorf("node %s: %w", node.ID, err)
		}

		if err := e.recordNotification(ctx, execCtx, node, detail, now); err != nil {
			return err
		}

		delete(state.FailedNodes, node.ID)
		e.markExecuted(state, node.ID, now)
		report.Executed = append(report.Executed, node.ID)
		report.Log = append(report.Log, e.logEntry(node, "executed", detail, now))
	}

	return nil
}

// executeAction dispatches to the registered executor. Message sends go
// through the gateway circuit breaker.
func (e *Engine) executeAction(ctx context.Context, execCtx models.ExecutionContext, node *models.Node) (map[string]any, error) {
	executor, err := e.registry.ForType(node.Action.Type)
	if err != nil {
		return nil, err
	}

	var detail map[string]any

	execute := func(c context.Context) error {
		var execErr error

		detail, execErr = executor.Execute(c, execCtx, *node.Action)

		return execErr
	}

	if node.Action.Type == models.ActionTypeMessage {
		err = e.gatewayBreaker.Execute(ctx, execute)
	} else {
		err = execute(ctx)
	}

	if err != nil {
		return nil, err
	}

	return detail, nil
}

func (e *Engine) recordNotification(ctx context.Context, execCtx models.ExecutionContext, node *models.Node, detail map[string]any, now time.Time) error {
	channel := detailString(detail, "channel")
	if channel == "" {
		channel = string(node.Action.Type)
	}

	record := &models.NotificationRecord{
		ID:            uuid.New().String(),
		WorkflowID:    execCtx.WorkflowID,
		NodeID:        node.ID,
		PatientID:     execCtx.PatientID,
		AppointmentID: execCtx.AppointmentID,
		Channel:       channel,
		Content:       detailString(detail, "content"),
		SentAt:        now,
	}

	if err := e.store.NotificationLog().Append(ctx, record); err != nil {
		return fmt.Errorf("failed to record notification for node %s: %w", node.ID, err)
	}

	e.cacheSent(ctx, sentCacheKey(execCtx, node.ID))

	e.publish(ctx, execCtx.WorkflowID, events.NotificationSent{
		BaseEvent:     e.baseEvent(events.NotificationSentEvent, execCtx),
		NodeID:        node.ID,
		AppointmentID: execCtx.AppointmentID,
		Channel:       channel,
	})

	return nil
}

// sentCacheTTL bounds how long a positive idempotency answer is trusted
// without rechecking the durable log.
const sentCacheTTL = 15 * time.Minute

func sentCacheKey(execCtx models.ExecutionContext, nodeID string) string {
	return "sent:" + execCtx.WorkflowID + ":" + nodeID + ":" + execCtx.PatientID + ":" + execCtx.AppointmentID
}

// notificationSent answers the node-level idempotency check, consulting the
// cache before the durable log. Only positive answers are cached; a logged
// notification never becomes unsent.
func (e *Engine) notificationSent(ctx context.Context, execCtx models.ExecutionContext, nodeID string) (bool, error) {
	key := sentCacheKey(execCtx, nodeID)

	if e.cache != nil {
		if _, err := e.cache.Get(ctx, key); err == nil {
			return true, nil
		}
	}

	sent, err := e.store.NotificationLog().Exists(ctx, execCtx.WorkflowID, nodeID, execCtx.PatientID, execCtx.AppointmentID)
	if err != nil || !sent {
		return sent, err
	}

	e.cacheSent(ctx, key)

	return true, nil
}

func (e *Engine) cacheSent(ctx context.Context, key string) {
	if e.cache == nil {
		return
	}

	if err := e.cache.Set(ctx, key, "1", sentCacheTTL); err != nil {
		e.logger.DebugContext(ctx, "Failed to cache idempotency result", "key", key, "error", err)
	}
}

// scheduleContinuations enqueues one job per delay-node resume point that
// lies in the future. The tag lookup suppresses duplicates when overlapping
// ticks plan the same graph.
func (e *Engine) scheduleContinuations(ctx context.Context, execCtx models.ExecutionContext, state *models.ExecutionState, planned *plan.Plan, offsetNow int, anchor, now time.Time) int {
	scheduled := 0

	for _, cont := range planned.Continuations {
		target := anchor.AddDate(0, 0, cont.DayOffset).Add(cont.SubDay)
		if !target.After(now) {
			continue
		}

		if state.HasExecuted(cont.ResumeNodeID) {
			continue
		}

		tag := continuationTag(execCtx.WorkflowID, cont.ResumeNodeID, execCtx.PatientID)

		existing, err := e.store.Jobs().QueuedWithTag(ctx, tag)
		if err != nil {
			e.logger.ErrorContext(ctx, "Continuation dedup lookup failed", "tag", tag, "error", err)

			continue
		}

		if len(existing) > 0 {
			continue
		}

		contCtx := execCtx
		contCtx.ResumeFromNodeID = cont.ResumeNodeID
		contCtx.OriginalExecutionID = state.ExecutionID
		contCtx.DaysElapsed = execCtx.DaysElapsed + (cont.DayOffset - offsetNow)

		job := queue.NewJob(contCtx,
			queue.WithScheduledFor(target),
			queue.WithTags(tag),
		)

		if err := e.queue.Enqueue(ctx, job); err != nil {
			e.logger.ErrorContext(ctx, "Failed to enqueue continuation job",
				"workflow_id", execCtx.WorkflowID, "resume_node_id", cont.ResumeNodeID, "error", err)

			continue
		}

		addPending(state, cont.ResumeNodeID)
		scheduled++

		e.logger.DebugContext(ctx, "Continuation scheduled",
			"workflow_id", execCtx.WorkflowID, "resume_node_id", cont.ResumeNodeID, "scheduled_for", target)
	}

	return scheduled
}

// deferForWindow enqueues a job resuming at the gated node when its time
// window next opens.
func (e *Engine) deferForWindow(ctx context.Context, execCtx models.ExecutionContext, state *models.ExecutionState, node *models.Node, openAt time.Time) {
	tag := continuationTag(execCtx.WorkflowID, node.ID, execCtx.PatientID)

	existing, err := e.store.Jobs().QueuedWithTag(ctx, tag)
	if err != nil || len(existing) > 0 {
		return
	}

	contCtx := execCtx
	contCtx.ResumeFromNodeID = node.ID
	contCtx.OriginalExecutionID = state.ExecutionID

	job := queue.NewJob(contCtx,
		queue.WithScheduledFor(openAt),
		queue.WithTags(tag),
	)

	if err := e.queue.Enqueue(ctx, job); err != nil {
		e.logger.ErrorContext(ctx, "Failed to defer for time window",
			"workflow_id", execCtx.WorkflowID, "node_id", node.ID, "error", err)

		return
	}

	addPending(state, node.ID)
}

// finishState settles the execution status after a run segment. The run is
// complete only when nothing is pending and nothing lies at a later offset.
func (e *Engine) finishState(state *models.ExecutionState, planned *plan.Plan, offsetNow, scheduled int, runErr error, now time.Time) {
	state.LastUpdated = now

	if runErr != nil {
		// Non-terminal: the job retry path may still recover this run.
		state.Status = models.ExecutionStatusRunning

		return
	}

	_, hasLater := planned.NextOffset(offsetNow)

	switch {
	case len(state.PendingNodes) > 0 || scheduled > 0:
		state.Status = models.ExecutionStatusPaused
	case hasLater:
		state.Status = models.ExecutionStatusRunning
	default:
		state.Status = models.ExecutionStatusCompleted
	}
}

func (e *Engine) saveState(ctx context.Context, state *models.ExecutionState) {
	if err := e.store.ExecutionStates().Save(ctx, state); err != nil {
		e.logger.ErrorContext(ctx, "Failed to save execution state",
			"execution_id", state.ExecutionID, "error", err)
	}
}

func (e *Engine) markExecuted(state *models.ExecutionState, nodeID string, now time.Time) {
	if !state.HasExecuted(nodeID) {
		state.ExecutedNodes = append(state.ExecutedNodes, nodeID)
	}

	state.RemovePending(nodeID)
	state.LastUpdated = now
}

func (e *Engine) logEntry(node *models.Node, outcome string, detail map[string]any, now time.Time) LogEntry {
	return LogEntry{
		NodeID:    node.ID,
		NodeKind:  node.Kind,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: now,
	}
}

func addPending(state *models.ExecutionState, nodeID string) {
	for _, id := range state.PendingNodes {
		if id == nodeID {
			return
		}
	}

	state.PendingNodes = append(state.PendingNodes, nodeID)
}

// checkpoint snapshots the context a continuation needs to rehydrate the
// run after a restart.
func checkpoint(execCtx models.ExecutionContext, now time.Time) map[string]any {
	vars := make(map[string]any, len(execCtx.Variables))
	for k, v := range execCtx.Variables {
		vars[k] = v
	}

	return map[string]any{
		"variables":    vars,
		"days_elapsed": execCtx.DaysElapsed,
		"trigger_type": execCtx.TriggerType,
		"saved_at":     now.Format(time.RFC3339),
	}
}

// checkpointVariables recovers the variable snapshot a prior segment wrote.
// Stores that round-trip through JSON hand the map back as map[string]any.
func checkpointVariables(state *models.ExecutionState) map[string]string {
	vars := make(map[string]string)

	switch raw := state.CheckpointData["variables"].(type) {
	case map[string]any:
		for k, v := range raw {
			if s, ok := v.(string); ok {
				vars[k] = s
			}
		}
	case map[string]string:
		for k, v := range raw {
			vars[k] = v
		}
	}

	return vars
}

func mergeVariables(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))

	for k, v := range base {
		merged[k] = v
	}

	for k, v := range overlay {
		merged[k] = v
	}

	return merged
}

func detailString(detail map[string]any, key string) string {
	if detail == nil {
		return ""
	}

	if s, ok := detail[key].(string); ok {
		return s
	}

	return ""
}

// outsideWindow reports whether any gate on the path excludes the instant,
// and when the earliest gate next opens.
func outsideWindow(windows []models.TimeWindowPayload, now time.Time) (bool, time.Time) {
	for _, w := range windows {
		if w.Contains(now) {
			continue
		}

		open := time.Date(now.Year(), now.Month(), now.Day(), w.StartHour, 0, 0, 0, now.Location())
		if !open.After(now) {
			open = open.AddDate(0, 0, 1)
		}

		return true, open
	}

	return false, time.Time{}
}
