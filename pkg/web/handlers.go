// Package web provides the HTTP control surface: workflow management, job
// status and cancellation, and synchronous execution.
package web

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/cadencehq/cadence/pkg/engine"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/queue"
)

type APIHandlers struct {
	logger    *slog.Logger
	engine    *engine.Engine
	store     persistence.Persistence
	queue     *queue.Queue
	validator *validator.Validate
}

func NewAPIHandlers(logger *slog.Logger, eng *engine.Engine, store persistence.Persistence, q *queue.Queue) *APIHandlers {
	return &APIHandlers{
		logger:    logger,
		engine:    eng,
		store:     store,
		queue:     q,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	graphs, err := h.store.Workflows().List(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": graphs, "count": len(graphs)})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	graph, err := h.store.Workflows().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(graph)
}

// CreateWorkflow validates the raw graph JSON against the schema and the
// graph invariants before saving. An invalid graph is rejected, never saved
// with active status.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	body := c.Body()

	if err := models.ValidateGraphJSON(body); err != nil {
		return badRequest(c, "graph schema validation failed: "+err.Error())
	}

	var graph models.WorkflowGraph
	if err := c.Bind().JSON(&graph); err != nil {
		return badRequest(c, "invalid JSON body: "+err.Error())
	}

	if graph.ID == "" {
		graph.ID = uuid.New().String()
	}

	if graph.Status == "" {
		graph.Status = models.GraphStatusDraft
	}

	now := time.Now().UTC()
	graph.CreatedAt = now
	graph.UpdatedAt = now

	if err := models.ValidateGraph(&graph); err != nil {
		return badRequest(c, "graph validation failed: "+err.Error())
	}

	if err := h.store.Workflows().Save(c.Context(), &graph); err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(graph)
}

// ActivateWorkflow re-validates a graph and flips it to active.
func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	graph, err := h.store.Workflows().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	if err := models.ValidateGraph(graph); err != nil {
		graph.Status = models.GraphStatusInvalid
		graph.UpdatedAt = time.Now().UTC()

		if saveErr := h.store.Workflows().Save(c.Context(), graph); saveErr != nil {
			return handleError(c, saveErr)
		}

		return badRequest(c, "graph validation failed: "+err.Error())
	}

	graph.Status = models.GraphStatusActive
	graph.UpdatedAt = time.Now().UTC()

	if err := h.store.Workflows().Save(c.Context(), graph); err != nil {
		return handleError(c, err)
	}

	return c.JSON(graph)
}

type executeRequest struct {
	WorkflowID    string            `json:"workflow_id"    validate:"required"`
	PatientID     string            `json:"patient_id"     validate:"required"`
	AppointmentID string            `json:"appointment_id"`
	TriggerType   string            `json:"trigger_type"   validate:"required"`
	DaysElapsed   int               `json:"days_elapsed"`
	Variables     map[string]string `json:"variables"`
}

func (r executeRequest) executionContext() models.ExecutionContext {
	return models.ExecutionContext{
		WorkflowID:    r.WorkflowID,
		PatientID:     r.PatientID,
		AppointmentID: r.AppointmentID,
		TriggerType:   r.TriggerType,
		DaysElapsed:   r.DaysElapsed,
		Variables:     r.Variables,
	}
}

// ExecuteWorkflow runs a workflow synchronously and returns the structured
// report. Failures are reported in the body, not as transport errors.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req executeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	report := h.engine.ExecuteWorkflow(c.Context(), req.executionContext())

	return c.JSON(report)
}

type enqueueRequest struct {
	executeRequest

	Priority     models.JobPriority `json:"priority"`
	ScheduledFor *time.Time         `json:"scheduled_for"`
	MaxRetries   *int               `json:"max_retries"`
}

// EnqueueJob queues a workflow execution for asynchronous processing.
func (h *APIHandlers) EnqueueJob(c fiber.Ctx) error {
	var req enqueueRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	var opts []queue.JobOption

	if req.Priority != "" {
		opts = append(opts, queue.WithPriority(req.Priority))
	}

	if req.ScheduledFor != nil {
		opts = append(opts, queue.WithScheduledFor(*req.ScheduledFor))
	}

	if req.MaxRetries != nil {
		opts = append(opts, queue.WithMaxRetries(*req.MaxRetries))
	}

	job := queue.NewJob(req.executionContext(), opts...)

	if err := h.queue.Enqueue(c.Context(), job); err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (h *APIHandlers) GetJobStatus(c fiber.Ctx) error {
	status, err := h.engine.JobStatus(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"job_id": c.Params("id"), "status": status})
}

func (h *APIHandlers) CancelJob(c fiber.Ctx) error {
	if err := h.engine.CancelJob(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"job_id": c.Params("id"), "status": models.JobStatusCancelled})
}

func (h *APIHandlers) GetExecutionSummary(c fiber.Ctx) error {
	summary, err := h.engine.Summary(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.store.HealthCheck(c.Context()); err != nil {
		h.logger.ErrorContext(c.Context(), "Health check failed", "error", err)

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy"})
	}

	return c.JSON(fiber.Map{
		"status":           "healthy",
		"gateway_breaker":  h.engine.GatewayBreaker().State().String(),
		"workflow_breaker": h.engine.WorkflowBreaker().State().String(),
	})
}
