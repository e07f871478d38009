package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

const webhookTimeout = 30 * time.Second

// WebhookAction POSTs the execution context to the node URL.
type WebhookAction struct {
	client *http.Client
	logger *slog.Logger
}

func NewWebhookAction(logger *slog.Logger) *WebhookAction {
	return &WebhookAction{
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger.With("module", "webhook_action"),
	}
}

func (a *WebhookAction) Execute(ctx context.Context, execCtx models.ExecutionContext, payload models.ActionPayload) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"workflow_id":    execCtx.WorkflowID,
		"patient_id":     execCtx.PatientID,
		"appointment_id": execCtx.AppointmentID,
		"trigger_type":   execCtx.TriggerType,
		"days_elapsed":   execCtx.DaysElapsed,
		"variables":      execCtx.Variables,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range payload.Headers {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("webhook request failed: %w", err))
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			a.logger.ErrorContext(ctx, "Failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read webhook response: %w", err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, Transient(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("webhook rejected request with status %d", resp.StatusCode)
	}

	a.logger.InfoContext(ctx, "Webhook delivered",
		"workflow_id", execCtx.WorkflowID, "url", payload.URL, "status", resp.StatusCode)

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}, nil
}
