package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cadencehq/cadence/pkg/gateway"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/template"
)

const defaultChannel = "sms"

// MessageAction renders the node template against the context variables and
// sends the result through the notification gateway.
type MessageAction struct {
	gateway gateway.Gateway
	logger  *slog.Logger
}

func NewMessageAction(gw gateway.Gateway, logger *slog.Logger) *MessageAction {
	return &MessageAction{
		gateway: gw,
		logger:  logger.With("module", "message_action"),
	}
}

func (a *MessageAction) Execute(ctx context.Context, execCtx models.ExecutionContext, payload models.ActionPayload) (map[string]any, error) {
	content, err := template.RenderWithContext(payload.Template, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render message template: %w", err)
	}

	channel := payload.Channel
	if channel == "" {
		channel = defaultChannel
	}

	recipient, err := resolveRecipient(payload.Recipient, channel, execCtx.Variables)
	if err != nil {
		return nil, err
	}

	result, err := a.gateway.Send(ctx, gateway.Message{
		Recipient: recipient,
		Channel:   channel,
		Content:   content,
	})
	if err != nil {
		// Provider failures are retryable; the message was not delivered.
		return nil, Transient(fmt.Errorf("gateway send failed: %w", err))
	}

	a.logger.InfoContext(ctx, "Message sent",
		"workflow_id", execCtx.WorkflowID, "patient_id", execCtx.PatientID, "channel", channel)

	return map[string]any{
		"channel":      channel,
		"recipient":    recipient,
		"content":      content,
		"provider_id":  result.ProviderID,
		"delivered_at": result.DeliveredAt,
	}, nil
}

// resolveRecipient falls back to the patient contact variable matching the
// channel when the node does not name a recipient explicitly.
func resolveRecipient(explicit, channel string, vars map[string]string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	var key string

	switch channel {
	case "email":
		key = "patient_email"
	default:
		key = "patient_phone"
	}

	if recipient, ok := vars[key]; ok && recipient != "" {
		return recipient, nil
	}

	return "", fmt.Errorf("no recipient for channel %q and variable %q is unset", channel, key)
}
