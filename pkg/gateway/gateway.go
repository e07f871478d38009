// Package gateway defines the outbound notification capability. The engine
// never talks to a messaging provider directly; it goes through this
// interface, wrapped by the gateway circuit breaker.
package gateway

import (
	"context"
	"log/slog"
	"time"
)

// Message is one outbound notification.
type Message struct {
	Recipient string
	Channel   string
	Content   string
}

// Result reports a successful send.
type Result struct {
	ProviderID  string
	DeliveredAt time.Time
}

// Gateway sends notifications through an external provider.
type Gateway interface {
	Send(ctx context.Context, msg Message) (*Result, error)
}

// LogGateway writes sends to the log instead of a provider. Used in
// development and tests.
type LogGateway struct {
	logger *slog.Logger
}

func NewLogGateway(logger *slog.Logger) *LogGateway {
	return &LogGateway{logger: logger.With("module", "log_gateway")}
}

func (g *LogGateway) Send(ctx context.Context, msg Message) (*Result, error) {
	g.logger.InfoContext(ctx, "Notification sent",
		"channel", msg.Channel, "recipient", msg.Recipient, "content_length", len(msg.Content))

	return &Result{DeliveredAt: time.Now().UTC()}, nil
}
