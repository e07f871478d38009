// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"log/slog"

	"github.com/cadencehq/cadence/pkg/actions"
	"github.com/cadencehq/cadence/pkg/gateway"
	"github.com/cadencehq/cadence/pkg/models"
)

func NewActionRegistry(gw gateway.Gateway, logger *slog.Logger) *actions.Registry {
	registry := actions.NewRegistry()
	registry.Register(models.ActionTypeMessage, actions.NewMessageAction(gw, logger))
	registry.Register(models.ActionTypeWebhook, actions.NewWebhookAction(logger))

	return registry
}
