package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// Scheduler runs the shared-store maintenance passes. Every pass is
// idempotent and safe to run from several replicas at once.
type Scheduler struct {
	logger          *slog.Logger
	store           persistence.Persistence
	orphanStaleness time.Duration
	stateRetention  time.Duration
}

func NewScheduler(logger *slog.Logger, store persistence.Persistence, orphanStaleness, stateRetention time.Duration) *Scheduler {
	return &Scheduler{
		logger:          logger,
		store:           store,
		orphanStaleness: orphanStaleness,
		stateRetention:  stateRetention,
	}
}

// ReleaseOrphans requeues processing jobs whose worker died without
// reporting back.
func (s *Scheduler) ReleaseOrphans(ctx context.Context) {
	released, err := s.store.Jobs().ReleaseOrphans(ctx, time.Now().UTC().Add(-s.orphanStaleness))
	if err != nil {
		s.logger.ErrorContext(ctx, "Orphan release failed", "error", err)

		return
	}

	if released > 0 {
		s.logger.InfoContext(ctx, "Released orphaned jobs", "count", released)
	}
}

// PurgeExpiredStates deletes terminal execution states past retention.
func (s *Scheduler) PurgeExpiredStates(ctx context.Context) {
	purged, err := s.store.ExecutionStates().PurgeTerminalBefore(ctx, time.Now().UTC().Add(-s.stateRetention))
	if err != nil {
		s.logger.ErrorContext(ctx, "State purge failed", "error", err)

		return
	}

	if purged > 0 {
		s.logger.InfoContext(ctx, "Purged expired execution states", "count", purged)
	}
}

// ValidateGraphs sweeps stored workflows and demotes active graphs that no
// longer pass validation, so they are never scheduled.
func (s *Scheduler) ValidateGraphs(ctx context.Context) {
	graphs, err := s.store.Workflows().List(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Workflow listing failed", "error", err)

		return
	}

	for _, graph := range graphs {
		if graph.Status != models.GraphStatusActive {
			continue
		}

		validationErr := models.ValidateGraph(graph)
		if validationErr == nil {
			continue
		}

		s.logger.WarnContext(ctx, "Active workflow failed validation, demoting",
			"workflow_id", graph.ID, "error", validationErr)

		graph.Status = models.GraphStatusInvalid
		graph.UpdatedAt = time.Now().UTC()

		if saveErr := s.store.Workflows().Save(ctx, graph); saveErr != nil {
			s.logger.ErrorContext(ctx, "Failed to demote workflow",
				"workflow_id", graph.ID, "error", saveErr)
		}
	}
}
