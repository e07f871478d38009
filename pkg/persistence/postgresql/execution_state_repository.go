package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// ExecutionStateRepository handles execution checkpoint persistence.
type ExecutionStateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const stateColumns = `execution_id, workflow_id, patient_id, status, executed_nodes,
	pending_nodes, failed_nodes, checkpoint_data, retry_count, created_at, last_updated`

// Save upserts an execution state.
func (r *ExecutionStateRepository) Save(ctx context.Context, state *models.ExecutionState) error {
	executedJSON, err := json.Marshal(state.ExecutedNodes)
	if err != nil {
		return fmt.Errorf("failed to marshal executed nodes: %w", err)
	}

	pendingJSON, err := json.Marshal(state.PendingNodes)
	if err != nil {
		return fmt.Errorf("failed to marshal pending nodes: %w", err)
	}

	failedJSON, err := json.Marshal(state.FailedNodes)
	if err != nil {
		return fmt.Errorf("failed to marshal failed nodes: %w", err)
	}

	checkpointJSON, err := json.Marshal(state.CheckpointData)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	query := `
		INSERT INTO execution_states (` + stateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (execution_id) DO UPDATE SET
			status = EXCLUDED.status,
			executed_nodes = EXCLUDED.executed_nodes,
			pending_nodes = EXCLUDED.pending_nodes,
			failed_nodes = EXCLUDED.failed_nodes,
			checkpoint_data = EXCLUDED.checkpoint_data,
			retry_count = EXCLUDED.retry_count,
			last_updated = EXCLUDED.last_updated
	`

	_, err = r.db.ExecContext(ctx, query,
		state.ExecutionID,
		state.WorkflowID,
		state.PatientID,
		state.Status,
		executedJSON,
		pendingJSON,
		failedJSON,
		checkpointJSON,
		state.RetryCount,
		state.CreatedAt,
		state.LastUpdated,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save execution state", "execution_id", state.ExecutionID, "error", err)

		return persistence.NewStoreError("SaveExecutionState", state.ExecutionID, err)
	}

	return nil
}

// ByID retrieves an execution state by id.
func (r *ExecutionStateRepository) ByID(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	query := `SELECT ` + stateColumns + ` FROM execution_states WHERE execution_id = $1`

	state, err := scanExecutionState(r.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionStateNotFound
		}

		return nil, persistence.NewStoreError("ExecutionStateByID", executionID, err)
	}

	return state, nil
}

// ActiveByWorkflowAndPatient returns the most recent non-terminal state for
// the pair.
func (r *ExecutionStateRepository) ActiveByWorkflowAndPatient(ctx context.Context, workflowID, patientID string) (*models.ExecutionState, error) {
	query := `
		SELECT ` + stateColumns + ` FROM execution_states
		WHERE workflow_id = $1 AND patient_id = $2 AND status IN ('running', 'paused')
		ORDER BY last_updated DESC
		LIMIT 1
	`

	state, err := scanExecutionState(r.db.QueryRowContext(ctx, query, workflowID, patientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionStateNotFound
		}

		return nil, persistence.NewStoreError("ActiveByWorkflowAndPatient", workflowID, err)
	}

	return state, nil
}

// PurgeTerminalBefore deletes terminal states last updated before the
// cutoff.
func (r *ExecutionStateRepository) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM execution_states
		WHERE status IN ('completed', 'failed') AND last_updated < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, persistence.NewStoreError("PurgeTerminalBefore", "", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, persistence.NewStoreError("PurgeTerminalBefore", "", err)
	}

	return int(affected), nil
}

func scanExecutionState(row rowScanner) (*models.ExecutionState, error) {
	var (
		state          models.ExecutionState
		executedJSON   []byte
		pendingJSON    []byte
		failedJSON     []byte
		checkpointJSON []byte
	)

	err := row.Scan(
		&state.ExecutionID,
		&state.WorkflowID,
		&state.PatientID,
		&state.Status,
		&executedJSON,
		&pendingJSON,
		&failedJSON,
		&checkpointJSON,
		&state.RetryCount,
		&state.CreatedAt,
		&state.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(executedJSON, &state.ExecutedNodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal executed nodes: %w", err)
	}

	if err := json.Unmarshal(pendingJSON, &state.PendingNodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending nodes: %w", err)
	}

	if err := json.Unmarshal(failedJSON, &state.FailedNodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed nodes: %w", err)
	}

	if err := json.Unmarshal(checkpointJSON, &state.CheckpointData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint data: %w", err)
	}

	return &state, nil
}
