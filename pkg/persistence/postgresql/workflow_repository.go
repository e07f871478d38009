package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// WorkflowRepository handles workflow graph persistence. Nodes and edges are
// stored as JSONB documents: the engine always loads a graph whole, never
// node by node.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const workflowColumns = `id, name, description, status, nodes, edges, variables, metadata, created_at, updated_at`

// Save upserts a workflow graph.
func (r *WorkflowRepository) Save(ctx context.Context, graph *models.WorkflowGraph) error {
	nodesJSON, err := json.Marshal(graph.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(graph.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	variablesJSON, err := json.Marshal(graph.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	metadataJSON, err := json.Marshal(graph.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			variables = EXCLUDED.variables,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		graph.ID,
		graph.Name,
		graph.Description,
		graph.Status,
		nodesJSON,
		edgesJSON,
		variablesJSON,
		metadataJSON,
		graph.CreatedAt,
		graph.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save workflow", "workflow_id", graph.ID, "error", err)

		return persistence.NewStoreError("SaveWorkflow", graph.ID, err)
	}

	return nil
}

// ByID retrieves a workflow graph.
func (r *WorkflowRepository) ByID(ctx context.Context, id string) (*models.WorkflowGraph, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`

	graph, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, persistence.NewStoreError("WorkflowByID", id, err)
	}

	return graph, nil
}

// List retrieves all workflow graphs.
func (r *WorkflowRepository) List(ctx context.Context) ([]*models.WorkflowGraph, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistence.NewStoreError("ListWorkflows", "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var graphs []*models.WorkflowGraph

	for rows.Next() {
		graph, err := scanWorkflow(rows)
		if err != nil {
			return nil, persistence.NewStoreError("ListWorkflows", "", err)
		}

		graphs = append(graphs, graph)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("ListWorkflows", "", err)
	}

	return graphs, nil
}

func scanWorkflow(row rowScanner) (*models.WorkflowGraph, error) {
	var (
		graph         models.WorkflowGraph
		nodesJSON     []byte
		edgesJSON     []byte
		variablesJSON []byte
		metadataJSON  []byte
	)

	err := row.Scan(
		&graph.ID,
		&graph.Name,
		&graph.Description,
		&graph.Status,
		&nodesJSON,
		&edgesJSON,
		&variablesJSON,
		&metadataJSON,
		&graph.CreatedAt,
		&graph.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodesJSON, &graph.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edgesJSON, &graph.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if err := json.Unmarshal(variablesJSON, &graph.Variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &graph.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &graph, nil
}
