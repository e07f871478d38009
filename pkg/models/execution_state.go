package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the run has finished.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// ExecutionState is the durable checkpoint of one workflow run. A fresh
// process finding a non-terminal state for a (workflow, patient) pair resumes
// from PendingNodes instead of replanning, which is what makes execution safe
// across restarts.
type ExecutionState struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	PatientID   string          `json:"patient_id"`
	Status      ExecutionStatus `json:"status"`

	ExecutedNodes []string          `json:"executed_nodes,omitempty"`
	PendingNodes  []string          `json:"pending_nodes,omitempty"`
	FailedNodes   map[string]string `json:"failed_nodes,omitempty"`

	// CheckpointData is an opaque engine-defined payload carried across
	// continuations (serialized context snapshot and the like).
	CheckpointData map[string]any `json:"checkpoint_data,omitempty"`

	RetryCount  int       `json:"retry_count"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// HasExecuted reports whether the node already completed in this run.
func (s *ExecutionState) HasExecuted(nodeID string) bool {
	for _, id := range s.ExecutedNodes {
		if id == nodeID {
			return true
		}
	}

	return false
}

// RemovePending drops a node from the pending set.
func (s *ExecutionState) RemovePending(nodeID string) {
	out := s.PendingNodes[:0]

	for _, id := range s.PendingNodes {
		if id != nodeID {
			out = append(out, id)
		}
	}

	s.PendingNodes = out
}
