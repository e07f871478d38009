package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Graph validation errors. Graphs failing validation are marked invalid and
// never scheduled.
var (
	ErrNoTriggerNode       = errors.New("graph has no trigger node")
	ErrDuplicateTrigger    = errors.New("multiple trigger nodes for the same trigger type")
	ErrDanglingEdge        = errors.New("edge references unknown node")
	ErrConditionBranches   = errors.New("condition node branches must partition into at most one true and one false edge")
	ErrUnexpectedHandle    = errors.New("source handle is only valid on condition node edges")
	ErrInboundTriggerEdge  = errors.New("trigger node cannot be an edge target")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateGraph checks struct-level constraints and the graph invariants:
// every node payload matches its kind, exactly one trigger node per distinct
// trigger type, condition branch edges partition into at most one true- and
// one false-handled edge, and no edge references a missing node.
//
// Cycles are deliberately not rejected here; the planner's visited-state
// memoization handles them, and a cycle reachable during planning surfaces
// as a planning validation error.
func ValidateGraph(graph *WorkflowGraph) error {
	if err := validate.Struct(graph); err != nil {
		return fmt.Errorf("graph %s: %w", graph.ID, err)
	}

	byID := make(map[string]*Node, len(graph.Nodes))

	triggerTypes := make(map[string]int)

	for _, n := range graph.Nodes {
		if err := n.Validate(); err != nil {
			return err
		}

		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("graph %s: duplicate node id %s", graph.ID, n.ID)
		}

		byID[n.ID] = n

		if n.Kind == NodeKindTrigger {
			triggerTypes[n.Trigger.TriggerType]++
		}
	}

	if len(triggerTypes) == 0 {
		return fmt.Errorf("graph %s: %w", graph.ID, ErrNoTriggerNode)
	}

	for triggerType, count := range triggerTypes {
		if count > 1 {
			return fmt.Errorf("graph %s: trigger type %q: %w", graph.ID, triggerType, ErrDuplicateTrigger)
		}
	}

	for _, e := range graph.Edges {
		source, ok := byID[e.SourceNodeID]
		if !ok {
			return fmt.Errorf("edge %s source %s: %w", e.ID, e.SourceNodeID, ErrDanglingEdge)
		}

		target, ok := byID[e.TargetNodeID]
		if !ok {
			return fmt.Errorf("edge %s target %s: %w", e.ID, e.TargetNodeID, ErrDanglingEdge)
		}

		if target.Kind == NodeKindTrigger {
			return fmt.Errorf("edge %s: %w", e.ID, ErrInboundTriggerEdge)
		}

		if e.SourceHandle != "" && source.Kind != NodeKindCondition {
			return fmt.Errorf("edge %s: %w", e.ID, ErrUnexpectedHandle)
		}
	}

	for _, n := range graph.Nodes {
		if n.Kind != NodeKindCondition {
			continue
		}

		trueEdges, falseEdges := 0, 0

		for _, e := range graph.OutgoingEdges(n.ID) {
			switch e.SourceHandle {
			case HandleTrue:
				trueEdges++
			case HandleFalse:
				falseEdges++
			default:
				return fmt.Errorf("condition node %s edge %s handle %q: %w", n.ID, e.ID, e.SourceHandle, ErrConditionBranches)
			}
		}

		if trueEdges > 1 || falseEdges > 1 {
			return fmt.Errorf("condition node %s: %w", n.ID, ErrConditionBranches)
		}
	}

	return nil
}
