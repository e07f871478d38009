// Package models defines the core domain models for patient-communication
// workflow automation: the workflow graph, execution context, jobs, and
// durable execution state.
package models

import (
	"fmt"
	"time"
)

// NodeKind identifies the behavior of a graph node.
type NodeKind string

const (
	NodeKindTrigger    NodeKind = "trigger"
	NodeKindAction     NodeKind = "action"
	NodeKindCondition  NodeKind = "condition"
	NodeKindDelay      NodeKind = "delay"
	NodeKindTimeWindow NodeKind = "time_window"
)

// Edge source handles used by condition nodes to distinguish branches.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
)

// TriggerPayload configures a trigger node: the entry point of a graph,
// fired by an external event such as "surgery_completed".
type TriggerPayload struct {
	TriggerType string `json:"trigger_type" validate:"required"`
}

// ActionType identifies the kind of externally observable effect an action
// node performs.
type ActionType string

const (
	ActionTypeMessage ActionType = "message"
	ActionTypeWebhook ActionType = "webhook"
)

// ActionPayload configures an action node. Message actions render Template
// against the execution context variables and send the result through the
// notification gateway; webhook actions POST the context to URL.
type ActionPayload struct {
	Type      ActionType        `json:"type"                validate:"required,oneof=message webhook"`
	Channel   string            `json:"channel,omitempty"`
	Recipient string            `json:"recipient,omitempty"`
	Template  string            `json:"template,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// ConditionPayload configures a condition node: a single comparison between
// a named runtime variable and a literal value.
type ConditionPayload struct {
	Variable string `json:"variable" validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    string `json:"value"`
}

// DelayUnit is the time unit of a delay node.
type DelayUnit string

const (
	DelayUnitMinutes      DelayUnit = "minutes"
	DelayUnitHours        DelayUnit = "hours"
	DelayUnitDays         DelayUnit = "days"
	DelayUnitBusinessDays DelayUnit = "business_days"
)

// DelayPayload configures a delay node. Day-granularity units participate in
// day-offset planning; minutes and hours are handled purely by queue
// timestamp scheduling.
type DelayPayload struct {
	Unit  DelayUnit `json:"unit"  validate:"required,oneof=minutes hours days business_days"`
	Value int       `json:"value" validate:"required,min=1"`
}

// IsDayGranularity reports whether this delay contributes to the planned
// day offset of downstream nodes.
func (p DelayPayload) IsDayGranularity() bool {
	return p.Unit == DelayUnitDays || p.Unit == DelayUnitBusinessDays
}

// TimeWindowPayload configures a time-of-day gate: downstream nodes only
// execute between StartHour and EndHour (local clinic time, 24h clock).
type TimeWindowPayload struct {
	StartHour int `json:"start_hour" validate:"min=0,max=23"`
	EndHour   int `json:"end_hour"   validate:"min=0,max=23"`
}

// Contains reports whether the given time falls inside the window. Windows
// wrapping midnight (EndHour < StartHour) are supported.
func (p TimeWindowPayload) Contains(t time.Time) bool {
	h := t.Hour()
	if p.StartHour <= p.EndHour {
		return h >= p.StartHour && h < p.EndHour
	}

	return h >= p.StartHour || h < p.EndHour
}

// Node is a single vertex of a workflow graph. Exactly one payload pointer
// matching Kind must be set; Payload() and Validate() enforce the variant.
type Node struct {
	ID   string   `json:"id"   validate:"required"`
	Kind NodeKind `json:"kind" validate:"required,oneof=trigger action condition delay time_window"`
	Name string   `json:"name,omitempty"`

	Trigger    *TriggerPayload    `json:"trigger,omitempty"`
	Action     *ActionPayload     `json:"action,omitempty"`
	Condition  *ConditionPayload  `json:"condition,omitempty"`
	Delay      *DelayPayload      `json:"delay,omitempty"`
	TimeWindow *TimeWindowPayload `json:"time_window,omitempty"`
}

// Validate checks that the payload variant matches the node kind.
func (n *Node) Validate() error {
	set := 0
	for _, p := range []bool{
		n.Trigger != nil, n.Action != nil, n.Condition != nil, n.Delay != nil, n.TimeWindow != nil,
	} {
		if p {
			set++
		}
	}

	if set != 1 {
		return fmt.Errorf("node %s: exactly one payload required, found %d", n.ID, set)
	}

	ok := false

	switch n.Kind {
	case NodeKindTrigger:
		ok = n.Trigger != nil
	case NodeKindAction:
		ok = n.Action != nil
	case NodeKindCondition:
		ok = n.Condition != nil
	case NodeKindDelay:
		ok = n.Delay != nil
	case NodeKindTimeWindow:
		ok = n.TimeWindow != nil
	}

	if !ok {
		return fmt.Errorf("node %s: payload does not match kind %q", n.ID, n.Kind)
	}

	return nil
}

// Edge is a directed connection between two nodes. SourceHandle
// distinguishes condition branches ("true"/"false"); it is empty for all
// other node kinds.
type Edge struct {
	ID           string `json:"id"             validate:"required"`
	SourceNodeID string `json:"source_node_id" validate:"required"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
}

// GraphStatus represents the lifecycle state of a workflow graph.
type GraphStatus string

const (
	GraphStatusDraft    GraphStatus = "draft"    // Editable, not executable
	GraphStatusActive   GraphStatus = "active"   // Executable
	GraphStatusInvalid  GraphStatus = "invalid"  // Failed validation, never scheduled
	GraphStatusArchived GraphStatus = "archived" // Historical, not executable
)

// WorkflowGraph is an immutable description of one automation sequence:
// nodes connected by id-referencing edges, possibly cyclic in storage
// (planning rejects cycles via visited-state memoization).
type WorkflowGraph struct {
	ID          string            `json:"id"          validate:"required"`
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description"`
	Status      GraphStatus       `json:"status"`
	Nodes       []*Node           `json:"nodes"       validate:"required,min=1,dive"`
	Edges       []*Edge           `json:"edges"       validate:"dive"`
	Variables   map[string]string `json:"variables,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NodeByID returns the node with the given id, or nil.
func (g *WorkflowGraph) NodeByID(id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// TriggerNodes returns all trigger nodes matching the given trigger type.
func (g *WorkflowGraph) TriggerNodes(triggerType string) []*Node {
	var out []*Node

	for _, n := range g.Nodes {
		if n.Kind == NodeKindTrigger && n.Trigger != nil && n.Trigger.TriggerType == triggerType {
			out = append(out, n)
		}
	}

	return out
}

// OutgoingEdges returns the edges leaving the given node, in declaration
// order. Declaration order is what makes planning deterministic.
func (g *WorkflowGraph) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge

	for _, e := range g.Edges {
		if e.SourceNodeID == nodeID {
			out = append(out, e)
		}
	}

	return out
}
