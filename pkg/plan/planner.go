package plan

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// Planning errors. A graph that cannot be planned is invalid and is never
// scheduled.
var (
	ErrNoMatchingTrigger = errors.New("no trigger node matches the context trigger type")
	ErrUnknownStartNode  = errors.New("resume node not present in graph")
	ErrCycleDetected     = errors.New("cycle detected during planning")
)

// maxPlanHorizonDays bounds accumulated day offsets. A traversal exceeding
// it is treated as a cycle: delay loops grow the offset on every lap, so
// visited-state memoization alone cannot terminate them.
const maxPlanHorizonDays = 3650

// PlannedAction is one action node scheduled at a day offset from the
// trigger event. SubDay carries accumulated minute/hour delays, which never
// influence the day offset; Windows are the time-of-day gates collected on
// the path to the action.
type PlannedAction struct {
	Node      *models.Node
	DayOffset int
	SubDay    time.Duration
	Windows   []models.TimeWindowPayload
}

// Continuation describes the resume point immediately downstream of a delay
// node, used to enqueue a restart-proof continuation job.
type Continuation struct {
	DelayNodeID  string
	ResumeNodeID string
	DayOffset    int
	SubDay       time.Duration
}

// Plan is the result of traversing a graph for one execution context.
type Plan struct {
	Actions       []PlannedAction
	Continuations []Continuation
}

// ActionsAt returns the planned actions whose day offset equals the given
// elapsed-day checkpoint.
func (p *Plan) ActionsAt(dayOffset int) []PlannedAction {
	var out []PlannedAction

	for _, a := range p.Actions {
		if a.DayOffset == dayOffset {
			out = append(out, a)
		}
	}

	return out
}

// NextOffset returns the smallest planned day offset strictly greater than
// the given checkpoint, and whether one exists.
func (p *Plan) NextOffset(after int) (int, bool) {
	best, found := 0, false

	for _, a := range p.Actions {
		if a.DayOffset > after && (!found || a.DayOffset < best) {
			best, found = a.DayOffset, true
		}
	}

	return best, found
}

// Planner computes execution plans over workflow graphs. Planning is pure
// in-memory computation and never blocks.
type Planner struct {
	calendar *Calendar
	logger   *slog.Logger
}

// NewPlanner creates a planner using the given business-day calendar. A nil
// calendar treats only weekends as non-business days.
func NewPlanner(calendar *Calendar, logger *slog.Logger) *Planner {
	return &Planner{
		calendar: calendar,
		logger:   logger.With("module", "planner"),
	}
}

// traversalState is one BFS frontier entry.
type traversalState struct {
	nodeID    string
	dayOffset int
	subDay    time.Duration
	windows   []models.TimeWindowPayload
}

// Plan traverses the graph breadth-first from the trigger node matching the
// context's trigger type, accumulating day offsets through delay nodes and
// resolving condition branches against the context variables. Anchor is the
// calendar date of the trigger event; it grounds business-day arithmetic.
//
// Each (node, dayOffset) pair is visited at most once, which both prunes
// redundant branches and terminates traversal on cyclic graphs.
func (p *Planner) Plan(graph *models.WorkflowGraph, execCtx models.ExecutionContext, anchor time.Time) (*Plan, error) {
	triggers := graph.TriggerNodes(execCtx.TriggerType)
	if len(triggers) == 0 {
		return nil, fmt.Errorf("graph %s, trigger type %q: %w", graph.ID, execCtx.TriggerType, ErrNoMatchingTrigger)
	}

	initial := make([]traversalState, 0, len(triggers))
	for _, t := range triggers {
		initial = append(initial, traversalState{nodeID: t.ID})
	}

	return p.traverse(graph, execCtx, anchor, initial)
}

// PlanFrom traverses starting at an arbitrary node, used when a continuation
// job resumes execution downstream of a delay. Offsets are relative to the
// resume point.
func (p *Planner) PlanFrom(graph *models.WorkflowGraph, startNodeID string, execCtx models.ExecutionContext, anchor time.Time) (*Plan, error) {
	if graph.NodeByID(startNodeID) == nil {
		return nil, fmt.Errorf("graph %s, node %s: %w", graph.ID, startNodeID, ErrUnknownStartNode)
	}

	return p.traverse(graph, execCtx, anchor, []traversalState{{nodeID: startNodeID}})
}

func (p *Planner) traverse(graph *models.WorkflowGraph, execCtx models.ExecutionContext, anchor time.Time, frontier []traversalState) (*Plan, error) {
	type memoKey struct {
		nodeID    string
		dayOffset int
	}

	visited := make(map[memoKey]struct{})
	vars := execCtx.PlanningVariables()
	result := &Plan{}

	queue := frontier

	for len(queue) > 0 {
		state := queue[0]
		queue = queue[1:]

		key := memoKey{nodeID: state.nodeID, dayOffset: state.dayOffset}
		if _, seen := visited[key]; seen {
			continue
		}

		visited[key] = struct{}{}

		node := graph.NodeByID(state.nodeID)
		if node == nil {
			return nil, fmt.Errorf("graph %s: node %s referenced but not defined", graph.ID, state.nodeID)
		}

		next := state

		switch node.Kind {
		case models.NodeKindTrigger:
			// Entry point, no effect on the plan itself.

		case models.NodeKindAction:
			result.Actions = append(result.Actions, PlannedAction{
				Node:      node,
				DayOffset: state.dayOffset,
				SubDay:    state.subDay,
				Windows:   state.windows,
			})

		case models.NodeKindCondition:
			matched, err := Evaluate(*node.Condition, vars)
			if err != nil {
				// Conservative: an unevaluable condition takes no branch.
				p.logger.Warn("condition evaluation failed, dropping branches",
					"graph_id", graph.ID, "node_id", node.ID, "error", err)

				continue
			}

			handle := models.HandleFalse
			if matched {
				handle = models.HandleTrue
			}

			for _, edge := range graph.OutgoingEdges(node.ID) {
				if edge.SourceHandle != handle {
					continue
				}

				queue = append(queue, traversalState{
					nodeID:    edge.TargetNodeID,
					dayOffset: state.dayOffset,
					subDay:    state.subDay,
					windows:   state.windows,
				})
			}

			continue

		case models.NodeKindDelay:
			next = p.applyDelay(state, *node.Delay, anchor)
			if next.dayOffset > maxPlanHorizonDays {
				return nil, fmt.Errorf("graph %s, node %s: %w", graph.ID, node.ID, ErrCycleDetected)
			}

			for _, edge := range graph.OutgoingEdges(node.ID) {
				result.Continuations = append(result.Continuations, Continuation{
					DelayNodeID:  node.ID,
					ResumeNodeID: edge.TargetNodeID,
					DayOffset:    next.dayOffset,
					SubDay:       next.subDay,
				})
			}

		case models.NodeKindTimeWindow:
			windows := make([]models.TimeWindowPayload, len(state.windows), len(state.windows)+1)
			copy(windows, state.windows)
			next.windows = append(windows, *node.TimeWindow)
		}

		for _, edge := range graph.OutgoingEdges(node.ID) {
			queue = append(queue, traversalState{
				nodeID:    edge.TargetNodeID,
				dayOffset: next.dayOffset,
				subDay:    next.subDay,
				windows:   next.windows,
			})
		}
	}

	return result, nil
}

// applyDelay folds one delay node into the traversal state. Day-granularity
// units advance the day offset (business days resolve against the anchor
// date); minutes and hours only accumulate sub-day duration for queue
// timestamp scheduling.
func (p *Planner) applyDelay(state traversalState, delay models.DelayPayload, anchor time.Time) traversalState {
	switch delay.Unit {
	case models.DelayUnitDays:
		state.dayOffset += delay.Value

	case models.DelayUnitBusinessDays:
		if anchor.IsZero() {
			state.dayOffset += delay.Value

			break
		}

		from := anchor.AddDate(0, 0, state.dayOffset)
		target := p.calendar.AddBusinessDays(from, delay.Value)
		state.dayOffset += calendarDaysBetween(from, target)

	case models.DelayUnitHours:
		state.subDay += time.Duration(delay.Value) * time.Hour

	case models.DelayUnitMinutes:
		state.subDay += time.Duration(delay.Value) * time.Minute
	}

	return state
}

// calendarDaysBetween counts whole calendar days from a to b. Comparing
// dates instead of elapsed hours keeps DST transitions from truncating the
// count when the anchor carries a local time zone.
func calendarDaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	start := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	end := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	return int(end.Sub(start) / (24 * time.Hour))
}
