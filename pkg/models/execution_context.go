package models

import "strconv"

// ExecutionContext is the transient value threaded through planning and
// node execution for one (workflow, patient, appointment) run.
type ExecutionContext struct {
	WorkflowID    string `json:"workflow_id"`
	PatientID     string `json:"patient_id"`
	AppointmentID string `json:"appointment_id,omitempty"`

	// DaysElapsed counts calendar days since the trigger event. Negative
	// values occur for "N days before appointment" triggers.
	DaysElapsed int    `json:"days_elapsed"`
	TriggerType string `json:"trigger_type"`

	// Variables feed the condition evaluator and message templates.
	Variables map[string]string `json:"variables,omitempty"`

	// ResumeFromNodeID is set on continuation jobs enqueued by delay nodes:
	// execution restarts at this node instead of the trigger.
	ResumeFromNodeID string `json:"resume_from_node_id,omitempty"`

	// OriginalExecutionID links continuation jobs back to the execution
	// state record created by the first segment of the run.
	OriginalExecutionID string `json:"original_execution_id,omitempty"`
}

// WithVariable returns a shallow copy of the context with one variable set.
func (c ExecutionContext) WithVariable(key, value string) ExecutionContext {
	vars := make(map[string]string, len(c.Variables)+1)
	for k, v := range c.Variables {
		vars[k] = v
	}

	vars[key] = value
	c.Variables = vars

	return c
}

// PlanningVariables returns the variables visible to condition nodes:
// the caller-supplied variables plus computed values such as elapsed days.
func (c ExecutionContext) PlanningVariables() map[string]string {
	vars := make(map[string]string, len(c.Variables)+2)
	for k, v := range c.Variables {
		vars[k] = v
	}

	vars["days_elapsed"] = strconv.Itoa(c.DaysElapsed)
	vars["trigger_type"] = c.TriggerType

	return vars
}
