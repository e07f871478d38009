package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPatient_Age(t *testing.T) {
	birth := time.Date(1960, 6, 15, 0, 0, 0, 0, time.UTC)
	patient := &Patient{ID: "p-1", Name: "Maria Silva", BirthDate: &birth}

	assert.Equal(t, 65, patient.Age(time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 64, patient.Age(time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC)))

	unknown := &Patient{ID: "p-2", Name: "John Doe"}
	assert.Equal(t, -1, unknown.Age(time.Now()))
}

func TestContextVariables(t *testing.T) {
	birth := time.Date(1950, 1, 10, 0, 0, 0, 0, time.UTC)
	patient := &Patient{
		ID:         "p-1",
		Name:       "Maria Silva",
		Phone:      "+5511999990000",
		Email:      "maria@example.com",
		BirthDate:  &birth,
		Attributes: map[string]string{"preferred_language": "pt-BR"},
	}
	appointment := &Appointment{
		ID:          "a-1",
		PatientID:   "p-1",
		Type:        "cardiology",
		Status:      "confirmed",
		ScheduledAt: time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC),
	}

	vars := ContextVariables(patient, appointment, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "Maria Silva", vars["patient_name"])
	assert.Equal(t, "+5511999990000", vars["patient_phone"])
	assert.Equal(t, "maria@example.com", vars["patient_email"])
	assert.Equal(t, "76", vars["age"])
	assert.Equal(t, "pt-BR", vars["preferred_language"])
	assert.Equal(t, "cardiology", vars["appointment_type"])
	assert.Equal(t, "confirmed", vars["appointment_status"])
	assert.Equal(t, "2026-03-09", vars["appointment_date"])
}

func TestContextVariables_NilEntities(t *testing.T) {
	vars := ContextVariables(nil, nil, time.Now())
	assert.Empty(t, vars)
}

func TestExecutionContext_PlanningVariables(t *testing.T) {
	execCtx := ExecutionContext{
		DaysElapsed: 7,
		TriggerType: "surgery_completed",
		Variables:   map[string]string{"ward": "b2"},
	}

	vars := execCtx.PlanningVariables()
	assert.Equal(t, "7", vars["days_elapsed"])
	assert.Equal(t, "surgery_completed", vars["trigger_type"])
	assert.Equal(t, "b2", vars["ward"])

	// The original variable map is untouched.
	assert.NotContains(t, execCtx.Variables, "days_elapsed")
}

func TestExecutionContext_WithVariable(t *testing.T) {
	original := ExecutionContext{Variables: map[string]string{"a": "1"}}

	updated := original.WithVariable("b", "2")
	assert.Equal(t, "2", updated.Variables["b"])
	assert.NotContains(t, original.Variables, "b")
}

func TestTimeWindow_Contains(t *testing.T) {
	daytime := TimeWindowPayload{StartHour: 8, EndHour: 20}

	assert.True(t, daytime.Contains(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))
	assert.True(t, daytime.Contains(time.Date(2026, 3, 2, 19, 59, 0, 0, time.UTC)))
	assert.False(t, daytime.Contains(time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)))
	assert.False(t, daytime.Contains(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)))

	// A window wrapping midnight.
	night := TimeWindowPayload{StartHour: 22, EndHour: 6}
	assert.True(t, night.Contains(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)))
	assert.True(t, night.Contains(time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)))
	assert.False(t, night.Contains(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)))
}

func TestDelayPayload_IsDayGranularity(t *testing.T) {
	assert.True(t, DelayPayload{Unit: DelayUnitDays, Value: 1}.IsDayGranularity())
	assert.True(t, DelayPayload{Unit: DelayUnitBusinessDays, Value: 1}.IsDayGranularity())
	assert.False(t, DelayPayload{Unit: DelayUnitHours, Value: 1}.IsDayGranularity())
	assert.False(t, DelayPayload{Unit: DelayUnitMinutes, Value: 1}.IsDayGranularity())
}

func TestJob_Due(t *testing.T) {
	now := time.Now().UTC()

	unscheduled := &Job{ID: "j-1"}
	assert.True(t, unscheduled.Due(now))

	later := now.Add(time.Hour)
	scheduled := &Job{ID: "j-2", ScheduledFor: &later}
	assert.False(t, scheduled.Due(now))
	assert.True(t, scheduled.Due(later))
}

func TestJobPriority_Rank(t *testing.T) {
	assert.Equal(t, 3, JobPriorityCritical.Rank())
	assert.Equal(t, 2, JobPriorityHigh.Rank())
	assert.Equal(t, 1, JobPriorityNormal.Rank())
	assert.Equal(t, 0, JobPriorityLow.Rank())
	assert.Equal(t, 1, JobPriority("mystery").Rank())
}

func TestStatusTerminality(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
	assert.False(t, JobStatusQueued.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())

	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.False(t, ExecutionStatusRunning.IsTerminal())
	assert.False(t, ExecutionStatusPaused.IsTerminal())
}

func TestExecutionState_NodeBookkeeping(t *testing.T) {
	state := &ExecutionState{
		ExecutionID:   "e-1",
		ExecutedNodes: []string{"msg-day0"},
		PendingNodes:  []string{"msg-day3", "msg-day7"},
	}

	assert.True(t, state.HasExecuted("msg-day0"))
	assert.False(t, state.HasExecuted("msg-day3"))

	state.RemovePending("msg-day3")
	assert.Equal(t, []string{"msg-day7"}, state.PendingNodes)

	state.RemovePending("not-pending")
	assert.Equal(t, []string{"msg-day7"}, state.PendingNodes)
}
