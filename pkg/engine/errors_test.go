package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cadencehq/cadence/pkg/actions"
	"github.com/cadencehq/cadence/pkg/breaker"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/plan"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{"circuit open", breaker.ErrCircuitOpen, KindCircuitOpen},
		{"wrapped circuit open", fmt.Errorf("node n1: %w", breaker.ErrCircuitOpen), KindCircuitOpen},
		{"patient not found", persistence.ErrPatientNotFound, KindTerminal},
		{"workflow not found", fmt.Errorf("load: %w", persistence.ErrWorkflowNotFound), KindTerminal},
		{"cancel requested", ErrCancelRequested, KindTerminal},
		{"no matching trigger", plan.ErrNoMatchingTrigger, KindPlanning},
		{"cycle detected", fmt.Errorf("graph g1: %w", plan.ErrCycleDetected), KindPlanning},
		{"unknown start node", plan.ErrUnknownStartNode, KindPlanning},
		{"graph not executable", ErrGraphNotExecutable, KindPlanning},
		{"transient action failure", actions.Transient(errors.New("503 from provider")), KindTransient},
		{"unclassified", errors.New("something odd"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestBackoffPolicy_TerminalFailuresNotRetried(t *testing.T) {
	policy := DefaultBackoffPolicy()
	job := &models.Job{RetryCount: 0}

	backoff, retry := policy.Decide(job, persistence.ErrPatientNotFound)
	assert.False(t, retry)
	assert.Zero(t, backoff)

	backoff, retry = policy.Decide(job, plan.ErrCycleDetected)
	assert.False(t, retry)
	assert.Zero(t, backoff)
}

func TestBackoffPolicy_TransientBackoffGrows(t *testing.T) {
	policy := BackoffPolicy{Base: 30 * time.Second, Cap: time.Hour}
	transient := errors.New("gateway timeout")

	var previous time.Duration

	for attempt := range 4 {
		backoff, retry := policy.Decide(&models.Job{RetryCount: attempt}, transient)
		assert.True(t, retry)

		expected := 30 * time.Second << attempt
		assert.GreaterOrEqual(t, backoff, expected)
		assert.LessOrEqual(t, backoff, expected+expected/10)
		assert.Greater(t, backoff, previous)

		previous = expected
	}
}

func TestBackoffPolicy_CapBoundsGrowth(t *testing.T) {
	policy := BackoffPolicy{Base: 30 * time.Second, Cap: time.Hour}

	backoff, retry := policy.Decide(&models.Job{RetryCount: 20}, errors.New("still down"))
	assert.True(t, retry)
	assert.GreaterOrEqual(t, backoff, time.Hour)
	assert.LessOrEqual(t, backoff, time.Hour+6*time.Minute)
}

func TestBackoffPolicy_CircuitOpenIsRetried(t *testing.T) {
	policy := DefaultBackoffPolicy()

	_, retry := policy.Decide(&models.Job{}, breaker.ErrCircuitOpen)
	assert.True(t, retry)
}
