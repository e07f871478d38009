package engine

import (
	"errors"
	"math/rand"
	"time"

	"github.com/cadencehq/cadence/pkg/actions"
	"github.com/cadencehq/cadence/pkg/breaker"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/plan"
)

// Engine errors.
var (
	// ErrGraphNotExecutable is returned for workflows that are not active.
	ErrGraphNotExecutable = errors.New("workflow graph is not executable")

	// ErrCancelRequested aborts a run between nodes after a best-effort
	// cancel was filed for its job.
	ErrCancelRequested = errors.New("cancellation requested")
)

// ErrorKind classifies a failure for the retry policy.
type ErrorKind int

const (
	// KindTransient failures are retried with exponential backoff.
	KindTransient ErrorKind = iota

	// KindTerminal failures are never retried: missing entities, exhausted
	// budgets, rejected inputs.
	KindTerminal

	// KindPlanning failures mean the graph itself is invalid. The workflow
	// is never scheduled until it is fixed.
	KindPlanning

	// KindCircuitOpen means the call was short-circuited without being
	// attempted. Retried, since the downstream may recover.
	KindCircuitOpen
)

// Classify maps an error chain onto a retry class. Not-found is always
// terminal: retrying cannot make a missing patient appear.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, breaker.ErrCircuitOpen):
		return KindCircuitOpen
	case persistence.IsNotFound(err):
		return KindTerminal
	case errors.Is(err, plan.ErrNoMatchingTrigger),
		errors.Is(err, plan.ErrUnknownStartNode),
		errors.Is(err, plan.ErrCycleDetected),
		errors.Is(err, ErrGraphNotExecutable):
		return KindPlanning
	case errors.Is(err, ErrCancelRequested):
		return KindTerminal
	case actions.IsTransient(err):
		return KindTransient
	default:
		return KindTransient
	}
}

// BackoffPolicy implements the worker retry policy: exponential backoff with
// jitter for transient failures, no retry for terminal and planning ones.
type BackoffPolicy struct {
	// Base is the first retry delay; attempt n waits Base * 2^n.
	Base time.Duration

	// Cap bounds the delay growth.
	Cap time.Duration
}

// DefaultBackoffPolicy returns the standard 30s-base, 1h-cap policy.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: 30 * time.Second, Cap: time.Hour}
}

// Decide returns the backoff before the next attempt and whether to retry.
func (p BackoffPolicy) Decide(job *models.Job, err error) (time.Duration, bool) {
	switch Classify(err) {
	case KindTerminal, KindPlanning:
		return 0, false
	case KindCircuitOpen, KindTransient:
		return p.backoff(job.RetryCount), true
	default:
		return p.backoff(job.RetryCount), true
	}
}

func (p BackoffPolicy) backoff(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 30 * time.Second
	}

	ceiling := p.Cap
	if ceiling <= 0 {
		ceiling = time.Hour
	}

	delay := base
	for i := 0; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}

	if delay > ceiling {
		delay = ceiling
	}

	// Up to 10% jitter keeps retries of a burst from landing together.
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))

	return delay + jitter
}
