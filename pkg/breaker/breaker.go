// Package breaker implements a sliding-window circuit breaker used to guard
// the notification gateway and whole-workflow execution against sustained
// downstream failure.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is short-circuited without being
// attempted. Callers can distinguish "did not even try" from "tried and
// failed" via errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a circuit breaker. The gateway breaker is typically tuned
// tighter (fail fast on a flaky channel) than the workflow breaker.
type Config struct {
	// FailureThreshold opens the circuit once this many failures land
	// within MonitoringPeriod.
	FailureThreshold int
	// MonitoringPeriod is the width of the sliding failure window.
	MonitoringPeriod time.Duration
	// RecoveryTimeout is how long the circuit stays open before admitting
	// trial calls.
	RecoveryTimeout time.Duration
	// SuccessThreshold closes the circuit after this many half-open
	// successes.
	SuccessThreshold int
}

// DefaultGatewayConfig fails fast on a flaky notification channel.
func DefaultGatewayConfig() Config {
	return Config{
		FailureThreshold: 3,
		MonitoringPeriod: time.Minute,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// DefaultWorkflowConfig tolerates more failures before opening.
func DefaultWorkflowConfig() Config {
	return Config{
		FailureThreshold: 10,
		MonitoringPeriod: 5 * time.Minute,
		RecoveryTimeout:  2 * time.Minute,
		SuccessThreshold: 3,
	}
}

// CircuitBreaker tracks a rolling failure window and transitions
// closed → open → half_open → closed. State is process-local and never
// persisted.
type CircuitBreaker struct {
	name   string
	config Config
	logger *slog.Logger
	clock  func() time.Time

	mu                  sync.Mutex
	state               State
	failures            []time.Time
	successesInHalfOpen int
	nextAttemptAt       time.Time
}

// New creates a circuit breaker. Zero config fields are replaced with safe
// defaults.
func New(name string, config Config, logger *slog.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}

	if config.MonitoringPeriod <= 0 {
		config.MonitoringPeriod = time.Minute
	}

	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}

	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger.With("module", "breaker", "breaker", name),
		clock:  time.Now,
	}
}

// Execute runs fn through the breaker. When the circuit is open the call is
// short-circuited with ErrCircuitOpen and fn is never invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		cb.recordFailure()

		return err
	}

	cb.recordSuccess()

	return nil
}

// State returns the current state, applying the open → half_open transition
// when the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeRecover()

	return cb.state
}

// Reset forces the breaker back to closed, clearing the failure window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = nil
	cb.successesInHalfOpen = 0
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeRecover()

	if cb.state == StateOpen {
		return ErrCircuitOpen
	}

	return nil
}

// maybeRecover transitions open → half_open once the recovery timeout has
// elapsed. Callers must hold mu.
func (cb *CircuitBreaker) maybeRecover() {
	if cb.state == StateOpen && !cb.clock().Before(cb.nextAttemptAt) {
		cb.state = StateHalfOpen
		cb.successesInHalfOpen = 0
		cb.logger.Info("circuit half-open, admitting trial calls")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.successesInHalfOpen++
		if cb.successesInHalfOpen >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = nil
			cb.successesInHalfOpen = 0
			cb.logger.Info("circuit closed after sustained success")
		}

		return
	}

	// Sustained success in closed state lets old failures age out of the
	// window naturally; nothing to do.
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock()

	if cb.state == StateHalfOpen {
		cb.trip(now)

		return
	}

	cb.failures = append(cb.failures, now)
	cb.pruneLocked(now)

	if len(cb.failures) >= cb.config.FailureThreshold {
		cb.trip(now)
	}
}

// trip opens the circuit. Callers must hold mu.
func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = StateOpen
	cb.nextAttemptAt = now.Add(cb.config.RecoveryTimeout)
	cb.successesInHalfOpen = 0
	cb.logger.Warn("circuit opened",
		"failures_in_window", len(cb.failures),
		"recovery_timeout", cb.config.RecoveryTimeout)
}

// pruneLocked drops failures older than the monitoring period.
func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.config.MonitoringPeriod)

	kept := cb.failures[:0]

	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	cb.failures = kept
}
