package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound indicates a job was not found by the given identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrWorkflowNotFound indicates a workflow graph was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrPatientNotFound indicates a patient was not found.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrAppointmentNotFound indicates an appointment was not found.
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrExecutionStateNotFound indicates no execution state matched.
	ErrExecutionStateNotFound = errors.New("execution state not found")
)

// StoreError wraps store failures with operation context.
type StoreError struct {
	Op  string // Operation being performed (e.g. "ClaimDue", "Save")
	Key string // Identifier involved, if applicable
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Key, e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError with context.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

// IsNotFound reports whether the error is any of the not-found sentinels.
// Not-found errors are terminal: the retry policy never retries them.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrPatientNotFound) ||
		errors.Is(err, ErrAppointmentNotFound) ||
		errors.Is(err, ErrExecutionStateNotFound)
}
