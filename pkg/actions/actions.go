// Package actions implements the executors behind action nodes: message
// sends through the notification gateway and webhook calls.
package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/cadencehq/cadence/pkg/models"
)

// Executor runs one action payload against an execution context. The result
// map feeds the execution log.
type Executor interface {
	Execute(ctx context.Context, execCtx models.ExecutionContext, payload models.ActionPayload) (map[string]any, error)
}

// Registry maps action types to executors.
type Registry struct {
	executors map[models.ActionType]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[models.ActionType]Executor)}
}

func (r *Registry) Register(actionType models.ActionType, executor Executor) {
	r.executors[actionType] = executor
}

// ForType returns the executor for the given action type.
func (r *Registry) ForType(actionType models.ActionType) (Executor, error) {
	executor, ok := r.executors[actionType]
	if !ok {
		return nil, fmt.Errorf("no executor registered for action type %q", actionType)
	}

	return executor, nil
}

// TransientError marks a failure worth retrying: provider hiccups, network
// errors, 5xx responses. The retry policy in pkg/engine inspects it when
// deciding between requeue and terminal failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps an error as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether the error chain contains a TransientError.
func IsTransient(err error) bool {
	var te *TransientError

	return errors.As(err, &te)
}
