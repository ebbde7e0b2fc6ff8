package crews

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/crewflow/types"
)

var (
	errCrewFailureCode = types.NewError(types.ErrCrewFailure, "crew failed")
	errGuardrailCode   = types.NewError(types.ErrSchema, "guardrail rejected output")
)

// ManagerTaskID identifies the manager's meta-task in a CrewFailure.
const ManagerTaskID = "_manager"

// CrewFailure is the fatal failure of one task. Partial holds the outputs
// that completed before it, in order.
type CrewFailure struct {
	TaskID  string
	Cause   error
	Partial []Output
}

// Error implements the error interface.
func (e *CrewFailure) Error() string {
	return fmt.Sprintf("crew failed at task %q: %v", e.TaskID, e.Cause)
}

// Unwrap exposes the CREW_FAILURE code and the cause.
func (e *CrewFailure) Unwrap() []error {
	return []error{errCrewFailureCode, e.Cause}
}

// GuardrailError is a task guardrail rejection. It counts as a validator
// failure and is retried within the task's MaxRetries.
type GuardrailError struct {
	Task  string
	Cause error
}

// Error implements the error interface.
func (e *GuardrailError) Error() string {
	return fmt.Sprintf("guardrail rejected output of task %q: %v", e.Task, e.Cause)
}

// Unwrap exposes the SCHEMA code and the cause.
func (e *GuardrailError) Unwrap() []error {
	return []error{errGuardrailCode, e.Cause}
}

// ctxError 将 ctx 错误映射为 TIMEOUT / CANCELLED
func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "crew deadline exceeded").WithCause(err)
	}
	return types.NewError(types.ErrCancelled, "crew run cancelled").WithCause(err)
}
