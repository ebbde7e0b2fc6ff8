package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Data errors: user- or LLM-supplied values failed validation.
const (
	ErrSchema   ErrorCode = "SCHEMA"
	ErrTemplate ErrorCode = "TEMPLATE"
)

// Provider errors.
const (
	ErrLLMTransient  ErrorCode = "LLM_TRANSIENT"
	ErrLLMFormat     ErrorCode = "LLM_FORMAT"
	ErrLLMAuth       ErrorCode = "LLM_AUTH"
	ErrLLMBadRequest ErrorCode = "LLM_BAD_REQUEST"
)

// Tool errors. The concrete kind lives on tools.ToolError.
const (
	ErrTool ErrorCode = "TOOL"
)

// Control errors propagate upward and terminate the crew or flow.
const (
	ErrAgentIterationLimit ErrorCode = "AGENT_ITERATION_LIMIT"
	ErrCrewFailure         ErrorCode = "CREW_FAILURE"
	ErrFlowStepLimit       ErrorCode = "FLOW_STEP_LIMIT"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrCancelled           ErrorCode = "CANCELLED"
)

// Engine invariants, raised at configuration time.
const (
	ErrDuplicateTool  ErrorCode = "DUPLICATE_TOOL"
	ErrRegistryFrozen ErrorCode = "REGISTRY_FROZEN"
	ErrUnknownStep    ErrorCode = "UNKNOWN_STEP"
	ErrInvalidConfig  ErrorCode = "INVALID_CONFIG"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error carrying the same code, so that
// errors.Is(err, types.NewError(types.ErrTimeout, "")) matches any timeout.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the outermost engine error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}
