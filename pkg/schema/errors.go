package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeExecution      = "EXECUTION_ERROR"
	ErrCodeNodeFailed     = "NODE_FAILED"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodeNonRetryable   = "NON_RETRYABLE"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
	ErrCodeCancelled      = "CANCELLED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeStateReleased  = "STATE_RELEASED"
	ErrCodeSchemaMismatch = "SCHEMA_MISMATCH"
	ErrCodeStepLimit      = "STEP_LIMIT"
	ErrCodeCircuitOpen    = "CIRCUIT_OPEN"
)

// FlowError is the structured error type for all agentflow operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Node    string         `json:"node,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.Node, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error code describes a transient failure.
func (e *FlowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeNonRetryable, ErrCodeCancelled, ErrCodeNotFound,
		ErrCodeStateReleased, ErrCodeSchemaMismatch, ErrCodeStepLimit, ErrCodeCircuitOpen:
		return false
	default:
		return true
	}
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the name of the node that produced the error.
func (e *FlowError) WithNode(name string) *FlowError {
	e.Node = name
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// HasCode reports whether err, or any error it wraps, is a FlowError with the given code.
func HasCode(err error, code string) bool {
	var fe *FlowError
	for err != nil {
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Cause
	}
	return false
}
