package model

import "fmt"

// Standard error codes.
const (
	ErrNotFound              = "NOT_FOUND"
	ErrInvalidArgument       = "INVALID_ARGUMENT"
	ErrBusinessRuleViolation = "BUSINESS_RULE_VIOLATION"
	ErrPersistenceFailure    = "PERSISTENCE_FAILURE"
	ErrConflict              = "CONFLICT"
	ErrInternalError         = "INTERNAL_ERROR"
)

// ErrorEnvelope is the standard error envelope returned by the core.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewInvalidArgumentError returns an INVALID_ARGUMENT error.
func NewInvalidArgumentError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidArgument, Message: msg}
}

// NewBusinessRuleViolationError returns a BUSINESS_RULE_VIOLATION error.
// The message must name the rule and the case or stage it applies to so the
// caller can act on it.
func NewBusinessRuleViolationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBusinessRuleViolation, Message: msg}
}

// NewPersistenceFailureError returns a PERSISTENCE_FAILURE error. Raised only
// after every write strategy has been exhausted.
func NewPersistenceFailureError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPersistenceFailure, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}
