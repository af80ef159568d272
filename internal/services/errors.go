package services

import "errors"

var (
	// ErrConditionContextMissing marks a data contract violation: a condition
	// referenced an unknown key or required domain context that could not be
	// resolved. Runs failing with it are distinguishable from a normal
	// non-match.
	ErrConditionContextMissing = errors.New("condition context missing")

	ErrRuleNotFound     = errors.New("rule not found")
	ErrEventNotFound    = errors.New("event not found")
	ErrUnknownTrigger   = errors.New("unknown trigger key")
	ErrOrgDisabled      = errors.New("automations disabled for org")
	ErrMissingJobRef    = errors.New("event has no job reference")
	ErrTemplateNotFound = errors.New("communication template not found")
	ErrEmptyChecklist   = errors.New("checklist template has no steps")
	ErrCommsUnavailable = errors.New("communications collaborator unavailable")
)

// Engine error codes used for classification in run records and API responses
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeContextMissing = "CONTEXT_MISSING"
	ErrCodeActionFailed   = "ACTION_FAILED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// EngineError carries a classification code alongside the underlying cause
type EngineError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewEngineError creates a classified engine error
func NewEngineError(code, message string, cause error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
