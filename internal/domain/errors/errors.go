package errors

import (
	"errors"
	"fmt"
)

// Error types for different failure classes
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeBusiness    ErrorType = "business"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeExternal    ErrorType = "external"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeResource    ErrorType = "resource"
	ErrorTypeAggregation ErrorType = "aggregation"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

// NewInvalidConfigurationError rejects a malformed investigation configuration.
// The field parameter names the offending field for caller-side display.
func NewInvalidConfigurationError(field, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       "INVALID_CONFIGURATION",
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
		Details:    map[string]interface{}{"field": field},
	}
}

func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

// NewVersionConflictError signals an optimistic-lock collision: the stored
// version moved past the version the writer read. Retryable with a fresh read.
func NewVersionConflictError(expected, actual int64) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "VERSION_CONFLICT",
		Message:    fmt.Sprintf("version conflict: expected %d, stored %d", expected, actual),
		Retryable:  true,
		StatusCode: 409,
		Details: map[string]interface{}{
			"expected_version": expected,
			"actual_version":   actual,
		},
	}
}

// NewConcurrentModificationError is surfaced after the orchestrator exhausts
// its bounded compare-and-swap retries.
func NewConcurrentModificationError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONCURRENT_MODIFICATION",
		Message:    fmt.Sprintf("concurrent modification of %s exceeded retry budget", resource),
		Retryable:  false,
		StatusCode: 409,
	}
}

// NewAgentFailureError is scoped to a single analysis agent; it degrades one
// domain without aborting the investigation.
func NewAgentFailureError(domain, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       "AGENT_FAILURE",
		Message:    message,
		Retryable:  false,
		StatusCode: 502,
		Details:    map[string]interface{}{"domain": domain},
	}
}

// NewAggregationImpossibleError is raised when every configured domain failed
// and no risk score can be computed.
func NewAggregationImpossibleError(reasons map[string]string) *AppError {
	details := make(map[string]interface{}, len(reasons))
	for domain, reason := range reasons {
		details[domain] = reason
	}
	return &AppError{
		Type:       ErrorTypeAggregation,
		Code:       "AGGREGATION_IMPOSSIBLE",
		Message:    "all configured domains failed, no assessment possible",
		Retryable:  false,
		StatusCode: 422,
		Details:    details,
	}
}

// NewTimeoutExceededError marks a system-enforced termination, distinct from
// user cancellation for audit purposes.
func NewTimeoutExceededError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Code:       "TIMEOUT_EXCEEDED",
		Message:    fmt.Sprintf("%s exceeded the configured maximum duration", resource),
		Retryable:  false,
		StatusCode: 504,
	}
}

// NewResourceExhaustedError reports a bounded-wait failure acquiring shared
// execution capacity. Scoped like an agent failure.
func NewResourceExhaustedError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeResource,
		Code:       "RESOURCE_EXHAUSTED",
		Message:    fmt.Sprintf("could not acquire %s within the bounded wait", resource),
		Retryable:  true,
		StatusCode: 503,
	}
}

// NewPollingExhaustedError is client-side only; the investigation itself is
// unaffected when the polling budget runs out.
func NewPollingExhaustedError(attempts int) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "POLLING_EXHAUSTED",
		Message:    fmt.Sprintf("polling gave up after %d failed attempts", attempts),
		Retryable:  false,
		StatusCode: 504,
		Details:    map[string]interface{}{"attempts": attempts},
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// Predefined common errors
var (
	ErrInvestigationNotFound = NewNotFoundError("investigation")
	ErrResultsNotFound       = NewNotFoundError("investigation results")
	ErrInvestigationTerminal = NewBusinessError("INVESTIGATION_TERMINAL", "Investigation is in a terminal state")
	ErrInvalidTransition     = NewBusinessError("INVALID_TRANSITION", "Lifecycle transition not permitted")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsCode checks if an error carries a specific machine-readable code
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
