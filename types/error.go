package types

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCategory classifies a failure for retry and surfacing policy.
type ErrorCategory string

const (
	CategoryConnection     ErrorCategory = "connection"
	CategoryExecution      ErrorCategory = "execution"
	CategoryAPI            ErrorCategory = "api"
	CategoryResource       ErrorCategory = "resource"
	CategoryQuota          ErrorCategory = "quota"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryConfiguration  ErrorCategory = "configuration"
)

// ErrorSeverity grades how loudly a failure should be reported.
type ErrorSeverity string

const (
	SeverityWarn  ErrorSeverity = "warn"
	SeverityError ErrorSeverity = "error"
)

// Backoff policy for retryable categories. The core never loop-retries
// itself; callers consult Retryable and RetryDelay.
const (
	retrySeed = time.Second
	retryCap  = 30 * time.Second
)

// FlowError is the structured error raised by every component. It is
// immutable once handed to a caller; the With* helpers are used only
// during construction.
type FlowError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Category  ErrorCategory  `json:"category"`
	Retryable bool           `json:"retryable"`
	Severity  ErrorSeverity  `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`

	cause error
}

// NewFlowError constructs an error with the category's default retry
// eligibility: only connection and quota failures are retryable.
func NewFlowError(code, message string, category ErrorCategory) *FlowError {
	return &FlowError{
		Code:      code,
		Message:   message,
		Category:  category,
		Retryable: category == CategoryConnection || category == CategoryQuota,
		Severity:  SeverityError,
	}
}

func (e *FlowError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error { return e.cause }

// WithDetail attaches a structured detail and returns e for chaining.
func (e *FlowError) WithDetail(key string, value any) *FlowError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error.
func (e *FlowError) WithCause(cause error) *FlowError {
	e.cause = cause
	return e
}

// WithSeverity overrides the default severity.
func (e *FlowError) WithSeverity(severity ErrorSeverity) *FlowError {
	e.Severity = severity
	return e
}

// AsFlowError unwraps err into a *FlowError when possible.
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// ClassifyHTTPStatus maps an HTTP status onto the error taxonomy:
// 5xx is a connection-class failure, 401/403 authentication, 429
// quota, any other 4xx an api failure.
func ClassifyHTTPStatus(status int) ErrorCategory {
	switch {
	case status >= 500:
		return CategoryConnection
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryAuthentication
	case status == http.StatusTooManyRequests:
		return CategoryQuota
	case status >= 400:
		return CategoryAPI
	default:
		return CategoryConnection
	}
}

// FromHTTPStatus builds a classified error for a non-2xx response,
// carrying status, statusText and endpoint in Details.
func FromHTTPStatus(code string, status int, statusText, endpoint string) *FlowError {
	category := ClassifyHTTPStatus(status)
	e := NewFlowError(code, fmt.Sprintf("backend returned %d %s", status, statusText), category)
	return e.
		WithDetail("status", status).
		WithDetail("statusText", statusText).
		WithDetail("endpoint", endpoint)
}

// NewTimeoutError builds the connection-class error raised when a
// backend call exceeds its deadline. A timeout means unknown remote
// state, never "resource does not exist".
func NewTimeoutError(endpoint string, timeout time.Duration) *FlowError {
	return NewFlowError("request_timeout",
		fmt.Sprintf("request to %s timed out after %s", endpoint, timeout),
		CategoryConnection).
		WithDetail("endpoint", endpoint).
		WithDetail("timeout_ms", timeout.Milliseconds())
}

// RetryDelay returns the backoff before retry attempt n (0-based):
// exponential, seeded at 1s, doubled per attempt, capped at 30s.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := retrySeed << uint(attempt)
	if delay > retryCap || delay <= 0 {
		return retryCap
	}
	return delay
}
