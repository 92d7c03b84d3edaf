package types

import "fmt"

// ErrorCode represents a unified error code across the core.
type ErrorCode string

// Registry error codes
const (
	ErrDuplicateBackend ErrorCode = "DUPLICATE_BACKEND"
	ErrUnknownBackend   ErrorCode = "UNKNOWN_BACKEND"
)

// Router error codes
const (
	ErrAllBackendsExhausted ErrorCode = "ALL_BACKENDS_EXHAUSTED"
)

// Translator error codes
const (
	ErrMalformedCompletion ErrorCode = "MALFORMED_COMPLETION"
	ErrUnknownTarget       ErrorCode = "UNKNOWN_TARGET"
	ErrInvalidParameter    ErrorCode = "INVALID_PARAMETER"
)

// Applier error codes
const (
	ErrPartialFailure ErrorCode = "PARTIAL_FAILURE"
)

// Fetcher error codes
const (
	ErrUnsupportedScheme   ErrorCode = "UNSUPPORTED_SCHEME"
	ErrAssetTooLarge       ErrorCode = "ASSET_TOO_LARGE"
	ErrContentTypeMismatch ErrorCode = "CONTENT_TYPE_MISMATCH"
	ErrTransferFailed      ErrorCode = "TRANSFER_FAILED"
)

// Transport error codes (backend adapters)
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrForbidden       ErrorCode = "FORBIDDEN"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrQuotaExceeded   ErrorCode = "QUOTA_EXCEEDED"
	ErrModelOverloaded ErrorCode = "MODEL_OVERLOADED"
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError   ErrorCode = "UPSTREAM_ERROR"
)

// BackendAttempt records one failed dispatch during a routing pass.
// AllBackendsExhausted errors carry one entry per tried backend, in order.
type BackendAttempt struct {
	Backend string `json:"backend"`
	Reason  string `json:"reason"`
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode        `json:"code"`
	Message    string           `json:"message"`
	Backend    string           `json:"backend,omitempty"`
	Rule       string           `json:"rule,omitempty"`
	HTTPStatus int              `json:"http_status,omitempty"`
	Retryable  bool             `json:"retryable"`
	Attempts   []BackendAttempt `json:"attempts,omitempty"`
	Cause      error            `json:"-"`
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

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithBackend sets the backend the error originated from.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// WithRule names the validation rule that rejected the input.
func (e *Error) WithRule(rule string) *Error {
	e.Rule = rule
	return e
}

// WithHTTPStatus sets the upstream HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable across backends.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error may be retried against another backend.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
