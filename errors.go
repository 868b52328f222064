package apiclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// Error codes carried by APIError. HTTP failures use the decimal status code instead.
const (
	CodeTimeout      = "TIMEOUT"
	CodeNetworkError = "NETWORK_ERROR"
	CodeNoData       = "NO_DATA"
	CodeUnknownError = "UNKNOWN_ERROR"
	CodeDecodeError  = "DECODE_ERROR"
	CodeCanceled     = "CANCELED"
	CodeCircuitOpen  = "CIRCUIT_OPEN"
	CodeRequestError = "REQUEST_ERROR"
)

// APIError is the normalized error returned by the Executor and by resource clients.
// A status of 0 means no response was received.
//
// APIError values are immutable: use the accessors, and WithContext to derive
// a new error carrying extra context.
type APIError struct {
	message string
	status  int
	code    string
	cause   error
}

// NewAPIError creates an APIError.
func NewAPIError(message string, status int, code string) *APIError {
	return &APIError{message: message, status: status, code: code}
}

// newAPIErrorWithCause creates an APIError that unwraps to cause.
func newAPIErrorWithCause(message string, status int, code string, cause error) *APIError {
	return &APIError{message: message, status: status, code: code, cause: cause}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.message
}

// Message returns the human readable message.
func (e *APIError) Message() string {
	return e.message
}

// StatusCode returns the HTTP status, or 0 when no response was received.
// This implements the HTTPError interface.
func (e *APIError) StatusCode() int {
	return e.status
}

// Code returns the failure classification.
func (e *APIError) Code() string {
	return e.code
}

// Unwrap exposes the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// WithContext returns a new APIError whose message is prefixed with prefix.
// Status and code are preserved and the receiver becomes the cause.
func (e *APIError) WithContext(prefix string) *APIError {
	return &APIError{
		message: prefix + ": " + e.message,
		status:  e.status,
		code:    e.code,
		cause:   e,
	}
}

// AsAPIError returns the first *APIError in err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsTimeout reports whether err is an APIError classified as TIMEOUT.
func IsTimeout(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.code == CodeTimeout
}

// IsNetworkError reports whether err is an APIError classified as NETWORK_ERROR.
func IsNetworkError(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.code == CodeNetworkError
}

// HasCode reports whether err is an APIError with the given code.
func HasCode(err error, code string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.code == code
}

// httpStatusError builds the terminal error for a non-ok response.
func httpStatusError(status int, message string) *APIError {
	return NewAPIError(message, status, strconv.Itoa(status))
}

// attemptTimeoutError marks a single attempt that exceeded its own deadline
// while the caller's context was still live.
type attemptTimeoutError struct {
	after time.Duration
	err   error
}

func newAttemptTimeoutError(operation string, after time.Duration) *attemptTimeoutError {
	return &attemptTimeoutError{
		after: after,
		err:   jperrors.NewTimeoutError("attempt timed out", operation, after),
	}
}

func (e *attemptTimeoutError) Error() string {
	return fmt.Sprintf("attempt timed out after %dms", e.after.Milliseconds())
}

func (e *attemptTimeoutError) Unwrap() error {
	return e.err
}

// ErrorClassifier determines whether an error should trigger a retry.
// Implement this interface to customize retry behavior for your specific error types.
type ErrorClassifier interface {
	// IsRetryable returns true if the error represents a transient failure
	// that should be retried.
	IsRetryable(err error) bool
}

// CircuitBreakerErrorClassifier determines whether an error should trip the circuit breaker.
type CircuitBreakerErrorClassifier interface {
	// ShouldTripCircuit returns true if the error represents a failure serious enough
	// to open the circuit breaker and stop requests temporarily.
	ShouldTripCircuit(err error) bool
}

// HTTPError represents an error with an associated HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

// TransportClassifier retries transport-level failures only.
// Any error carrying an HTTP status is terminal.
type TransportClassifier struct{}

// NewTransportClassifier creates the classifier the Executor uses by default.
func NewTransportClassifier() *TransportClassifier {
	return &TransportClassifier{}
}

// IsRetryable implements ErrorClassifier.
func (c *TransportClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Attempt deadlines wrap a timeout, so they must be checked before the
	// caller's own context errors.
	var timeoutErr *attemptTimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	// APIErrors raised during an attempt are final.
	if _, ok := AsAPIError(err); ok {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if jperrors.IsTimeout(err) {
		return true
	}

	return extractStatusCode(err) == 0
}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier.
// Transport failures and 5xx responses trip the circuit; client errors do not.
func (c *TransportClassifier) ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	var timeoutErr *attemptTimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.status >= 500
	}

	statusCode := extractStatusCode(err)
	return statusCode == 0 || statusCode >= 500
}

// HTTPStatusClassifier provides HTTP status code-based error classification for
// callers that want selected statuses retried by a generic RetryWrapper.
type HTTPStatusClassifier struct {
	// RetryableStatuses lists HTTP status codes that should trigger retries.
	// Defaults to 429, 500, 502, 503, 504 if nil.
	RetryableStatuses []int

	// CircuitTripStatuses lists HTTP status codes that should trip the circuit breaker.
	// Defaults to 401, 403, 500, 502, 503, 504 if nil.
	CircuitTripStatuses []int
}

// NewHTTPStatusClassifier creates a new HTTPStatusClassifier with default status code mappings.
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{
		RetryableStatuses:   []int{429, 500, 502, 503, 504},
		CircuitTripStatuses: []int{401, 403, 500, 502, 503, 504},
	}
}

// IsRetryable implements ErrorClassifier for HTTP status codes.
func (c *HTTPStatusClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, jperrors.ErrRateLimited) {
		return true
	}
	if jperrors.IsTimeout(err) {
		return true
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		// Unknown errors might be retryable (network issues, etc.)
		return true
	}

	return containsStatus(c.getRetryableStatuses(), statusCode)
}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier for HTTP status codes.
func (c *HTTPStatusClassifier) ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	// Rate limits and timeouts should NOT trip the circuit - these are transient
	if errors.Is(err, jperrors.ErrRateLimited) {
		return false
	}
	if jperrors.IsTimeout(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		return true
	}

	return containsStatus(c.getCircuitTripStatuses(), statusCode)
}

func (c *HTTPStatusClassifier) getRetryableStatuses() []int {
	if c.RetryableStatuses != nil {
		return c.RetryableStatuses
	}
	return []int{429, 500, 502, 503, 504}
}

func (c *HTTPStatusClassifier) getCircuitTripStatuses() []int {
	if c.CircuitTripStatuses != nil {
		return c.CircuitTripStatuses
	}
	return []int{401, 403, 500, 502, 503, 504}
}

// extractStatusCode returns the HTTP status carried by err, or 0.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

func containsStatus(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultErrorClassifier returns the classifier used when none is configured.
func DefaultErrorClassifier() ErrorClassifier {
	return NewTransportClassifier()
}

// DefaultCircuitBreakerErrorClassifier returns the breaker classifier used when none is configured.
func DefaultCircuitBreakerErrorClassifier() CircuitBreakerErrorClassifier {
	return NewTransportClassifier()
}

// StatusCodeError wraps an error with an HTTP status code.
type StatusCodeError struct {
	Err  error
	Code int
}

// Error implements the error interface.
func (e *StatusCodeError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code.
func (e *StatusCodeError) StatusCode() int {
	return e.Code
}

// NewStatusCodeError creates a new StatusCodeError.
func NewStatusCodeError(statusCode int, err error) error {
	return &StatusCodeError{
		Code: statusCode,
		Err:  err,
	}
}
