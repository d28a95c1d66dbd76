package errors

import (
	"fmt"
	"net/http"
)

// AppError is an error with everything needed to report it to an HTTP
// client: a code, a safe message, a status and whether to retry.
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	// Cause is logged but never sent to clients.
	Cause error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the cause and returns e.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets one detail and returns e.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an AppError. Retryable follows the code.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

func newCode(code ErrorCode, message string) *AppError {
	return New(code, message, StatusForCode(code))
}

// Wrap returns the AppError in err's chain, or err as Internal.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal(err)
}

// ServiceUnavailable reports a dependency that cannot be reached right now.
func ServiceUnavailable(service string) *AppError {
	return newCode(ErrCodeServiceUnavailable,
		fmt.Sprintf("The %s is temporarily unavailable. Please try again.", service)).
		WithDetail("service", service)
}

func Timeout(operation string) *AppError {
	return newCode(ErrCodeTimeout, "The request took too long. Please try again.").
		WithDetail("operation", operation)
}

// Busy reports a request rejected because a concurrency limit is full.
func Busy(resource string) *AppError {
	return newCode(ErrCodeBusy,
		fmt.Sprintf("Too many concurrent %s. Please try again shortly.", resource)).
		WithDetail("resource", resource)
}

func NotFound(resource, id string) *AppError {
	e := newCode(ErrCodeNotFound, fmt.Sprintf("The requested %s was not found.", resource)).
		WithDetail("resource", resource)
	if id != "" {
		e.WithDetail("id", id)
	}
	return e
}

func Conflict(reason string) *AppError {
	return newCode(ErrCodeConflict, reason)
}

// InvalidInput reports a bad request parameter. An empty field is omitted
// from the details.
func InvalidInput(field, reason string) *AppError {
	e := newCode(ErrCodeInvalidInput, "Invalid input: "+reason)
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

// Validation reports a request that failed struct validation.
func Validation(message string) *AppError {
	return newCode(ErrCodeInvalidInput, message)
}

// NotAcceptable reports a response format the server cannot produce.
func NotAcceptable(format string) *AppError {
	return newCode(ErrCodeNotAcceptable, fmt.Sprintf("Unsupported response format %q.", format)).
		WithDetail("format", format)
}

func Internal(cause error) *AppError {
	return newCode(ErrCodeInternal, "An unexpected error occurred. Please try again or contact support.").
		WithCause(cause)
}

func DatabaseError(cause error) *AppError {
	return newCode(ErrCodeDatabaseError, "A database error occurred. Please try again.").
		WithCause(cause)
}

// DatabaseUnavailable reports a database error that retrying may clear,
// such as a dropped connection or a lock timeout.
func DatabaseUnavailable(message string, cause error) *AppError {
	return New(ErrCodeDatabaseError, message, http.StatusServiceUnavailable).WithCause(cause)
}

// StreamAborted reports a stream that failed after rows were sent. It is
// written as the last record of the body, with the delivered row count in
// rows_sent.
func StreamAborted(rows int64, cause error) *AppError {
	return newCode(ErrCodeStreamAborted, "The stream was interrupted. Please retry the request.").
		WithDetail("rows_sent", rows).
		WithCause(cause)
}
