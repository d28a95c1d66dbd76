package errors

import "net/http"

// ErrorCode is the machine-readable code carried in error responses and in
// the terminal error record of an aborted stream.
type ErrorCode string

// Opening a stream failed for a reason that may clear up.
const (
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeBusy               ErrorCode = "BUSY"
)

const (
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"
)

// Request errors. Never retryable.
const (
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeNotAcceptable ErrorCode = "NOT_ACCEPTABLE"
)

const (
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	// ErrCodeStreamAborted ends a body that already carried rows.
	ErrCodeStreamAborted ErrorCode = "STREAM_ABORTED"
)

type codeInfo struct {
	status    int
	retryable bool
}

var codes = map[ErrorCode]codeInfo{
	ErrCodeServiceUnavailable: {http.StatusServiceUnavailable, true},
	ErrCodeConnectionFailed:   {http.StatusBadGateway, true},
	ErrCodeTimeout:            {http.StatusGatewayTimeout, true},
	ErrCodeBusy:               {http.StatusServiceUnavailable, true},
	ErrCodeNotFound:           {http.StatusNotFound, false},
	ErrCodeConflict:           {http.StatusConflict, false},
	ErrCodeInvalidInput:       {http.StatusBadRequest, false},
	ErrCodeNotAcceptable:      {http.StatusNotAcceptable, false},
	ErrCodeInternal:           {http.StatusInternalServerError, false},
	ErrCodeDatabaseError:      {http.StatusInternalServerError, true},
	ErrCodeStreamAborted:      {http.StatusInternalServerError, true},
}

// IsRetryableCode reports whether a request that failed with code may
// succeed if repeated. Unknown codes are not retryable.
func IsRetryableCode(code ErrorCode) bool {
	return codes[code].retryable
}

// StatusForCode returns the HTTP status a code is normally sent with, or
// 500 for unknown codes.
func StatusForCode(code ErrorCode) int {
	if info, ok := codes[code]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// CodeForStatus picks a code for a response that carried no error body,
// such as one produced by a proxy in front of the server.
func CodeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeInvalidInput
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusNotAcceptable:
		return ErrCodeNotAcceptable
	case http.StatusBadGateway:
		return ErrCodeConnectionFailed
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	case http.StatusGatewayTimeout:
		return ErrCodeTimeout
	default:
		return ErrCodeInternal
	}
}
