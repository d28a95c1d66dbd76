package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorResponse is the JSON body of a failed request. An NDJSON or SSE
// stream that fails after its first row ends with the same object as its
// last record.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the wire form of an AppError.
type ErrorBody struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToResponse converts e to its wire form. The cause is not sent.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Details:   e.Details,
	}}
}

// AppError rebuilds the error a peer sent. A zero status falls back to the
// code's usual status.
func (b ErrorBody) AppError(status int) *AppError {
	if status == 0 {
		status = StatusForCode(b.Code)
	}
	return &AppError{
		Code:       b.Code,
		Message:    b.Message,
		Retryable:  b.Retryable,
		HTTPStatus: status,
		Details:    b.Details,
	}
}

// FromStatus builds the error for a failed response without an error body.
func FromStatus(status int) *AppError {
	return New(CodeForStatus(status), fmt.Sprintf("unexpected status %d", status), status)
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
