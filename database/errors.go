package database

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/kbukum/rowstream/cursor"
	apperrors "github.com/kbukum/rowstream/errors"
	"github.com/kbukum/rowstream/resilience"
)

var connectionPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"no route to host",
	"network is unreachable",
	"connection closed",
	"driver: bad connection",
	"sql: database is closed",
	"unable to open database file",
}

var retryablePatterns = []string{
	"deadlock",
	"lock timeout",
	"database is locked",
	"too many connections",
}

func containsAny(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsConnectionError reports whether err means the database could not be
// reached.
func IsConnectionError(err error) bool {
	return containsAny(err, connectionPatterns)
}

// IsRetryableError reports whether retrying the operation may succeed.
func IsRetryableError(err error) bool {
	return IsConnectionError(err) || containsAny(err, retryablePatterns)
}

// FromDatabase converts a query error to an AppError.
func FromDatabase(err error, resource string) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.NotFound(resource, "")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperrors.Conflict("A " + resource + " with these details already exists.").WithCause(err)
	case IsConnectionError(err):
		return apperrors.DatabaseUnavailable("Database is temporarily unavailable. Please try again.", err)
	case IsRetryableError(err):
		return apperrors.DatabaseUnavailable("Database operation failed. Please try again.", err)
	default:
		return apperrors.DatabaseError(err)
	}
}

// FromStream converts the terminal error of a stream session to an
// AppError. rows is how many rows were delivered before the failure.
//
//   - a full stream bulkhead maps to Busy
//   - any other open failure maps like FromDatabase, or to Timeout when the
//     request deadline expired
//   - a failure after the cursor opened maps to StreamAborted
func FromStream(err error, rows int64) *apperrors.AppError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, cursor.ErrAcquisition):
		if resilience.IsRejection(err) {
			return apperrors.Busy("streams").WithCause(err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.Timeout("open cursor").WithCause(err)
		}
		return FromDatabase(err, "entity")
	case errors.Is(err, cursor.ErrRead), errors.Is(err, cursor.ErrIllegalState):
		return apperrors.StreamAborted(rows, err)
	default:
		return apperrors.Internal(err)
	}
}
