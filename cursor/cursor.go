// Package cursor defines the pull-based row cursor consumed by the stream
// package, plus implementations over database/sql and GORM.
//
// A Cursor owns live database resources (connection, statement or session,
// result set) from the moment it is opened until Release is called. Release
// is idempotent and best effort: every handle is closed, innermost first,
// and close failures are logged rather than returned.
package cursor

import (
	"context"
	"errors"
	"fmt"
)

// Cursor errors. Implementations wrap the underlying driver error so callers
// can match the kind with errors.Is and still see the cause.
var (
	// ErrAcquisition means the cursor could not be opened or positioned.
	ErrAcquisition = errors.New("cursor: acquisition failed")
	// ErrRead means fetching or scanning a row failed mid-stream.
	ErrRead = errors.New("cursor: read failed")
	// ErrIllegalState means Current was called without a current row.
	ErrIllegalState = errors.New("cursor: no current row")
	// ErrCursorClosed means the cursor was released or failed earlier.
	ErrCursorClosed = errors.New("cursor: closed")
)

// Cursor is a stateful, single-pass, single-owner iterator over query
// results. Advance and Current block on the data source; they must not be
// called concurrently.
type Cursor[T any] interface {
	// Advance fetches the next row and reports whether one is available.
	Advance(ctx context.Context) (bool, error)
	// Current returns the row fetched by the last successful Advance.
	Current() (T, error)
	// Release closes every held resource. Safe to call more than once.
	Release()
}

// Source opens a cursor. The context scopes the cursor's resources for its
// whole lifetime, not just the open.
type Source[T any] func(ctx context.Context) (Cursor[T], error)

// Scanner is the subset of *sql.Rows a ScanFunc needs.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc extracts one row from the current position of a result set.
type ScanFunc[T any] func(Scanner) (T, error)

// Acquisition wraps err as an ErrAcquisition unless it already is one.
func Acquisition(err error) error {
	if err == nil || errors.Is(err, ErrAcquisition) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAcquisition, err)
}

// Read wraps err as an ErrRead unless it already is one.
func Read(err error) error {
	if err == nil || errors.Is(err, ErrRead) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRead, err)
}
