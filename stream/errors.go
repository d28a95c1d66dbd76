package stream

import (
	"errors"

	"github.com/kbukum/rowstream/cursor"
)

// Producer errors.
var (
	// ErrAlreadyActive is returned by Execute on a producer that was
	// already started. No cursor is opened.
	ErrAlreadyActive = errors.New("stream: producer already started")
	// ErrConcurrentAccess is returned by a pull that overlaps another pull
	// on the same stream. The overlapping call touches no cursor state.
	ErrConcurrentAccess = errors.New("stream: concurrent pull on single-consumer stream")
)

// Cursor errors surfaced through streams.
var (
	ErrAcquisition  = cursor.ErrAcquisition
	ErrRead         = cursor.ErrRead
	ErrIllegalState = cursor.ErrIllegalState
	ErrCursorClosed = cursor.ErrCursorClosed
)

// Outcome is how a stream session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)
