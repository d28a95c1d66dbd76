package stream

import (
	"context"
	"sync/atomic"

	"github.com/kbukum/rowstream/cursor"
	"github.com/kbukum/rowstream/pipeline"
)

// Stream is the lazily pulled sequence over a producer's cursor. Each Next
// issues exactly one Advance. It has a single consumer: overlapping pulls
// fail with ErrConcurrentAccess.
type Stream[T any] struct {
	p       *Producer[T]
	source  cursor.Source[T]
	pulling atomic.Bool
}

var _ pipeline.Iterator[int] = (*Stream[int])(nil)

// Open opens the cursor now instead of on the first Next, so acquisition
// failures surface before the caller commits to a response. Opening an
// already open stream does nothing. Opening an ended stream returns its
// terminal error, or ErrCursorClosed.
func (s *Stream[T]) Open(ctx context.Context) error {
	if !s.pulling.CompareAndSwap(false, true) {
		return ErrConcurrentAccess
	}
	defer s.pulling.Store(false)

	if s.p.released() {
		return s.closedErr()
	}
	b, err := s.bind(ctx)
	if b == nil && err == nil {
		return s.closedErr()
	}
	return err
}

// Next returns the next row. (zero, false, nil) means the cursor was
// exhausted; by then it has been released. Errors are terminal and
// repeated by every later call. Pulling a cancelled stream returns
// ErrCursorClosed, or the context error that cancelled it.
func (s *Stream[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if !s.pulling.CompareAndSwap(false, true) {
		return zero, false, ErrConcurrentAccess
	}
	defer s.pulling.Store(false)

	p := s.p
	if p.released() {
		return zero, false, s.endErr()
	}
	if err := ctx.Err(); err != nil {
		return zero, false, p.finish(ctx, OutcomeCancelled, err)
	}

	b, err := s.bind(ctx)
	if b == nil {
		return zero, false, err
	}

	// Cancelling ctx mid-fetch tears down the session context so a blocked
	// driver call returns.
	stop := context.AfterFunc(ctx, b.cancel)
	more, err := b.cur.Advance(ctx)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		o := OutcomeFailed
		if ctx.Err() != nil {
			o = OutcomeCancelled
		}
		return zero, false, p.finish(ctx, o, cursor.Read(err))
	}
	if !more {
		return zero, false, p.finish(ctx, OutcomeCompleted, nil)
	}

	row, err := b.cur.Current()
	if err != nil {
		return zero, false, p.finish(ctx, OutcomeFailed, err)
	}
	p.rows.Add(1)
	return row, true, nil
}

// Close cancels the stream: the cursor is released before Close returns
// and no further fetch is issued. Closing an ended stream does nothing.
// Close never fails.
func (s *Stream[T]) Close() error {
	s.p.finish(context.Background(), OutcomeCancelled, nil)
	return nil
}

// Rows reports how many rows have been delivered.
func (s *Stream[T]) Rows() int64 { return s.p.Rows() }

// Outcome reports how the session ended, or "" while it is live.
func (s *Stream[T]) Outcome() Outcome { return s.p.Outcome() }

// Pipeline wraps the stream as a pipeline source.
func (s *Stream[T]) Pipeline() *pipeline.Pipeline[T] {
	return pipeline.From[T](s)
}

// bind returns the open cursor, opening it on first use. A nil binding
// means the session ended; the error is its terminal error.
func (s *Stream[T]) bind(ctx context.Context) (*binding[T], error) {
	if b := s.p.bound.Load(); b != nil {
		return b, nil
	}
	b, err := s.p.open(ctx, s.source)
	if err != nil {
		o := OutcomeFailed
		if ctx.Err() != nil {
			o = OutcomeCancelled
		}
		return nil, s.p.finish(ctx, o, err)
	}
	if b == nil {
		return nil, s.endErr()
	}
	return b, nil
}

// endErr is the error pulls on a released stream return. A cancellation
// without a cause reports ErrCursorClosed so it cannot pass for exhaustion.
func (s *Stream[T]) endErr() error {
	if s.p.err == nil && s.p.outcome == OutcomeCancelled {
		return ErrCursorClosed
	}
	return s.p.err
}

func (s *Stream[T]) closedErr() error {
	if s.p.err != nil {
		return s.p.err
	}
	return ErrCursorClosed
}
