// Package cursortest provides a scripted in-memory cursor for tests of code
// that consumes cursor.Cursor values.
package cursortest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kbukum/rowstream/cursor"
)

// Cursor yields a fixed list of rows and records how it is driven.
// Failures and blocking can be injected per Advance call (1-based).
type Cursor[T any] struct {
	rows []T

	failAt  int
	failErr error

	blockAt int
	entered chan struct{}
	gate    chan struct{}

	pos        int
	hasCurrent bool
	closed     atomic.Bool

	advances atomic.Int32
	releases atomic.Int32
	opens    atomic.Int32
	mu       sync.Mutex
}

var _ cursor.Cursor[int] = (*Cursor[int])(nil)

// New returns a cursor over rows.
func New[T any](rows ...T) *Cursor[T] {
	return &Cursor[T]{rows: rows, pos: -1}
}

// FailOn makes Advance call number n return err wrapped as cursor.ErrRead.
func (c *Cursor[T]) FailOn(n int, err error) *Cursor[T] {
	c.failAt = n
	c.failErr = err
	return c
}

// BlockOn makes Advance call number n signal Entered and then wait until
// Unblock is called.
func (c *Cursor[T]) BlockOn(n int) *Cursor[T] {
	c.blockAt = n
	c.entered = make(chan struct{})
	c.gate = make(chan struct{})
	return c
}

// Entered is closed once the blocking Advance has started.
func (c *Cursor[T]) Entered() <-chan struct{} { return c.entered }

// Unblock lets a blocked Advance finish.
func (c *Cursor[T]) Unblock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.gate:
	default:
		close(c.gate)
	}
}

// Source returns a cursor.Source that hands out this cursor and counts opens.
func (c *Cursor[T]) Source() cursor.Source[T] {
	return func(context.Context) (cursor.Cursor[T], error) {
		c.opens.Add(1)
		return c, nil
	}
}

// Advance moves to the next scripted row.
func (c *Cursor[T]) Advance(ctx context.Context) (bool, error) {
	if c.closed.Load() {
		return false, cursor.ErrCursorClosed
	}
	n := int(c.advances.Add(1))
	c.hasCurrent = false

	if n == c.blockAt {
		close(c.entered)
		select {
		case <-c.gate:
		case <-ctx.Done():
			c.closed.Store(true)
			return false, cursor.Read(ctx.Err())
		}
	}
	if n == c.failAt {
		c.closed.Store(true)
		return false, cursor.Read(c.failErr)
	}
	if c.pos+1 >= len(c.rows) {
		return false, nil
	}
	c.pos++
	c.hasCurrent = true
	return true, nil
}

// Current returns the row at the current position.
func (c *Cursor[T]) Current() (T, error) {
	if !c.hasCurrent {
		var zero T
		return zero, cursor.ErrIllegalState
	}
	return c.rows[c.pos], nil
}

// Release counts the call and closes the cursor.
func (c *Cursor[T]) Release() {
	c.releases.Add(1)
	c.closed.Store(true)
}

// Advances reports how many times Advance was called.
func (c *Cursor[T]) Advances() int { return int(c.advances.Load()) }

// Releases reports how many times Release was called.
func (c *Cursor[T]) Releases() int { return int(c.releases.Load()) }

// Opens reports how many times the Source handed out this cursor.
func (c *Cursor[T]) Opens() int { return int(c.opens.Load()) }

// Closed reports whether the cursor was released or failed.
func (c *Cursor[T]) Closed() bool { return c.closed.Load() }

// FailingSource returns a Source whose open always fails with err.
func FailingSource[T any](err error) cursor.Source[T] {
	return func(context.Context) (cursor.Cursor[T], error) {
		return nil, cursor.Acquisition(err)
	}
}

// Seq returns the ints 1..n.
func Seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
