package cursor

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"

	"gorm.io/gorm"
)

// QueryFunc builds the query a GormCursor iterates, on the pinned session.
type QueryFunc func(session *gorm.DB) *gorm.DB

// GormCursor iterates a GORM query inside a transaction that pins one pooled
// connection for the cursor's lifetime. Rows are scanned into T with
// ScanRows. Handles are released rows, then session.
type GormCursor[T any] struct {
	session *gorm.DB
	rows    *sql.Rows

	primed     bool
	current    T
	hasCurrent bool
	closed     atomic.Bool
	rel        releaser
}

var _ Cursor[struct{}] = (*GormCursor[struct{}])(nil)

// OpenGorm begins a session on db, runs query(session).Rows() and positions
// at the first row.
func OpenGorm[T any](ctx context.Context, db *gorm.DB, query QueryFunc, opts ...Option) (*GormCursor[T], error) {
	c := &GormCursor[T]{rel: releaser{opts: applyOptions(opts)}}

	session := db.WithContext(ctx).Begin()
	if session.Error != nil {
		return nil, Acquisition(session.Error)
	}
	c.session = session

	rows, err := query(session).Rows()
	if err != nil {
		c.Release()
		return nil, Acquisition(err)
	}
	c.rows = rows

	c.primed = rows.Next()
	if !c.primed {
		if err := rows.Err(); err != nil {
			c.Release()
			return nil, Acquisition(err)
		}
	}
	return c, nil
}

// GormSource adapts OpenGorm to a Source.
func GormSource[T any](db *gorm.DB, query QueryFunc, opts ...Option) Source[T] {
	return func(ctx context.Context) (Cursor[T], error) {
		c, err := OpenGorm[T](ctx, db, query, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Advance fetches the next row and scans it into a fresh T. A done ctx
// returns its error without fetching and leaves the cursor open.
func (c *GormCursor[T]) Advance(ctx context.Context) (bool, error) {
	if c.closed.Load() {
		return false, ErrCursorClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.hasCurrent = false

	more := c.primed
	if c.primed {
		c.primed = false
	} else {
		more = c.rows.Next()
	}
	if !more {
		if err := c.rows.Err(); err != nil {
			c.closed.Store(true)
			return false, Read(err)
		}
		return false, nil
	}

	var row T
	if err := c.session.ScanRows(c.rows, &row); err != nil {
		c.closed.Store(true)
		return false, Read(err)
	}
	c.current = row
	c.hasCurrent = true
	return true, nil
}

// Current returns the row fetched by the last successful Advance.
func (c *GormCursor[T]) Current() (T, error) {
	if !c.hasCurrent {
		var zero T
		return zero, ErrIllegalState
	}
	return c.current, nil
}

// Release closes the rows and rolls back the session, returning its
// connection to the pool.
func (c *GormCursor[T]) Release() {
	c.closed.Store(true)
	var handles []handle
	if c.rows != nil {
		handles = append(handles, handle{"rows", c.rows.Close})
	}
	if c.session != nil {
		handles = append(handles, handle{"session", c.rollback})
	}
	c.rel.release(handles...)
}

// rollback ends the read-only session. A transaction already ended by
// context cancellation is not a failure.
func (c *GormCursor[T]) rollback() error {
	err := c.session.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
