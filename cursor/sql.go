package cursor

import (
	"context"
	"database/sql"
	"sync/atomic"
)

// SQLCursor iterates a prepared query on a dedicated *sql.Conn.
// Handles are released rows, then statement, then connection.
type SQLCursor[T any] struct {
	conn *sql.Conn
	stmt *sql.Stmt
	rows *sql.Rows
	scan ScanFunc[T]

	// primed is set when opening fetched the first row and no Advance has
	// consumed it yet.
	primed     bool
	current    T
	hasCurrent bool
	closed     atomic.Bool
	rel        releaser
}

var _ Cursor[struct{}] = (*SQLCursor[struct{}])(nil)

// OpenSQL takes a connection from db, prepares query on it, executes it and
// positions at the first row. The returned cursor keeps the connection
// until Release. Any failure releases what was acquired and returns an
// ErrAcquisition.
func OpenSQL[T any](ctx context.Context, db *sql.DB, scan ScanFunc[T], query string, args []any, opts ...Option) (*SQLCursor[T], error) {
	c := &SQLCursor[T]{scan: scan, rel: releaser{opts: applyOptions(opts)}}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, Acquisition(err)
	}
	c.conn = conn

	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		c.Release()
		return nil, Acquisition(err)
	}
	c.stmt = stmt

	rows, err := stmt.QueryContext(ctx, args...)
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

// SQLSource adapts OpenSQL to a Source.
func SQLSource[T any](db *sql.DB, scan ScanFunc[T], query string, args []any, opts ...Option) Source[T] {
	return func(ctx context.Context) (Cursor[T], error) {
		c, err := OpenSQL(ctx, db, scan, query, args, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Advance fetches and scans the next row. A done ctx returns its error
// without fetching and leaves the cursor open. The fetch itself runs under
// the context the cursor was opened with.
func (c *SQLCursor[T]) Advance(ctx context.Context) (bool, error) {
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

	row, err := c.scan(c.rows)
	if err != nil {
		c.closed.Store(true)
		return false, Read(err)
	}
	c.current = row
	c.hasCurrent = true
	return true, nil
}

// Current returns the row fetched by the last successful Advance.
func (c *SQLCursor[T]) Current() (T, error) {
	if !c.hasCurrent {
		var zero T
		return zero, ErrIllegalState
	}
	return c.current, nil
}

// Release closes rows, statement and connection.
func (c *SQLCursor[T]) Release() {
	c.closed.Store(true)
	var handles []handle
	if c.rows != nil {
		handles = append(handles, handle{"rows", c.rows.Close})
	}
	if c.stmt != nil {
		handles = append(handles, handle{"statement", c.stmt.Close})
	}
	if c.conn != nil {
		handles = append(handles, handle{"connection", c.conn.Close})
	}
	c.rel.release(handles...)
}
