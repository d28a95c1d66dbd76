// Package stream turns a database cursor into a lazily pulled, single
// consumer sequence and guarantees the cursor is released exactly once,
// whether the sequence is exhausted, fails, or is cancelled.
//
// A Producer is single use. Execute binds it to a cursor source and returns
// a Stream; the cursor is opened on the first pull (or an explicit Open) and
// released by the one exit routine every terminating path goes through:
//
//	s, err := stream.NewProducer[entity.Entity](stream.WithName("entities.sql")).
//	    Execute(cursor.SQLSource(db, scanEntity, query, nil))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	for {
//	    row, ok, err := s.Next(ctx)
//	    ...
//	}
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/rowstream/cursor"
	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/observability"
)

// Session states. released is terminal.
const (
	stateUnopened int32 = iota
	stateActive
	stateReleased
)

// errNoCursor is returned when a Source reports success without a cursor.
var errNoCursor = errors.New("stream: source returned no cursor")

// binding is an opened cursor plus what was acquired alongside it. The
// cursor's resources live under a context owned by the binding, not by the
// pull that opened it; cancel ends that context after release.
type binding[T any] struct {
	cur      cursor.Cursor[T]
	cancel   context.CancelFunc
	freeSlot func()
	span     trace.Span
	openedAt time.Time
	once     sync.Once
}

func (b *binding[T]) release(p *options, err error, attrs ...attribute.KeyValue) {
	b.once.Do(func() {
		b.cur.Release()
		b.cancel()
		if b.freeSlot != nil {
			b.freeSlot()
		}
		p.metrics.SessionReleased(context.Background(), p.name, b.openedAt)
		if b.span != nil {
			observability.EndSpan(b.span, err, attrs...)
		}
	})
}

// Producer owns one cursor for one session.
type Producer[T any] struct {
	opts options

	started atomic.Bool
	state   atomic.Int32
	bound   atomic.Pointer[binding[T]]
	rows    atomic.Int64

	end     sync.Once
	outcome Outcome
	err     error
}

// NewProducer creates an unstarted producer.
func NewProducer[T any](opts ...Option) *Producer[T] {
	return &Producer[T]{opts: applyOptions(opts)}
}

// New executes source on a fresh producer.
func New[T any](source cursor.Source[T], opts ...Option) *Stream[T] {
	s, _ := NewProducer[T](opts...).Execute(source)
	return s
}

// Execute binds the producer to source and returns the lazy stream over
// it. Nothing is opened until the stream is pulled or opened. A second call
// fails with ErrAlreadyActive.
func (p *Producer[T]) Execute(source cursor.Source[T]) (*Stream[T], error) {
	if !p.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyActive
	}
	return &Stream[T]{p: p, source: source}, nil
}

// Release ends the session as cancelled and releases the bound cursor, if
// any. Safe to call any number of times from any goroutine.
func (p *Producer[T]) Release() {
	p.finish(context.Background(), OutcomeCancelled, nil)
}

// Outcome reports how the session ended, or "" while it is still live.
func (p *Producer[T]) Outcome() Outcome {
	if !p.released() {
		return ""
	}
	return p.outcome
}

// Rows reports how many rows the session delivered.
func (p *Producer[T]) Rows() int64 { return p.rows.Load() }

func (p *Producer[T]) released() bool {
	return p.state.Load() == stateReleased
}

// open takes a bulkhead slot, opens the cursor and moves the session to
// active. A nil binding with a nil error means the session was released
// while opening.
//
// The cursor is opened under a session context detached from ctx, so a
// pull's deadline ending after the pull returns does not close the result
// set. Cancelling ctx while the source is opening aborts the open.
func (p *Producer[T]) open(ctx context.Context, source cursor.Source[T]) (*binding[T], error) {
	b := &binding[T]{}
	if p.opts.bulkhead != nil {
		free, err := p.opts.bulkhead.Acquire(ctx)
		if err != nil {
			return nil, cursor.Acquisition(err)
		}
		b.freeSlot = free
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	stop := context.AfterFunc(ctx, cancel)
	cur, err := source(sessCtx)
	interrupted := !stop()
	switch {
	case err == nil && cur == nil:
		err = errNoCursor
	case err == nil && interrupted:
		cur.Release()
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		if b.freeSlot != nil {
			b.freeSlot()
		}
		return nil, cursor.Acquisition(err)
	}
	b.cur = cur
	b.openedAt = time.Now()
	if p.opts.tracing {
		_, b.span = observability.StartSpan(ctx, observability.SpanStreamSession,
			trace.WithAttributes(attribute.String(observability.AttrSession, p.opts.name)))
	}
	p.opts.metrics.SessionOpened(ctx, p.opts.name)

	p.bound.Store(b)
	if !p.state.CompareAndSwap(stateUnopened, stateActive) {
		b.release(&p.opts, nil)
		return nil, nil
	}

	p.opts.log.Debug("Stream cursor opened", logger.Fields(logger.FieldSession, p.opts.name))
	return b, nil
}

// finish is the single exit routine. The first call records the outcome,
// marks the session released and releases the bound cursor before
// returning; later calls do nothing. It returns the session's terminal
// error.
func (p *Producer[T]) finish(ctx context.Context, o Outcome, err error) error {
	p.end.Do(func() {
		p.outcome = o
		p.err = err
		p.state.Store(stateReleased)

		rows := p.rows.Load()
		if b := p.bound.Load(); b != nil {
			b.release(&p.opts, err,
				attribute.String(observability.AttrOutcome, string(o)),
				attribute.Int64(observability.AttrRows, rows),
			)
		}
		p.opts.metrics.SessionEnded(ctx, p.opts.name, string(o), rows)

		fields := logger.Fields(
			logger.FieldSession, p.opts.name,
			logger.FieldStatus, string(o),
			logger.FieldRows, rows,
		)
		if err != nil && o == OutcomeFailed {
			fields[logger.FieldError] = err.Error()
			p.opts.log.Warn("Stream session failed", fields)
			return
		}
		p.opts.log.Debug("Stream session ended", fields)
	})
	return p.err
}
