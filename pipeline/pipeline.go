package pipeline

import "context"

// Iterator is a pull-based sequence. Next returns (zero, false, nil) once
// the sequence is exhausted; an error ends it. Close releases whatever the
// iterator holds and may be called at any point, including mid-sequence.
type Iterator[T any] interface {
	Next(ctx context.Context) (T, bool, error)
	Close() error
}

// Pipeline is a lazy chain of stages. Nothing is pulled until a terminal
// runs it.
type Pipeline[T any] struct {
	open func(ctx context.Context) Iterator[T]
}

// Runnable is a pipeline bound to a sink.
type Runnable struct {
	run func(ctx context.Context) error
}

// Run pulls until the source is exhausted, an error occurs or ctx is done.
func (r *Runnable) Run(ctx context.Context) error { return r.run(ctx) }

// From wraps an existing iterator. The pipeline is single use: every run
// pulls from, and closes, the same iterator.
func From[T any](iter Iterator[T]) *Pipeline[T] {
	return &Pipeline[T]{open: func(context.Context) Iterator[T] { return iter }}
}

// FromFunc builds a pipeline that opens a fresh iterator for every run.
func FromFunc[T any](open func(ctx context.Context) Iterator[T]) *Pipeline[T] {
	return &Pipeline[T]{open: open}
}

// FromSlice yields the items in order.
func FromSlice[T any](items []T) *Pipeline[T] {
	return FromFunc(func(context.Context) Iterator[T] {
		i := 0
		return &funcIter[T]{next: func(context.Context) (T, bool, error) {
			if i >= len(items) {
				var zero T
				return zero, false, nil
			}
			i++
			return items[i-1], true, nil
		}}
	})
}

// Iter opens the pipeline for manual pulling. The caller must close it.
func (p *Pipeline[T]) Iter(ctx context.Context) Iterator[T] { return p.open(ctx) }

// Drain binds p to sink. The iterator is closed on every exit path, so a
// sink error cancels the source.
func Drain[T any](p *Pipeline[T], sink func(context.Context, T) error) *Runnable {
	return &Runnable{run: func(ctx context.Context) error {
		it := p.open(ctx)
		defer it.Close()
		for {
			v, ok, err := it.Next(ctx)
			if err != nil || !ok {
				return err
			}
			if err := sink(ctx, v); err != nil {
				return err
			}
		}
	}}
}

// ForEach runs p, calling fn for every value.
func ForEach[T any](ctx context.Context, p *Pipeline[T], fn func(context.Context, T) error) error {
	return Drain(p, fn).Run(ctx)
}

// Collect runs p and returns its values. On error the values pulled so far
// are returned with it.
func Collect[T any](ctx context.Context, p *Pipeline[T]) ([]T, error) {
	var out []T
	err := ForEach(ctx, p, func(_ context.Context, v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// funcIter adapts a pair of functions to Iterator. A nil close does nothing.
type funcIter[T any] struct {
	next  func(ctx context.Context) (T, bool, error)
	close func() error
}

func (it *funcIter[T]) Next(ctx context.Context) (T, bool, error) { return it.next(ctx) }

func (it *funcIter[T]) Close() error {
	if it.close == nil {
		return nil
	}
	return it.close()
}
