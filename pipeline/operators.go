package pipeline

import "context"

// stage derives a pipeline whose iterator pulls from p's. Closing the
// derived iterator closes the source.
func stage[I, O any](p *Pipeline[I], next func(ctx context.Context, src Iterator[I]) (O, bool, error)) *Pipeline[O] {
	return FromFunc(func(ctx context.Context) Iterator[O] {
		src := p.open(ctx)
		return &funcIter[O]{
			next:  func(ctx context.Context) (O, bool, error) { return next(ctx, src) },
			close: src.Close,
		}
	})
}

// Map transforms each value. An error from fn ends the sequence.
func Map[I, O any](p *Pipeline[I], fn func(context.Context, I) (O, error)) *Pipeline[O] {
	return stage(p, func(ctx context.Context, src Iterator[I]) (O, bool, error) {
		var zero O
		v, ok, err := src.Next(ctx)
		if err != nil || !ok {
			return zero, false, err
		}
		out, err := fn(ctx, v)
		if err != nil {
			return zero, false, err
		}
		return out, true, nil
	})
}

// Filter drops values for which keep returns false.
func Filter[T any](p *Pipeline[T], keep func(T) bool) *Pipeline[T] {
	return stage(p, func(ctx context.Context, src Iterator[T]) (T, bool, error) {
		for {
			v, ok, err := src.Next(ctx)
			if err != nil || !ok || keep(v) {
				return v, ok && err == nil, err
			}
		}
	})
}

// Tap calls fn for each value and passes the value on unchanged.
func Tap[T any](p *Pipeline[T], fn func(context.Context, T) error) *Pipeline[T] {
	return stage(p, func(ctx context.Context, src Iterator[T]) (T, bool, error) {
		v, ok, err := src.Next(ctx)
		if err != nil || !ok {
			return v, false, err
		}
		if err := fn(ctx, v); err != nil {
			var zero T
			return zero, false, err
		}
		return v, true, nil
	})
}

// Take passes at most n values on. The source is closed as soon as the
// n-th value has been pulled, without asking it for another. n <= 0 means
// no limit.
func Take[T any](p *Pipeline[T], n int) *Pipeline[T] {
	if n <= 0 {
		return p
	}
	return FromFunc(func(ctx context.Context) Iterator[T] {
		return &takeIter[T]{src: p.open(ctx), left: n}
	})
}

type takeIter[T any] struct {
	src    Iterator[T]
	left   int
	closed bool
}

func (it *takeIter[T]) Next(ctx context.Context) (T, bool, error) {
	if it.left <= 0 {
		var zero T
		return zero, false, nil
	}
	v, ok, err := it.src.Next(ctx)
	if err != nil || !ok {
		return v, false, err
	}
	if it.left--; it.left == 0 {
		it.Close()
	}
	return v, true, nil
}

func (it *takeIter[T]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.src.Close()
}
