package pipeline

import (
	"context"
	"time"
)

// Batch groups values into windows of size. With a timeout, a window is
// also cut once timeout has passed since it was started; the check happens
// between pulls, so it never interrupts a blocked source.
//
// size <= 0 cuts windows by timeout only and timeout <= 0 by size only.
// Both unset means windows of one.
//
// A failure after a window has started emits the partial window first; the
// error comes from the following call. The source is not pulled again after
// it failed or ran out.
func Batch[T any](p *Pipeline[T], size int, timeout time.Duration) *Pipeline[[]T] {
	if size <= 0 && timeout <= 0 {
		size = 1
	}
	return FromFunc(func(ctx context.Context) Iterator[[]T] {
		return &batchIter[T]{src: p.open(ctx), size: size, timeout: timeout}
	})
}

type batchIter[T any] struct {
	src     Iterator[T]
	size    int
	timeout time.Duration

	ended   bool
	pending error
}

func (it *batchIter[T]) Next(ctx context.Context) ([]T, bool, error) {
	if err := it.pending; err != nil {
		it.pending, it.ended = nil, true
		return nil, false, err
	}
	if it.ended {
		return nil, false, nil
	}

	var deadline time.Time
	if it.timeout > 0 {
		deadline = time.Now().Add(it.timeout)
	}
	var window []T
	if it.size > 0 {
		window = make([]T, 0, it.size)
	}

	for it.size <= 0 || len(window) < it.size {
		v, ok, err := it.src.Next(ctx)
		switch {
		case err != nil && len(window) > 0:
			it.pending = err
			return window, true, nil
		case err != nil:
			it.ended = true
			return nil, false, err
		case !ok:
			it.ended = true
			return window, len(window) > 0, nil
		}
		window = append(window, v)
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			break
		}
	}
	return window, true, nil
}

func (it *batchIter[T]) Close() error { return it.src.Close() }
