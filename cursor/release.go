package cursor

import (
	"sync"

	"github.com/kbukum/rowstream/logger"
)

// Option configures a cursor.
type Option func(*options)

type options struct {
	log       *logger.Logger
	onFailure func(handle string, err error)
}

// WithLogger sets the logger used for release warnings.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// OnReleaseFailure registers a callback invoked once per handle that fails
// to close during Release. Used to feed release-failure metrics.
func OnReleaseFailure(fn func(handle string, err error)) Option {
	return func(o *options) { o.onFailure = fn }
}

func applyOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.WithComponent("cursor")
	}
	return o
}

// handle is one held resource, closed during release.
type handle struct {
	name  string
	close func() error
}

// releaser closes a cursor's handles exactly once, in the order given.
// A failing handle never stops the remaining ones from being closed.
type releaser struct {
	once sync.Once
	opts options
}

func (r *releaser) release(handles ...handle) {
	r.once.Do(func() {
		for _, h := range handles {
			if h.close == nil {
				continue
			}
			if err := h.close(); err != nil {
				r.opts.log.Warn("Cursor handle close failed", logger.Fields(
					logger.FieldHandle, h.name,
					logger.FieldError, err.Error(),
				))
				if r.opts.onFailure != nil {
					r.opts.onFailure(h.name, err)
				}
			}
		}
		r.opts.log.Debug("Cursor released", logger.Fields("handles", len(handles)))
	})
}
