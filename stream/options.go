package stream

import (
	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/observability"
	"github.com/kbukum/rowstream/resilience"
)

// Option configures a Producer.
type Option func(*options)

type options struct {
	name     string
	log      *logger.Logger
	metrics  *observability.StreamMetrics
	bulkhead *resilience.Bulkhead
	tracing  bool
}

// WithName labels the session in logs, metrics and spans.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger for session events.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics records the session in m.
func WithMetrics(m *observability.StreamMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithBulkhead makes opening the cursor take a slot from b. The slot is
// returned when the session is released. A full bulkhead fails the open
// with an ErrAcquisition wrapping resilience.ErrBulkheadFull or
// resilience.ErrBulkheadTimeout.
func WithBulkhead(b *resilience.Bulkhead) Option {
	return func(o *options) { o.bulkhead = b }
}

// WithTracing opens a stream.session span when the cursor is opened and
// ends it on release.
func WithTracing(enabled bool) Option {
	return func(o *options) { o.tracing = enabled }
}

func applyOptions(opts []Option) options {
	o := options{name: "stream"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.WithComponent("stream")
	}
	return o
}
