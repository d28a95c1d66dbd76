package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricStreamSessions  = "rowstream.stream.sessions"
	MetricStreamRows      = "rowstream.stream.rows"
	MetricStreamActive    = "rowstream.stream.active"
	MetricStreamDuration  = "rowstream.stream.duration"
	MetricReleaseFailures = "rowstream.cursor.release.failures"
)

// StreamMetrics records cursor-backed stream sessions.
// A nil *StreamMetrics is valid and records nothing.
type StreamMetrics struct {
	sessions        metric.Int64Counter
	rows            metric.Int64Counter
	active          metric.Int64UpDownCounter
	duration        metric.Float64Histogram
	releaseFailures metric.Int64Counter
}

// NewStreamMetrics creates the stream instruments on meter.
func NewStreamMetrics(meter metric.Meter) (*StreamMetrics, error) {
	sessions, err := meter.Int64Counter(MetricStreamSessions,
		metric.WithDescription("Finished stream sessions by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricStreamSessions, err)
	}

	rows, err := meter.Int64Counter(MetricStreamRows,
		metric.WithDescription("Rows delivered to stream consumers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricStreamRows, err)
	}

	active, err := meter.Int64UpDownCounter(MetricStreamActive,
		metric.WithDescription("Streams currently holding an open cursor"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s gauge: %w", MetricStreamActive, err)
	}

	duration, err := meter.Float64Histogram(MetricStreamDuration,
		metric.WithDescription("Time from cursor open to release"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricStreamDuration, err)
	}

	releaseFailures, err := meter.Int64Counter(MetricReleaseFailures,
		metric.WithDescription("Cursor handles that failed to close during release"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricReleaseFailures, err)
	}

	return &StreamMetrics{
		sessions:        sessions,
		rows:            rows,
		active:          active,
		duration:        duration,
		releaseFailures: releaseFailures,
	}, nil
}

// SessionOpened marks a stream as holding a cursor.
func (m *StreamMetrics) SessionOpened(ctx context.Context, session string) {
	if m == nil {
		return
	}
	m.active.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrSession, session)))
}

// SessionReleased pairs with SessionOpened once the cursor is released.
// opened is when the cursor was opened.
func (m *StreamMetrics) SessionReleased(ctx context.Context, session string, opened time.Time) {
	if m == nil {
		return
	}
	byName := metric.WithAttributes(attribute.String(AttrSession, session))
	m.active.Add(ctx, -1, byName)
	m.duration.Record(ctx, time.Since(opened).Seconds(), byName)
}

// SessionEnded records how a session ended and how many rows it delivered.
func (m *StreamMetrics) SessionEnded(ctx context.Context, session, outcome string, rows int64) {
	if m == nil {
		return
	}
	byName := attribute.String(AttrSession, session)
	m.sessions.Add(ctx, 1, metric.WithAttributes(byName, attribute.String(AttrOutcome, outcome)))
	if rows > 0 {
		m.rows.Add(ctx, rows, metric.WithAttributes(byName))
	}
}

// ReleaseFailed counts one handle that failed to close.
func (m *StreamMetrics) ReleaseFailed(ctx context.Context, handle string) {
	if m == nil {
		return
	}
	m.releaseFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrHandle, handle)))
}

// ReleaseHook adapts ReleaseFailed to the callback shape cursors accept.
func (m *StreamMetrics) ReleaseHook() func(handle string, err error) {
	return func(handle string, _ error) {
		m.ReleaseFailed(context.Background(), handle)
	}
}
