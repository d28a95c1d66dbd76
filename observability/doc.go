// Package observability wires OpenTelemetry tracing and metrics.
//
// Tracing and metrics are exported over OTLP HTTP when enabled:
//
//	svc := observability.Service{Name: "rowstream", Version: version.Version}
//	tp, err := observability.InitTracer(ctx, cfg, svc)
//	defer tp.Shutdown(ctx)
//	mp, err := observability.InitMeter(ctx, cfg, svc)
//	defer mp.Shutdown(ctx)
//
// Component does this for a bootstrap app.
//
// StreamMetrics carries the rowstream instruments. Every stream session is
// counted by outcome when its cursor is released, and cursor handles that
// fail to close are counted separately:
//
//	m, err := observability.NewStreamMetrics(observability.Meter(observability.InstrumentationName))
//	producer := stream.NewProducer[entity.Entity](stream.WithMetrics(m))
package observability
