package observability

import (
	"context"
	"errors"
	"fmt"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/rowstream/component"
)

// Component installs the OTLP tracer and meter providers on Start and
// flushes them on Stop. Disabled, it does nothing and the global no-op
// providers stay in place.
type Component struct {
	cfg Config
	svc Service

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates the component for one service.
func NewComponent(cfg Config, service, version, environment string) *Component {
	cfg.ApplyDefaults()
	return &Component{cfg: cfg, svc: Service{Name: service, Version: version, Environment: environment}}
}

// Name returns the component name.
func (c *Component) Name() string { return "observability" }

// Start initializes the providers when enabled.
func (c *Component) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	tp, err := InitTracer(ctx, c.cfg, c.svc)
	if err != nil {
		return fmt.Errorf("observability start: %w", err)
	}
	c.tp = tp

	mp, err := InitMeter(ctx, c.cfg, c.svc)
	if err != nil {
		return fmt.Errorf("observability start: %w", err)
	}
	c.mp = mp
	return nil
}

// Stop flushes and shuts down the providers.
func (c *Component) Stop(ctx context.Context) error {
	var errs []error
	if c.mp != nil {
		errs = append(errs, c.mp.Shutdown(ctx))
		c.mp = nil
	}
	if c.tp != nil {
		errs = append(errs, c.tp.Shutdown(ctx))
		c.tp = nil
	}
	return errors.Join(errs...)
}

// Health is always healthy. Export failures are reported by the SDK.
func (c *Component) Health(context.Context) component.Health {
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	if !c.cfg.Enabled {
		h.Message = "disabled"
	}
	return h
}

// Describe reports the exporter endpoint for the startup summary.
func (c *Component) Describe() component.Description {
	details := "disabled"
	if c.cfg.Enabled {
		details = fmt.Sprintf("otlp %s sample=%.2f", c.cfg.Endpoint, c.cfg.SampleRate)
	}
	return component.Description{Name: "OpenTelemetry", Type: "observability", Details: details}
}
