package server

import (
	"context"
	"fmt"

	"github.com/kbukum/rowstream/component"
)

const componentName = "http-server"

var (
	_ component.Component     = (*Component)(nil)
	_ component.Describable   = (*Component)(nil)
	_ component.RouteProvider = (*Component)(nil)
)

// Component runs a Server in the component registry.
type Component struct {
	server *Server
}

// NewComponent wraps s.
func NewComponent(s *Server) *Component {
	return &Component{server: s}
}

// Server returns the wrapped server.
func (c *Component) Server() *Server { return c.server }

// Name returns the component name.
func (c *Component) Name() string { return componentName }

// Start binds the listener.
func (c *Component) Start(ctx context.Context) error { return c.server.Start(ctx) }

// Stop shuts the server down.
func (c *Component) Stop(ctx context.Context) error { return c.server.Stop(ctx) }

// Health reports whether the server is serving.
func (c *Component) Health(context.Context) component.Health {
	if c.server.Running() {
		return component.Health{Name: componentName, Status: component.StatusHealthy}
	}
	return component.Health{Name: componentName, Status: component.StatusUnhealthy, Message: "not listening"}
}

// Describe reports the listen address for the startup summary.
func (c *Component) Describe() component.Description {
	cfg := c.server.config
	return component.Description{
		Name:    "HTTP Server",
		Type:    "server",
		Details: fmt.Sprintf("%s h2c flush_every=%d", c.server.Addr(), cfg.Stream.FlushEvery),
		Port:    cfg.Port,
	}
}

// Routes lists the registered routes, API routes before the probes.
func (c *Component) Routes() []component.Route {
	return routeTable(c.server.engine.Routes())
}
