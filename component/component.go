package component

import "context"

// Component is a piece of infrastructure the registry starts and stops.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// HealthStatus is a component's state as shown on /health.
type HealthStatus string

const (
	StatusHealthy HealthStatus = "healthy"
	// StatusDegraded still serves; a database whose pool is held by open
	// cursors reports it.
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Overall folds component states: any unhealthy one wins, then degraded.
// No components is healthy.
func Overall(hs []Health) HealthStatus {
	status := StatusHealthy
	for _, h := range hs {
		switch h.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Describable components get a line in the startup summary, such as
// {Name: "SQLite", Type: "database", Details: "rows.db pool=4"}.
type Describable interface {
	Describe() Description
}

type Description struct {
	Name    string
	Type    string
	Details string
	Port    int
}

// RouteProvider components list their HTTP routes in the startup summary.
type RouteProvider interface {
	Routes() []Route
}

type Route struct {
	Method  string
	Path    string
	Handler string
}
