// Package endpoint holds the probe handlers every rowstream server mounts:
// /health, /alive, /ready and /info.
package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/rowstream/component"
	"github.com/kbukum/rowstream/version"
)

var startTime = time.Now()

// HealthChecker reports the health of the registered components, usually
// component.Registry.HealthAll.
type HealthChecker func(ctx context.Context) []component.Health

func check(ctx context.Context, checker HealthChecker) []component.Health {
	if checker == nil {
		return nil
	}
	return checker(ctx)
}

func probe(c *gin.Context, code int, service, status string, extra gin.H) {
	body := gin.H{
		"status":    status,
		"service":   service,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(code, body)
}

// Health reports the aggregate status with every component's health. It
// answers 503 when a component is unhealthy.
func Health(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		components := check(c.Request.Context(), checker)
		status := component.Overall(components)
		code := http.StatusOK
		if status == component.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		probe(c, code, serviceName, string(status), gin.H{"components": components})
	}
}

// Readiness answers 503 while any component is unhealthy. Degraded still
// takes traffic; new streams wait on the bulkhead instead.
func Readiness(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if component.Overall(check(c.Request.Context(), checker)) == component.StatusUnhealthy {
			probe(c, http.StatusServiceUnavailable, serviceName, "not_ready", nil)
			return
		}
		probe(c, http.StatusOK, serviceName, "ready", nil)
	}
}

// Liveness answers 200 while the process can serve HTTP.
func Liveness(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		probe(c, http.StatusOK, serviceName, "alive", nil)
	}
}

// Info reports build information and uptime.
func Info(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v := version.Get()
		c.JSON(http.StatusOK, gin.H{
			"service":    serviceName,
			"version":    v.Version,
			"git_commit": v.GitCommit,
			"build_time": v.BuildTime,
			"go_version": v.GoVersion,
			"is_release": v.IsRelease,
			"is_dirty":   v.IsDirty,
			"uptime":     time.Since(startTime).Round(time.Second).String(),
		})
	}
}
