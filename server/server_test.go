package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/rowstream/component"
	"github.com/kbukum/rowstream/logger"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Port != 8080 || cfg.ReadTimeout != 15 || cfg.IdleTimeout != 60 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.WriteTimeout != 0 {
		t.Errorf("write timeout = %d, streams must not be cut off", cfg.WriteTimeout)
	}
	if cfg.Stream.FlushEvery != 100 || cfg.Stream.DefaultFormat != "json" {
		t.Errorf("stream defaults = %+v", cfg.Stream)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"negative timeout", func(c *Config) { c.ReadTimeout = -1 }},
		{"zero flush", func(c *Config) { c.Stream.FlushEvery = 0 }},
		{"unknown format", func(c *Config) { c.Stream.DefaultFormat = "csv" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(Config{Host: "127.0.0.1", Port: 0}, logger.NewNop())
	s.config.Port = 0
	s.httpServer.Addr = "127.0.0.1:0"
	return s
}

func TestServerStartStop(t *testing.T) {
	s := newTestServer(t)
	s.ApplyDefaults("rowstream", nil)
	s.Engine().GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	if s.Running() {
		t.Fatal("server should not run before Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/ping")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("request ID header missing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if _, err := http.Get("http://" + s.Addr() + "/ping"); err == nil {
		t.Error("server still serving after Stop")
	}
}

func TestServerStopBeforeStart(t *testing.T) {
	s := newTestServer(t)
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestServerStartPortInUse(t *testing.T) {
	first := newTestServer(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { first.Stop(context.Background()) })

	second := newTestServer(t)
	second.httpServer.Addr = first.Addr()
	if err := second.Start(context.Background()); err == nil {
		second.Stop(context.Background())
		t.Fatal("expected bind error")
	}
}

func TestDefaultEndpoints(t *testing.T) {
	s := newTestServer(t)
	checker := func(context.Context) []component.Health {
		return []component.Health{
			{Name: "database", Status: component.StatusDegraded, Message: "pool exhausted"},
		}
	}
	s.ApplyDefaults("rowstream", checker)

	tests := []struct {
		path       string
		wantStatus int
		wantField  string
		wantValue  string
	}{
		{"/health", http.StatusOK, "status", "degraded"},
		{"/alive", http.StatusOK, "status", "alive"},
		{"/ready", http.StatusOK, "status", "ready"},
		{"/info", http.StatusOK, "service", "rowstream"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d", rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body[tt.wantField] != tt.wantValue {
				t.Errorf("%s = %v", tt.wantField, body[tt.wantField])
			}
		})
	}
}

func TestReadinessUnhealthy(t *testing.T) {
	s := newTestServer(t)
	s.ApplyDefaults("rowstream", func(context.Context) []component.Health {
		return []component.Health{{Name: "database", Status: component.StatusUnhealthy}}
	})

	for _, path := range []string{"/ready", "/health"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func noop(*gin.Context) {}

func TestComponent(t *testing.T) {
	s := newTestServer(t)
	s.ApplyDefaults("rowstream", nil)
	s.Engine().GET("/entities/sql", noop)
	s.Engine().GET("/entities/gorm", noop)

	c := NewComponent(s)
	if c.Name() != "http-server" || c.Server() != s {
		t.Fatal("unexpected component identity")
	}
	if h := c.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("health before start = %s", h.Status)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop(context.Background())
	if h := c.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("health after start = %s", h.Status)
	}

	d := c.Describe()
	if d.Type != "server" || !strings.Contains(d.Details, "flush_every=100") {
		t.Errorf("description = %+v", d)
	}

	routes := c.Routes()
	if len(routes) != 6 {
		t.Fatalf("routes = %d", len(routes))
	}
	if routes[0].Path != "/entities/gorm" || routes[1].Path != "/entities/sql" {
		t.Errorf("API routes should come first: %+v", routes[:2])
	}
	for _, r := range routes[2:] {
		if !slices.Contains(probePaths, r.Path) {
			t.Errorf("unexpected route order: %+v", routes)
		}
	}
}

func TestFormatHandlerName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"github.com/kbukum/rowstream/entity.(*Handler).StreamSQL-fm", "Handler.StreamSQL"},
		{"github.com/kbukum/rowstream/server/endpoint.Health.func1", "health"},
		{"main.main.func2", "main"},
		{"github.com/kbukum/rowstream/server.noop", "noop"},
	}
	for _, tt := range tests {
		if got := formatHandlerName(tt.in); got != tt.want {
			t.Errorf("formatHandlerName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRespondWithError(t *testing.T) {
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { RespondWithError(c, io.ErrUnexpectedEOF) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"INTERNAL_ERROR"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
