package main

import (
	"fmt"
	"time"

	"github.com/kbukum/rowstream/config"
	"github.com/kbukum/rowstream/database"
	"github.com/kbukum/rowstream/observability"
	"github.com/kbukum/rowstream/server"
)

const serviceName = "rowstream"

// AppConfig is the rowstream configuration, loaded from config.yml, .env
// and ROWSTREAM_* variables.
type AppConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Database      database.Config      `yaml:"database" mapstructure:"database"`
	Server        server.Config        `yaml:"server" mapstructure:"server"`
	Stream        StreamConfig         `yaml:"stream" mapstructure:"stream"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// StreamConfig bounds the cursor sessions the server runs at once.
type StreamConfig struct {
	// MaxConcurrent is the number of cursors open at once. It defaults to
	// the database pool size and may not exceed it.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	// MaxWait is how long a request waits for a free cursor slot before
	// failing with 503. 0 fails immediately.
	MaxWait time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
	// Tracing opens a span per stream session.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`
}

// ApplyDefaults fills unset fields in every section.
func (c *AppConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.ServiceConfig.ApplyDefaults()
	c.Database.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Observability.ApplyDefaults()
	if c.Stream.MaxConcurrent <= 0 {
		c.Stream.MaxConcurrent = c.Database.MaxOpenConns
	}
}

// Validate checks every section.
func (c *AppConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Observability.Validate(); err != nil {
		return err
	}
	if c.Stream.MaxConcurrent > c.Database.MaxOpenConns {
		return fmt.Errorf("stream.max_concurrent (%d) exceeds database.max_open_conns (%d)",
			c.Stream.MaxConcurrent, c.Database.MaxOpenConns)
	}
	if c.Stream.MaxWait < 0 {
		return fmt.Errorf("stream.max_wait must be non-negative")
	}
	return nil
}

// loadConfig reads the configuration. configFile and envFile override the
// standard search locations when set.
func loadConfig(configFile, envFile string) (*AppConfig, error) {
	var opts []config.LoaderOption
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	cfg := &AppConfig{}
	if err := config.LoadConfig(serviceName, cfg, opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}
