package client

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kbukum/rowstream/resilience"
)

const defaultHeaderTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// HeaderTimeout bounds the wait for the response status. A streamed
	// body is bounded only by the request context.
	HeaderTimeout time.Duration `yaml:"header_timeout" mapstructure:"header_timeout"`
	// Headers are sent with every request.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
	// Retry retries opening a stream on retryable failures. Rows are never
	// retried once the body has started. Nil disables retry.
	Retry *resilience.RetryConfig `yaml:"-" mapstructure:"-"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.HeaderTimeout <= 0 {
		c.HeaderTimeout = defaultHeaderTimeout
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("client: invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("client: base_url must be http or https (got: %q)", c.BaseURL)
	}
	if c.HeaderTimeout <= 0 {
		return fmt.Errorf("client: header_timeout must be positive")
	}
	return nil
}

// DefaultRetryConfig retries opening a stream three times on errors the
// server marked retryable.
func DefaultRetryConfig() *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.RetryIf = IsRetryable
	return &cfg
}
