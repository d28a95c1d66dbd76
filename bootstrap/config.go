package bootstrap

import (
	"github.com/kbukum/rowstream/config"
)

// Config is the constraint for application config types. A pointer to any
// struct embedding config.ServiceConfig satisfies it.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
