package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kbukum/rowstream/component"
	"github.com/kbukum/rowstream/logger"
)

// Component manages a DB in the component registry.
type Component struct {
	cfg       Config
	log       *logger.Logger
	dialector gorm.Dialector
	models    []any
	db        *DB
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates a database component. The connection is opened on
// Start.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Component{cfg: cfg, log: log.WithComponent("database")}
}

// WithDriver overrides the dialector chosen from Config.Driver.
func (c *Component) WithDriver(d gorm.Dialector) *Component {
	c.dialector = d
	return c
}

// WithAutoMigrate registers models migrated on Start when
// Config.AutoMigrate is set.
func (c *Component) WithAutoMigrate(models ...any) *Component {
	c.models = append(c.models, models...)
	return c
}

// DB returns the open database, or nil before Start.
func (c *Component) DB() *DB { return c.db }

// Name returns the component name.
func (c *Component) Name() string { return "database" }

// Start opens the database and runs auto-migration.
func (c *Component) Start(ctx context.Context) error {
	d := c.dialector
	if d == nil {
		var err error
		if d, err = Dialector(c.cfg); err != nil {
			return fmt.Errorf("database start: %w", err)
		}
	}
	db, err := NewWithDialector(ctx, d, c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("database start: %w", err)
	}
	c.db = db

	if c.cfg.AutoMigrate && len(c.models) > 0 {
		if err := db.AutoMigrate(c.models...); err != nil {
			return fmt.Errorf("database auto-migrate: %w", err)
		}
	}
	return nil
}

// Stop closes the pool.
func (c *Component) Stop(context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Health pings the database. A pool whose every connection is held, by
// open cursors for instance, reports degraded without pinging, since the
// ping would wait for a free connection.
func (c *Component) Health(ctx context.Context) component.Health {
	h := component.Health{Name: c.Name()}
	if c.db == nil {
		h.Status = component.StatusUnhealthy
		h.Message = "database not initialized"
		return h
	}
	if stats := c.db.SQL().Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		h.Status = component.StatusDegraded
		h.Message = fmt.Sprintf("pool exhausted (%d/%d in use)", stats.InUse, stats.MaxOpenConnections)
		return h
	}
	if status := c.db.CheckHealth(ctx); !status.Connected {
		h.Status = component.StatusUnhealthy
		h.Message = "ping failed: " + status.Error
		return h
	}
	h.Status = component.StatusHealthy
	return h
}

// Describe reports the driver and pool settings for the startup summary.
func (c *Component) Describe() component.Description {
	details := fmt.Sprintf("%s pool=%d/%d", c.cfg.DSN, c.cfg.MaxOpenConns, c.cfg.MaxIdleConns)
	if c.cfg.AutoMigrate {
		details += " auto-migrate=on"
	}
	name := "SQLite"
	if c.cfg.Driver == DriverPostgres {
		name = "PostgreSQL"
		details = fmt.Sprintf("pool=%d/%d", c.cfg.MaxOpenConns, c.cfg.MaxIdleConns)
	}
	return component.Description{Name: name, Type: "database", Details: details}
}
