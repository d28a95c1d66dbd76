package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/resilience"
)

// DB wraps a GORM connection pool.
type DB struct {
	gorm   *gorm.DB
	sql    *sql.DB
	log    *logger.Logger
	cfg    Config
	mu     sync.Mutex
	closed bool
}

// New opens the database selected by cfg.Driver.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*DB, error) {
	cfg.ApplyDefaults()
	d, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithDialector(ctx, d, cfg, log)
}

// NewWithDialector opens the database through dialector, retrying with
// exponential backoff until a ping succeeds, cfg.MaxRetries attempts were
// made, or ctx is done. The pool is configured before returning.
func NewWithDialector(ctx context.Context, dialector gorm.Dialector, cfg Config, log *logger.Logger) (*DB, error) {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.WithComponent("database")
	}

	gormCfg := &gorm.Config{
		Logger: newGormLogger(log, duration(cfg.SlowQueryThreshold, 200*time.Millisecond), parseLogLevel(cfg.LogLevel)),
	}
	retry := resilience.RetryConfig{
		MaxAttempts:    cfg.MaxRetries,
		InitialBackoff: duration(cfg.RetryBackoff, time.Second),
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			log.Warn("Database connection attempt failed, retrying", logger.Fields(
				"attempt", attempt,
				logger.FieldError, err.Error(),
				"backoff", backoff.String(),
			))
		},
	}

	attempts := 0
	gdb, err := resilience.Retry(ctx, retry, func() (*gorm.DB, error) {
		attempts++
		gdb, err := gorm.Open(dialector, gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, err
		}
		return gdb, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("database connection canceled: %w", err)
		}
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, err)
	}

	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(duration(cfg.ConnMaxLifetime, time.Hour))
	if cfg.ConnMaxIdleTime != "" {
		sqlDB.SetConnMaxIdleTime(duration(cfg.ConnMaxIdleTime, 5*time.Minute))
	}

	log.Info("Database connection established", logger.Fields(
		"driver", cfg.Driver,
		"attempt", attempts,
	))
	return &DB{gorm: gdb, sql: sqlDB, log: log, cfg: cfg}, nil
}

// Gorm returns the GORM handle.
func (d *DB) Gorm() *gorm.DB { return d.gorm }

// SQL returns the underlying pool.
func (d *DB) SQL() *sql.DB { return d.sql }

// Driver reports the configured driver.
func (d *DB) Driver() string { return d.cfg.Driver }

// WithContext returns a GORM session scoped to ctx.
func (d *DB) WithContext(ctx context.Context) *gorm.DB {
	return d.gorm.WithContext(ctx)
}

// PingContext verifies the database is reachable.
func (d *DB) PingContext(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// Close closes the pool. Safe to call multiple times.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.log.Info("Closing database connection")
	return d.sql.Close()
}

// AutoMigrate creates or updates the tables for models.
func (d *DB) AutoMigrate(models ...any) error {
	for _, model := range models {
		if err := d.gorm.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	d.log.Debug("Auto-migration completed", logger.Fields("models", len(models)))
	return nil
}

// TransactionFunc runs inside a transaction.
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction runs fn in a transaction, committing when it returns nil
// and rolling back otherwise. A panic in fn rolls back and is re-raised.
func (d *DB) WithTransaction(ctx context.Context, fn TransactionFunc) (err error) {
	tx := d.gorm.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			d.log.Error("Transaction rolled back due to panic", logger.Fields("panic", fmt.Sprint(r)))
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthStatus is the result of CheckHealth.
type HealthStatus struct {
	Connected  bool          `json:"connected"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
	OpenConns  int           `json:"open_connections"`
	InUseConns int           `json:"in_use_connections"`
	IdleConns  int           `json:"idle_connections"`
}

// CheckHealth pings the database and reports pool usage. InUseConns
// includes connections held by open cursors.
func (d *DB) CheckHealth(ctx context.Context) HealthStatus {
	start := time.Now()
	if err := d.sql.PingContext(ctx); err != nil {
		return HealthStatus{Error: err.Error(), Latency: time.Since(start)}
	}
	stats := d.sql.Stats()
	return HealthStatus{
		Connected:  true,
		Latency:    time.Since(start),
		OpenConns:  stats.OpenConnections,
		InUseConns: stats.InUse,
		IdleConns:  stats.Idle,
	}
}
