package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kbukum/rowstream/bootstrap"
	"github.com/kbukum/rowstream/cursor"
	"github.com/kbukum/rowstream/database"
	"github.com/kbukum/rowstream/entity"
	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/observability"
	"github.com/kbukum/rowstream/resilience"
	"github.com/kbukum/rowstream/server"
	"github.com/kbukum/rowstream/stream"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming HTTP server",
		Long: `Run the HTTP server. Entities are streamed from:

  GET /entities/sql    (alias /entities/jdbc)   database/sql cursor
  GET /entities/gorm   (alias /entities/batis)  GORM cursor

Query parameters: format=json|ndjson|sse, limit=N, batch=N.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			app, _, err := newServeApp(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

// newServeApp wires the server application. Observability and the
// database start first; the HTTP server is registered and started once its
// routes are bound to the open database.
func newServeApp(cfg *AppConfig, summary io.Writer) (*bootstrap.App[*AppConfig], *server.Server, error) {
	app, err := bootstrap.NewApp(cfg, bootstrap.WithSummary(summary))
	if err != nil {
		return nil, nil, err
	}

	obs := observability.NewComponent(cfg.Observability, cfg.Name, cfg.Version, cfg.Environment)
	if err := app.RegisterComponent(obs); err != nil {
		return nil, nil, err
	}
	db := database.NewComponent(cfg.Database, app.Logger).WithAutoMigrate(&entity.Entity{})
	if err := app.RegisterComponent(db); err != nil {
		return nil, nil, err
	}

	srv := server.New(cfg.Server, app.Logger)
	srv.ApplyDefaults(cfg.Name, app.Components.HealthAll)

	streamLog := app.Logger.WithComponent("stream")
	slots := resilience.NewBulkhead(resilience.BulkheadConfig{
		Name:          "streams",
		MaxConcurrent: cfg.Stream.MaxConcurrent,
		MaxWait:       cfg.Stream.MaxWait,
		OnReject: func(name string) {
			streamLog.Warn("Stream rejected, no free cursor slot", logger.Fields("bulkhead", name))
		},
	})
	app.OnReady(func(context.Context) error {
		streamLog.Info("Accepting streams", logger.Fields(
			"addr", srv.Addr(), "max_concurrent", slots.MaxConcurrent()))
		return nil
	})
	app.OnStop(func(context.Context) error {
		if n := slots.InUse(); n > 0 {
			streamLog.Info("Shutting down with open streams", logger.Fields("open", n))
		}
		return nil
	})

	app.OnConfigure(func(ctx context.Context, app *bootstrap.App[*AppConfig]) error {
		repo, err := newRepository(db.DB(), app.Cfg, app.Logger, slots)
		if err != nil {
			return err
		}
		entity.NewHandler(repo, app.Cfg.Server.Stream, app.Logger).Register(srv.Engine())

		sc := server.NewComponent(srv)
		if err := app.RegisterComponent(sc); err != nil {
			return err
		}
		return sc.Start(ctx)
	})
	return app, srv, nil
}

// newRepository builds the entity repository with the stream bulkhead,
// session metrics and release-failure metrics.
func newRepository(db *database.DB, cfg *AppConfig, log *logger.Logger, slots *resilience.Bulkhead) (*entity.Repository, error) {
	metrics, err := observability.NewStreamMetrics(observability.Meter(serviceName))
	if err != nil {
		return nil, fmt.Errorf("stream metrics: %w", err)
	}

	return entity.NewRepository(db, log,
		entity.WithStreamOptions(
			stream.WithLogger(log.WithComponent("stream")),
			stream.WithMetrics(metrics),
			stream.WithBulkhead(slots),
			stream.WithTracing(cfg.Stream.Tracing),
		),
		entity.WithCursorOptions(
			cursor.WithLogger(log.WithComponent("cursor")),
			cursor.OnReleaseFailure(metrics.ReleaseHook()),
		),
	), nil
}
