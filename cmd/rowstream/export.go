package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbukum/rowstream/client"
	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/validation"
)

type exportOptions struct {
	URL   string `validate:"required,http_url"`
	Route string `validate:"required,startswith=/"`
	Batch int    `validate:"min=1,max=10000"`
	Out   string `validate:"required"`
	Retry bool
}

func newExportCmd(root *rootOptions) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Consume a stream in fixed-size windows and append it to a file",
		Long: `Request a streaming route as NDJSON and append the rows to --out, one
window of --batch rows at a time. Only one window is held in memory.`,
		Example: `  rowstream export --route /entities/jdbc --batch 10 --out entities.ndjson
  rowstream export --url http://db-host:8080 --route "/entities/gorm?limit=100" --out -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validation.Validate(opts); err != nil {
				return err
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			cfg.ApplyDefaults()
			logger.Init(&cfg.Logging)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runExport(ctx, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&opts.Route, "route", "/entities/sql", "streaming route, optionally with a query")
	cmd.Flags().IntVar(&opts.Batch, "batch", 10, "rows per window")
	cmd.Flags().StringVar(&opts.Out, "out", "entities.ndjson", `output file, appended to; "-" for stdout`)
	cmd.Flags().BoolVar(&opts.Retry, "retry", true, "retry opening the stream on retryable errors")
	return cmd
}

func runExport(ctx context.Context, opts *exportOptions, out io.Writer) error {
	cfg := client.Config{BaseURL: opts.URL}
	if opts.Retry {
		cfg.Retry = client.DefaultRetryConfig()
	}
	c, err := client.New(cfg)
	if err != nil {
		return err
	}

	var w io.Writer = out
	if opts.Out != "-" {
		f, err := os.OpenFile(opts.Out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		defer f.Close()
		w = f
	}

	start := time.Now()
	it, err := c.Entities(ctx, opts.Route)
	if err != nil {
		return err
	}
	stats, err := client.Export(ctx, it, w, opts.Batch, logger.WithComponent("export"))
	if err != nil {
		return fmt.Errorf("export stopped after %d rows: %w", stats.Rows, err)
	}
	if opts.Out != "-" {
		fmt.Fprintf(out, "Exported %d rows in %d windows to %s (%s)\n",
			stats.Rows, stats.Windows, opts.Out, time.Since(start).Round(time.Millisecond))
	}
	return nil
}
