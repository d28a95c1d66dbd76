package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kbukum/rowstream/bootstrap"
	"github.com/kbukum/rowstream/database"
	"github.com/kbukum/rowstream/entity"
	"github.com/kbukum/rowstream/validation"
)

type seedOptions struct {
	Rows int64 `validate:"gte=0,lte=100000000"`
}

func newSeedCmd(root *rootOptions) *cobra.Command {
	opts := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Replace the entities table with fixture rows",
		Long: `Create the entities table if needed and replace its contents with
--rows fixture rows: (i+1, "Entity i", "Description for Entity i") for i
in [0, rows).`,
		Example: "  rowstream seed --rows 9981",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validation.Validate(opts); err != nil {
				return err
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return runSeed(cmd.Context(), cfg, opts.Rows, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&opts.Rows, "rows", 9981, "number of rows to insert")
	return cmd
}

func runSeed(ctx context.Context, cfg *AppConfig, rows int64, out io.Writer) error {
	cfg.Database.AutoMigrate = true
	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return err
	}
	db := database.NewComponent(cfg.Database, app.Logger).WithAutoMigrate(&entity.Entity{})
	if err := app.RegisterComponent(db); err != nil {
		return err
	}

	return app.RunTask(ctx, func(ctx context.Context) error {
		repo := entity.NewRepository(db.DB(), app.Logger)
		if err := repo.Seed(ctx, rows); err != nil {
			return err
		}
		n, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Seeded %d entities\n", n)
		return err
	})
}
