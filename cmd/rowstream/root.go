package main

import (
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	envFile    string
}

func (o *rootOptions) load() (*AppConfig, error) {
	return loadConfig(o.configFile, o.envFile)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "rowstream",
		Short: "Stream database query results over HTTP",
		Long: `rowstream serves SQL query results as HTTP streams. Rows are read from a
database cursor one at a time and written as JSON, NDJSON or SSE, so memory
use does not grow with the result size.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./cmd/rowstream/config.yml or ./config.yml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", ".env file with ROWSTREAM_* overrides")

	cmd.AddCommand(
		newServeCmd(opts),
		newSeedCmd(opts),
		newExportCmd(opts),
		newVersionCmd(),
	)
	return cmd
}
