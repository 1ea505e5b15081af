package cmd

import (
	"context"
	"errors"
	stdlog "log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"github.com/vvakame/stitchway/internal/log"
)

var (
	cfgFile   string
	verbosity int
)

var rootCmd = &cobra.Command{
	Use:   "stitchway",
	Short: "GraphQL gateway stitching several subschemas into one schema",
	Long: `stitchway serves one GraphQL schema built out of several GraphQL services.

Root fields are delegated to the service defining them, and types declared by more
than one service are merged by asking every service for its part of the object.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "log verbosity, 1 logs delegations and 2 batches")
}

// commandContext returns a context carrying the logger of the command.
func commandContext(cmd *cobra.Command) (context.Context, logr.Logger) {
	stdr.SetVerbosity(verbosity)
	logger := stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags))
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return log.WithLogger(ctx, logger), logger
}

func requireConfig() error {
	if cfgFile == "" {
		return errors.New("--config is required")
	}
	return nil
}
