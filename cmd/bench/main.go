// Command bench drives a LayerClient with a Zipf-distributed read workload
// against a simulated slow backend, and reports cache hit-rate and how many
// reads were absorbed by request de-duplication. It can expose pprof and
// Prometheus endpoints while running.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "bench",
		Short:        "Synthetic read workload for the flightcache layer client",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			rep, err := run(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			rep.print(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file (toml, yaml or json)")
	registerFlags(cmd.Flags())
	return cmd
}
