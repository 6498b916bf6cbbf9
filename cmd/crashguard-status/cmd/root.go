package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/service/common"
	"github.com/oshokin/crashguard/internal/service/status"
	"github.com/oshokin/crashguard/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// timeout for each health call.
	timeout time.Duration
	// asJSON prints JSON instead of a table.
	asJSON bool
	// watch repeats the query on this interval.
	watch time.Duration

	// rootCmd represents the base command for querying daemon health.
	rootCmd = &cobra.Command{
		Use:   "crashguard-status [address]",
		Short: "Show the health of a running crashguard daemon.",
		Long: `Queries the crashguard daemon's gRPC health endpoint and prints the status of
the daemon and of each component: sensor, alert state machine, modem and backend.

The address defaults to status.listen_address from the configuration file.
The command exits with a non-zero status when anything is not serving.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling for watch mode.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use address argument if provided, otherwise rely on config.
			var address string
			if len(args) > 0 {
				address = args[0]
			}

			options := &status.Options{
				ConfigPath: configPath,
				Address:    address,
				Timeout:    timeout,
				JSON:       asJSON,
				Watch:      watch,
			}

			return status.Run(ctx, options, cmd.OutOrStdout())
		},
	}
)

// Execute runs the crashguard-status CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", common.DefaultCallTimeout, "timeout of each health call")
	rootCmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	rootCmd.Flags().DurationVarP(&watch, "watch", "w", 0, "repeat the query on this interval")
}
