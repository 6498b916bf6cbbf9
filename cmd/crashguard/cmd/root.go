package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/service/daemon"
	"github.com/oshokin/crashguard/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// simulate forces the simulated accelerometer.
	simulate bool
	// allowMultiple skips the single-instance check.
	allowMultiple bool

	// rootCmd represents the base command for running the crash-detection daemon.
	rootCmd = &cobra.Command{
		Use:   "crashguard [listen-address]",
		Short: "Run the crash-detection and SOS daemon.",
		Long: `Starts the in-vehicle crash-detection and SOS daemon.

The accelerometer is polled continuously; a crash or a held panic button raises an
alert that is sent as SMS to every configured recipient through the GSM modem and
reported to the fleet backend. Without accelerometer hardware the daemon runs on
simulated readings.

The optional listen address serves the gRPC health endpoint queried by
crashguard-status (e.g. :7070) and overrides status.listen_address from the config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &daemon.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				Simulate:      simulate,
				AllowMultiple: allowMultiple,
			}

			return daemon.Run(ctx, options)
		},
	}
)

// Execute runs the crashguard CLI and exits with non-zero status on error.
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
	rootCmd.Flags().BoolVar(&simulate, "simulate", false, "use simulated accelerometer readings")
	rootCmd.Flags().BoolVar(&allowMultiple, "allow-multiple", false, "do not refuse to start when another instance runs")
}
