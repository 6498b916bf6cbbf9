package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/service/sensorcheck"
	"github.com/oshokin/crashguard/internal/version"
)

var (
	// options collects the flag values.
	options = &sensorcheck.Options{}

	// rootCmd represents the base command for the live sensor monitor.
	rootCmd = &cobra.Command{
		Use:   "crashguard-sensor",
		Short: "Print live accelerometer readings.",
		Long: `Reads the MPU6050 accelerometer and prints X, Y, Z and total g-force on every
poll, marking readings above the configured crash threshold. Use it to verify the
sensor wiring and to tune sensor.threshold_g before installing the daemon.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return sensorcheck.Run(ctx, options, cmd.OutOrStdout())
		},
	}
)

// Execute runs the crashguard-sensor CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().
		StringVarP(&options.ConfigPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().BoolVar(&options.Simulate, "simulate", false, "use simulated readings")
	rootCmd.Flags().
		DurationVarP(&options.Interval, "interval", "i", sensorcheck.DefaultInterval, "time between readings")
	rootCmd.Flags().IntVarP(&options.Count, "count", "n", 0, "stop after this many readings (0 runs until interrupted)")
}
