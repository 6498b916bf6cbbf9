package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/service/modemcheck"
	"github.com/oshokin/crashguard/internal/version"
)

var (
	// options collects the flag values.
	options = &modemcheck.Options{}

	// rootCmd represents the base command for the modem check.
	rootCmd = &cobra.Command{
		Use:   "crashguard-modem [test-number]",
		Short: "Find the GSM modem and optionally send a test SMS.",
		Long: `Probes the configured serial port, USB serial adapters and the on-board UARTs
for a GSM modem answering AT, then switches it to SMS text mode.

When a phone number is given, a test SMS is sent to it.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if len(args) > 0 {
				options.TestNumber = args[0]
			}

			return modemcheck.Run(ctx, options, cmd.OutOrStdout())
		},
	}
)

// Execute runs the crashguard-modem CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVarP(&options.Port, "port", "p", "", "serial port to probe first")
	rootCmd.Flags().StringVarP(&options.Message, "message", "m", modemcheck.DefaultMessage, "test SMS body")
}
