package modemcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/logger"
	"github.com/oshokin/crashguard/internal/modem"
)

// Options controls the modem check.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file; a missing file means defaults.
	ConfigPath string
	// Port overrides the preferred serial port.
	Port string
	// TestNumber receives a test SMS when set.
	TestNumber string
	// Message is the test SMS body.
	Message string
}

// DefaultMessage is the body of the test SMS.
const DefaultMessage = "crashguard test message"

// Run probes the candidate ports, reports the modem, and sends the optional test SMS.
func Run(ctx context.Context, opts *Options, out io.Writer, modemOpts ...modem.Option) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "crashguard-modem")

	cfg, err := config.Load(opts.ConfigPath)

	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		logger.InfoKV(ctx, "Settings file not found, using defaults", "path", opts.ConfigPath)

		cfg = config.Default()
	default:
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.Port != "" {
		cfg.Modem.Port = opts.Port
	}

	gsm := modem.New(cfg.Modem, modemOpts...)

	defer func() {
		_ = gsm.Close()
	}()

	fmt.Fprintf(out, "Scanning: %s\n", strings.Join(gsm.Candidates(), ", "))

	if err = gsm.Connect(ctx); err != nil {
		fmt.Fprintln(out, "Modem not found")

		return err
	}

	fmt.Fprintf(out, "Modem found on %s, SMS text mode enabled\n", gsm.PortName())

	if opts.TestNumber == "" {
		return nil
	}

	message := opts.Message
	if message == "" {
		message = DefaultMessage
	}

	fmt.Fprintf(out, "Sending test SMS to %s\n", opts.TestNumber)

	response, err := gsm.SendSMS(ctx, opts.TestNumber, message)
	if err != nil {
		fmt.Fprintf(out, "SMS failed: %s\n", strings.TrimSpace(response))

		return fmt.Errorf("send test sms: %w", err)
	}

	fmt.Fprintln(out, "SMS sent")

	return nil
}
