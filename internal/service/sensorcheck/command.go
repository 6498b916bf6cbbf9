package sensorcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/logger"
	"github.com/oshokin/crashguard/internal/sensor"
	"github.com/oshokin/crashguard/internal/service/crash"
)

// Options controls the live sensor monitor.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file; a missing file means defaults.
	ConfigPath string
	// Simulate forces the simulated sensor.
	Simulate bool
	// Interval overrides the poll period.
	Interval time.Duration
	// Count stops after this many readings; zero runs until cancelled.
	Count int
}

// DefaultInterval gives a readable refresh rate.
const DefaultInterval = 100 * time.Millisecond

const (
	statusNormal = "NORMAL"
	statusCrash  = "CRASH"
)

// Run prints one line per reading until ctx is cancelled or Count readings were printed.
func Run(ctx context.Context, opts *Options, out io.Writer) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "crashguard-sensor")

	cfg, err := loadSettings(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	if opts.Simulate {
		cfg.Sensor.Simulate = true
	}

	cfg.Sensor.PollInterval = DefaultInterval
	if opts.Interval > 0 {
		cfg.Sensor.PollInterval = opts.Interval
	}

	// Every reading above the threshold is marked, not just the first of a window.
	cfg.Sensor.Debounce = time.Nanosecond

	s, capability := sensor.Open(ctx, cfg.Sensor)
	defer func() {
		_ = s.Close()
	}()

	fmt.Fprintf(out, "Sensor: %s, crash threshold %.2fG\n", capability, cfg.Sensor.ThresholdG)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		printed  int
		writeErr error
	)

	monitor := crash.NewMonitor(s, cfg.Sensor, crash.WithReadingHandler(func(r sensor.Reading) {
		mu.Lock()
		defer mu.Unlock()

		if writeErr != nil {
			return
		}

		if _, writeErr = fmt.Fprintln(out, FormatReading(r, cfg.Sensor.ThresholdG)); writeErr != nil {
			cancel()

			return
		}

		printed++
		if opts.Count > 0 && printed >= opts.Count {
			cancel()
		}
	}))

	if err = monitor.Run(ctx); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("write reading: %w", writeErr)
	}

	return nil
}

// FormatReading renders r with a status marker for the threshold.
func FormatReading(r sensor.Reading, threshold float64) string {
	status := statusNormal
	if r.Magnitude > threshold {
		status = statusCrash
	}

	return fmt.Sprintf("[%-6s] X: %5.2fG | Y: %5.2fG | Z: %5.2fG | TOTAL: %5.2fG",
		status, r.X, r.Y, r.Z, r.Magnitude)
}

// loadSettings reads path, falling back to defaults when the file does not exist.
func loadSettings(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		logger.InfoKV(ctx, "Settings file not found, using defaults", "path", path)

		return config.Default(), nil
	}

	return nil, fmt.Errorf("load settings: %w", err)
}
