package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/crashguard/internal/api/grpc/health"
	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/hardware/button"
	"github.com/oshokin/crashguard/internal/logger"
	"github.com/oshokin/crashguard/internal/messaging"
	"github.com/oshokin/crashguard/internal/modem"
	"github.com/oshokin/crashguard/internal/sensor"
	"github.com/oshokin/crashguard/internal/service/backend"
	"github.com/oshokin/crashguard/internal/service/common"
	"github.com/oshokin/crashguard/internal/service/crash"
	"github.com/oshokin/crashguard/internal/service/dispatch"
	"github.com/oshokin/crashguard/internal/service/sos"
)

// Options controls the crashguard daemon.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ListenAddress overrides the health endpoint address from the configuration.
	ListenAddress string
	// Simulate forces the simulated sensor.
	Simulate bool
	// AllowMultiple skips the single-instance check.
	AllowMultiple bool
}

// staleReadings is how many poll intervals may pass without a reading before the sensor is reported down.
const staleReadings = 20

// Run loads the configuration, wires the pipeline and blocks until ctx is cancelled.
//
//nolint:funlen // Wiring reads best in one place.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "crashguard")

	// Load configuration first; every component reads its section.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	} else {
		logger.WarnKV(ctx, "Unknown log level, keeping default", "log_level", cfg.LogLevel)
	}

	if opts.Simulate {
		cfg.Sensor.Simulate = true
	}

	if opts.ListenAddress != "" {
		cfg.Status.ListenAddress = opts.ListenAddress
	}

	// Two daemons would fight over the modem and the i2c bus.
	if !opts.AllowMultiple {
		if err = common.EnsureSingleInstance(); err != nil {
			return err
		}
	}

	bus := messaging.New(cfg.Redis)
	defer func() {
		_ = bus.Close()
	}()

	if bus.Enabled() {
		if err = bus.Ping(ctx); err != nil {
			logger.WarnKV(ctx, "Redis unavailable, status publishing and GPS lookups will fail", "error", err)
		}
	}

	accelerometer, capability := sensor.Open(ctx, cfg.Sensor)
	defer func() {
		_ = accelerometer.Close()
	}()

	p := newPipeline(cfg, accelerometer, bus)

	// The button is optional; the daemon runs on sensor input alone.
	panicButton, err := button.Open(ctx, cfg.Button, p.machine)
	switch {
	case err == nil:
		defer func() {
			_ = panicButton.Close()
		}()
	case errors.Is(err, button.ErrDisabled):
		logger.Info(ctx, "Panic button not configured")
	default:
		logger.WarnKV(ctx, "Panic button unavailable", "error", err)
	}

	reporter := newReporter(cfg, capability, p)

	var wg sync.WaitGroup

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if runErr := fn(ctx); runErr != nil {
				logger.ErrorKV(ctx, "Component stopped with error", "component", name, "error", runErr)
			}
		}()
	}

	run("redis", bus.Run)
	run("sos", p.machine.Run)
	run("dispatch", p.dispatcher.Run)
	run("backend", p.backend.Run)
	run("crash-monitor", p.monitor.Run)
	run("health", reporter.Run)

	if cfg.Status.ListenAddress != "" {
		lis, listenErr := health.Listen(ctx, cfg.Status.ListenAddress)
		if listenErr != nil {
			logger.WarnKV(ctx, "Health endpoint disabled", "error", listenErr)
		} else {
			run("health-endpoint", func(ctx context.Context) error {
				return health.Serve(ctx, lis, reporter)
			})
		}
	}

	// Probe the modem now so the first alert does not pay for the port scan.
	run("modem-probe", func(ctx context.Context) error {
		if connectErr := p.modem.Connect(ctx); connectErr != nil {
			logger.WarnKV(ctx, "Modem not available yet, will retry on first alert", "error", connectErr)
		}

		return nil
	})

	logger.InfoKV(ctx, "Crashguard running",
		"sensor", capability, "recipients", len(cfg.Modem.Recipients), "backend", p.backend.Enabled())

	<-ctx.Done()
	logger.Info(ctx, "Shutting down")

	wg.Wait()

	// Close waits for an SMS still being sent, then releases the serial port.
	if err = p.dispatcher.Close(); err != nil {
		logger.WarnKV(ctx, "Failed to close modem", "error", err)
	}

	logger.Info(ctx, "Crashguard stopped")

	return nil
}

// pipeline holds the wired components.
type pipeline struct {
	// monitor polls the accelerometer.
	monitor *crash.Monitor
	// machine owns the alert state.
	machine *sos.Machine
	// modem is the GSM modem.
	modem *modem.Modem
	// dispatcher sends alert SMS.
	dispatcher *dispatch.Dispatcher
	// backend syncs with the fleet backend.
	backend *backend.Client
}

// newPipeline connects sensor readings to the state machine and the machine to its notifiers.
func newPipeline(cfg *config.Config, s sensor.Sensor, bus *messaging.Bus) *pipeline {
	gsm := modem.New(cfg.Modem)

	dispatcher := dispatch.New(gsm, cfg.Modem, cfg.Identity)

	backendClient := backend.New(cfg.Backend, backend.WithRateListener(bus.PublishFareRate))

	machine := sos.NewMachine(cfg.Alert,
		sos.WithNotifiers(dispatcher, backendClient),
		sos.WithStatusSink(bus),
		sos.WithLocationProvider(bus),
	)

	monitor := crash.NewMonitor(s, cfg.Sensor,
		crash.WithReadingHandler(bus.PublishReading),
		crash.WithCrashHandler(machine.OnCrashDetected),
	)

	return &pipeline{
		monitor:    monitor,
		machine:    machine,
		modem:      gsm,
		dispatcher: dispatcher,
		backend:    backendClient,
	}
}

// newReporter registers one health probe per component.
func newReporter(cfg *config.Config, capability sensor.Capability, p *pipeline) *health.Reporter {
	reporter := health.NewReporter(health.DefaultRefreshInterval)

	staleAfter := max(time.Second, staleReadings*cfg.Sensor.PollInterval)

	reporter.Register(health.ServiceSensor, func(context.Context) bool {
		if capability != sensor.CapabilityHardware {
			return false
		}

		latest, ok := p.monitor.Latest()

		return ok && time.Since(latest.Timestamp) < staleAfter
	})

	reporter.Register(health.ServiceAlert, func(context.Context) bool {
		select {
		case <-p.machine.Done():
			return false
		default:
			return true
		}
	})

	reporter.Register(health.ServiceModem, func(context.Context) bool {
		return p.modem.Connected()
	})

	reporter.Register(health.ServiceBackend, func(context.Context) bool {
		return p.backend.Enabled() && p.backend.Healthy()
	})

	return reporter
}
