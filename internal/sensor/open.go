package sensor

import (
	"context"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/hardware/i2c"
	"github.com/oshokin/crashguard/internal/logger"
)

// Open returns the accelerometer described by cfg, or the simulated sensor when
// simulation is forced or the hardware cannot be initialised.
//
//nolint:ireturn // Callers only need the Sensor behaviour.
func Open(ctx context.Context, cfg config.Sensor) (Sensor, Capability) {
	if cfg.Simulate {
		logger.Info(ctx, "Sensor simulation forced by configuration")

		return NewSimulated(), CapabilitySimulated
	}

	bus, err := i2c.Open(cfg.Bus)
	if err != nil {
		logger.WarnKV(ctx, "Accelerometer bus unavailable, using simulated readings", "bus", cfg.Bus, "error", err)

		return NewSimulated(), CapabilitySimulated
	}

	device, err := NewDevice(bus, cfg.Address)
	if err != nil {
		_ = bus.Close()

		logger.WarnKV(ctx, "Accelerometer not responding, using simulated readings",
			"bus", cfg.Bus, "address", cfg.Address, "error", err)

		return NewSimulated(), CapabilitySimulated
	}

	logger.InfoKV(ctx, "Accelerometer initialised", "bus", cfg.Bus, "address", cfg.Address)

	return device, CapabilityHardware
}
