package sensor

import (
	"context"
	"fmt"
	"time"
)

// MPU6050 registers and the ±16 g configuration.
const (
	regPowerManagement = 0x6B
	regAccelConfig     = 0x1C
	regAccelXOutHigh   = 0x3B

	accelRange16G = 0x18

	// LSBPerG16 is the full-scale divider for the ±16 g range.
	LSBPerG16 = 2048.0
)

// Bus is the register access the accelerometer needs.
type Bus interface {
	// WriteByteData writes value to register reg of the device at address.
	WriteByteData(address uint16, reg, value byte) error
	// ReadByteData reads register reg of the device at address.
	ReadByteData(address uint16, reg byte) (byte, error)
	// Close releases the bus.
	Close() error
}

// Device is an MPU6050 accelerometer on an i2c bus.
type Device struct {
	// bus is the i2c bus the device sits on.
	bus Bus
	// address is the device's i2c address.
	address uint16
	// now returns the timestamp of a sample.
	now func() time.Time
}

// NewDevice wakes the accelerometer and selects the ±16 g range.
func NewDevice(bus Bus, address uint16) (*Device, error) {
	if err := bus.WriteByteData(address, regPowerManagement, 0); err != nil {
		return nil, fmt.Errorf("wake accelerometer: %w", err)
	}

	if err := bus.WriteByteData(address, regAccelConfig, accelRange16G); err != nil {
		return nil, fmt.Errorf("configure accelerometer range: %w", err)
	}

	return &Device{
		bus:     bus,
		address: address,
		now:     time.Now,
	}, nil
}

// Read samples X, Y and Z.
func (d *Device) Read(_ context.Context) (Reading, error) {
	var axes [3]float64

	for i := range axes {
		raw, err := d.readWord(regAccelXOutHigh + byte(2*i))
		if err != nil {
			return Reading{}, err
		}

		axes[i] = ToG(raw, LSBPerG16)
	}

	return NewReading(d.now(), axes[0], axes[1], axes[2]), nil
}

// Close releases the bus.
func (d *Device) Close() error {
	return d.bus.Close()
}

func (d *Device) readWord(reg byte) (int, error) {
	high, err := d.bus.ReadByteData(d.address, reg)
	if err != nil {
		return 0, fmt.Errorf("read register 0x%02x: %w", reg, err)
	}

	low, err := d.bus.ReadByteData(d.address, reg+1)
	if err != nil {
		return 0, fmt.Errorf("read register 0x%02x: %w", reg+1, err)
	}

	return DecodeWord(high, low), nil
}
