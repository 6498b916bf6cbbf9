package sensor

import (
	"context"
	"math"
	"time"
)

// Sensor produces acceleration readings.
type Sensor interface {
	// Read samples the three axes once.
	Read(ctx context.Context) (Reading, error)
	// Close releases the underlying hardware.
	Close() error
}

// Capability tells which kind of sensor Open resolved to.
type Capability string

const (
	// CapabilityHardware means readings come from the accelerometer.
	CapabilityHardware Capability = "hardware"
	// CapabilitySimulated means readings are synthesised.
	CapabilitySimulated Capability = "simulated"
)

// Reading is one acceleration sample.
type Reading struct {
	// Timestamp is when the sample was taken.
	Timestamp time.Time
	// X is the acceleration along the X axis in g.
	X float64
	// Y is the acceleration along the Y axis in g.
	Y float64
	// Z is the acceleration along the Z axis in g.
	Z float64
	// Magnitude is the length of the acceleration vector in g.
	Magnitude float64
}

// NewReading builds a reading and computes its magnitude.
func NewReading(ts time.Time, x, y, z float64) Reading {
	return Reading{
		Timestamp: ts,
		X:         x,
		Y:         y,
		Z:         z,
		Magnitude: math.Sqrt(x*x + y*y + z*z),
	}
}

// DecodeWord composes a big-endian register pair into a signed 16-bit value.
func DecodeWord(high, low byte) int {
	value := int(high)<<8 | int(low)
	if value > math.MaxInt16 {
		value -= 1 << 16
	}

	return value
}

// ToG scales a raw register value by the full-scale divider in LSB/g.
func ToG(raw int, lsbPerG float64) float64 {
	return float64(raw) / lsbPerG
}
