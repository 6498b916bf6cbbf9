package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/crashguard/internal/config"
)

var errBusFault = errors.New("bus fault")

// registerBus is an in-memory Bus keyed by register.
type registerBus struct {
	// registers holds the values returned by ReadByteData.
	registers map[byte]byte
	// writes records every WriteByteData call as reg -> value.
	writes map[byte]byte
	// failReg makes reads of this register fail when failing is set.
	failReg byte
	// failing enables failReg.
	failing bool
	// closed is set by Close.
	closed bool
}

func newRegisterBus() *registerBus {
	return &registerBus{
		registers: make(map[byte]byte),
		writes:    make(map[byte]byte),
	}
}

func (b *registerBus) WriteByteData(_ uint16, reg, value byte) error {
	b.writes[reg] = value

	return nil
}

func (b *registerBus) ReadByteData(_ uint16, reg byte) (byte, error) {
	if b.failing && reg == b.failReg {
		return 0, errBusFault
	}

	return b.registers[reg], nil
}

func (b *registerBus) Close() error {
	b.closed = true

	return nil
}

// setWord stores a big-endian word at reg and reg+1.
func (b *registerBus) setWord(reg byte, word uint16) {
	b.registers[reg] = byte(word >> 8)
	b.registers[reg+1] = byte(word)
}

// TestDecodeWord covers two's-complement folding of register pairs.
func TestDecodeWord(t *testing.T) {
	t.Parallel()

	cases := []struct {
		high, low byte
		want      int
	}{
		{0x00, 0x00, 0},
		{0x08, 0x00, 2048},
		{0x7F, 0xFF, 32767},
		{0x80, 0x00, -32768},
		{0xFF, 0xFF, -1},
		{0xF8, 0x00, -2048},
	}

	for _, c := range cases {
		require.Equal(t, c.want, DecodeWord(c.high, c.low), "0x%02x%02x", c.high, c.low)
	}
}

// TestToG checks that 2048 LSB is exactly one g at ±16 g.
func TestToG(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, ToG(DecodeWord(0x08, 0x00), LSBPerG16), 1e-12)
	require.InDelta(t, -16.0, ToG(DecodeWord(0x80, 0x00), LSBPerG16), 1e-12)
}

// TestNewReading computes the vector magnitude.
func TestNewReading(t *testing.T) {
	t.Parallel()

	r := NewReading(time.Unix(0, 0), 3, 4, 0)
	require.InDelta(t, 5.0, r.Magnitude, 1e-12)

	r = NewReading(time.Unix(0, 0), -1, 0, 0)
	require.InDelta(t, 1.0, r.Magnitude, 1e-12)
}

// TestDevice_InitialisesAndReads verifies wake-up, range selection, and axis decoding.
func TestDevice_InitialisesAndReads(t *testing.T) {
	t.Parallel()

	bus := newRegisterBus()
	bus.setWord(regAccelXOutHigh, 0x0800)   // +1 g
	bus.setWord(regAccelXOutHigh+2, 0xF800) // -1 g
	bus.setWord(regAccelXOutHigh+4, 0x1000) // +2 g

	device, err := NewDevice(bus, config.DefaultSensorAddress)
	require.NoError(t, err)
	require.Equal(t, byte(0), bus.writes[regPowerManagement])
	require.Equal(t, byte(accelRange16G), bus.writes[regAccelConfig])

	reading, err := device.Read(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 1.0, reading.X, 1e-12)
	require.InDelta(t, -1.0, reading.Y, 1e-12)
	require.InDelta(t, 2.0, reading.Z, 1e-12)
	require.InDelta(t, 2.449489742783178, reading.Magnitude, 1e-9)

	require.NoError(t, device.Close())
	require.True(t, bus.closed)
}

// TestDevice_ReadError surfaces bus failures to the caller.
func TestDevice_ReadError(t *testing.T) {
	t.Parallel()

	bus := newRegisterBus()
	device, err := NewDevice(bus, config.DefaultSensorAddress)
	require.NoError(t, err)

	bus.failing = true
	bus.failReg = regAccelXOutHigh + 3

	_, err = device.Read(context.Background())
	require.ErrorIs(t, err, errBusFault)
}

// TestSimulated_StaysNearGravity checks the simulated signal bounds.
func TestSimulated_StaysNearGravity(t *testing.T) {
	t.Parallel()

	s := NewSimulated()

	for range 1000 {
		r, err := s.Read(context.Background())
		require.NoError(t, err)
		require.GreaterOrEqual(t, r.Magnitude, 0.9)
		require.LessOrEqual(t, r.Magnitude, 1.1)
	}

	require.NoError(t, s.Close())
}

// TestOpen_ForcedSimulation resolves to the simulated capability without touching hardware.
func TestOpen_ForcedSimulation(t *testing.T) {
	t.Parallel()

	s, capability := Open(context.Background(), config.Sensor{Simulate: true})
	require.Equal(t, CapabilitySimulated, capability)
	require.IsType(t, &Simulated{}, s)
}

// TestOpen_MissingBusFallsBack degrades to simulation when the bus does not exist.
func TestOpen_MissingBusFallsBack(t *testing.T) {
	t.Parallel()

	s, capability := Open(context.Background(), config.Sensor{Bus: 9999, Address: config.DefaultSensorAddress})
	require.Equal(t, CapabilitySimulated, capability)
	require.NotNil(t, s)
}
