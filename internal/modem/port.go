package modem

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// readTimeout bounds a single Read so draining the reply buffer never blocks.
const readTimeout = 100 * time.Millisecond

// Port is the part of a serial port the modem needs.
type Port interface {
	io.ReadWriteCloser
	// ResetInputBuffer discards unread input.
	ResetInputBuffer() error
}

// Opener opens the serial device at path.
type Opener func(path string, baudRate int) (Port, error)

// OpenSerial opens path as an 8N1 serial line with a short read timeout.
//
//nolint:ireturn // Callers depend on the narrow Port interface.
func OpenSerial(path string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err = port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()

		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}

	return port, nil
}
