package i2c

import "errors"

var (
	// ErrShortRead is returned when the device answered with fewer bytes than requested.
	ErrShortRead = errors.New("short read")
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus closed")
	// ErrUnsupported is returned on platforms without i2c-dev.
	ErrUnsupported = errors.New("i2c is only supported on linux")
)
