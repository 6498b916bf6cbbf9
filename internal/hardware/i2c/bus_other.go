//go:build !linux

package i2c

// Bus is unavailable outside Linux.
type Bus struct{}

// Open always fails outside Linux.
func Open(int) (*Bus, error) {
	return nil, ErrUnsupported
}

// WriteByteData always fails outside Linux.
func (*Bus) WriteByteData(uint16, byte, byte) error {
	return ErrUnsupported
}

// ReadByteData always fails outside Linux.
func (*Bus) ReadByteData(uint16, byte) (byte, error) {
	return 0, ErrUnsupported
}

// Close is a no-op outside Linux.
func (*Bus) Close() error {
	return nil
}
