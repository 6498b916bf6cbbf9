//go:build linux

package i2c

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ioctlSlave selects the target address for subsequent reads and writes (I2C_SLAVE).
const ioctlSlave = 0x0703

// Bus is an open /dev/i2c-N device.
type Bus struct {
	// path is the device node, kept for error messages.
	path string
	// fd is the open file descriptor.
	fd int
	// address is the slave address last selected with ioctlSlave; -1 when none.
	address int
	// mu serialises address selection and transfers.
	mu sync.Mutex
}

// Open opens /dev/i2c-<bus>.
func Open(bus int) (*Bus, error) {
	path := fmt.Sprintf("/dev/i2c-%d", bus)

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &Bus{
		path:    path,
		fd:      fd,
		address: -1,
	}, nil
}

// WriteByteData writes value to register reg of the device at address.
func (b *Bus) WriteByteData(address uint16, reg, value byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.selectAddress(address); err != nil {
		return err
	}

	if _, err := unix.Write(b.fd, []byte{reg, value}); err != nil {
		return fmt.Errorf("write register 0x%02x on %s: %w", reg, b.path, err)
	}

	return nil
}

// ReadByteData reads register reg of the device at address.
func (b *Bus) ReadByteData(address uint16, reg byte) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.selectAddress(address); err != nil {
		return 0, err
	}

	if _, err := unix.Write(b.fd, []byte{reg}); err != nil {
		return 0, fmt.Errorf("select register 0x%02x on %s: %w", reg, b.path, err)
	}

	buf := make([]byte, 1)

	n, err := unix.Read(b.fd, buf)
	if err != nil {
		return 0, fmt.Errorf("read register 0x%02x on %s: %w", reg, b.path, err)
	}

	if n != 1 {
		return 0, fmt.Errorf("read register 0x%02x on %s: %w", reg, b.path, ErrShortRead)
	}

	return buf[0], nil
}

// Close releases the device.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fd < 0 {
		return nil
	}

	err := unix.Close(b.fd)
	b.fd = -1

	return err
}

func (b *Bus) selectAddress(address uint16) error {
	if b.fd < 0 {
		return ErrClosed
	}

	if b.address == int(address) {
		return nil
	}

	if err := unix.IoctlSetInt(b.fd, ioctlSlave, int(address)); err != nil {
		return fmt.Errorf("select address 0x%02x on %s: %w", address, b.path, err)
	}

	b.address = int(address)

	return nil
}
