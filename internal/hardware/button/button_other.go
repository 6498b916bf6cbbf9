//go:build !linux

package button

import (
	"context"

	"github.com/oshokin/crashguard/internal/config"
)

// Button is unavailable on this platform.
type Button struct{}

// Open reports ErrDisabled for an unconfigured line and ErrUnsupported otherwise.
func Open(_ context.Context, cfg config.Button, _ Handler) (*Button, error) {
	if cfg.Line < 0 {
		return nil, ErrDisabled
	}

	return nil, ErrUnsupported
}

// Close does nothing.
func (b *Button) Close() error {
	return nil
}
