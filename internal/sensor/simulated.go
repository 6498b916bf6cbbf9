package sensor

import (
	"context"
	"math/rand/v2"
	"time"
)

// simulatedNoise is the half-width of the uniform noise around 1 g.
const simulatedNoise = 0.1

// Simulated reports gravity plus small noise so consumers see a live signal without hardware.
type Simulated struct {
	// now returns the timestamp of a sample.
	now func() time.Time
}

// NewSimulated returns a simulated sensor.
func NewSimulated() *Simulated {
	return &Simulated{now: time.Now}
}

// Read returns a vertical 1 g ± noise reading.
func (s *Simulated) Read(_ context.Context) (Reading, error) {
	//nolint:gosec // Noise does not need a cryptographic source.
	z := 1 + (rand.Float64()*2-1)*simulatedNoise

	return NewReading(s.now(), 0, 0, z), nil
}

// Close is a no-op.
func (*Simulated) Close() error {
	return nil
}
