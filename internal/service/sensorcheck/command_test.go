package sensorcheck

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/crashguard/internal/sensor"
)

func TestFormatReading(t *testing.T) {
	t.Parallel()

	normal := sensor.NewReading(time.Now(), 0, 0, 1)
	require.Equal(t, "[NORMAL] X:  0.00G | Y:  0.00G | Z:  1.00G | TOTAL:  1.00G", FormatReading(normal, 3))

	crash := sensor.NewReading(time.Now(), 3, 0, 4)
	require.Equal(t, "[CRASH ] X:  3.00G | Y:  0.00G | Z:  4.00G | TOTAL:  5.00G", FormatReading(crash, 3))
}

// TestRun_Simulated prints the requested number of readings.
func TestRun_Simulated(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	opts := &Options{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		Simulate:   true,
		Interval:   time.Millisecond,
		Count:      3,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, Run(ctx, opts, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "Sensor: simulated, crash threshold 3.00G", lines[0])

	for _, line := range lines[1:] {
		require.True(t, strings.HasPrefix(line, "[NORMAL]"), line)
	}
}
