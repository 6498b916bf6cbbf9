package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate_AppliesDefaults checks that an empty configuration is filled with defaults.
func TestValidate_AppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := new(Config)
	require.NoError(t, Validate(cfg))

	require.InDelta(t, DefaultThresholdG, cfg.Sensor.ThresholdG, 1e-9)
	require.Equal(t, DefaultPollInterval, cfg.Sensor.PollInterval)
	require.Equal(t, DefaultDebounce, cfg.Sensor.Debounce)
	require.Equal(t, time.Second, cfg.Sensor.ErrorBackoff)
	require.EqualValues(t, DefaultSensorAddress, cfg.Sensor.Address)
	require.Equal(t, 5, cfg.Alert.CountdownTicks)
	require.Equal(t, time.Second, cfg.Alert.CountdownTick)
	require.Equal(t, DefaultBaudRate, cfg.Modem.BaudRate)
	require.Equal(t, []string{"/dev/ttyS0", "/dev/ttyAMA0"}, cfg.Modem.FallbackPorts)
	require.Equal(t, 15*time.Second, cfg.Backend.PollInterval)
	require.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	require.InDelta(t, DefaultFallbackLatitude, cfg.Identity.FallbackLatitude, 1e-9)
}

// TestValidate_Rejects covers the settings that cannot be defaulted.
func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]*Config{
		"negative threshold": {Sensor: Sensor{ThresholdG: -1}},
		"bad recipient":      {Modem: Modem{Recipients: []string{"call me"}}},
		"bad backend scheme": {Backend: Backend{BaseURL: "ftp://backend.local"}},
		"relative backend":   {Backend: Backend{BaseURL: "backend.local"}},
		"bad status address": {Status: Status{ListenAddress: "no-port"}},
	}

	for name, cfg := range cases {
		require.Error(t, Validate(cfg), name)
	}

	require.Error(t, Validate(nil))
}

// TestDefault_DisablesButton ensures the GPIO button is opt-in.
func TestDefault_DisablesButton(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.Equal(t, -1, cfg.Button.Line)
	require.Equal(t, DefaultButtonChip, cfg.Button.Chip)
}

// TestLoad_ParsesYAML loads a hand-written file with durations and hex addresses.
func TestLoad_ParsesYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crashguard.yaml")
	contents := `
log_level: debug
sensor:
  address: 0x69
  threshold_g: 4.5
  poll_interval: 20ms
modem:
  port: /dev/ttyUSB2
  recipients: ["+918390600361", "112"]
backend:
  base_url: https://backend.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(contents), DefaultFilePermissions))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.EqualValues(t, 0x69, cfg.Sensor.Address)
	require.InDelta(t, 4.5, cfg.Sensor.ThresholdG, 1e-9)
	require.Equal(t, 20*time.Millisecond, cfg.Sensor.PollInterval)
	require.Equal(t, "/dev/ttyUSB2", cfg.Modem.Port)
	require.Equal(t, []string{"+918390600361", "112"}, cfg.Modem.Recipients)
	require.Equal(t, -1, cfg.Button.Line)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := Default()
	cfg.Modem.Recipients = []string{"+15550100"}
	cfg.Backend.BaseURL = "http://127.0.0.1:8080"
	cfg.Button.Line = 17

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoad_MissingFile returns a wrapped filesystem error.
func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
