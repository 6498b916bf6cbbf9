package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the crash-detection pipeline.
type Config struct {
	// LogLevel is the minimum level of the process logger.
	LogLevel string `yaml:"log_level"`
	// Sensor configures the accelerometer and the crash monitor.
	Sensor Sensor `yaml:"sensor"`
	// Alert configures the button countdown of the state machine.
	Alert Alert `yaml:"alert"`
	// Modem configures the SMS dispatcher.
	Modem Modem `yaml:"modem"`
	// Identity holds the static fields printed in every SMS.
	Identity Identity `yaml:"identity"`
	// Backend configures the HTTP sync client.
	Backend Backend `yaml:"backend"`
	// Redis configures the local message bus shared with the dashboard and GPS services.
	Redis Redis `yaml:"redis"`
	// Button configures the GPIO panic button.
	Button Button `yaml:"button"`
	// Status configures the gRPC health endpoint.
	Status Status `yaml:"status"`
}

// Sensor configures the MPU6050 accelerometer and the crash monitor.
type Sensor struct {
	// Bus is the i2c-dev bus number (/dev/i2c-N).
	Bus int `yaml:"bus"`
	// Address is the 7-bit i2c address of the accelerometer.
	Address uint16 `yaml:"address"`
	// ThresholdG is the magnitude in g above which a crash is reported.
	ThresholdG float64 `yaml:"threshold_g"`
	// PollInterval is the period of the sensor loop.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Debounce is the window during which further crashes are suppressed.
	Debounce time.Duration `yaml:"debounce"`
	// ErrorBackoff is the pause after a failed read.
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	// Simulate forces the simulated sensor even when hardware is present.
	Simulate bool `yaml:"simulate"`
}

// Alert configures the button countdown.
type Alert struct {
	// CountdownTicks is the number of countdown steps before a held button activates the alert.
	CountdownTicks int `yaml:"countdown_ticks"`
	// CountdownTick is the duration of one countdown step.
	CountdownTick time.Duration `yaml:"countdown_tick"`
}

// Modem configures the serial GSM modem.
type Modem struct {
	// Port is the preferred serial device, probed first.
	Port string `yaml:"port"`
	// PortGlob matches additional candidate devices.
	PortGlob string `yaml:"port_glob"`
	// FallbackPorts are probed after the glob matches.
	FallbackPorts []string `yaml:"fallback_ports"`
	// BaudRate is the serial line speed.
	BaudRate int `yaml:"baud_rate"`
	// Recipients are the phone numbers notified on every alert.
	Recipients []string `yaml:"recipients"`
	// ProbeWait is how long a candidate port has to answer AT.
	ProbeWait time.Duration `yaml:"probe_wait"`
	// CommandWait is the pause between a configuration command and reading its reply.
	CommandWait time.Duration `yaml:"command_wait"`
	// PromptWait is the pause between addressing a recipient and writing the body.
	PromptWait time.Duration `yaml:"prompt_wait"`
	// Settle is how long the network gets to accept a message before the reply is parsed.
	Settle time.Duration `yaml:"settle"`
	// QueueSize bounds the number of pending dispatches.
	QueueSize int `yaml:"queue_size"`
}

// Identity holds the static fields of the alert message.
type Identity struct {
	// Driver is the driver's name.
	Driver string `yaml:"driver"`
	// Phone is the driver's phone number.
	Phone string `yaml:"phone"`
	// Vehicle is the registration plate.
	Vehicle string `yaml:"vehicle"`
	// FallbackLatitude is printed when no GPS fix is available.
	FallbackLatitude float64 `yaml:"fallback_latitude"`
	// FallbackLongitude is printed when no GPS fix is available.
	FallbackLongitude float64 `yaml:"fallback_longitude"`
}

// Backend configures the HTTP sync client.
type Backend struct {
	// BaseURL is the backend root; an empty value disables syncing.
	BaseURL string `yaml:"base_url"`
	// PollInterval is the period of the fare-rate poll.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Timeout bounds every backend request.
	Timeout time.Duration `yaml:"timeout"`
}

// Redis configures the local Redis connection.
type Redis struct {
	// Address is host:port; an empty value disables publishing and GPS lookups.
	Address string `yaml:"address"`
	// DB is the Redis database index.
	DB int `yaml:"db"`
}

// Button configures the GPIO panic button.
type Button struct {
	// Chip is the GPIO character device name, e.g. gpiochip0.
	Chip string `yaml:"chip"`
	// Line is the line offset; a negative value disables the button.
	Line int `yaml:"line"`
	// ActiveLow marks a button that pulls the line to ground when pressed.
	ActiveLow bool `yaml:"active_low"`
	// Debounce is the kernel debounce period for the line.
	Debounce time.Duration `yaml:"debounce"`
}

// Status configures the gRPC health endpoint.
type Status struct {
	// ListenAddress is host:port to serve on; empty disables the endpoint.
	ListenAddress string `yaml:"listen_address"`
}

const (
	// DefaultConfigFilename is the default settings file name.
	DefaultConfigFilename = "crashguard.yaml"

	// DefaultFilePermissions is the permission used when saving settings.
	DefaultFilePermissions = 0o600

	// DefaultSensorAddress is the MPU6050 address with AD0 low.
	DefaultSensorAddress = 0x68
	// DefaultThresholdG is the crash threshold in g.
	DefaultThresholdG = 3.0
	// DefaultPollInterval gives a 20 Hz sensor loop.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultDebounce is the crash suppression window.
	DefaultDebounce = 10 * time.Second
	// DefaultErrorBackoff is the pause after a failed sensor read.
	DefaultErrorBackoff = time.Second

	// DefaultCountdownTicks is the number of one-second countdown steps.
	DefaultCountdownTicks = 5
	// DefaultCountdownTick is the length of one countdown step.
	DefaultCountdownTick = time.Second

	// DefaultBaudRate is the modem line speed.
	DefaultBaudRate = 115200
	// DefaultPortGlob matches USB serial adapters.
	DefaultPortGlob = "/dev/ttyUSB*"
	// DefaultProbeWait is the AT probe reply window.
	DefaultProbeWait = 200 * time.Millisecond
	// DefaultCommandWait is the reply window of configuration commands.
	DefaultCommandWait = 500 * time.Millisecond
	// DefaultPromptWait is the pause before the message body is written.
	DefaultPromptWait = time.Second
	// DefaultSettle is the network settle period after the terminator.
	DefaultSettle = 5 * time.Second
	// DefaultQueueSize bounds pending dispatches.
	DefaultQueueSize = 4

	// DefaultFallbackLatitude is printed when no fix is available.
	DefaultFallbackLatitude = 19.8758
	// DefaultFallbackLongitude is printed when no fix is available.
	DefaultFallbackLongitude = 75.3393

	// DefaultBackendPollInterval is the fare-rate poll period.
	DefaultBackendPollInterval = 15 * time.Second
	// DefaultBackendTimeout bounds backend requests.
	DefaultBackendTimeout = 5 * time.Second

	// DefaultButtonChip is the GPIO chip of the panic button.
	DefaultButtonChip = "gpiochip0"
	// DefaultButtonDebounce is the line debounce period.
	DefaultButtonDebounce = 20 * time.Millisecond
)

// DefaultFallbackPorts are the on-board UARTs probed after USB adapters.
//
//nolint:gochecknoglobals // Read-only list of platform defaults.
var DefaultFallbackPorts = []string{"/dev/ttyS0", "/dev/ttyAMA0"}

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidThreshold is returned for a non-positive crash threshold.
	errInvalidThreshold = errors.New("crash threshold must be positive")
	// errInvalidRecipient is returned for a malformed phone number.
	errInvalidRecipient = errors.New("invalid recipient number")
	// errInvalidBackendURL is returned when the backend URL is not http(s).
	errInvalidBackendURL = errors.New("backend URL must use http or https")

	// recipientPattern accepts international and local numbers.
	recipientPattern = regexp.MustCompile(`^\+?[0-9]{3,15}$`)
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Button: Button{Line: -1},
	}

	// Defaults never fail validation.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Config{
		Button: Button{Line: -1},
	}

	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks cfg and fills zero values with defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := validateSensor(&cfg.Sensor); err != nil {
		return err
	}

	applyAlertDefaults(&cfg.Alert)

	if err := validateModem(&cfg.Modem); err != nil {
		return err
	}

	applyIdentityDefaults(&cfg.Identity)

	if err := validateBackend(&cfg.Backend); err != nil {
		return err
	}

	if cfg.Button.Chip == "" {
		cfg.Button.Chip = DefaultButtonChip
	}

	if cfg.Button.Debounce <= 0 {
		cfg.Button.Debounce = DefaultButtonDebounce
	}

	if cfg.Status.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.Status.ListenAddress); err != nil {
			return fmt.Errorf("invalid status listen address: %w", err)
		}
	}

	return nil
}

func validateSensor(s *Sensor) error {
	if s.ThresholdG < 0 {
		return fmt.Errorf("%w: %v", errInvalidThreshold, s.ThresholdG)
	}

	if s.ThresholdG == 0 {
		s.ThresholdG = DefaultThresholdG
	}

	if s.Bus <= 0 {
		s.Bus = 1
	}

	if s.Address == 0 {
		s.Address = DefaultSensorAddress
	}

	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}

	if s.Debounce <= 0 {
		s.Debounce = DefaultDebounce
	}

	if s.ErrorBackoff <= 0 {
		s.ErrorBackoff = DefaultErrorBackoff
	}

	return nil
}

func applyAlertDefaults(a *Alert) {
	if a.CountdownTicks <= 0 {
		a.CountdownTicks = DefaultCountdownTicks
	}

	if a.CountdownTick <= 0 {
		a.CountdownTick = DefaultCountdownTick
	}
}

//nolint:cyclop // Flat list of defaults.
func validateModem(m *Modem) error {
	for _, recipient := range m.Recipients {
		if !recipientPattern.MatchString(recipient) {
			return fmt.Errorf("%w: %q", errInvalidRecipient, recipient)
		}
	}

	if m.PortGlob == "" {
		m.PortGlob = DefaultPortGlob
	}

	if len(m.FallbackPorts) == 0 {
		m.FallbackPorts = append([]string(nil), DefaultFallbackPorts...)
	}

	if m.BaudRate <= 0 {
		m.BaudRate = DefaultBaudRate
	}

	if m.ProbeWait <= 0 {
		m.ProbeWait = DefaultProbeWait
	}

	if m.CommandWait <= 0 {
		m.CommandWait = DefaultCommandWait
	}

	if m.PromptWait <= 0 {
		m.PromptWait = DefaultPromptWait
	}

	if m.Settle <= 0 {
		m.Settle = DefaultSettle
	}

	if m.QueueSize <= 0 {
		m.QueueSize = DefaultQueueSize
	}

	return nil
}

func applyIdentityDefaults(i *Identity) {
	if i.FallbackLatitude == 0 && i.FallbackLongitude == 0 {
		i.FallbackLatitude = DefaultFallbackLatitude
		i.FallbackLongitude = DefaultFallbackLongitude
	}
}

func validateBackend(b *Backend) error {
	if b.PollInterval <= 0 {
		b.PollInterval = DefaultBackendPollInterval
	}

	if b.Timeout <= 0 {
		b.Timeout = DefaultBackendTimeout
	}

	if b.BaseURL == "" {
		return nil
	}

	parsed, err := url.ParseRequestURI(b.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid backend URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: %q", errInvalidBackendURL, b.BaseURL)
	}

	return nil
}
