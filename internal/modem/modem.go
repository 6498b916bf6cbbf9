package modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/logger"
)

// AT commands and tokens.
const (
	cmdAttention = "AT"
	cmdEchoOff   = "ATE0"
	cmdTextMode  = "AT+CMGF=1"
	cmdCharset   = `AT+CSCS="GSM"`
	cmdSendSMS   = `AT+CMGS="%s"`

	tokenOK    = "OK"
	tokenSent  = "+CMGS:"
	tokenError = "ERROR"

	lineEnding = "\r\n"

	// bodyTerminator (Ctrl-Z) ends an SMS body.
	bodyTerminator = 0x1A

	// maxResponse caps the bytes kept from one reply.
	maxResponse = 4096
)

var (
	// ErrNotFound is returned when no candidate port answers the probe.
	ErrNotFound = errors.New("modem not found")
	// ErrNotConnected is returned when a command is issued without a connection.
	ErrNotConnected = errors.New("modem not connected")
	// ErrNotAcknowledged is returned when the network did not confirm a message.
	ErrNotAcknowledged = errors.New("message not acknowledged")
)

// Modem is a lazily connected GSM modem.
type Modem struct {
	// preferred is the configured port, probed first.
	preferred string
	// glob matches additional candidates.
	glob string
	// fallbacks are probed last.
	fallbacks []string
	// baudRate is the line speed.
	baudRate int
	// probeWait is the reply window of the probe.
	probeWait time.Duration
	// commandWait is the reply window of configuration commands.
	commandWait time.Duration
	// promptWait is the pause before the body is written.
	promptWait time.Duration
	// settle is the wait after the terminator.
	settle time.Duration

	// open opens a candidate port.
	open Opener
	// listGlob expands glob.
	listGlob func(pattern string) ([]string, error)

	// mu serialises all use of port.
	mu sync.Mutex
	// port is the open connection or nil.
	port Port
	// portName is the device path of port.
	portName string
	// connected mirrors port != nil for readers that must not wait for mu.
	connected atomic.Bool
}

// Option configures a Modem.
type Option func(*Modem)

// WithOpener replaces the serial opener.
func WithOpener(open Opener) Option {
	return func(m *Modem) {
		m.open = open
	}
}

// WithGlob replaces the candidate glob expansion.
func WithGlob(listGlob func(pattern string) ([]string, error)) Option {
	return func(m *Modem) {
		m.listGlob = listGlob
	}
}

// New creates a disconnected modem.
func New(cfg config.Modem, opts ...Option) *Modem {
	m := &Modem{
		preferred:   cfg.Port,
		glob:        cfg.PortGlob,
		fallbacks:   cfg.FallbackPorts,
		baudRate:    cfg.BaudRate,
		probeWait:   cfg.ProbeWait,
		commandWait: cfg.CommandWait,
		promptWait:  cfg.PromptWait,
		settle:      cfg.Settle,
		open:        OpenSerial,
		listGlob:    filepath.Glob,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Candidates lists the ports to probe: preferred, glob matches, fallbacks, without duplicates.
func (m *Modem) Candidates() []string {
	var matches []string

	if m.glob != "" {
		// A malformed pattern just contributes nothing.
		matches, _ = m.listGlob(m.glob)
	}

	all := make([]string, 0, 1+len(matches)+len(m.fallbacks))
	if m.preferred != "" {
		all = append(all, m.preferred)
	}

	all = append(all, matches...)
	all = append(all, m.fallbacks...)

	seen := make(map[string]struct{}, len(all))
	candidates := make([]string, 0, len(all))

	for _, path := range all {
		if _, ok := seen[path]; ok {
			continue
		}

		seen[path] = struct{}{}
		candidates = append(candidates, path)
	}

	return candidates
}

// Connect probes the candidates unless already connected.
func (m *Modem) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connectLocked(ctx)
}

// Connected reports whether a port is open. It does not wait for an SMS in progress.
func (m *Modem) Connected() bool {
	return m.connected.Load()
}

// PortName returns the connected device path or an empty string.
func (m *Modem) PortName() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.portName
}

// SendSMS sends body to number and returns the raw reply.
// Any I/O error drops the connection.
func (m *Modem) SendSMS(ctx context.Context, number, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return "", ErrNotConnected
	}

	response, err := m.sendSMSLocked(ctx, number, body)
	if err != nil && !errors.Is(err, ErrNotAcknowledged) {
		logger.WarnKV(ctx, "Modem I/O failed, dropping connection", "port", m.portName, "error", err)
		m.closeLocked()
	}

	return response, err
}

// Close releases the port.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeLocked()
}

func (m *Modem) connectLocked(ctx context.Context) error {
	if m.port != nil {
		return nil
	}

	candidates := m.Candidates()
	logger.InfoKV(ctx, "Scanning for modem", "candidates", candidates)

	for _, path := range candidates {
		port, err := m.probe(ctx, path)
		if err != nil {
			logger.DebugKV(ctx, "Modem probe failed", "port", path, "error", err)

			continue
		}

		m.port = port
		m.portName = path

		for _, cmd := range []string{cmdEchoOff, cmdTextMode, cmdCharset} {
			if _, err = m.commandLocked(ctx, cmd, m.commandWait); err != nil {
				logger.WarnKV(ctx, "Modem setup command failed", "port", path, "command", cmd, "error", err)
				m.closeLocked()

				break
			}
		}

		if m.port != nil {
			m.connected.Store(true)
			logger.InfoKV(ctx, "Modem connected", "port", path)

			return nil
		}
	}

	logger.ErrorKV(ctx, "Modem not detected on any candidate port", "candidates", len(candidates))

	return ErrNotFound
}

// probe opens path and keeps it if the device answers AT with OK.
//
//nolint:ireturn // The probed port is used through the Port interface.
func (m *Modem) probe(ctx context.Context, path string) (Port, error) {
	port, err := m.open(path, m.baudRate)
	if err != nil {
		return nil, err
	}

	if _, err = port.Write([]byte(cmdAttention + lineEnding)); err != nil {
		_ = port.Close()

		return nil, fmt.Errorf("write probe: %w", err)
	}

	sleep(ctx, m.probeWait)

	response, err := drain(port)
	if err != nil {
		_ = port.Close()

		return nil, fmt.Errorf("read probe reply: %w", err)
	}

	if !strings.Contains(response, tokenOK) {
		_ = port.Close()

		return nil, fmt.Errorf("%w: unexpected probe reply %q", ErrNotFound, response)
	}

	return port, nil
}

func (m *Modem) sendSMSLocked(ctx context.Context, number, body string) (string, error) {
	if _, err := m.commandLocked(ctx, cmdTextMode, m.commandWait); err != nil {
		return "", err
	}

	if _, err := m.port.Write([]byte(fmt.Sprintf(cmdSendSMS, number) + lineEnding)); err != nil {
		return "", fmt.Errorf("address recipient: %w", err)
	}

	sleep(ctx, m.promptWait)

	if _, err := m.port.Write([]byte(body)); err != nil {
		return "", fmt.Errorf("write body: %w", err)
	}

	sleep(ctx, m.commandWait)

	if _, err := m.port.Write([]byte{bodyTerminator}); err != nil {
		return "", fmt.Errorf("write terminator: %w", err)
	}

	sleep(ctx, m.settle)

	response, err := drain(m.port)
	if err != nil {
		return response, fmt.Errorf("read send reply: %w", err)
	}

	if !Acknowledged(response) {
		return response, fmt.Errorf("%w: %q", ErrNotAcknowledged, strings.TrimSpace(response))
	}

	return response, nil
}

// commandLocked sends cmd with fresh input and returns what arrived within wait.
func (m *Modem) commandLocked(ctx context.Context, cmd string, wait time.Duration) (string, error) {
	if m.port == nil {
		return "", ErrNotConnected
	}

	if err := m.port.ResetInputBuffer(); err != nil {
		return "", fmt.Errorf("reset input before %s: %w", cmd, err)
	}

	if _, err := m.port.Write([]byte(cmd + lineEnding)); err != nil {
		return "", fmt.Errorf("write %s: %w", cmd, err)
	}

	sleep(ctx, wait)

	return drain(m.port)
}

func (m *Modem) closeLocked() error {
	if m.port == nil {
		return nil
	}

	err := m.port.Close()
	m.port = nil
	m.portName = ""
	m.connected.Store(false)

	return err
}

// Acknowledged reports whether a send reply carries a success token and no error.
func Acknowledged(response string) bool {
	if strings.Contains(response, tokenError) {
		return false
	}

	return strings.Contains(response, tokenSent) || strings.Contains(response, tokenOK)
}

// drain reads until the port has nothing more to give.
func drain(port Port) (string, error) {
	var (
		out bytes.Buffer
		buf = make([]byte, 256)
	)

	for out.Len() < maxResponse {
		n, err := port.Read(buf)
		out.Write(buf[:n])

		if err != nil {
			return out.String(), err
		}

		if n == 0 {
			break
		}
	}

	return out.String(), nil
}

// sleep pauses for d; a cancelled ctx cuts the pause short.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
