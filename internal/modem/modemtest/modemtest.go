// Package modemtest provides an in-memory GSM modem speaking the AT subset used by crashguard.
package modemtest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oshokin/crashguard/internal/modem"
)

// ErrNoDevice is returned by Opener for paths without a simulated modem.
var ErrNoDevice = errors.New("no such device")

// ErrClosed is returned by I/O on a closed port.
var ErrClosed = errors.New("port closed")

// Message is an SMS accepted by the simulator.
type Message struct {
	// Recipient is the number from AT+CMGS.
	Recipient string
	// Body is the text written before the terminator.
	Body string
}

// Modem simulates a modem behind one serial port.
type Modem struct {
	// mu protects every field below.
	mu sync.Mutex

	// failing lists recipients whose messages are rejected with +CMS ERROR.
	failing map[string]bool
	// silent makes the modem ignore every command, like a port with nothing attached.
	silent bool

	// commands records every command line received.
	commands []string
	// messages records accepted and rejected messages in order.
	messages []Message
	// opens counts successful opens.
	opens int
	// closed is set by Close and cleared by the next open.
	closed bool

	// line accumulates command bytes until CRLF.
	line bytes.Buffer
	// body accumulates message bytes in body mode.
	body bytes.Buffer
	// recipient is set while in body mode.
	recipient string
	// inBody is true between AT+CMGS and the terminator.
	inBody bool
	// output is the pending reply.
	output bytes.Buffer
}

// New returns a modem rejecting messages to the failing recipients.
func New(failing ...string) *Modem {
	m := &Modem{failing: make(map[string]bool)}
	for _, number := range failing {
		m.failing[number] = true
	}

	return m
}

// NewSilent returns a device that never answers.
func NewSilent() *Modem {
	m := New()
	m.silent = true

	return m
}

// Opener returns a modem.Opener serving devices by path; other paths fail with ErrNoDevice.
func Opener(devices map[string]*Modem) modem.Opener {
	return func(path string, _ int) (modem.Port, error) {
		device, ok := devices[path]
		if !ok {
			return nil, fmt.Errorf("%s: %w", path, ErrNoDevice)
		}

		device.mu.Lock()
		device.opens++
		device.closed = false
		device.output.Reset()
		device.line.Reset()
		device.inBody = false
		device.mu.Unlock()

		return device, nil
	}
}

// Commands returns the command lines received so far.
func (m *Modem) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.commands...)
}

// Messages returns the messages received so far.
func (m *Modem) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Message(nil), m.messages...)
}

// Opens returns how many times the port was opened.
func (m *Modem) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.opens
}

// Closed reports whether the port is closed.
func (m *Modem) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// Read returns pending reply bytes, or 0 when there are none.
func (m *Modem) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	n, _ := m.output.Read(p)

	return n, nil
}

// Write feeds bytes to the command interpreter.
func (m *Modem) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	if m.silent {
		return len(p), nil
	}

	for _, b := range p {
		m.feed(b)
	}

	return len(p), nil
}

// ResetInputBuffer drops the pending reply.
func (m *Modem) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.output.Reset()

	return nil
}

// Close closes the port.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

func (m *Modem) feed(b byte) {
	if m.inBody {
		if b != 0x1A {
			m.body.WriteByte(b)

			return
		}

		m.inBody = false
		m.messages = append(m.messages, Message{Recipient: m.recipient, Body: m.body.String()})

		if m.failing[m.recipient] {
			m.output.WriteString("\r\n+CMS ERROR: 500\r\n")
		} else {
			fmt.Fprintf(&m.output, "\r\n+CMGS: %d\r\n\r\nOK\r\n", len(m.messages))
		}

		return
	}

	if b != '\n' {
		if b != '\r' {
			m.line.WriteByte(b)
		}

		return
	}

	command := m.line.String()
	m.line.Reset()
	m.commands = append(m.commands, command)

	if recipient, ok := strings.CutPrefix(command, `AT+CMGS="`); ok {
		m.recipient = strings.TrimSuffix(recipient, `"`)
		m.inBody = true
		m.body.Reset()
		m.output.WriteString("\r\n> ")

		return
	}

	if strings.HasPrefix(command, "AT") {
		m.output.WriteString("\r\nOK\r\n")

		return
	}

	m.output.WriteString("\r\nERROR\r\n")
}
