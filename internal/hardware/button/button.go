package button

import (
	"errors"
	"sync"
)

// consumer labels the requested line in gpioinfo.
const consumer = "crashguard"

var (
	// ErrDisabled is returned by Open when no line is configured.
	ErrDisabled = errors.New("button disabled")
	// ErrUnsupported is returned by Open on platforms without GPIO character devices.
	ErrUnsupported = errors.New("gpio is not supported on this platform")
)

// Handler receives button transitions. It is satisfied by *sos.Machine.
type Handler interface {
	// OnButtonPress is called when the button goes down.
	OnButtonPress()
	// OnButtonRelease is called when the button comes back up.
	OnButtonRelease()
}

// tracker forwards edges to a handler, dropping repeats of the current level.
type tracker struct {
	// handler receives the forwarded transitions.
	handler Handler

	// mu protects pressed.
	mu sync.Mutex
	// pressed is the last level forwarded to handler.
	pressed bool
}

func newTracker(handler Handler, pressed bool) *tracker {
	return &tracker{handler: handler, pressed: pressed}
}

// edge records a logical level change; active is true when the button is down.
func (t *tracker) edge(active bool) {
	t.mu.Lock()

	if t.pressed == active {
		t.mu.Unlock()

		return
	}

	t.pressed = active
	t.mu.Unlock()

	if active {
		t.handler.OnButtonPress()
	} else {
		t.handler.OnButtonRelease()
	}
}
