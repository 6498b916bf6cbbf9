package alert

import (
	"fmt"
	"time"
)

// State is the lifecycle state of the alert state machine.
type State string

const (
	// StateIdle means no alert is pending or active.
	StateIdle State = "IDLE"
	// StateCountdown means the button is held and the countdown is running.
	StateCountdown State = "COUNTDOWN"
	// StateActive means an alert has been raised and dispatched.
	StateActive State = "ACTIVE"
)

// Source tells what raised an alert.
type Source string

const (
	// SourceSensor is an alert raised by the crash monitor.
	SourceSensor Source = "CRASH_SENSOR"
	// SourceButton is an alert raised by holding the panic button.
	SourceButton Source = "SOS_BUTTON"
)

// String returns the wire name of the source.
func (s Source) String() string {
	return string(s)
}

// Location is a WGS84 coordinate pair.
type Location struct {
	// Latitude in decimal degrees.
	Latitude float64
	// Longitude in decimal degrees.
	Longitude float64
}

// String formats the location with five decimals, about one metre of precision.
func (l Location) String() string {
	return fmt.Sprintf("%.5f,%.5f", l.Latitude, l.Longitude)
}

// Clone returns a copy of the location.
func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}

	cloned := *l

	return &cloned
}

// Event describes an alert while the state machine is ACTIVE.
type Event struct {
	// Source is what raised the alert.
	Source Source
	// ActivatedAt is when the state machine entered ACTIVE.
	ActivatedAt time.Time
	// Location is the position at activation; nil when no fix was available.
	Location *Location
	// Status is always StateActive for events handed to notifiers.
	Status State
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}

	return &Event{
		Source:      e.Source,
		ActivatedAt: e.ActivatedAt,
		Location:    e.Location.Clone(),
		Status:      e.Status,
	}
}

// Status is a human-readable update emitted on every transition and countdown tick.
type Status struct {
	// State is the machine state after the transition.
	State State
	// Text is the message shown to the driver.
	Text string
	// At is when the status was produced.
	At time.Time
}
