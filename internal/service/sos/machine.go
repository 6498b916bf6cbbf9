package sos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/domain/alert"
	"github.com/oshokin/crashguard/internal/logger"
)

// Notifier receives activated alerts. Notify must return without waiting for delivery.
type Notifier interface {
	Notify(ctx context.Context, event *alert.Event)
}

// StatusSink receives a status on every transition and countdown tick.
type StatusSink interface {
	PublishStatus(ctx context.Context, status alert.Status)
}

// LocationProvider returns the current position or nil when there is no fix.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) *alert.Location
}

// Status texts shown to the driver.
const (
	textCountdown   = "SOS COUNTDOWN: %d"
	textCancelled   = "SOS Cancelled - Normal"
	textCrashActive = "CRASH DETECTED! SOS ACTIVE"
	textSOSActive   = "SOS ACTIVATED!"
	textDeactivated = "SOS Deactivated - Normal"
)

const (
	// eventBuffer is the capacity of the input queue.
	eventBuffer = 32
	// statusBuffer is the capacity of the queue feeding the status sink.
	statusBuffer = 64
	// locationTimeout bounds the location lookup during activation.
	locationTimeout = time.Second
)

// ErrStopped is returned by queries made after the machine stopped.
var ErrStopped = errors.New("state machine stopped")

// eventKind enumerates machine inputs.
type eventKind int

const (
	evButtonPress eventKind = iota
	evButtonRelease
	evCrash
	evCountdownTick
	evCountdownComplete
	evSnapshot
	evStop
)

// event is one input to the machine.
type event struct {
	// kind selects the handler.
	kind eventKind
	// generation identifies the countdown a tick or completion belongs to.
	generation uint64
	// remaining is the countdown value of a tick.
	remaining int
	// reply receives the answer to a snapshot query.
	reply chan Snapshot
}

// Snapshot is a consistent view of the machine.
type Snapshot struct {
	// State is the current state.
	State alert.State
	// Event is the active alert, nil unless State is ACTIVE.
	Event *alert.Event
	// IgnoreNextRelease reports whether the next release while ACTIVE will be swallowed.
	IgnoreNextRelease bool
}

// Machine is the single source of truth for alert state.
type Machine struct {
	// events is the input queue consumed by Run.
	events chan event
	// done is closed when Run returns.
	done chan struct{}
	// statuses carries status updates from Run to the sink goroutine.
	statuses chan alert.Status

	// countdownTicks is the number of countdown steps.
	countdownTicks int
	// countdownTick is the length of one step.
	countdownTick time.Duration

	// notifiers receive every activation.
	notifiers []Notifier
	// status receives status updates.
	status StatusSink
	// location snapshots the position at activation.
	location LocationProvider
	// now returns the activation timestamp.
	now func() time.Time

	// The fields below are owned by the Run goroutine.

	// state is the current state.
	state alert.State
	// active is the current alert while ACTIVE.
	active *alert.Event
	// ignoreRelease swallows the release that follows a hold-to-activate.
	ignoreRelease bool
	// generation numbers countdowns so late ticks of a cancelled one are dropped.
	generation uint64
	// cancelCountdown stops the running countdown goroutine.
	cancelCountdown chan struct{}
}

// Option configures a Machine.
type Option func(*Machine)

// WithNotifiers appends activation notifiers.
func WithNotifiers(notifiers ...Notifier) Option {
	return func(m *Machine) {
		m.notifiers = append(m.notifiers, notifiers...)
	}
}

// WithStatusSink sets the status receiver.
func WithStatusSink(sink StatusSink) Option {
	return func(m *Machine) {
		m.status = sink
	}
}

// WithLocationProvider sets the location collaborator.
func WithLocationProvider(provider LocationProvider) Option {
	return func(m *Machine) {
		m.location = provider
	}
}

// NewMachine creates an idle machine. Inputs are buffered until Run starts.
func NewMachine(cfg config.Alert, opts ...Option) *Machine {
	m := &Machine{
		events:         make(chan event, eventBuffer),
		done:           make(chan struct{}),
		statuses:       make(chan alert.Status, statusBuffer),
		countdownTicks: cfg.CountdownTicks,
		countdownTick:  cfg.CountdownTick,
		now:            time.Now,
		state:          alert.StateIdle,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// OnButtonPress reports that the panic button went down.
func (m *Machine) OnButtonPress() {
	m.enqueue(event{kind: evButtonPress})
}

// OnButtonRelease reports that the panic button went up.
func (m *Machine) OnButtonRelease() {
	m.enqueue(event{kind: evButtonRelease})
}

// OnCrashDetected reports a crash from the sensor monitor.
func (m *Machine) OnCrashDetected() {
	m.enqueue(event{kind: evCrash})
}

// Snapshot returns the current state.
func (m *Machine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)

	select {
	case m.events <- event{kind: evSnapshot, reply: reply}:
	case <-m.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case snapshot := <-reply:
		return snapshot, nil
	case <-m.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Stop forces the machine to IDLE and waits for Run to return. Run must be running.
func (m *Machine) Stop() {
	m.enqueue(event{kind: evStop})
	<-m.done
}

// Done is closed when Run returns.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Run consumes inputs until Stop is called or ctx is cancelled; both leave the machine IDLE.
// Run must be called once.
func (m *Machine) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "sos")

	defer close(m.done)

	if m.status != nil {
		go m.publishStatuses(context.WithoutCancel(ctx))

		defer close(m.statuses)
	}

	logger.InfoKV(ctx, "Alert state machine running",
		"countdown_ticks", m.countdownTicks, "countdown_tick", m.countdownTick.String())

	for {
		select {
		case <-ctx.Done():
			m.forceIdle(context.WithoutCancel(ctx))

			return nil
		case ev := <-m.events:
			if ev.kind == evStop {
				m.forceIdle(ctx)

				return nil
			}

			m.handle(ctx, ev)
		}
	}
}

func (m *Machine) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evButtonPress:
		m.onPress(ctx)
	case evButtonRelease:
		m.onRelease(ctx)
	case evCrash:
		m.onCrash(ctx)
	case evCountdownTick:
		if m.state == alert.StateCountdown && ev.generation == m.generation {
			m.emit(ctx, fmt.Sprintf(textCountdown, ev.remaining))
		}
	case evCountdownComplete:
		m.onCountdownComplete(ctx, ev.generation)
	case evSnapshot:
		ev.reply <- Snapshot{
			State:             m.state,
			Event:             m.active.Clone(),
			IgnoreNextRelease: m.ignoreRelease,
		}
	case evStop:
	}
}

func (m *Machine) onPress(ctx context.Context) {
	if m.state != alert.StateIdle {
		logger.DebugKV(ctx, "Button press ignored", "state", m.state)

		return
	}

	m.state = alert.StateCountdown
	m.generation++
	m.cancelCountdown = make(chan struct{})

	go m.countdown(m.generation, m.cancelCountdown)

	logger.InfoKV(ctx, "Button pressed, countdown started", "ticks", m.countdownTicks)
}

func (m *Machine) onRelease(ctx context.Context) {
	switch m.state {
	case alert.StateCountdown:
		m.stopCountdown()
		m.state = alert.StateIdle
		m.emit(ctx, textCancelled)

		logger.Info(ctx, "Button released early, countdown cancelled")
	case alert.StateActive:
		if m.ignoreRelease {
			m.ignoreRelease = false

			logger.Info(ctx, "Release after activation ignored, alert stays locked")

			return
		}

		m.deactivate(ctx)
	case alert.StateIdle:
	}
}

func (m *Machine) onCrash(ctx context.Context) {
	switch m.state {
	case alert.StateActive:
		logger.DebugKV(ctx, "Crash ignored, alert already active", "source", m.active.Source)

		return
	case alert.StateCountdown:
		// Sensor alert with the release latch set: the button is still held and
		// its release must not cancel the crash alert.
		m.stopCountdown()
		m.activate(ctx, alert.SourceSensor)
		m.ignoreRelease = true
	case alert.StateIdle:
		m.activate(ctx, alert.SourceSensor)
	}
}

func (m *Machine) onCountdownComplete(ctx context.Context, generation uint64) {
	if m.state != alert.StateCountdown || generation != m.generation {
		return
	}

	m.cancelCountdown = nil
	m.activate(ctx, alert.SourceButton)
}

func (m *Machine) activate(ctx context.Context, source alert.Source) {
	activatedAt := m.now()

	event := &alert.Event{
		Source:      source,
		ActivatedAt: activatedAt,
		Location:    m.locate(ctx),
		Status:      alert.StateActive,
	}

	m.state = alert.StateActive
	m.active = event
	m.ignoreRelease = source == alert.SourceButton

	if source == alert.SourceSensor {
		m.emit(ctx, textCrashActive)
	} else {
		m.emit(ctx, textSOSActive)
	}

	for _, notifier := range m.notifiers {
		notifier.Notify(ctx, event.Clone())
	}

	logger.WarnKV(ctx, "Emergency alert activated", "source", source, "location", event.Location)
}

func (m *Machine) deactivate(ctx context.Context) {
	if m.state != alert.StateActive {
		return
	}

	m.state = alert.StateIdle
	m.active = nil
	m.ignoreRelease = false
	m.emit(ctx, textDeactivated)

	logger.Info(ctx, "Emergency alert deactivated")
}

func (m *Machine) forceIdle(ctx context.Context) {
	m.stopCountdown()

	if m.state == alert.StateActive {
		m.deactivate(ctx)
	}

	m.state = alert.StateIdle
	m.ignoreRelease = false
}

func (m *Machine) stopCountdown() {
	if m.cancelCountdown == nil {
		return
	}

	close(m.cancelCountdown)
	m.cancelCountdown = nil
}

func (m *Machine) locate(ctx context.Context) *alert.Location {
	if m.location == nil {
		return nil
	}

	locateCtx, cancel := context.WithTimeout(ctx, locationTimeout)
	defer cancel()

	found := make(chan *alert.Location, 1)

	go func() {
		found <- m.location.CurrentLocation(locateCtx)
	}()

	select {
	case location := <-found:
		return location
	case <-locateCtx.Done():
		logger.WarnKV(ctx, "Location lookup timed out, alerting without a fix", "timeout", locationTimeout.String())

		return nil
	}
}

func (m *Machine) emit(ctx context.Context, text string) {
	status := alert.Status{
		State: m.state,
		Text:  text,
		At:    m.now(),
	}

	logger.InfoKV(ctx, "Alert status", "state", status.State, "text", status.Text)

	if m.status == nil {
		return
	}

	select {
	case m.statuses <- status:
	default:
		logger.WarnKV(ctx, "Status queue full, status dropped", "state", status.State, "text", status.Text)
	}
}

// publishStatuses hands queued statuses to the sink in order until Run closes the queue.
func (m *Machine) publishStatuses(ctx context.Context) {
	for status := range m.statuses {
		m.status.PublishStatus(ctx, status)
	}
}

// countdown emits one tick per step and then a completion, checking cancel before every step.
func (m *Machine) countdown(generation uint64, cancel <-chan struct{}) {
	timer := time.NewTimer(m.countdownTick)
	defer timer.Stop()

	for remaining := m.countdownTicks; remaining > 0; remaining-- {
		select {
		case <-cancel:
			return
		default:
		}

		if !m.send(event{kind: evCountdownTick, generation: generation, remaining: remaining}, cancel) {
			return
		}

		timer.Reset(m.countdownTick)

		select {
		case <-cancel:
			return
		case <-timer.C:
		}
	}

	m.send(event{kind: evCountdownComplete, generation: generation}, cancel)
}

// send delivers ev unless the countdown was cancelled or the machine stopped.
func (m *Machine) send(ev event, cancel <-chan struct{}) bool {
	select {
	case m.events <- ev:
		return true
	case <-cancel:
		return false
	case <-m.done:
		return false
	}
}

// enqueue delivers an external input; inputs after Run returned are dropped.
func (m *Machine) enqueue(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}
