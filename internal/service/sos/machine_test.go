package sos

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/domain/alert"
)

const testTick = 10 * time.Millisecond

// recorder collects notifications and statuses.
type recorder struct {
	// mu protects events and statuses.
	mu sync.Mutex
	// events are the activations received through Notify.
	events []*alert.Event
	// statuses are the statuses received through PublishStatus.
	statuses []alert.Status
}

func (r *recorder) Notify(_ context.Context, event *alert.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recorder) PublishStatus(_ context.Context, status alert.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, status)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	texts := make([]string, 0, len(r.statuses))
	for _, s := range r.statuses {
		texts = append(texts, s.Text)
	}

	return texts
}

// fixedLocation always reports the same position.
type fixedLocation struct {
	// location is returned by CurrentLocation.
	location *alert.Location
}

func (f fixedLocation) CurrentLocation(context.Context) *alert.Location {
	return f.location.Clone()
}

// stalledSink blocks every status until release is closed.
type stalledSink struct {
	// release unblocks the sink.
	release chan struct{}
}

func (s stalledSink) PublishStatus(context.Context, alert.Status) {
	<-s.release
}

// stalledLocation ignores its context and blocks until release is closed.
type stalledLocation struct {
	// release unblocks the provider.
	release chan struct{}
}

func (s stalledLocation) CurrentLocation(context.Context) *alert.Location {
	<-s.release

	return &alert.Location{Latitude: 1, Longitude: 1}
}

// startMachine runs a machine with a short countdown and stops it at cleanup.
func startMachine(t *testing.T, opts ...Option) (*Machine, *recorder) {
	t.Helper()

	rec := new(recorder)
	opts = append([]Option{WithNotifiers(rec), WithStatusSink(rec)}, opts...)

	m := NewMachine(config.Alert{CountdownTicks: 5, CountdownTick: testTick}, opts...)

	ctx, cancel := context.WithCancel(context.Background())

	go func() { _ = m.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})

	return m, rec
}

func waitState(t *testing.T, m *Machine, want alert.State) Snapshot {
	t.Helper()

	var snapshot Snapshot

	require.Eventually(t, func() bool {
		current, err := m.Snapshot(context.Background())
		if err != nil {
			return false
		}

		snapshot = current

		return current.State == want
	}, time.Second, time.Millisecond)

	return snapshot
}

func waitTexts(t *testing.T, rec *recorder, want []string) {
	t.Helper()

	require.Eventually(t, func() bool {
		return slices.Equal(want, rec.texts())
	}, time.Second, time.Millisecond, "statuses: %v", rec.texts())
}

func requireState(t *testing.T, m *Machine, want alert.State) Snapshot {
	t.Helper()

	snapshot, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, snapshot.State)

	return snapshot
}

// TestEarlyReleaseCancelsCountdown never reaches ACTIVE when the button is released mid-countdown.
func TestEarlyReleaseCancelsCountdown(t *testing.T) {
	t.Parallel()

	m, rec := startMachine(t)

	m.OnButtonPress()
	waitState(t, m, alert.StateCountdown)

	time.Sleep(2 * testTick)
	m.OnButtonRelease()
	requireState(t, m, alert.StateIdle)

	// Well past the full countdown: no late activation.
	time.Sleep(8 * testTick)
	requireState(t, m, alert.StateIdle)
	require.Zero(t, rec.eventCount())
	require.Eventually(t, func() bool {
		return slices.Contains(rec.texts(), textCancelled)
	}, time.Second, time.Millisecond)
	require.NotContains(t, rec.texts(), textSOSActive)
}

// TestHeldButtonActivates reaches ACTIVE with source BUTTON after all ticks.
func TestHeldButtonActivates(t *testing.T) {
	t.Parallel()

	location := &alert.Location{Latitude: 18.5204, Longitude: 73.8567}
	m, rec := startMachine(t, WithLocationProvider(fixedLocation{location: location}))

	m.OnButtonPress()
	snapshot := waitState(t, m, alert.StateActive)

	require.Equal(t, alert.SourceButton, snapshot.Event.Source)
	require.Equal(t, alert.StateActive, snapshot.Event.Status)
	require.Equal(t, location, snapshot.Event.Location)
	require.True(t, snapshot.IgnoreNextRelease)
	require.Equal(t, 1, rec.eventCount())

	waitTexts(t, rec, []string{
		"SOS COUNTDOWN: 5",
		"SOS COUNTDOWN: 4",
		"SOS COUNTDOWN: 3",
		"SOS COUNTDOWN: 2",
		"SOS COUNTDOWN: 1",
		textSOSActive,
	})
}

// TestReleaseLatch ignores the release of the activating hold and deactivates on the next click.
func TestReleaseLatch(t *testing.T) {
	t.Parallel()

	m, rec := startMachine(t)

	m.OnButtonPress()
	waitState(t, m, alert.StateActive)

	m.OnButtonRelease()
	snapshot := requireState(t, m, alert.StateActive)
	require.False(t, snapshot.IgnoreNextRelease)

	// A press while ACTIVE starts nothing.
	m.OnButtonPress()
	requireState(t, m, alert.StateActive)

	m.OnButtonRelease()
	snapshot = requireState(t, m, alert.StateIdle)
	require.Nil(t, snapshot.Event)
	require.Equal(t, 1, rec.eventCount())
	require.Eventually(t, func() bool {
		texts := rec.texts()

		return len(texts) > 0 && texts[len(texts)-1] == textDeactivated
	}, time.Second, time.Millisecond)
}

// TestCrashIsIdempotent produces one event for two crash notifications.
func TestCrashIsIdempotent(t *testing.T) {
	t.Parallel()

	m, rec := startMachine(t)

	m.OnCrashDetected()
	m.OnCrashDetected()

	snapshot := requireState(t, m, alert.StateActive)
	require.Equal(t, alert.SourceSensor, snapshot.Event.Source)
	require.Nil(t, snapshot.Event.Location)
	require.False(t, snapshot.IgnoreNextRelease)
	require.Equal(t, 1, rec.eventCount())
	waitTexts(t, rec, []string{textCrashActive})
}

// TestCrashDeactivatedByClick needs no latch: the first release deactivates a sensor alert.
func TestCrashDeactivatedByClick(t *testing.T) {
	t.Parallel()

	m, _ := startMachine(t)

	m.OnCrashDetected()
	requireState(t, m, alert.StateActive)

	m.OnButtonPress()
	m.OnButtonRelease()
	requireState(t, m, alert.StateIdle)
}

// TestCrashPreemptsCountdown activates immediately from COUNTDOWN and drops the pending countdown.
func TestCrashPreemptsCountdown(t *testing.T) {
	t.Parallel()

	m, rec := startMachine(t)

	m.OnButtonPress()
	waitState(t, m, alert.StateCountdown)

	m.OnCrashDetected()
	snapshot := requireState(t, m, alert.StateActive)
	require.Equal(t, alert.SourceSensor, snapshot.Event.Source)
	require.True(t, snapshot.IgnoreNextRelease)

	time.Sleep(8 * testTick)
	require.Equal(t, 1, rec.eventCount())

	// Letting go of the held button keeps the alert.
	m.OnButtonRelease()
	requireState(t, m, alert.StateActive)
}

// TestStopForcesIdle deactivates on shutdown and rejects later queries.
func TestStopForcesIdle(t *testing.T) {
	t.Parallel()

	rec := new(recorder)
	m := NewMachine(config.Alert{CountdownTicks: 5, CountdownTick: testTick}, WithStatusSink(rec))

	go func() { _ = m.Run(context.Background()) }()

	m.OnCrashDetected()
	requireState(t, m, alert.StateActive)

	m.Stop()

	_, err := m.Snapshot(context.Background())
	require.ErrorIs(t, err, ErrStopped)
	waitTexts(t, rec, []string{textCrashActive, textDeactivated})

	// Inputs after stop are dropped without blocking.
	m.OnCrashDetected()
}

// TestConcurrentInputs hammers the machine from several goroutines.
func TestConcurrentInputs(t *testing.T) {
	t.Parallel()

	m, rec := startMachine(t)

	var wg sync.WaitGroup

	for range 4 {
		wg.Add(3)

		go func() {
			defer wg.Done()

			for range 50 {
				m.OnCrashDetected()
			}
		}()

		go func() {
			defer wg.Done()

			for range 50 {
				m.OnButtonPress()
				m.OnButtonRelease()
			}
		}()

		go func() {
			defer wg.Done()

			for range 50 {
				_, err := m.Snapshot(context.Background())
				assert.NoError(t, err)
			}
		}()
	}

	wg.Wait()

	require.Positive(t, rec.eventCount())

	snapshot, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Contains(t, []alert.State{alert.StateIdle, alert.StateCountdown, alert.StateActive}, snapshot.State)
}

// TestStalledCollaboratorsDoNotDelayCrash activates and notifies while the sink and the GPS lookup hang.
func TestStalledCollaboratorsDoNotDelayCrash(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	m, rec := startMachine(t,
		WithStatusSink(stalledSink{release: release}),
		WithLocationProvider(stalledLocation{release: release}),
	)

	t.Cleanup(func() { close(release) })

	start := time.Now()

	m.OnCrashDetected()

	require.Eventually(t, func() bool { return rec.eventCount() == 1 }, locationTimeout+time.Second, time.Millisecond)
	require.Less(t, time.Since(start), locationTimeout+time.Second)

	snapshot := requireState(t, m, alert.StateActive)
	require.Equal(t, alert.SourceSensor, snapshot.Event.Source)
	require.Nil(t, snapshot.Event.Location)
}

// TestStalledSinkCountdownCompletes runs a full countdown while every status blocks.
func TestStalledSinkCountdownCompletes(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	m, rec := startMachine(t, WithStatusSink(stalledSink{release: release}))

	t.Cleanup(func() { close(release) })

	m.OnButtonPress()

	snapshot := waitState(t, m, alert.StateActive)
	require.Equal(t, alert.SourceButton, snapshot.Event.Source)
	require.Equal(t, 1, rec.eventCount())

	// The latched release and the deactivating click still go through.
	m.OnButtonRelease()
	m.OnButtonPress()
	m.OnButtonRelease()
	requireState(t, m, alert.StateIdle)
}
