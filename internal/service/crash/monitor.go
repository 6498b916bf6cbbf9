package crash

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/logger"
	"github.com/oshokin/crashguard/internal/sensor"
)

// Monitor polls a sensor at a fixed cadence and reports readings and crashes.
type Monitor struct {
	// sensor is the source of readings.
	sensor sensor.Sensor
	// threshold is the magnitude in g above which a crash is reported.
	threshold float64
	// interval is the poll period.
	interval time.Duration
	// debounce is the crash suppression window.
	debounce time.Duration
	// backoff is the pause after a failed read.
	backoff time.Duration

	// onReading receives every reading.
	onReading func(sensor.Reading)
	// onCrash is called once per debounce window while the threshold is exceeded.
	onCrash func()

	// suppressedUntil is owned by the poll loop.
	suppressedUntil time.Time

	// mu protects latest, hasLatest, cancel and done.
	mu sync.Mutex
	// latest is the most recent reading, kept for live display.
	latest sensor.Reading
	// hasLatest is false until the first successful read.
	hasLatest bool
	// cancel stops a loop started with Start.
	cancel context.CancelFunc
	// done is closed when that loop returns.
	done chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithReadingHandler sets the callback receiving every reading.
func WithReadingHandler(fn func(sensor.Reading)) Option {
	return func(m *Monitor) {
		m.onReading = fn
	}
}

// WithCrashHandler sets the callback receiving crash notifications.
func WithCrashHandler(fn func()) Option {
	return func(m *Monitor) {
		m.onCrash = fn
	}
}

// NewMonitor creates a monitor for s using the thresholds and timings in cfg.
func NewMonitor(s sensor.Sensor, cfg config.Sensor, opts ...Option) *Monitor {
	m := &Monitor{
		sensor:    s,
		threshold: cfg.ThresholdG,
		interval:  cfg.PollInterval,
		debounce:  cfg.Debounce,
		backoff:   cfg.ErrorBackoff,
		onReading: func(sensor.Reading) {},
		onCrash:   func() {},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Run polls until ctx is cancelled. Read errors never end the loop.
func (m *Monitor) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "crash-monitor")

	logger.InfoKV(ctx, "Crash monitor running",
		"threshold_g", m.threshold, "interval", m.interval.String(), "debounce", m.debounce.String())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		reading, err := m.sensor.Read(ctx)
		if err != nil {
			logger.DebugKV(ctx, "Sensor read failed, backing off", "error", err, "backoff", m.backoff.String())

			if !sleep(ctx, m.backoff) {
				return nil
			}

			continue
		}

		m.observe(ctx, reading)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Start runs the loop in the background. Calling Start twice has no effect.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)

		_ = m.Run(loopCtx)
	}()
}

// Stop ends a loop started with Start and waits for it to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Latest returns the most recent reading.
func (m *Monitor) Latest() (sensor.Reading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.latest, m.hasLatest
}

// observe records r, forwards it, and reports a crash unless one was reported
// within the debounce window. It returns true when a crash was reported.
func (m *Monitor) observe(ctx context.Context, r sensor.Reading) bool {
	m.mu.Lock()
	m.latest = r
	m.hasLatest = true
	m.mu.Unlock()

	m.onReading(r)

	if r.Magnitude <= m.threshold || r.Timestamp.Before(m.suppressedUntil) {
		return false
	}

	m.suppressedUntil = r.Timestamp.Add(m.debounce)

	logger.WarnKV(ctx, "Crash detected", "magnitude_g", r.Magnitude, "suppressed_until", m.suppressedUntil)

	m.onCrash()

	return true
}

// sleep waits for d or until ctx is done, reporting whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
