package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/domain/alert"
	"github.com/oshokin/crashguard/internal/logger"
	"github.com/oshokin/crashguard/internal/sensor"
)

// Hashes and channels shared with the other vehicle services.
const (
	keyStatus  = "sos"
	keyReading = "crash-sensor"
	keyFare    = "fare"
	keyGPS     = "gps"

	fieldLatitude  = "latitude"
	fieldLongitude = "longitude"
)

const (
	// commandTimeout bounds every call, retries included.
	commandTimeout = 500 * time.Millisecond
	// dialTimeout bounds connection setup.
	dialTimeout = 500 * time.Millisecond
	// maxRetries is the number of retries after a failed command.
	maxRetries = 1
)

// ErrDisabled is returned by Ping when no Redis address is configured.
var ErrDisabled = errors.New("redis disabled")

// Bus publishes crashguard state to Redis. A Bus without an address is a no-op.
type Bus struct {
	// client is nil when Redis is disabled.
	client *redis.Client

	// mu protects pending.
	mu sync.Mutex
	// pending is the newest reading not yet written by Run.
	pending *sensor.Reading
	// wake tells Run that pending was set.
	wake chan struct{}
}

// New creates a bus for cfg. Nothing is dialled until the first command.
func New(cfg config.Redis) *Bus {
	bus := &Bus{
		wake: make(chan struct{}, 1),
	}

	if cfg.Address == "" {
		return bus
	}

	bus.client = redis.NewClient(&redis.Options{
		Addr:                  cfg.Address,
		DB:                    cfg.DB,
		DialTimeout:           dialTimeout,
		ReadTimeout:           commandTimeout,
		WriteTimeout:          commandTimeout,
		PoolTimeout:           commandTimeout,
		MaxRetries:            maxRetries,
		ContextTimeoutEnabled: true,
	})

	return bus
}

// Enabled reports whether an address was configured.
func (b *Bus) Enabled() bool {
	return b.client != nil
}

// Ping checks the connection.
func (b *Bus) Ping(ctx context.Context) error {
	if b.client == nil {
		return ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", b.client.Options().Addr, err)
	}

	return nil
}

// PublishStatus stores the alert status in the sos hash and announces it.
func (b *Bus) PublishStatus(ctx context.Context, status alert.Status) {
	if b.client == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	pipe := b.client.Pipeline()
	pipe.HSet(callCtx, keyStatus,
		"state", string(status.State),
		"text", status.Text,
		"timestamp", status.At.Format(time.RFC3339))
	pipe.Publish(callCtx, keyStatus, "state")

	if _, err := pipe.Exec(callCtx); err != nil {
		logger.WarnKV(ctx, "Failed to publish alert status", "state", status.State, "error", err)
	}
}

// PublishReading hands the reading to Run and returns at once.
// While a write is in flight only the newest reading is kept.
func (b *Bus) PublishReading(reading sensor.Reading) {
	if b.client == nil {
		return
	}

	b.mu.Lock()
	b.pending = &reading
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run writes readings handed over by PublishReading until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	if b.client == nil {
		return nil
	}

	ctx = logger.WithName(ctx, "redis")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.wake:
			if reading, ok := b.takePending(); ok {
				b.writeReading(ctx, reading)
			}
		}
	}
}

func (b *Bus) takePending() (sensor.Reading, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending == nil {
		return sensor.Reading{}, false
	}

	reading := *b.pending
	b.pending = nil

	return reading, true
}

func (b *Bus) writeReading(ctx context.Context, reading sensor.Reading) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	err := b.client.HSet(ctx, keyReading,
		"x", formatG(reading.X),
		"y", formatG(reading.Y),
		"z", formatG(reading.Z),
		"magnitude", formatG(reading.Magnitude),
		"timestamp", reading.Timestamp.Format(time.RFC3339Nano)).Err()
	if err != nil {
		// Readings arrive at 20 Hz; an outage would flood the log at higher levels.
		logger.DebugKV(ctx, "Failed to publish reading", "error", err)
	}
}

// PublishFareRate stores the backend fare rate for the fare calculator.
func (b *Bus) PublishFareRate(ctx context.Context, rate float64) {
	if b.client == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	pipe := b.client.Pipeline()
	pipe.HSet(callCtx, keyFare, "rate", strconv.FormatFloat(rate, 'f', -1, 64))
	pipe.Publish(callCtx, keyFare, "rate")

	if _, err := pipe.Exec(callCtx); err != nil {
		logger.WarnKV(ctx, "Failed to publish fare rate", "rate", rate, "error", err)
	}
}

// CurrentLocation reads the GPS hash. It returns nil without a usable fix.
func (b *Bus) CurrentLocation(ctx context.Context) *alert.Location {
	if b.client == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	fields, err := b.client.HGetAll(callCtx, keyGPS).Result()
	if err != nil {
		logger.WarnKV(ctx, "Failed to read GPS location", "error", err)

		return nil
	}

	return ParseLocation(fields)
}

// Close releases the connection pool.
func (b *Bus) Close() error {
	if b.client == nil {
		return nil
	}

	return b.client.Close()
}

// ParseLocation extracts a fix from GPS hash fields.
// Missing, malformed and 0,0 coordinates all mean no fix.
func ParseLocation(fields map[string]string) *alert.Location {
	latitude, err := strconv.ParseFloat(fields[fieldLatitude], 64)
	if err != nil {
		return nil
	}

	longitude, err := strconv.ParseFloat(fields[fieldLongitude], 64)
	if err != nil {
		return nil
	}

	if latitude == 0 && longitude == 0 {
		return nil
	}

	return &alert.Location{
		Latitude:  latitude,
		Longitude: longitude,
	}
}

func formatG(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
