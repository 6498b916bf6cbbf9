package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/domain/alert"
	"github.com/oshokin/crashguard/internal/logger"
)

const (
	fareRatePath = "/api/fare/get"
	sosPath      = "/api/sos"

	// pushBuffer is the capacity of the SOS push queue.
	pushBuffer = 8
	// maxErrorBody caps the response bytes quoted in errors.
	maxErrorBody = 512

	headerRequestID = "X-Request-ID"
)

var (
	// ErrDisabled is returned when no backend URL is configured.
	ErrDisabled = errors.New("backend disabled")

	// errBadHTTPStatus is returned for non-2xx responses.
	errBadHTTPStatus = errors.New("unexpected http status")
	// errMissingFareRate is returned when the poll response has no rate.
	errMissingFareRate = errors.New("fare_rate missing from response")
)

// RateListener is called from the poll loop when the fare rate changes.
type RateListener func(ctx context.Context, rate float64)

// sosReport is the body of an SOS push.
type sosReport struct {
	// Type is CRASH_SENSOR or SOS_BUTTON.
	Type string `json:"type"`
	// Latitude of the alert, 0 without a fix.
	Latitude float64 `json:"latitude"`
	// Longitude of the alert, 0 without a fix.
	Longitude float64 `json:"longitude"`
}

// fareRateResponse is the body of the fare-rate poll.
type fareRateResponse struct {
	// FareRate accepts a JSON number or a numeric string.
	FareRate json.Number `json:"fare_rate"`
}

// Client is the backend sync client.
type Client struct {
	// baseURL has no trailing slash; empty disables the client.
	baseURL string
	// pollInterval is the fare-rate poll period.
	pollInterval time.Duration
	// timeout bounds every request.
	timeout time.Duration
	// httpClient performs requests.
	httpClient *http.Client
	// listeners are notified of rate changes.
	listeners []RateListener
	// pushes holds alerts waiting for the push worker.
	pushes chan *alert.Event

	// mu guards the fields below.
	mu sync.Mutex
	// rate is the last known fare rate.
	rate float64
	// hasRate is set after the first successful poll.
	hasRate bool
	// healthy reports whether the last poll succeeded.
	healthy bool
}

// Option configures a Client.
type Option func(*Client)

// WithRateListener adds a fare-rate listener.
func WithRateListener(listener RateListener) Option {
	return func(c *Client) {
		c.listeners = append(c.listeners, listener)
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a client for cfg.
func New(cfg config.Backend, opts ...Option) *Client {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = config.DefaultBackendPollInterval
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultBackendTimeout
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval: pollInterval,
		timeout:      timeout,
		httpClient:   http.DefaultClient,
		pushes:       make(chan *alert.Event, pushBuffer),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Enabled reports whether a backend URL is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// FareRate returns the cached rate and whether one was ever received.
func (c *Client) FareRate() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rate, c.hasRate
}

// Healthy reports whether the most recent poll succeeded.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.healthy
}

// Notify queues an SOS push. It never blocks; a full queue drops the alert.
func (c *Client) Notify(ctx context.Context, event *alert.Event) {
	if !c.Enabled() {
		logger.DebugKV(ctx, "Backend disabled, SOS push skipped", "source", event.Source)

		return
	}

	select {
	case c.pushes <- event.Clone():
	default:
		logger.WarnKV(ctx, "SOS push queue is full, alert dropped", "source", event.Source)
	}
}

// Run polls the fare rate immediately and then on every interval while pushing queued alerts.
// It returns when ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "backend")

	if !c.Enabled() {
		logger.Info(ctx, "Backend URL not configured, sync disabled")
		<-ctx.Done()

		return nil
	}

	logger.InfoKV(ctx, "Backend sync running", "url", c.baseURL, "poll_interval", c.pollInterval.String())

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		c.pushLoop(ctx)
	}()

	c.pollLoop(ctx)
	wg.Wait()

	return nil
}

// FetchFareRate performs one fare-rate request.
func (c *Client) FetchFareRate(ctx context.Context) (float64, error) {
	if !c.Enabled() {
		return 0, ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+fareRatePath, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("create fare rate request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch fare rate: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp)
	}

	var body fareRateResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode fare rate: %w", err)
	}

	if body.FareRate == "" {
		return 0, errMissingFareRate
	}

	rate, err := strconv.ParseFloat(body.FareRate.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("parse fare rate %q: %w", body.FareRate, err)
	}

	return rate, nil
}

// PushSOS reports event to the backend. Missing locations are sent as 0,0.
func (c *Client) PushSOS(ctx context.Context, event *alert.Event) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	report := sosReport{Type: event.Source.String()}
	if event.Location != nil {
		report.Latitude = event.Location.Latitude
		report.Longitude = event.Location.Longitude
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal sos report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sosPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create sos request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerRequestID, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push sos: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(resp)
	}

	return nil
}

func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		c.pollOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	rate, err := c.FetchFareRate(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	c.healthy = err == nil
	changed := err == nil && (!c.hasRate || c.rate != rate)

	if changed {
		c.rate = rate
		c.hasRate = true
	}
	c.mu.Unlock()

	if err != nil {
		logger.WarnKV(ctx, "Fare rate sync failed", "error", err)

		return
	}

	if !changed {
		logger.DebugKV(ctx, "Fare rate unchanged", "rate", rate)

		return
	}

	logger.InfoKV(ctx, "Fare rate synced from backend", "rate", rate)

	for _, listener := range c.listeners {
		listener(ctx, rate)
	}
}

func (c *Client) pushLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.pushes:
			// The request has its own timeout; shutdown does not cut it short.
			err := c.PushSOS(context.WithoutCancel(ctx), event)
			if err != nil {
				logger.ErrorKV(ctx, "SOS push failed", "source", event.Source, "error", err)

				continue
			}

			logger.InfoKV(ctx, "SOS pushed to backend", "source", event.Source, "location", event.Location)
		}
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	return fmt.Errorf("%w: %d %s", errBadHTTPStatus, resp.StatusCode, strings.TrimSpace(string(body)))
}
