package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/domain/alert"
	"github.com/oshokin/crashguard/internal/service/backend"
)

// fakeBackend serves a scripted rate sequence and records SOS pushes.
type fakeBackend struct {
	// mu protects every field below.
	mu sync.Mutex
	// rates are served in order, the last one repeating.
	rates []string
	// polls counts fare-rate requests.
	polls int
	// reports are the decoded SOS bodies.
	reports []map[string]any
	// ids are the X-Request-ID headers of the pushes.
	ids []string
	// status overrides the SOS response code when set.
	status int
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/fare/get":
		rate := f.rates[min(f.polls, len(f.rates)-1)]
		f.polls++

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fare_rate": ` + rate + `}`))
	case r.Method == http.MethodPost && r.URL.Path == "/api/sos":
		var report map[string]any
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		f.reports = append(f.reports, report)
		f.ids = append(f.ids, r.Header.Get("X-Request-ID"))

		if f.status != 0 {
			w.WriteHeader(f.status)

			return
		}

		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeBackend) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.polls
}

func (f *fakeBackend) pushed() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]map[string]any(nil), f.reports...)
}

func backendConfig(url string) config.Backend {
	return config.Backend{
		BaseURL:      url + "/",
		PollInterval: 10 * time.Millisecond,
		Timeout:      time.Second,
	}
}

// TestRun_NotifiesOnRateChange fires the listener only for new values.
func TestRun_NotifiesOnRateChange(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{rates: []string{"12", "12", "15"}}
	server := httptest.NewServer(fake)
	defer server.Close()

	var (
		mu   sync.Mutex
		seen []float64
	)

	client := backend.New(backendConfig(server.URL), backend.WithRateListener(func(_ context.Context, rate float64) {
		mu.Lock()
		defer mu.Unlock()

		seen = append(seen, rate)
	}))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool { return fake.pollCount() >= 5 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []float64{12, 15}, seen)

	rate, ok := client.FareRate()
	require.True(t, ok)
	require.InDelta(t, 15.0, rate, 1e-9)
}

// TestRun_PollsImmediately does not wait a full interval for the first poll.
func TestRun_PollsImmediately(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{rates: []string{"9.5"}}
	server := httptest.NewServer(fake)
	defer server.Close()

	cfg := backendConfig(server.URL)
	cfg.PollInterval = time.Hour

	client := backend.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = client.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := client.FareRate()

		return ok
	}, time.Second, 5*time.Millisecond)

	require.True(t, client.Healthy())
}

// TestFetchFareRate_Errors covers transport, status and payload failures.
func TestFetchFareRate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "missing rate",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			},
		},
		{
			name: "garbage",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := backend.New(backendConfig(server.URL)).FetchFareRate(context.Background())
			require.Error(t, err)
		})
	}
}

// TestFetchFareRate_StringRate accepts a quoted number.
func TestFetchFareRate_StringRate(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{rates: []string{`"11.25"`}}
	server := httptest.NewServer(fake)
	defer server.Close()

	rate, err := backend.New(backendConfig(server.URL)).FetchFareRate(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 11.25, rate, 1e-9)
}

// TestNotify_PushesSOS posts the alert with its location and a request id.
func TestNotify_PushesSOS(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{rates: []string{"12"}}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := backend.New(backendConfig(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = client.Run(ctx) }()

	client.Notify(ctx, &alert.Event{
		Source:   alert.SourceSensor,
		Location: &alert.Location{Latitude: 18.5, Longitude: 73.8},
		Status:   alert.StateActive,
	})
	client.Notify(ctx, &alert.Event{Source: alert.SourceButton, Status: alert.StateActive})

	require.Eventually(t, func() bool { return len(fake.pushed()) == 2 }, 2*time.Second, 5*time.Millisecond)

	reports := fake.pushed()
	require.Equal(t, map[string]any{"type": "CRASH_SENSOR", "latitude": 18.5, "longitude": 73.8}, reports[0])
	require.Equal(t, map[string]any{"type": "SOS_BUTTON", "latitude": 0.0, "longitude": 0.0}, reports[1])

	fake.mu.Lock()
	defer fake.mu.Unlock()

	for _, id := range fake.ids {
		_, err := uuid.Parse(id)
		require.NoError(t, err)
	}
}

// TestPushSOS_RejectedStatus reports non-2xx responses.
func TestPushSOS_RejectedStatus(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{rates: []string{"12"}, status: http.StatusBadGateway}
	server := httptest.NewServer(fake)
	defer server.Close()

	err := backend.New(backendConfig(server.URL)).PushSOS(context.Background(), &alert.Event{Source: alert.SourceButton})
	require.ErrorContains(t, err, "502")
}

// TestDisabledClient does nothing without a base URL.
func TestDisabledClient(t *testing.T) {
	t.Parallel()

	client := backend.New(config.Backend{})
	require.False(t, client.Enabled())

	_, err := client.FetchFareRate(context.Background())
	require.ErrorIs(t, err, backend.ErrDisabled)
	require.ErrorIs(t, client.PushSOS(context.Background(), &alert.Event{}), backend.ErrDisabled)

	client.Notify(context.Background(), &alert.Event{Source: alert.SourceButton})

	ctx, cancel := context.WithCancel(context.Background())

	var returned atomic.Bool

	done := make(chan struct{})
	go func() {
		_ = client.Run(ctx)
		returned.Store(true)
		close(done)
	}()

	cancel()
	<-done
	require.True(t, returned.Load())
}
