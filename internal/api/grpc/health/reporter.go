package health

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/crashguard/internal/logger"
)

// Health service names of the crashguard components.
const (
	ServiceSensor  = "crashguard.sensor"
	ServiceAlert   = "crashguard.alert"
	ServiceModem   = "crashguard.modem"
	ServiceBackend = "crashguard.backend"
)

// DefaultRefreshInterval is how often probes are evaluated.
const DefaultRefreshInterval = time.Second

// Components lists the component services in display order.
func Components() []string {
	return []string{ServiceSensor, ServiceAlert, ServiceModem, ServiceBackend}
}

// Probe reports whether a component is available.
type Probe func(ctx context.Context) bool

// Reporter keeps a gRPC health server in sync with component probes.
type Reporter struct {
	// server holds the published statuses.
	server *grpchealth.Server
	// interval is the refresh period.
	interval time.Duration

	// mu guards probes and last.
	mu sync.Mutex
	// probes maps service names to their probes.
	probes map[string]Probe
	// last is the previously published availability per service.
	last map[string]bool
}

// NewReporter creates a reporter refreshing every interval.
func NewReporter(interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	return &Reporter{
		server:   grpchealth.NewServer(),
		interval: interval,
		probes:   make(map[string]Probe),
		last:     make(map[string]bool),
	}
}

// Register adds a component probe. Until the first refresh the component reports NOT_SERVING.
func (r *Reporter) Register(service string, probe Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.probes[service] = probe
	r.server.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Server returns the health service implementation.
func (r *Reporter) Server() healthpb.HealthServer {
	return r.server
}

// Refresh evaluates every probe once and publishes the results.
// Probes run without holding the lock.
func (r *Reporter) Refresh(ctx context.Context) {
	probes := r.snapshot()

	services := make([]string, 0, len(probes))
	for service := range probes {
		services = append(services, service)
	}

	sort.Strings(services)

	for _, service := range services {
		r.publish(ctx, service, probes[service](ctx))
	}

	r.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

func (r *Reporter) snapshot() map[string]Probe {
	r.mu.Lock()
	defer r.mu.Unlock()

	return maps.Clone(r.probes)
}

func (r *Reporter) publish(ctx context.Context, service string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, seen := r.last[service]; !seen || previous != available {
		logger.InfoKV(ctx, "Component availability changed", "service", service, "available", available)
	}

	r.last[service] = available
	r.server.SetServingStatus(service, servingStatus(available))
}

// Run refreshes probes until ctx is cancelled, then marks every service NOT_SERVING.
func (r *Reporter) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "health")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Refresh(ctx)

		select {
		case <-ctx.Done():
			r.server.Shutdown()

			return nil
		case <-ticker.C:
		}
	}
}

func servingStatus(available bool) healthpb.HealthCheckResponse_ServingStatus {
	if available {
		return healthpb.HealthCheckResponse_SERVING
	}

	return healthpb.HealthCheckResponse_NOT_SERVING
}
