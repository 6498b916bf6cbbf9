package integration

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/service/daemon"
	"github.com/oshokin/crashguard/internal/service/status"
)

// alertServing matches the state machine line once probes have run.
var alertServing = regexp.MustCompile(`crashguard\.alert\s+SERVING`)

// reservePort returns a free local address.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// startDaemon runs a simulated daemon with its health endpoint on addr.
// Returns a stop function that waits for shutdown.
func startDaemon(t *testing.T, addr string) (stop func()) {
	t.Helper()

	// Create cancellable context for daemon lifecycle.
	ctx, cancel := context.WithCancel(context.Background())

	// Nothing answers on the modem ports, so the modem stays unavailable.
	cfg := config.Default()
	cfg.Sensor.Simulate = true
	cfg.Modem.Port = filepath.Join(t.TempDir(), "ttyNONE")
	cfg.Modem.PortGlob = filepath.Join(t.TempDir(), "ttyNONE*")
	cfg.Modem.FallbackPorts = []string{filepath.Join(t.TempDir(), "ttyNONE")}
	cfg.Status.ListenAddress = addr

	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, config.Save(cfgPath, cfg))

	done := make(chan error, 1)

	// Start daemon in background goroutine.
	go func() {
		done <- daemon.Run(ctx, &daemon.Options{ConfigPath: cfgPath, AllowMultiple: true})
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

// TestDaemon_StatusReportsComponents queries a running daemon the way crashguard-status does.
func TestDaemon_StatusReportsComponents(t *testing.T) {
	t.Parallel()

	addr := reservePort(t)

	stop := startDaemon(t, addr)
	defer stop()

	var out bytes.Buffer

	// The endpoint comes up asynchronously and probes refresh every second.
	require.Eventually(t, func() bool {
		out.Reset()

		err := status.Run(context.Background(), &status.Options{Address: addr, Timeout: time.Second}, &out)

		return err != nil && alertServing.Match(out.Bytes())
	}, 5*time.Second, 100*time.Millisecond)

	text := out.String()
	require.Regexp(t, `daemon\s+SERVING`, text)
	require.Regexp(t, `crashguard\.alert\s+SERVING`, text)
	require.Regexp(t, `crashguard\.sensor\s+NOT_SERVING`, text)
	require.Regexp(t, `crashguard\.modem\s+NOT_SERVING`, text)
	require.Regexp(t, `crashguard\.backend\s+NOT_SERVING`, text)
}
