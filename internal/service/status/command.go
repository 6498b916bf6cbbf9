package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/crashguard/internal/api/grpc/health"
	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/logger"
	"github.com/oshokin/crashguard/internal/service/common"
)

// Options controls the status query.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Address overrides the health endpoint from the configuration.
	Address string
	// Timeout specifies the per-RPC timeout duration.
	Timeout time.Duration
	// JSON prints a JSON object instead of a table.
	JSON bool
	// Watch repeats the query on this interval when positive.
	Watch time.Duration
}

// daemonKey names the daemon's own status in the output.
const daemonKey = "daemon"

// statusUnknown is printed for components the daemon does not report.
const statusUnknown = "UNKNOWN"

var (
	// errNoAddress is returned when neither the flag nor the configuration names an endpoint.
	errNoAddress = errors.New("health endpoint address is not configured")
	// ErrUnhealthy is returned when the daemon or a component is not serving.
	ErrUnhealthy = errors.New("crashguard is not healthy")
)

// Report is the availability of the daemon and its components.
type Report struct {
	// Daemon is the overall serving status.
	Daemon string
	// Components maps health service names to serving statuses.
	Components map[string]string
}

// Healthy reports whether everything is SERVING.
func (r *Report) Healthy() bool {
	if r.Daemon != healthpb.HealthCheckResponse_SERVING.String() {
		return false
	}

	for _, s := range r.Components {
		if s != healthpb.HealthCheckResponse_SERVING.String() {
			return false
		}
	}

	return true
}

// Run queries the daemon once, or repeatedly in watch mode, and writes the report to out.
// A single query returns ErrUnhealthy when anything is not serving.
func Run(ctx context.Context, opts *Options, out io.Writer) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "crashguard-status")

	address, err := resolveAddress(opts)
	if err != nil {
		return err
	}

	client, err := common.Dial(ctx, address, common.WithCallTimeout(opts.Timeout))
	if err != nil {
		return fmt.Errorf("dial daemon: %w", err)
	}

	// Ensure connection cleanup on function exit.
	defer func() {
		_ = client.Close()
	}()

	if opts.Watch <= 0 {
		return queryAndPrint(ctx, client, opts.JSON, out)
	}

	logger.InfoKV(ctx, "Watching daemon health", "address", address, "interval", opts.Watch.String())

	ticker := time.NewTicker(opts.Watch)
	defer ticker.Stop()

	for {
		if err = queryAndPrint(ctx, client, opts.JSON, out); err != nil && !errors.Is(err, ErrUnhealthy) {
			logger.ErrorKV(ctx, "Health query failed", "error", err)
		}

		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")

			return nil
		case <-ticker.C:
		}
	}
}

// Query collects the daemon and component statuses.
func Query(ctx context.Context, client *common.Client) (*Report, error) {
	daemon, err := client.Check(ctx, "")
	if err != nil {
		return nil, err
	}

	report := &Report{
		Daemon:     daemon.GetStatus().String(),
		Components: make(map[string]string, len(health.Components())),
	}

	for _, service := range health.Components() {
		resp, checkErr := client.Check(ctx, service)

		switch {
		case checkErr == nil:
			report.Components[service] = resp.GetStatus().String()
		case grpcstatus.Code(errors.Unwrap(checkErr)) == codes.NotFound:
			report.Components[service] = statusUnknown
		default:
			return nil, checkErr
		}
	}

	return report, nil
}

func queryAndPrint(ctx context.Context, client *common.Client, asJSON bool, out io.Writer) error {
	report, err := Query(ctx, client)
	if err != nil {
		return err
	}

	if asJSON {
		err = WriteJSON(out, report)
	} else {
		err = WriteTable(out, report)
	}

	if err != nil {
		return err
	}

	if !report.Healthy() {
		return ErrUnhealthy
	}

	return nil
}

// WriteTable prints one aligned line per service.
func WriteTable(out io.Writer, report *Report) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "%s\t%s\n", daemonKey, report.Daemon)

	for _, service := range health.Components() {
		s, ok := report.Components[service]
		if !ok {
			s = statusUnknown
		}

		fmt.Fprintf(w, "%s\t%s\n", service, s)
	}

	return w.Flush()
}

// WriteJSON prints the report as a JSON object keyed by service name.
func WriteJSON(out io.Writer, report *Report) error {
	fields := make(map[string]any, len(report.Components)+1)
	fields[daemonKey] = report.Daemon

	for service, s := range report.Components {
		fields[service] = s
	}

	message, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("build status message: %w", err)
	}

	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if _, err = fmt.Fprintln(out, string(data)); err != nil {
		return fmt.Errorf("write status: %w", err)
	}

	return nil
}

// resolveAddress picks the flag override or the configured listen address.
// A listen address without a host is queried on localhost.
func resolveAddress(opts *Options) (string, error) {
	address := opts.Address

	if address == "" {
		settings, err := config.Load(opts.ConfigPath)
		if err != nil {
			return "", fmt.Errorf("load configuration: %w", err)
		}

		address = settings.Status.ListenAddress
	}

	if address == "" {
		return "", errNoAddress
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("invalid health endpoint %q: %w", address, err)
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return net.JoinHostPort(host, port), nil
}
