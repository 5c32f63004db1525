// Package observability provides OpenTelemetry-based tracing, metrics, and
// structured logging for trainkit processes.
package observability

import (
	"io"
	"log/slog"

	"github.com/Sumatoshi-tech/trainkit/pkg/config"
)

const (
	// defaultServiceName is the default OTel service name.
	defaultServiceName = "trainkit"

	// defaultShutdownTimeoutSec is the default shutdown timeout in seconds.
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the semantic version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment (e.g. "production", "dev").
	Environment string

	// Rank is the process rank within its training group.
	Rank int

	// OTLPEndpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	// Empty disables export.
	OTLPEndpoint string

	// OTLPHeaders are additional gRPC metadata headers for the OTLP exporter.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the OTLP gRPC connection.
	OTLPInsecure bool

	// SampleRatio is the trace sampling ratio (0.0 to 1.0).
	// Zero keeps parent-based sampling with an always-on root.
	SampleRatio float64

	// Prometheus attaches a scrape reader to the meter provider and exposes
	// it as [Providers.MetricsHandler].
	Prometheus bool

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// LogJSON enables JSON-formatted log output.
	LogJSON bool

	// LogOutput receives log records. Nil means stderr.
	LogOutput io.Writer

	// ShutdownTimeoutSec is the maximum seconds to wait for flush on shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config with sensible defaults for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

// FromConfig derives observability settings from the loaded application config.
func FromConfig(cfg *config.Config, version string) Config {
	out := DefaultConfig()
	out.ServiceVersion = version
	out.Environment = cfg.Telemetry.Environment
	out.Rank = cfg.Cluster.Rank
	out.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	out.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	out.Prometheus = cfg.Telemetry.Prometheus
	out.LogJSON = cfg.Logging.JSON

	level, err := cfg.Logging.SlogLevel()
	if err == nil {
		out.LogLevel = level
	}

	return out
}
