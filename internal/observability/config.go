package observability

import "log/slog"

// defaultShutdownTimeoutSec bounds telemetry flush on shutdown.
const defaultShutdownTimeoutSec = 10

// Config controls telemetry and logging initialization.
type Config struct {
	// ServiceName appears as service.name on resources and as the
	// "server" label on routing metrics.
	ServiceName string

	// ServiceVersion appears as service.version when non-empty.
	ServiceVersion string

	// Environment appears as deployment.environment when non-empty.
	Environment string

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty selects
	// no-op trace and OTLP-metric providers (the Prometheus scrape
	// handler is independent of this setting).
	OTLPEndpoint string

	// OTLPInsecure disables TLS on the OTLP connection.
	OTLPInsecure bool

	// OTLPHeaders are extra headers sent to the collector.
	OTLPHeaders map[string]string

	// LogLevel is the minimum slog level.
	LogLevel slog.Level

	// LogJSON selects the JSON handler over text.
	LogJSON bool

	// SampleRatio sets a parent-based TraceIDRatio sampler when > 0.
	SampleRatio float64

	// ShutdownTimeoutSec bounds the telemetry flush on shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a config suitable for tests and local runs:
// no-op exporters, text logs at info.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "omniroute",
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
