package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for an orchestrator run.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Logging contains logging configuration.
	Logging LoggingConfig

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string

	// Format specifies the log format (console, json).
	Format string

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool
}

// TracingConfig configures span export. Spans are always mirrored into the
// in-process span store; export is optional.
type TracingConfig struct {
	// Enabled controls whether spans are exported out of process.
	Enabled bool

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string

	// Endpoint is the OTLP gRPC endpoint (host:port).
	Endpoint string

	// Insecure disables TLS for the exporter connection.
	Insecure bool

	// MaxExportBatchSize is the maximum batch size for export.
	MaxExportBatchSize int

	// ExportTimeout is the timeout for trace export.
	ExportTimeout time.Duration

	// Headers are additional headers for the OTLP exporter.
	Headers map[string]string
}

// DefaultConfig returns a configuration with sensible defaults for a local
// orchestrator run: console logging at info level, no span export.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "perfpipe",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			Endpoint:           "localhost:4317",
			Insecure:           true,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("telemetry: service name is required")
	}
	switch c.Tracing.Exporter {
	case "", "none", "otlp", "stdout":
	default:
		return fmt.Errorf("telemetry: unsupported trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("telemetry: otlp exporter requires an endpoint")
	}
	return nil
}
