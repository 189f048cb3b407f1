package telemetry

import "context"

// Runtime bundles the telemetry services shared by a suite run: the logger,
// the tracer, and the in-process metric and span stores. It is stored in the
// suite runtime bag so every context and strategy can reach it.
type Runtime struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *MetricStore
	Spans   *SpanStore
	Config  *Config
}

// RuntimeKey is the suite runtime bag namespace holding the *Runtime.
const RuntimeKey = "telemetry"

// NewRuntime initializes the telemetry runtime from configuration.
func NewRuntime(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	spans := NewSpanStore()
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, spans)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: NewMetricStore(),
		Spans:   spans,
		Config:  cfg,
	}, nil
}

// NewTestRuntime returns a runtime with a nop logger and no export,
// suitable for tests.
func NewTestRuntime() *Runtime {
	spans := NewSpanStore()
	tracer, _ := NewTracer(TracingConfig{}, "perfpipe-test", "test", spans)
	return &Runtime{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: NewMetricStore(),
		Spans:   spans,
		Config:  DefaultConfig(),
	}
}

// Shutdown flushes and stops the tracer.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r.Tracer != nil {
		return r.Tracer.Shutdown(ctx)
	}
	return nil
}
