// Package prometheus implements the prometheus monitoring strategy: it
// periodically scrapes a text exposition endpoint and records every metric
// family as a gauge in the telemetry substrate.
package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel/attribute"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

const monitoringRuntimeKey = "prometheus_monitoring"

func init() {
	registry.Register(registry.Monitoring, "prometheus", registry.Registration{
		NewConfig: func() any { return &Config{} },
		Build: func(cfg any) (any, error) {
			return NewMonitoring(cfg.(*Config)), nil
		},
	})
}

// Config configures the prometheus scraper.
type Config struct {
	// Endpoint is the HTTP URL to scrape.
	Endpoint string `yaml:"endpoint" validate:"required"`

	// Interval is the seconds between scrapes.
	Interval float64 `yaml:"interval"`

	// Count caps the number of scrapes; 0 means unlimited.
	Count int `yaml:"count"`

	// Include lists metric names to keep; empty keeps all.
	Include []string `yaml:"include"`

	// Exclude lists metric names to drop.
	Exclude []string `yaml:"exclude"`
}

type monitorRuntime struct {
	stop chan struct{}
	done chan struct{}
}

// Monitoring scrapes the endpoint on a background worker. All families are
// promoted to gauges for simplicity; histogram and summary families are
// recorded as their _sum and _count series.
type Monitoring struct {
	config *Config
	client *http.Client
}

// NewMonitoring creates the strategy with a default 1s interval.
func NewMonitoring(cfg *Config) *Monitoring {
	if cfg.Interval <= 0 {
		cfg.Interval = 1.0
	}
	return &Monitoring{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Start spawns the scrape worker.
func (m *Monitoring) Start(_ context.Context, c *component.Component, sctx *framework.StepContext) error {
	rt := sctx.Telemetry()
	worker := &monitorRuntime{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.SetRuntimeData(monitoringRuntimeKey, worker)

	logger := sctx.Logger().WithComponent(c.ComponentName())
	interval := time.Duration(m.config.Interval * float64(time.Second))
	name := c.ComponentName()

	go func() {
		defer close(worker.done)

		endSpan := func() {}
		if rt != nil && rt.Tracer != nil {
			_, span := rt.Tracer.StartProducerSpan(context.Background(), "monitor.prometheus",
				attribute.String("component_name", name))
			endSpan = span.End
		}
		defer endSpan()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		scrapes := 0
		for {
			select {
			case <-worker.stop:
				return
			case <-ticker.C:
			}
			if m.config.Count > 0 && scrapes >= m.config.Count {
				return
			}
			scrapes++
			if err := m.scrapeOnce(rt, name); err != nil {
				logger.Debugf("prometheus scrape failed: %v", err)
			}
		}
	}()
	return nil
}

// Stop signals the scrape worker to halt and joins it.
func (m *Monitoring) Stop(_ context.Context, c *component.Component, _ *framework.StepContext) error {
	v, ok := c.Runtime.Get(monitoringRuntimeKey)
	if !ok {
		return nil
	}
	worker, ok := v.(*monitorRuntime)
	if !ok || worker.stop == nil {
		return nil
	}
	select {
	case <-worker.stop:
	default:
		close(worker.stop)
	}
	select {
	case <-worker.done:
	case <-time.After(10 * time.Second):
		return framework.NewTimeoutError("prometheus scrape worker did not stop in time", nil)
	}
	return nil
}

// Collect implements component.MonitoringStrategy; the scraper writes
// samples directly to the telemetry substrate.
func (m *Monitoring) Collect(_ context.Context, _ *component.Component, _ *framework.StepContext) (map[string]any, error) {
	return map[string]any{}, nil
}

func (m *Monitoring) scrapeOnce(rt *telemetry.Runtime, componentName string) error {
	resp, err := m.client.Get(m.config.Endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scrape returned status %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse exposition: %w", err)
	}
	if rt == nil || rt.Metrics == nil {
		return nil
	}

	for famName, mf := range families {
		if !m.keep(famName) {
			continue
		}
		for _, metric := range mf.GetMetric() {
			attrs := map[string]any{"component_name": componentName}
			for _, label := range metric.GetLabel() {
				attrs[label.GetName()] = label.GetValue()
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				rt.Metrics.RecordGauge(famName, metric.GetCounter().GetValue(), attrs)
			case dto.MetricType_GAUGE:
				rt.Metrics.RecordGauge(famName, metric.GetGauge().GetValue(), attrs)
			case dto.MetricType_UNTYPED:
				rt.Metrics.RecordGauge(famName, metric.GetUntyped().GetValue(), attrs)
			case dto.MetricType_HISTOGRAM:
				rt.Metrics.RecordGauge(famName+"_sum", metric.GetHistogram().GetSampleSum(), attrs)
				rt.Metrics.RecordGauge(famName+"_count", float64(metric.GetHistogram().GetSampleCount()), attrs)
			case dto.MetricType_SUMMARY:
				rt.Metrics.RecordGauge(famName+"_sum", metric.GetSummary().GetSampleSum(), attrs)
				rt.Metrics.RecordGauge(famName+"_count", float64(metric.GetSummary().GetSampleCount()), attrs)
			}
		}
	}
	return nil
}

func (m *Monitoring) keep(name string) bool {
	for _, excluded := range m.config.Exclude {
		if name == excluded {
			return false
		}
	}
	if len(m.config.Include) == 0 {
		return true
	}
	for _, included := range m.config.Include {
		if name == included {
			return true
		}
	}
	return false
}

var _ component.MonitoringStrategy = (*Monitoring)(nil)
