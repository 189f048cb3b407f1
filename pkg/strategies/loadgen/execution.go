// Package loadgen implements the pipeline_perf_loadgen execution strategy:
// it drives a load generator binary through its HTTP control endpoint.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
)

const defaultEndpoint = "http://localhost:5001/"

func init() {
	registry.Register(registry.Execution, "pipeline_perf_loadgen", registry.Registration{
		NewConfig: func() any { return &Config{} },
		Build: func(cfg any) (any, error) {
			return NewExecution(cfg.(*Config)), nil
		},
	})
}

// Config holds the load generation parameters POSTed to the control
// endpoint.
type Config struct {
	Endpoint               string  `yaml:"endpoint"`
	Threads                int     `yaml:"threads"`
	TargetRate             int     `yaml:"target_rate"`
	BodySize               int     `yaml:"body_size"`
	NumAttributes          int     `yaml:"num_attributes"`
	AttributeValueSize     int     `yaml:"attribute_value_size"`
	BatchSize              int     `yaml:"batch_size"`
	TCPConnectionPerThread bool    `yaml:"tcp_connection_per_thread"`
	TimeoutSeconds         float64 `yaml:"timeout"`
}

// Execution starts and stops a load generator's workload over HTTP.
type Execution struct {
	config *Config
	client *http.Client
}

// NewExecution creates the strategy with the loadgen defaults.
func NewExecution(cfg *Config) *Execution {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.BodySize <= 0 {
		cfg.BodySize = 25
	}
	if cfg.NumAttributes <= 0 {
		cfg.NumAttributes = 2
	}
	if cfg.AttributeValueSize <= 0 {
		cfg.AttributeValueSize = 15
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	return &Execution{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds * float64(time.Second))},
	}
}

// Start POSTs /start with the configured load parameters.
func (e *Execution) Start(ctx context.Context, c *component.Component, sctx *framework.StepContext) error {
	payload := map[string]any{
		"threads":                   e.config.Threads,
		"body_size":                 e.config.BodySize,
		"num_attributes":            e.config.NumAttributes,
		"attribute_value_size":      e.config.AttributeValueSize,
		"batch_size":                e.config.BatchSize,
		"tcp_connection_per_thread": e.config.TCPConnectionPerThread,
	}
	if e.config.TargetRate > 0 {
		payload["target_rate"] = e.config.TargetRate
	}
	sctx.Logger().WithComponent(c.ComponentName()).Infof("starting load generation at %s", e.config.Endpoint)
	return e.post(ctx, "start", payload)
}

// Stop POSTs /stop to halt the workload.
func (e *Execution) Stop(ctx context.Context, c *component.Component, sctx *framework.StepContext) error {
	sctx.Logger().WithComponent(c.ComponentName()).Info("stopping load generation")
	return e.post(ctx, "stop", map[string]any{})
}

func (e *Execution) post(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return framework.NewStrategyError("failed to encode loadgen payload", err)
	}
	url := strings.TrimRight(e.config.Endpoint, "/") + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return framework.NewStrategyError("failed to build loadgen request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return framework.NewStrategyError(fmt.Sprintf("loadgen %s request failed", path), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return framework.NewStrategyError(fmt.Sprintf("loadgen %s returned status %d", path, resp.StatusCode), nil)
	}
	return nil
}

var _ component.ExecutionStrategy = (*Execution)(nil)
