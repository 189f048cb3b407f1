// Package hooks implements the generic, strategy-agnostic hooks:
// raise_exception, record_event, run_command, send_http_request,
// ready_check_http and render_template.
package hooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
)

func init() {
	registry.Register(registry.HookStrategy, "raise_exception", registry.Registration{
		NewConfig: func() any { return &RaiseExceptionConfig{} },
		Build: func(cfg any) (any, error) {
			return NewRaiseExceptionHook(cfg.(*RaiseExceptionConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "record_event", registry.Registration{
		NewConfig: func() any { return &RecordEventConfig{} },
		Build: func(cfg any) (any, error) {
			return NewRecordEventHook(cfg.(*RecordEventConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "run_command", registry.Registration{
		NewConfig: func() any { return &RunCommandConfig{} },
		Build: func(cfg any) (any, error) {
			return NewRunCommandHook(cfg.(*RunCommandConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "send_http_request", registry.Registration{
		NewConfig: func() any { return &SendHTTPRequestConfig{} },
		Build: func(cfg any) (any, error) {
			return NewSendHTTPRequestHook(cfg.(*SendHTTPRequestConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "ready_check_http", registry.Registration{
		NewConfig: func() any { return &ReadyCheckConfig{} },
		Build: func(cfg any) (any, error) {
			return NewReadyCheckHook(cfg.(*ReadyCheckConfig)), nil
		},
	})
}

// RaiseExceptionConfig configures the raise_exception hook.
type RaiseExceptionConfig struct {
	Message string `yaml:"message"`
}

// RaiseExceptionHook fails on purpose with the configured message. Useful
// for testing error propagation and for guard rails in suites.
type RaiseExceptionHook struct {
	framework.BaseHook
	config *RaiseExceptionConfig
}

// NewRaiseExceptionHook creates the hook.
func NewRaiseExceptionHook(cfg *RaiseExceptionConfig) *RaiseExceptionHook {
	if cfg.Message == "" {
		cfg.Message = "raise_exception hook triggered"
	}
	return &RaiseExceptionHook{
		BaseHook: framework.BaseHook{HookName: "raise_exception"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *RaiseExceptionHook) Execute(_ context.Context, _ *framework.HookContext) error {
	return fmt.Errorf("%s", h.config.Message)
}

// RecordEventConfig configures the record_event hook.
type RecordEventConfig struct {
	Name       string         `yaml:"name" validate:"required"`
	Attributes map[string]any `yaml:"attributes"`
}

// RecordEventHook emits a named span event on the enclosing framework
// element's span, merged with the context metadata. Explicit attributes
// override metadata keys. Reporting hooks use these events to bracket
// observation windows.
type RecordEventHook struct {
	framework.BaseHook
	config *RecordEventConfig
}

// NewRecordEventHook creates the hook.
func NewRecordEventHook(cfg *RecordEventConfig) *RecordEventHook {
	return &RecordEventHook{
		BaseHook: framework.BaseHook{HookName: "record_event"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *RecordEventHook) Execute(_ context.Context, hctx *framework.HookContext) error {
	target := framework.Context(hctx)
	if parent := hctx.Parent(); parent != nil {
		target = parent
	}
	target.RecordEvent(h.config.Name, h.config.Attributes)
	return nil
}

// RunCommandConfig configures the run_command hook.
type RunCommandConfig struct {
	Command        string  `yaml:"command" validate:"required"`
	TimeoutSeconds float64 `yaml:"timeout"`
}

// RunCommandHook runs a shell command, logging its combined output. A
// non-zero exit fails the hook with the output attached.
type RunCommandHook struct {
	framework.BaseHook
	config *RunCommandConfig
}

// NewRunCommandHook creates the hook with a default 60s timeout.
func NewRunCommandHook(cfg *RunCommandConfig) *RunCommandHook {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	return &RunCommandHook{
		BaseHook: framework.BaseHook{HookName: "run_command"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *RunCommandHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(h.config.TimeoutSeconds*float64(time.Second)))
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", h.config.Command)
	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		hctx.Logger().Debugf("command output:\n%s", strings.TrimRight(string(output), "\n"))
	}
	if err != nil {
		return framework.NewStrategyError(
			fmt.Sprintf("command %q failed: %s", h.config.Command, strings.TrimSpace(string(output))), err)
	}
	return nil
}

// SendHTTPRequestConfig configures the send_http_request hook.
type SendHTTPRequestConfig struct {
	URL            string            `yaml:"url" validate:"required"`
	Method         string            `yaml:"method"`
	Headers        map[string]string `yaml:"headers"`
	Body           string            `yaml:"body"`
	ExpectedStatus int               `yaml:"expected_status"`
	TimeoutSeconds float64           `yaml:"timeout"`
}

// SendHTTPRequestHook performs a single HTTP request and checks the
// response status.
type SendHTTPRequestHook struct {
	framework.BaseHook
	config *SendHTTPRequestConfig
}

// NewSendHTTPRequestHook creates the hook; the method defaults to GET and
// the timeout to 30s.
func NewSendHTTPRequestHook(cfg *SendHTTPRequestConfig) *SendHTTPRequestHook {
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	return &SendHTTPRequestHook{
		BaseHook: framework.BaseHook{HookName: "send_http_request"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *SendHTTPRequestHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	client := &http.Client{Timeout: time.Duration(h.config.TimeoutSeconds * float64(time.Second))}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(h.config.Method), h.config.URL, strings.NewReader(h.config.Body))
	if err != nil {
		return framework.NewStrategyError("failed to build http request", err)
	}
	for k, v := range h.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return framework.NewStrategyError(fmt.Sprintf("http request to %s failed", h.config.URL), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if h.config.ExpectedStatus > 0 {
		if resp.StatusCode != h.config.ExpectedStatus {
			return framework.NewStrategyError(
				fmt.Sprintf("unexpected status %d from %s (want %d)", resp.StatusCode, h.config.URL, h.config.ExpectedStatus), nil)
		}
		return nil
	}
	if resp.StatusCode >= 400 {
		return framework.NewStrategyError(
			fmt.Sprintf("http request to %s returned status %d", h.config.URL, resp.StatusCode), nil)
	}
	return nil
}

// ReadyCheckConfig configures the ready_check_http hook.
type ReadyCheckConfig struct {
	URL             string  `yaml:"url" validate:"required"`
	Method          string  `yaml:"method"`
	ExpectedStatus  int     `yaml:"expected_status"`
	BodyContains    string  `yaml:"body_contains"`
	TimeoutSeconds  float64 `yaml:"timeout"`
	IntervalSeconds float64 `yaml:"interval"`
}

// ReadyCheckHook polls a URL until the expected status (and optional body
// substring) is observed within the deadline; on expiry it sets the context
// status to timeout and fails.
type ReadyCheckHook struct {
	framework.BaseHook
	config *ReadyCheckConfig
}

// NewReadyCheckHook creates the hook with defaults of GET, status 200,
// timeout 30s, interval 1s.
func NewReadyCheckHook(cfg *ReadyCheckConfig) *ReadyCheckHook {
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.ExpectedStatus <= 0 {
		cfg.ExpectedStatus = http.StatusOK
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 1
	}
	return &ReadyCheckHook{
		BaseHook: framework.BaseHook{HookName: "ready_check_http"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *ReadyCheckHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	client := &http.Client{Timeout: time.Duration(h.config.IntervalSeconds * 2 * float64(time.Second))}
	deadline := time.Now().Add(time.Duration(h.config.TimeoutSeconds * float64(time.Second)))
	logger := hctx.Logger()

	for time.Now().Before(deadline) {
		if h.ready(ctx, client, logger) {
			return nil
		}
		select {
		case <-time.After(time.Duration(h.config.IntervalSeconds * float64(time.Second))):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	hctx.SetStatus(framework.StatusTimeout)
	return framework.NewTimeoutError(
		fmt.Sprintf("%s was not ready within %.0fs", h.config.URL, h.config.TimeoutSeconds), nil)
}

func (h *ReadyCheckHook) ready(ctx context.Context, client *http.Client, logger interface{ Debugf(string, ...interface{}) }) bool {
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(h.config.Method), h.config.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Debugf("ready check request failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != h.config.ExpectedStatus {
		logger.Debugf("ready check got status %d (want %d)", resp.StatusCode, h.config.ExpectedStatus)
		return false
	}
	if h.config.BodyContains != "" && !strings.Contains(string(body), h.config.BodyContains) {
		logger.Debugf("ready check body does not contain %q yet", h.config.BodyContains)
		return false
	}
	return true
}
