// Package process implements the OS-process deployment strategy, the
// ensure_process liveness hook and the procfs-based process monitoring
// strategy.
package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
)

// RuntimeKey is the component runtime namespace for process state.
const RuntimeKey = "process"

const stopGraceSeconds = 10

func init() {
	registry.Register(registry.Deployment, "process", registry.Registration{
		NewConfig: func() any { return &Config{} },
		Build: func(cfg any) (any, error) {
			return NewDeployment(cfg.(*Config)), nil
		},
	})
	registry.Register(registry.HookStrategy, "ensure_process", registry.Registration{
		NewConfig: func() any { return &EnsureProcessConfig{} },
		Build: func(cfg any) (any, error) {
			return NewEnsureProcessHook(cfg.(*EnsureProcessConfig)), nil
		},
	})
}

// Config holds process deployment settings for a component.
type Config struct {
	Command     string            `yaml:"command" validate:"required"`
	Environment map[string]string `yaml:"environment"`
}

// Runtime is the per-component process runtime state.
type Runtime struct {
	// PID of the spawned shell subprocess.
	PID int

	// Logs holds the captured stdout/stderr lines, populated on stop and by
	// ensure_process on early exit.
	Logs []string

	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	done   chan struct{}
	exit   error
}

// Exited reports whether the subprocess has terminated.
func (r *Runtime) Exited() bool {
	if r.done == nil {
		return true
	}
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// DrainLogs captures the buffered stdout/stderr into Logs.
func (r *Runtime) DrainLogs() {
	var lines []string
	if r.stdout != nil && r.stdout.Len() > 0 {
		for _, line := range strings.Split(strings.TrimRight(r.stdout.String(), "\n"), "\n") {
			lines = append(lines, "stdout: "+line)
		}
	}
	if r.stderr != nil && r.stderr.Len() > 0 {
		for _, line := range strings.Split(strings.TrimRight(r.stderr.String(), "\n"), "\n") {
			lines = append(lines, "stderr: "+line)
		}
	}
	r.Logs = lines
}

// componentRuntime returns the component's process runtime, creating the
// zero value when absent.
func componentRuntime(c *component.Component) *Runtime {
	return c.GetOrCreateRuntime(RuntimeKey, func() any {
		return &Runtime{}
	}).(*Runtime)
}

// Deployment spawns the component as a shell subprocess on the local host.
type Deployment struct {
	config *Config
}

// NewDeployment creates the strategy from its config.
func NewDeployment(cfg *Config) *Deployment {
	return &Deployment{config: cfg}
}

// DefaultHooks installs ensure_process post-deploy so an immediately-exiting
// command fails the deploy with its output captured.
func (d *Deployment) DefaultHooks() map[string][]framework.Hook {
	return map[string][]framework.Hook{
		component.PhaseDeploy.Post(): {
			NewEnsureProcessHook(&EnsureProcessConfig{}),
		},
	}
}

// Start spawns the shell subprocess with the merged environment and records
// its pid and output pipes in the component runtime.
func (d *Deployment) Start(_ context.Context, c *component.Component, sctx *framework.StepContext) error {
	cmd := exec.Command("sh", "-c", d.config.Command)
	env := os.Environ()
	for k, v := range d.config.Environment {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return framework.NewStrategyError(fmt.Sprintf("failed to start process for %s", c.ComponentName()), err)
	}

	runtime := componentRuntime(c)
	runtime.PID = cmd.Process.Pid
	runtime.cmd = cmd
	runtime.stdout = &stdout
	runtime.stderr = &stderr
	runtime.done = make(chan struct{})
	c.SetRuntimeData(RuntimeKey, runtime)

	go func() {
		runtime.exit = cmd.Wait()
		close(runtime.done)
	}()

	sctx.Logger().WithComponent(c.ComponentName()).Infof("started process pid %d", runtime.PID)
	return nil
}

// Stop terminates the subprocess: SIGTERM, then SIGKILL after the grace
// period. Any remaining stdout/stderr is collected into the runtime logs.
func (d *Deployment) Stop(_ context.Context, c *component.Component, sctx *framework.StepContext) error {
	runtime := componentRuntime(c)
	if runtime.cmd == nil || runtime.cmd.Process == nil {
		return framework.NewStrategyError(fmt.Sprintf("no process recorded for component %s", c.ComponentName()), nil)
	}
	logger := sctx.Logger().WithComponent(c.ComponentName())

	if !runtime.Exited() {
		if err := runtime.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Warnf("failed to signal process %d: %v", runtime.PID, err)
		}
		select {
		case <-runtime.done:
		case <-time.After(stopGraceSeconds * time.Second):
			logger.Warnf("process %d did not exit after SIGTERM, killing", runtime.PID)
			_ = runtime.cmd.Process.Kill()
			<-runtime.done
		}
	}

	runtime.DrainLogs()
	c.SetRuntimeData(RuntimeKey, runtime)
	logger.Debugf("process %d stopped", runtime.PID)
	return nil
}

// EnsureProcessConfig configures the ensure_process hook.
type EnsureProcessConfig struct {
	// DelaySeconds is how long to wait before checking liveness.
	DelaySeconds float64 `yaml:"delay"`
}

// EnsureProcessHook sleeps for the configured delay and then verifies the
// deployed process is still alive; on early exit it drains the output into
// the runtime logs and fails.
type EnsureProcessHook struct {
	framework.BaseHook
	config *EnsureProcessConfig
}

// NewEnsureProcessHook creates the hook with a default 1s delay.
func NewEnsureProcessHook(cfg *EnsureProcessConfig) *EnsureProcessHook {
	if cfg.DelaySeconds <= 0 {
		cfg.DelaySeconds = 1.0
	}
	return &EnsureProcessHook{
		BaseHook: framework.BaseHook{HookName: "ensure_process"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *EnsureProcessHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	comp := hctx.StepComponent()
	managed, ok := comp.(*component.Component)
	if !ok {
		return framework.NewAssertionError("no component bound to the current step", nil)
	}
	runtime := componentRuntime(managed)
	if runtime.PID == 0 {
		return framework.NewStrategyError("no process recorded to check", nil)
	}

	select {
	case <-time.After(time.Duration(h.config.DelaySeconds * float64(time.Second))):
	case <-ctx.Done():
		return ctx.Err()
	}

	if runtime.Exited() {
		runtime.DrainLogs()
		managed.SetRuntimeData(RuntimeKey, runtime)
		return framework.NewStrategyError(
			fmt.Sprintf("process %d exited during startup (%v); output:\n%s",
				runtime.PID, runtime.exit, strings.Join(runtime.Logs, "\n")), nil)
	}
	return nil
}
