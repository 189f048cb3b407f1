package docker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
)

func init() {
	registry.Register(registry.HookStrategy, "tidy_existing_container", registry.Registration{
		NewConfig: func() any { return &TidyExistingContainerConfig{} },
		Build: func(cfg any) (any, error) {
			return NewTidyExistingContainerHook(cfg.(*TidyExistingContainerConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "create_docker_network", registry.Registration{
		NewConfig: func() any { return &NetworkHookConfig{} },
		Build: func(cfg any) (any, error) {
			return NewCreateNetworkHook(cfg.(*NetworkHookConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "delete_docker_network", registry.Registration{
		NewConfig: func() any { return &NetworkHookConfig{} },
		Build: func(cfg any) (any, error) {
			return NewDeleteNetworkHook(cfg.(*NetworkHookConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "build_docker_image", registry.Registration{
		NewConfig: func() any { return &BuildImageConfig{} },
		Build: func(cfg any) (any, error) {
			return NewBuildImageHook(cfg.(*BuildImageConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "build_docker_images", registry.Registration{
		NewConfig: func() any { return &BuildImageConfig{} },
		Build: func(cfg any) (any, error) {
			return NewBuildImagesHook(cfg.(*BuildImageConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "wait_for_status", registry.Registration{
		NewConfig: func() any { return &WaitForStatusConfig{} },
		Build: func(cfg any) (any, error) {
			return NewWaitForStatusHook(cfg.(*WaitForStatusConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "get_docker_logs", registry.Registration{
		NewConfig: func() any { return &GetLogsConfig{} },
		Build: func(cfg any) (any, error) {
			return NewGetLogsHook(cfg.(*GetLogsConfig)), nil
		},
	})
	registry.Register(registry.HookStrategy, "print_container_logs", registry.Registration{
		NewConfig: func() any { return &PrintLogsConfig{} },
		Build: func(cfg any) (any, error) {
			return NewPrintLogsHook(cfg.(*PrintLogsConfig)), nil
		},
	})
}

// TidyExistingContainerConfig configures the tidy_existing_container hook.
// It has no fields; the container name derives from the component.
type TidyExistingContainerConfig struct{}

// TidyExistingContainerHook force-removes any existing container sharing the
// component's sanitized name, so a re-run never collides with leftovers.
type TidyExistingContainerHook struct {
	framework.BaseHook
	config *TidyExistingContainerConfig
}

// NewTidyExistingContainerHook creates the hook.
func NewTidyExistingContainerHook(cfg *TidyExistingContainerConfig) *TidyExistingContainerHook {
	return &TidyExistingContainerHook{
		BaseHook: framework.BaseHook{HookName: "tidy_existing_container"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *TidyExistingContainerHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	comp, err := stepComponent(hctx)
	if err != nil {
		return err
	}
	cli, err := Client(hctx)
	if err != nil {
		return err
	}

	name := SanitizeName(comp.ComponentName())
	existing, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return framework.NewStrategyError("failed to list containers", err)
	}
	for _, ctr := range existing {
		hctx.Logger().Debugf("removing stale container %s", ctr.ID)
		if err := cli.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{Force: true}); err != nil {
			return framework.NewStrategyError(fmt.Sprintf("failed to remove stale container %s", ctr.ID), err)
		}
	}
	return nil
}

// NetworkHookConfig configures the docker network hooks. When Network is
// empty the component's deployment network is used.
type NetworkHookConfig struct {
	Network string `yaml:"network"`
}

func (c *NetworkHookConfig) resolve(comp *component.Component) string {
	if c.Network != "" {
		return c.Network
	}
	if cfg, ok := deploymentConfig(comp); ok {
		return cfg.Network
	}
	return ""
}

// CreateNetworkHook creates the component's network if absent and marks it
// as created by this run, so teardown only deletes what it created.
type CreateNetworkHook struct {
	framework.BaseHook
	config *NetworkHookConfig
}

// NewCreateNetworkHook creates the hook.
func NewCreateNetworkHook(cfg *NetworkHookConfig) *CreateNetworkHook {
	return &CreateNetworkHook{
		BaseHook: framework.BaseHook{HookName: "create_docker_network"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *CreateNetworkHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	comp, err := stepComponent(hctx)
	if err != nil {
		return err
	}
	netName := h.config.resolve(comp)
	if netName == "" {
		hctx.Logger().Debug("default network in use, nothing to create")
		return nil
	}
	cli, err := Client(hctx)
	if err != nil {
		return err
	}

	_, err = cli.NetworkInspect(ctx, netName, network.InspectOptions{})
	if err == nil {
		hctx.Logger().Debugf("network %s already exists", netName)
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return framework.NewStrategyError(fmt.Sprintf("failed to inspect network %s", netName), err)
	}

	if _, err := cli.NetworkCreate(ctx, netName, network.CreateOptions{Driver: "bridge"}); err != nil {
		return framework.NewStrategyError(fmt.Sprintf("failed to create network %s", netName), err)
	}
	runtime := componentRuntime(comp)
	runtime.NetworkCreated = true
	comp.SetRuntimeData(RuntimeKey, runtime)
	hctx.Logger().Infof("created network %s", netName)
	return nil
}

// DeleteNetworkHook removes the component's network, but only when this run
// created it.
type DeleteNetworkHook struct {
	framework.BaseHook
	config *NetworkHookConfig
}

// NewDeleteNetworkHook creates the hook.
func NewDeleteNetworkHook(cfg *NetworkHookConfig) *DeleteNetworkHook {
	return &DeleteNetworkHook{
		BaseHook: framework.BaseHook{HookName: "delete_docker_network"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *DeleteNetworkHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	comp, err := stepComponent(hctx)
	if err != nil {
		return err
	}
	netName := h.config.resolve(comp)
	if netName == "" {
		return nil
	}
	runtime := componentRuntime(comp)
	if !runtime.NetworkCreated {
		hctx.Logger().Debugf("network %s pre-existed, skipping removal", netName)
		return nil
	}
	cli, err := Client(hctx)
	if err != nil {
		return err
	}
	if err := cli.NetworkRemove(ctx, netName); err != nil && !errdefs.IsNotFound(err) {
		return framework.NewStrategyError(fmt.Sprintf("failed to remove network %s", netName), err)
	}
	hctx.Logger().Infof("removed network %s", netName)
	return nil
}

// BuildImageConfig configures the image build hooks.
type BuildImageConfig struct {
	// NoCache disables the build cache.
	NoCache bool `yaml:"no_cache"`
}

// BuildImageHook builds the component's image from its build config, unless
// --docker.no-build was passed or the component has no build section.
type BuildImageHook struct {
	framework.BaseHook
	config *BuildImageConfig
}

// NewBuildImageHook creates the hook.
func NewBuildImageHook(cfg *BuildImageConfig) *BuildImageHook {
	return &BuildImageHook{
		BaseHook: framework.BaseHook{HookName: "build_docker_image"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *BuildImageHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	comp, err := stepComponent(hctx)
	if err != nil {
		return err
	}
	return buildComponentImage(ctx, hctx, comp, h.config)
}

// BuildImagesHook builds the image of every docker-deployed component in the
// suite that carries a build section.
type BuildImagesHook struct {
	framework.BaseHook
	config *BuildImageConfig
}

// NewBuildImagesHook creates the hook.
func NewBuildImagesHook(cfg *BuildImageConfig) *BuildImagesHook {
	return &BuildImagesHook{
		BaseHook: framework.BaseHook{HookName: "build_docker_images"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *BuildImagesHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	for _, comp := range hctx.Components() {
		managed, ok := comp.(*component.Component)
		if !ok {
			continue
		}
		if err := buildComponentImage(ctx, hctx, managed, h.config); err != nil {
			return err
		}
	}
	return nil
}

func buildComponentImage(ctx context.Context, hctx *framework.HookContext, comp *component.Component, hookCfg *BuildImageConfig) error {
	cfg, ok := deploymentConfig(comp)
	if !ok || cfg.Build == nil {
		return nil
	}
	if framework.ArgsFromContext(hctx).DockerNoBuild {
		hctx.Logger().Debugf("skipping image build for %s (--docker.no-build)", comp.ComponentName())
		return nil
	}
	cli, err := Client(hctx)
	if err != nil {
		return err
	}

	buildCtx, err := archive.TarWithOptions(cfg.Build.Context, &archive.TarOptions{})
	if err != nil {
		return framework.NewStrategyError("failed to tar build context", err)
	}
	defer buildCtx.Close()

	buildArgs := make(map[string]*string, len(cfg.Build.Args))
	for k, v := range cfg.Build.Args {
		v := v
		buildArgs[k] = &v
	}

	hctx.Logger().Infof("building image %s for %s", cfg.Image, comp.ComponentName())
	resp, err := cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{cfg.Image},
		Dockerfile: cfg.Build.Dockerfile,
		BuildArgs:  buildArgs,
		Target:     cfg.Build.Target,
		NoCache:    hookCfg.NoCache,
		Remove:     true,
	})
	if err != nil {
		return framework.NewStrategyError(fmt.Sprintf("failed to build image %s", cfg.Image), err)
	}
	defer resp.Body.Close()
	// The build runs server-side; drain the progress stream to completion.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return framework.NewStrategyError("image build stream failed", err)
	}
	return nil
}

// WaitForStatusConfig configures the wait_for_status hook.
type WaitForStatusConfig struct {
	Status          string  `yaml:"status"`
	TimeoutSeconds  float64 `yaml:"timeout"`
	IntervalSeconds float64 `yaml:"interval"`
}

// WaitForStatusHook polls the container until it reaches the desired status
// within the deadline; on expiry it sets the context status to timeout and
// fails.
type WaitForStatusHook struct {
	framework.BaseHook
	config *WaitForStatusConfig
}

// NewWaitForStatusHook creates the hook with defaults of status running,
// timeout 30s, interval 1s.
func NewWaitForStatusHook(cfg *WaitForStatusConfig) *WaitForStatusHook {
	if cfg.Status == "" {
		cfg.Status = "running"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 1
	}
	return &WaitForStatusHook{
		BaseHook: framework.BaseHook{HookName: "wait_for_status"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *WaitForStatusHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	comp, err := stepComponent(hctx)
	if err != nil {
		return err
	}
	runtime := componentRuntime(comp)
	if runtime.ContainerID == "" {
		hctx.SetStatus(framework.StatusFailure)
		return framework.NewStrategyError("no container id available to check status", nil)
	}
	cli, err := Client(hctx)
	if err != nil {
		return err
	}

	logger := hctx.Logger()
	deadline := time.Now().Add(time.Duration(h.config.TimeoutSeconds * float64(time.Second)))
	for time.Now().Before(deadline) {
		inspect, err := cli.ContainerInspect(ctx, runtime.ContainerID)
		if err != nil {
			logger.Warnf("error inspecting container while waiting for status: %v", err)
		} else {
			current := inspect.State.Status
			logger.Debugf("container %.12s status %s (want %s)", runtime.ContainerID, current, h.config.Status)
			if current == h.config.Status {
				return nil
			}
		}
		select {
		case <-time.After(time.Duration(h.config.IntervalSeconds * float64(time.Second))):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	hctx.SetStatus(framework.StatusTimeout)
	return framework.NewTimeoutError(
		fmt.Sprintf("container %s did not reach status %q within %.0fs", runtime.ContainerID, h.config.Status, h.config.TimeoutSeconds), nil)
}

// GetLogsConfig configures the get_docker_logs hook.
type GetLogsConfig struct{}

// GetLogsHook fetches the container logs and caches them on the component
// runtime for later reporting.
type GetLogsHook struct {
	framework.BaseHook
	config *GetLogsConfig
}

// NewGetLogsHook creates the hook.
func NewGetLogsHook(cfg *GetLogsConfig) *GetLogsHook {
	return &GetLogsHook{
		BaseHook: framework.BaseHook{HookName: "get_docker_logs"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *GetLogsHook) Execute(ctx context.Context, hctx *framework.HookContext) error {
	comp, err := stepComponent(hctx)
	if err != nil {
		return err
	}
	runtime := componentRuntime(comp)
	if runtime.ContainerID == "" {
		return framework.NewStrategyError("no container id available to fetch logs", nil)
	}
	cli, err := Client(hctx)
	if err != nil {
		return err
	}

	reader, err := cli.ContainerLogs(ctx, runtime.ContainerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return framework.NewStrategyError("failed to fetch container logs", err)
	}
	defer reader.Close()

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, reader)
		pw.CloseWithError(copyErr)
	}()

	var lines []string
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return framework.NewStrategyError("failed to read container logs", err)
	}
	runtime.ContainerLogs = lines
	comp.SetRuntimeData(RuntimeKey, runtime)

	if framework.ArgsFromContext(hctx).Debug {
		hctx.Logger().Debugf("container logs for %s:\n%s", comp.ComponentName(), joinLines(lines))
	}
	return nil
}

// PrintLogsConfig configures the print_container_logs hook.
type PrintLogsConfig struct {
	Target string `yaml:"target"`
}

// PrintLogsHook surfaces the logs captured on the component runtime through
// the run logger.
type PrintLogsHook struct {
	framework.BaseHook
	config *PrintLogsConfig
}

// NewPrintLogsHook creates the hook.
func NewPrintLogsHook(cfg *PrintLogsConfig) *PrintLogsHook {
	return &PrintLogsHook{
		BaseHook: framework.BaseHook{HookName: "print_container_logs"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *PrintLogsHook) Execute(_ context.Context, hctx *framework.HookContext) error {
	var comp *component.Component
	if h.config.Target != "" {
		c := hctx.ComponentByName(h.config.Target)
		managed, ok := c.(*component.Component)
		if !ok {
			return framework.NewAssertionError(fmt.Sprintf("component %q not found", h.config.Target), nil)
		}
		comp = managed
	} else {
		managed, err := stepComponent(hctx)
		if err != nil {
			return err
		}
		comp = managed
	}
	runtime := componentRuntime(comp)
	hctx.Logger().Infof("container logs for %s:\n%s", comp.ComponentName(), joinLines(runtime.ContainerLogs))
	return nil
}

func joinLines(lines []string) string {
	var b []byte
	for i, line := range lines {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, line...)
	}
	return string(b)
}
