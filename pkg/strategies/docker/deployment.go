package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/go-connections/nat"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
)

const stopTimeoutSeconds = 10

func init() {
	registry.Register(registry.Deployment, "docker", registry.Registration{
		NewConfig: func() any { return &Config{} },
		Build: func(cfg any) (any, error) {
			return NewDeployment(cfg.(*Config)), nil
		},
	})
}

// BuildConfig holds local image build settings.
type BuildConfig struct {
	Context    string            `yaml:"context" validate:"required"`
	Dockerfile string            `yaml:"dockerfile"`
	Args       map[string]string `yaml:"args"`
	Target     string            `yaml:"target"`
}

// Config holds docker deployment settings for a component.
type Config struct {
	Image       string            `yaml:"image"`
	Build       *BuildConfig      `yaml:"build"`
	Network     string            `yaml:"network"`
	Ports       []*PortSpec       `yaml:"ports"`
	Volumes     []*VolumeSpec     `yaml:"volumes"`
	Environment map[string]string `yaml:"environment"`
	Command     []string          `yaml:"command"`
}

// Deployment manages a component's container lifecycle on the local Docker
// engine.
type Deployment struct {
	config *Config
}

// NewDeployment creates the strategy from its config.
func NewDeployment(cfg *Config) *Deployment {
	return &Deployment{config: cfg}
}

// DefaultHooks installs the container lifecycle hooks every docker
// deployment needs: tidy any stale container, ensure the network, build the
// image pre-deploy; wait for running post-deploy; capture logs pre-destroy;
// delete the network post-destroy when this run created it.
func (d *Deployment) DefaultHooks() map[string][]framework.Hook {
	return map[string][]framework.Hook{
		component.PhaseDeploy.Pre(): {
			NewTidyExistingContainerHook(&TidyExistingContainerConfig{}),
			NewCreateNetworkHook(&NetworkHookConfig{}),
			NewBuildImageHook(&BuildImageConfig{}),
		},
		component.PhaseDeploy.Post(): {
			NewWaitForStatusHook(&WaitForStatusConfig{}),
		},
		component.PhaseDestroy.Pre(): {
			NewGetLogsHook(&GetLogsConfig{}),
		},
		component.PhaseDestroy.Post(): {
			NewDeleteNetworkHook(&NetworkHookConfig{}),
		},
	}
}

// Start creates and starts the container, recording its id in the component
// runtime.
func (d *Deployment) Start(ctx context.Context, c *component.Component, sctx *framework.StepContext) error {
	cli, err := Client(sctx)
	if err != nil {
		return err
	}

	portMap := nat.PortMap{}
	exposed := nat.PortSet{}
	for _, spec := range d.config.Ports {
		port, binding, err := spec.Resolve()
		if err != nil {
			return framework.NewConfigError("invalid port mapping", err)
		}
		exposed[port] = struct{}{}
		portMap[port] = append(portMap[port], binding)
	}

	var binds []string
	for _, spec := range d.config.Volumes {
		bind, err := spec.Bind()
		if err != nil {
			return framework.NewConfigError("invalid volume mapping", err)
		}
		binds = append(binds, bind)
	}

	env := make([]string, 0, len(d.config.Environment))
	for k, v := range d.config.Environment {
		env = append(env, k+"="+v)
	}

	containerCfg := &container.Config{
		Image:        d.config.Image,
		Env:          env,
		Cmd:          strslice.StrSlice(d.config.Command),
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: portMap,
		Binds:        binds,
	}
	var netCfg *network.NetworkingConfig
	if d.config.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				d.config.Network: {},
			},
		}
	}

	name := SanitizeName(c.ComponentName())
	logger := sctx.Logger().WithComponent(c.ComponentName())
	logger.Infof("starting container %s from image %s", name, d.config.Image)

	created, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return framework.NewStrategyError(fmt.Sprintf("failed to create container %s", name), err)
	}
	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return framework.NewStrategyError(fmt.Sprintf("failed to start container %s", name), err)
	}

	runtime := componentRuntime(c)
	runtime.ContainerID = created.ID
	c.SetRuntimeData(RuntimeKey, runtime)
	logger.Debugf("container %s started: %s", name, created.ID)
	return nil
}

// Stop stops and removes the container recorded in the component runtime.
func (d *Deployment) Stop(ctx context.Context, c *component.Component, sctx *framework.StepContext) error {
	runtime := componentRuntime(c)
	if runtime.ContainerID == "" {
		return framework.NewStrategyError(fmt.Sprintf("no container id recorded for component %s", c.ComponentName()), nil)
	}
	cli, err := Client(sctx)
	if err != nil {
		return err
	}

	timeout := stopTimeoutSeconds
	if err := cli.ContainerStop(ctx, runtime.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return framework.NewStrategyError("failed to stop container", err)
	}
	if err := cli.ContainerRemove(ctx, runtime.ContainerID, container.RemoveOptions{Force: true}); err != nil {
		return framework.NewStrategyError("failed to remove container", err)
	}
	sctx.Logger().WithComponent(c.ComponentName()).Debugf("container %s removed", runtime.ContainerID)
	return nil
}
