package docker

import (
	"sync"

	"github.com/docker/docker/client"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
)

// RuntimeKey is the component runtime namespace for docker state.
const RuntimeKey = "docker"

// globalRuntimeKey is the suite runtime namespace caching the Docker client.
const globalRuntimeKey = "global_docker_runtime"

// ComponentRuntime is the per-component docker runtime state recorded by the
// deployment strategy and its hooks.
type ComponentRuntime struct {
	ContainerID    string
	ContainerLogs  []string
	NetworkCreated bool
}

// globalRuntime caches the Docker client for the whole suite run. The vendor
// client is safe for concurrent use.
type globalRuntime struct {
	mu     sync.Mutex
	client *client.Client
}

// Client returns the suite-cached Docker client, creating it from the
// environment on first use.
func Client(ctx framework.Context) (*client.Client, error) {
	suite := ctx.Suite()
	if suite == nil {
		return nil, framework.NewAssertionError("no suite available to cache the docker client", nil)
	}
	g := suite.Runtime.GetOrCreate(globalRuntimeKey, func() any {
		return &globalRuntime{}
	}).(*globalRuntime)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, framework.NewStrategyError("failed to create docker client", err)
		}
		g.client = cli
	}
	return g.client, nil
}

// componentRuntime returns the component's docker runtime, creating the zero
// value when absent.
func componentRuntime(c *component.Component) *ComponentRuntime {
	return c.GetOrCreateRuntime(RuntimeKey, func() any {
		return &ComponentRuntime{}
	}).(*ComponentRuntime)
}

// stepComponent resolves the lifecycle-managed component a hook fires for.
func stepComponent(hctx *framework.HookContext) (*component.Component, error) {
	comp := hctx.StepComponent()
	if comp == nil {
		return nil, framework.NewAssertionError("no component bound to the current step", nil)
	}
	managed, ok := comp.(*component.Component)
	if !ok {
		return nil, framework.NewAssertionError("step component is not lifecycle-managed", nil)
	}
	return managed, nil
}

// deploymentConfig returns the docker deployment config of the component, if
// its deployment strategy is the docker one.
func deploymentConfig(c *component.Component) (*Config, bool) {
	dep, ok := c.Deployment.(*Deployment)
	if !ok {
		return nil, false
	}
	return dep.config, true
}
