package actions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

// countingDeployment records phase invocations and its config value.
type countingDeployment struct {
	value  int
	starts int
	stops  int
}

func (d *countingDeployment) Start(_ context.Context, _ *component.Component, _ *framework.StepContext) error {
	d.starts++
	return nil
}

func (d *countingDeployment) Stop(_ context.Context, _ *component.Component, _ *framework.StepContext) error {
	d.stops++
	return nil
}

func (d *countingDeployment) DefaultHooks() map[string][]framework.Hook { return nil }

type countingDeploymentConfig struct {
	Value int `yaml:"value"`
}

func init() {
	registry.Register(registry.Deployment, "counting_deployment", registry.Registration{
		NewConfig: func() any { return &countingDeploymentConfig{} },
		Build: func(cfg any) (any, error) {
			return &countingDeployment{value: cfg.(*countingDeploymentConfig).Value}, nil
		},
	})
}

func newStepContext(t *testing.T, components map[string]framework.Component) *framework.StepContext {
	t.Helper()
	scenario := framework.NewScenario("scenario-1", nil, framework.OnError{})
	suite := framework.NewSuite("suite-1", []*framework.Scenario{scenario}, components, telemetry.NewTestRuntime())
	scCtx := framework.NewScenarioContext(scenario, suite.Context)
	step := framework.NewStep("step-1", nil, framework.OnError{})
	sctx := framework.NewStepContext(step, scCtx)
	sctx.Enter(context.Background())
	return sctx
}

func TestWaitActionSleeps(t *testing.T) {
	sctx := newStepContext(t, nil)
	action := &WaitAction{config: &WaitConfig{DelaySeconds: 0.05}}

	start := time.Now()
	require.NoError(t, action.Execute(context.Background(), sctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestComponentActionInvokesPhase(t *testing.T) {
	dep := &countingDeployment{}
	comp := component.New("target", nil, dep, nil, nil)
	sctx := newStepContext(t, map[string]framework.Component{"target": comp})

	action := &ComponentAction{config: &ComponentActionConfig{Target: "target", Phase: "deploy"}}
	require.NoError(t, action.Execute(context.Background(), sctx))
	assert.Equal(t, 1, dep.starts)
	assert.Same(t, comp, sctx.StepComponent())

	destroy := &ComponentAction{config: &ComponentActionConfig{Target: "target", Phase: "destroy"}}
	require.NoError(t, destroy.Execute(context.Background(), sctx))
	assert.Equal(t, 1, dep.stops)
}

func TestComponentActionMissingTarget(t *testing.T) {
	sctx := newStepContext(t, nil)
	action := &ComponentAction{config: &ComponentActionConfig{Target: "absent", Phase: "deploy"}}

	err := action.Execute(context.Background(), sctx)
	require.Error(t, err)
	assert.True(t, framework.IsAssertionError(err))
}

func TestComponentActionUnknownPhase(t *testing.T) {
	comp := component.New("target", nil, &countingDeployment{}, nil, nil)
	sctx := newStepContext(t, map[string]framework.Component{"target": comp})
	action := &ComponentAction{config: &ComponentActionConfig{Target: "target", Phase: "explode"}}

	err := action.Execute(context.Background(), sctx)
	require.Error(t, err)
	assert.True(t, framework.IsAssertionError(err))
}

func TestMultiComponentActionAllComponents(t *testing.T) {
	depA := &countingDeployment{}
	depB := &countingDeployment{}
	components := map[string]framework.Component{
		"a": component.New("a", nil, depA, nil, nil),
		"b": component.New("b", nil, depB, nil, nil),
	}
	sctx := newStepContext(t, components)

	action := &MultiComponentAction{config: &MultiComponentActionConfig{Phase: "deploy"}}
	require.NoError(t, action.Execute(context.Background(), sctx))
	assert.Equal(t, 1, depA.starts)
	assert.Equal(t, 1, depB.starts)
}

func TestUpdateComponentStrategy(t *testing.T) {
	original := &countingDeployment{value: 1}
	comp := component.New("target", nil, original, nil, nil)
	comp.Spec = map[string]any{
		"deployment": map[string]any{
			"counting_deployment": map[string]any{"value": 1},
		},
	}
	sctx := newStepContext(t, map[string]framework.Component{"target": comp})

	action := &UpdateStrategyAction{config: &UpdateStrategyConfig{
		Target: "target",
		Deployment: map[string]any{
			"counting_deployment": map[string]any{"value": 7},
		},
	}}
	require.NoError(t, action.Execute(context.Background(), sctx))

	rebuilt, ok := comp.Deployment.(*countingDeployment)
	require.True(t, ok)
	assert.NotSame(t, original, rebuilt)
	assert.Equal(t, 7, rebuilt.value)
	assert.Equal(t, 7,
		comp.Spec["deployment"].(map[string]any)["counting_deployment"].(map[string]any)["value"])
}

func TestUpdateComponentStrategyNoOverlay(t *testing.T) {
	comp := component.New("target", nil, &countingDeployment{}, nil, nil)
	sctx := newStepContext(t, map[string]framework.Component{"target": comp})

	action := &UpdateStrategyAction{config: &UpdateStrategyConfig{Target: "target"}}
	err := action.Execute(context.Background(), sctx)
	require.Error(t, err)
	assert.True(t, framework.IsConfigError(err))
}
