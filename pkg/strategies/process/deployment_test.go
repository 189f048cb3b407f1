package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

func newStepContext(t *testing.T, comp *component.Component) *framework.StepContext {
	t.Helper()
	scenario := framework.NewScenario("scenario-1", nil, framework.OnError{})
	suite := framework.NewSuite("suite-1", []*framework.Scenario{scenario},
		map[string]framework.Component{comp.ComponentName(): comp}, telemetry.NewTestRuntime())
	scCtx := framework.NewScenarioContext(scenario, suite.Context)
	step := framework.NewStep("step-1", nil, framework.OnError{})
	sctx := framework.NewStepContext(step, scCtx)
	sctx.SetStepComponent(comp)
	sctx.Enter(context.Background())
	return sctx
}

func TestDeployAndStop(t *testing.T) {
	dep := NewDeployment(&Config{Command: "echo hello && sleep 5"})
	comp := component.New("proc", nil, dep, nil, nil)
	sctx := newStepContext(t, comp)

	require.NoError(t, dep.Start(context.Background(), comp, sctx))
	runtime := componentRuntime(comp)
	assert.Greater(t, runtime.PID, 0)

	require.NoError(t, dep.Stop(context.Background(), comp, sctx))
	assert.True(t, runtime.Exited())
	assert.Contains(t, runtime.Logs, "stdout: hello")
}

func TestStopWithoutDeployFails(t *testing.T) {
	dep := NewDeployment(&Config{Command: "true"})
	comp := component.New("proc", nil, dep, nil, nil)
	sctx := newStepContext(t, comp)

	err := dep.Stop(context.Background(), comp, sctx)
	require.Error(t, err)
	assert.True(t, framework.IsStrategyError(err))
}

func TestEnvironmentIsMerged(t *testing.T) {
	dep := NewDeployment(&Config{
		Command:     "echo $PERFPIPE_TEST_VAR",
		Environment: map[string]string{"PERFPIPE_TEST_VAR": "wired"},
	})
	comp := component.New("proc", nil, dep, nil, nil)
	sctx := newStepContext(t, comp)

	require.NoError(t, dep.Start(context.Background(), comp, sctx))
	runtime := componentRuntime(comp)
	// Give the short-lived shell a moment to finish.
	deadline := time.Now().Add(2 * time.Second)
	for !runtime.Exited() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, dep.Stop(context.Background(), comp, sctx))
	assert.Contains(t, runtime.Logs, "stdout: wired")
}

func TestEnsureProcessFailsOnEarlyExit(t *testing.T) {
	dep := NewDeployment(&Config{Command: "echo dying; exit 3"})
	comp := component.New("proc", nil, dep, nil, nil)
	sctx := newStepContext(t, comp)

	require.NoError(t, dep.Start(context.Background(), comp, sctx))

	hook := NewEnsureProcessHook(&EnsureProcessConfig{DelaySeconds: 0.2})
	hctx := framework.NewHookContext("ensure_process (post_deploy)", framework.ComponentHook, "post_deploy")
	sctx.AddChild(hctx)

	err := hook.Execute(context.Background(), hctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dying")
}

func TestEnsureProcessPassesForLiveProcess(t *testing.T) {
	dep := NewDeployment(&Config{Command: "sleep 5"})
	comp := component.New("proc", nil, dep, nil, nil)
	sctx := newStepContext(t, comp)

	require.NoError(t, dep.Start(context.Background(), comp, sctx))
	t.Cleanup(func() { _ = dep.Stop(context.Background(), comp, sctx) })

	hook := NewEnsureProcessHook(&EnsureProcessConfig{DelaySeconds: 0.05})
	hctx := framework.NewHookContext("ensure_process (post_deploy)", framework.ComponentHook, "post_deploy")
	sctx.AddChild(hctx)

	assert.NoError(t, hook.Execute(context.Background(), hctx))
}
