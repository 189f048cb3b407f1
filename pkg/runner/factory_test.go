package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/config"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/runner"
	"github.com/perfpipe/perfpipe/pkg/telemetry"

	// Built-in registrations exercised by the factory.
	_ "github.com/perfpipe/perfpipe/pkg/actions"
	_ "github.com/perfpipe/perfpipe/pkg/hooks"
	_ "github.com/perfpipe/perfpipe/pkg/reporting"
	_ "github.com/perfpipe/perfpipe/pkg/strategies/docker"
	_ "github.com/perfpipe/perfpipe/pkg/strategies/loadgen"
	_ "github.com/perfpipe/perfpipe/pkg/strategies/process"
	_ "github.com/perfpipe/perfpipe/pkg/strategies/prometheus"
)

func TestBuildAndRunSimpleSuite(t *testing.T) {
	doc, err := config.Parse([]byte(`
name: simple
tests:
  - name: scenario-1
    steps:
      - name: pause
        action:
          wait:
            delay_seconds: 0.05
`))
	require.NoError(t, err)

	suite, err := runner.BuildSuite(doc, telemetry.NewTestRuntime(), framework.RunnerArgs{})
	require.NoError(t, err)
	require.NoError(t, suite.Run(context.Background()))

	assert.Equal(t, framework.StatusSuccess, suite.Context.Status())
	require.Len(t, suite.Context.Children(), 1)
	scCtx := suite.Context.Children()[0]
	require.Len(t, scCtx.Children(), 1)
	assert.Equal(t, framework.StatusSuccess, scCtx.Children()[0].Status())
	assert.GreaterOrEqual(t,
		scCtx.Children()[0].EndTime().Sub(scCtx.Children()[0].StartTime()).Seconds(), 0.05)
}

func TestBuildSuiteWithComponentsAndHooks(t *testing.T) {
	doc, err := config.Parse([]byte(`
name: full
components:
  collector:
    deployment:
      docker:
        image: otel/opentelemetry-collector:latest
        network: perf-net
        ports:
          - "4317:4317"
    monitoring:
      docker_component:
        interval: 1
      prometheus:
        endpoint: http://localhost:8888/metrics
  loadgen:
    deployment:
      process:
        command: sleep 60
    execution:
      pipeline_perf_loadgen:
        threads: 2
tests:
  - name: scenario-1
    steps:
      - name: deploy all
        action:
          multi_component_action:
            phase: deploy
hooks:
  run:
    post:
      - pipeline_perf_report:
          name: perf
          load_generator: loadgen
          system_under_test: collector
          backend: backend
`))
	require.NoError(t, err)

	suite, err := runner.BuildSuite(doc, telemetry.NewTestRuntime(), framework.RunnerArgs{})
	require.NoError(t, err)

	require.Contains(t, suite.Components, "collector")
	collector, ok := suite.Components["collector"].(*component.Component)
	require.True(t, ok)
	assert.NotNil(t, collector.Deployment)
	assert.NotNil(t, collector.Monitoring)
	// The docker deployment installs its default lifecycle hooks.
	assert.NotEmpty(t, collector.Hooks("pre_deploy"))
	assert.NotEmpty(t, collector.Hooks("post_destroy"))

	assert.Len(t, suite.Hooks(framework.PhasePostRun), 1)
}

func TestBuildSuiteUnknownStrategyType(t *testing.T) {
	doc, err := config.Parse([]byte(`
components:
  c:
    deployment:
      kubernetes:
        manifest: ./x.yaml
tests:
  - name: scenario-1
    steps:
      - name: s
        action:
          no_op: {}
`))
	require.NoError(t, err)

	_, err = runner.BuildSuite(doc, telemetry.NewTestRuntime(), framework.RunnerArgs{})
	require.Error(t, err)
	assert.True(t, framework.IsConfigError(err))
}

func TestBuildSuiteUnknownActionType(t *testing.T) {
	doc, err := config.Parse([]byte(`
tests:
  - name: scenario-1
    steps:
      - name: s
        action:
          teleport: {}
`))
	require.NoError(t, err)

	_, err = runner.BuildSuite(doc, telemetry.NewTestRuntime(), framework.RunnerArgs{})
	require.Error(t, err)
	assert.True(t, framework.IsConfigError(err))
}
