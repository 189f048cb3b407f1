package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpipe/perfpipe/pkg/framework"
)

const sampleConfig = `
name: OTLP Perf Suite
components:
  load-generator:
    deployment:
      docker:
        image: loadgen:latest
        network: perf-net
    execution:
      pipeline_perf_loadgen:
        threads: 4
    monitoring:
      docker_component:
        interval: 1
    hooks:
      deploy:
        post:
          - ready_check_http:
              url: http://localhost:5001/health
    on_error:
      retries: 2
      retry_delay_seconds: 1
      continue: false
tests:
  - name: max-rate
    steps:
      - name: deploy loadgen
        action:
          component_action:
            target: load-generator
            phase: deploy
      - name: observe
        action:
          wait:
            delay_seconds: 5
        on_error:
          retries: 1
    hooks:
      run:
        pre:
          - record_event:
              name: test_framework.test_start
hooks:
  run:
    post:
      - test_report:
          name: Summary
`

func TestParseSampleConfig(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "OTLP Perf Suite", doc.Name)
	require.Contains(t, doc.Components, "load-generator")

	comp := doc.Components["load-generator"]
	require.NotNil(t, comp.Deployment)
	assert.Equal(t, "docker", comp.Deployment.Type)
	require.NotNil(t, comp.Execution)
	assert.Equal(t, "pipeline_perf_loadgen", comp.Execution.Type)
	require.Contains(t, comp.Monitoring, "docker_component")
	require.NotNil(t, comp.OnError)
	assert.Equal(t, 2, comp.OnError.Retries)
	require.Contains(t, comp.Hooks, "deploy")
	require.Len(t, comp.Hooks["deploy"].Post, 1)
	assert.Equal(t, "ready_check_http", comp.Hooks["deploy"].Post[0].Type)

	// Raw tree captured for deep-merge updates.
	require.NotNil(t, comp.Raw)
	dep := comp.Raw["deployment"].(map[string]any)["docker"].(map[string]any)
	assert.Equal(t, "loadgen:latest", dep["image"])

	require.Len(t, doc.Tests, 1)
	scenario := doc.Tests[0]
	assert.Equal(t, "max-rate", scenario.Name)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, "component_action", scenario.Steps[0].Action.Type)
	require.NotNil(t, scenario.Steps[1].OnError)
	assert.Equal(t, 1, scenario.Steps[1].OnError.Retries)

	run := doc.RunHooks()
	require.NotNil(t, run)
	require.Len(t, run.Post, 1)
	assert.Equal(t, "test_report", run.Post[0].Type)
}

func TestTypedSpecDecode(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	var cfg struct {
		Image   string `yaml:"image"`
		Network string `yaml:"network"`
	}
	require.NoError(t, doc.Components["load-generator"].Deployment.Decode(&cfg))
	assert.Equal(t, "loadgen:latest", cfg.Image)
	assert.Equal(t, "perf-net", cfg.Network)
}

func TestParseRejectsMultiKeyVariant(t *testing.T) {
	_, err := Parse([]byte(`
tests:
  - name: t
    steps:
      - name: s
        action:
          wait: {delay_seconds: 1}
          no_op: {}
`))
	require.Error(t, err)
	assert.True(t, framework.IsConfigError(err))
}

func TestParseRequiresTests(t *testing.T) {
	_, err := Parse([]byte(`components: {}`))
	require.Error(t, err)
	assert.True(t, framework.IsConfigError(err))
}

func TestParseRejectsMissingScenarioName(t *testing.T) {
	_, err := Parse([]byte(`
tests:
  - steps:
      - name: s
        action:
          no_op: {}
`))
	require.Error(t, err)
	assert.True(t, framework.IsConfigError(err))
}
