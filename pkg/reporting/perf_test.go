package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

func newReportingContext(t *testing.T) (*framework.HookContext, *telemetry.Runtime) {
	t.Helper()
	rt := telemetry.NewTestRuntime()
	suite := framework.NewSuite("suite-1", nil, nil, rt)
	hctx := framework.NewHookContext("pipeline_perf_report (post_run)", framework.FrameworkHook, "post_run")
	suite.Context.AddChild(hctx)
	return hctx, rt
}

func seedPipelineMetrics(rt *telemetry.Runtime, t0 time.Time) {
	lg := map[string]any{"component_name": "loadgen"}
	be := map[string]any{"component_name": "backend"}
	rows := []telemetry.MetricRow{
		{Timestamp: t0, Name: "sent", Type: telemetry.TypeSum, Value: 0.0, MetricAttrs: lg},
		{Timestamp: t0, Name: "failed", Type: telemetry.TypeSum, Value: 0.0, MetricAttrs: lg},
		{Timestamp: t0, Name: "received_logs", Type: telemetry.TypeSum, Value: 0.0, MetricAttrs: be},
		{Timestamp: t0.Add(time.Second), Name: "sent", Type: telemetry.TypeSum, Value: 1000.0, MetricAttrs: lg},
		{Timestamp: t0.Add(time.Second), Name: "failed", Type: telemetry.TypeSum, Value: 0.0, MetricAttrs: lg},
		{Timestamp: t0.Add(time.Second), Name: "received_logs", Type: telemetry.TypeSum, Value: 1000.0, MetricAttrs: be},
	}
	rt.Metrics.Append(rows...)
}

func TestPipelinePerfReportSummary(t *testing.T) {
	hctx, rt := newReportingContext(t)
	t0 := time.Now().Add(-time.Minute)
	seedPipelineMetrics(rt, t0)

	cfg := &PerfReportConfig{
		HookConfig:    HookConfig{ReportName: "perf"},
		LoadGenerator: "loadgen",
		Backend:       "backend",
	}
	cfg.applyDefaults()
	hook := &perfReport{config: cfg}

	report := NewReport("perf", perfReportType, hctx)
	window := telemetry.TimeRange{Start: t0, End: t0.Add(time.Second)}
	require.NoError(t, hook.exec(hctx, report, window))

	summary := report.Result("summary")
	require.NotNil(t, summary)

	assert.InDelta(t, 1000, summary.LookupValue("Total logs attempted"), 1e-6)
	assert.InDelta(t, 1000, summary.LookupValue("Logs successfully sent by loadgen"), 1e-6)
	assert.InDelta(t, 0, summary.LookupValue("Logs failed at loadgen"), 1e-6)
	assert.InDelta(t, 1000, summary.LookupValue("Logs received by backend"), 1e-6)
	assert.InDelta(t, 0, summary.LookupValue("Logs lost in transit"), 1e-6)
	assert.InDelta(t, 1.0, summary.LookupValue("Duration"), 1e-6)
	assert.InDelta(t, 1000, summary.LookupValue("Logs receive rate (avg)"), 1e-6)
	assert.InDelta(t, 0, summary.LookupValue("Total logs lost"), 1e-6)
	assert.InDelta(t, 0, summary.LookupValue("Percentage of logs lost"), 1e-6)

	assert.NotNil(t, report.Result("component_summary"))
	assert.NotNil(t, report.Result("component_detail"))
	assert.True(t, report.Displayed("summary"))
	assert.False(t, report.Displayed("component_detail"))
}

func TestPipelinePerfWindowExcludesOutsideSamples(t *testing.T) {
	hctx, rt := newReportingContext(t)
	t0 := time.Now().Add(-time.Minute)
	seedPipelineMetrics(rt, t0)
	// A later sample outside the observation window must not affect deltas.
	rt.Metrics.Append(telemetry.MetricRow{
		Timestamp: t0.Add(10 * time.Second), Name: "sent", Type: telemetry.TypeSum, Value: 5000.0,
		MetricAttrs: map[string]any{"component_name": "loadgen"},
	})

	cfg := &PerfReportConfig{
		HookConfig:    HookConfig{ReportName: "perf"},
		LoadGenerator: "loadgen",
		Backend:       "backend",
	}
	cfg.applyDefaults()
	hook := &perfReport{config: cfg}

	report := NewReport("perf", perfReportType, hctx)
	window := telemetry.TimeRange{Start: t0, End: t0.Add(time.Second)}
	require.NoError(t, hook.exec(hctx, report, window))

	assert.InDelta(t, 1000, report.Result("summary").LookupValue("Logs successfully sent by loadgen"), 1e-6)
}

func TestComparisonAggregation(t *testing.T) {
	hctx, rt := newReportingContext(t)
	t0 := time.Now().Add(-time.Minute)
	seedPipelineMetrics(rt, t0)

	makeReport := func(name string) *Report {
		cfg := &PerfReportConfig{
			HookConfig:    HookConfig{ReportName: name},
			LoadGenerator: "loadgen",
			Backend:       "backend",
		}
		cfg.applyDefaults()
		hook := &perfReport{config: cfg}
		report := NewReport(name, perfReportType, hctx)
		report.Metadata["report.name"] = name
		window := telemetry.TimeRange{Start: t0, End: t0.Add(time.Second)}
		require.NoError(t, hook.exec(hctx, report, window))
		return report
	}

	runA := makeReport("run-a")
	runB := makeReport("run-b")

	tables, order, err := aggregatePerfReports([]*Report{runA, runB}, "")
	require.NoError(t, err)
	require.Contains(t, order, "summary")

	merged := tables["summary"]
	require.NotNil(t, merged)
	assert.Equal(t, []string{"metric_name", "run-a", "run-b"}, merged.Columns())

	var attempted telemetry.Row
	for _, row := range merged.Rows() {
		if row["metric_name"] == "Total logs attempted" {
			attempted = row
		}
	}
	require.NotNil(t, attempted)
	assert.InDelta(t, 1000, attempted["run-a"].(float64), 1e-6)
	assert.InDelta(t, 1000, attempted["run-b"].(float64), 1e-6)
}

func TestComparisonMissingPrerequisite(t *testing.T) {
	hctx, _ := newReportingContext(t)
	hook := &comparisonReport{config: &ComparisonReportConfig{
		HookConfig: HookConfig{ReportName: "cmp"},
		Reports:    []string{"never-ran"},
	}}
	report := NewReport("cmp", comparisonReportType, hctx)
	err := hook.exec(hctx, report, telemetry.TimeRange{})
	require.Error(t, err)
	assert.True(t, framework.IsReportingError(err))
}
