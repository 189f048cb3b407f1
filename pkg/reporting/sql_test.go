package reporting

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

func boolPtr(b bool) *bool { return &b }

func TestSQLReportQueriesTelemetry(t *testing.T) {
	hctx, rt := newReportingContext(t)
	t0 := time.Now().Add(-time.Minute)
	rt.Metrics.Append(
		telemetry.MetricRow{Timestamp: t0, Name: "sent", Type: telemetry.TypeSum, Value: 10.0,
			MetricAttrs: map[string]any{"component_name": "loadgen"}},
		telemetry.MetricRow{Timestamp: t0, Name: "received_logs", Type: telemetry.TypeSum, Value: 9.0,
			MetricAttrs: map[string]any{"component_name": "backend"}},
	)

	hook := &sqlReport{
		config: &SQLReportConfig{HookConfig: HookConfig{ReportName: "sql"}},
		details: &SQLReportDetails{
			Queries: []*QueryConfig{
				{Name: "by_component", SQL: `
					CREATE TABLE by_component AS
					SELECT "metric_attributes.component_name" AS component, COUNT(*) AS n, SUM(value) AS total
					FROM metrics GROUP BY 1 ORDER BY 1`},
			},
			ResultTables: []*ResultTableConfig{
				{Name: "by_component", Description: "metric counts per component", Display: boolPtr(true)},
			},
		},
	}

	report := NewReport("sql", sqlReportType, hctx)
	require.NoError(t, hook.exec(hctx, report, telemetry.TimeRange{}))

	frame := report.Result("by_component")
	require.NotNil(t, frame)
	require.Equal(t, 2, frame.Len())
	assert.Equal(t, "backend", frame.Rows()[0]["component"])
	assert.InDelta(t, 9.0, frame.Rows()[0]["total"].(float64), 1e-9)
	assert.Equal(t, "loadgen", frame.Rows()[1]["component"])
	assert.Equal(t, "metric counts per component", report.TableDescriptions["by_component"])
}

func TestSQLReportMetadataTable(t *testing.T) {
	hctx, _ := newReportingContext(t)
	hook := &sqlReport{
		config: &SQLReportConfig{HookConfig: HookConfig{ReportName: "sql"}},
		details: &SQLReportDetails{
			Queries: []*QueryConfig{
				{Name: "suite", SQL: `CREATE TABLE suite AS SELECT "value" FROM metadata WHERE "key" = 'test.suite'`},
			},
			ResultTables: []*ResultTableConfig{{Name: "suite"}},
		},
	}

	report := NewReport("sql", sqlReportType, hctx)
	require.NoError(t, hook.exec(hctx, report, telemetry.TimeRange{}))

	frame := report.Result("suite")
	require.Equal(t, 1, frame.Len())
	assert.Equal(t, "suite-1", frame.Rows()[0]["value"])
}

func TestSQLReportLoadTableCSV(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "baseline.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("metric,value\nsent,100\nfailed,2\n"), 0o644))

	hctx, _ := newReportingContext(t)
	hook := &sqlReport{
		config: &SQLReportConfig{HookConfig: HookConfig{ReportName: "sql"}},
		details: &SQLReportDetails{
			LoadTables: map[string]*LoadTableConfig{
				"baseline": {TableIOConfig: TableIOConfig{Path: csvPath, Format: "csv"}},
			},
			ResultTables: []*ResultTableConfig{{Name: "baseline"}},
		},
	}

	report := NewReport("sql", sqlReportType, hctx)
	require.NoError(t, hook.exec(hctx, report, telemetry.TimeRange{}))

	frame := report.Result("baseline")
	require.Equal(t, 2, frame.Len())
	assert.InDelta(t, 100.0, frame.Rows()[0]["value"].(float64), 1e-9)
}

func TestSQLReportMissingFileWithoutDDLFails(t *testing.T) {
	hctx, _ := newReportingContext(t)
	hook := &sqlReport{
		config: &SQLReportConfig{HookConfig: HookConfig{ReportName: "sql"}},
		details: &SQLReportDetails{
			LoadTables: map[string]*LoadTableConfig{
				"absent": {TableIOConfig: TableIOConfig{Path: filepath.Join(t.TempDir(), "nope-*.csv"), Format: "csv"}},
			},
		},
	}

	report := NewReport("sql", sqlReportType, hctx)
	err := hook.exec(hctx, report, telemetry.TimeRange{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSQLReportDefaultDDLFallback(t *testing.T) {
	hctx, _ := newReportingContext(t)
	hook := &sqlReport{
		config: &SQLReportConfig{HookConfig: HookConfig{ReportName: "sql"}},
		details: &SQLReportDetails{
			LoadTables: map[string]*LoadTableConfig{
				"baseline": {
					TableIOConfig: TableIOConfig{Path: filepath.Join(t.TempDir(), "nope-*.csv"), Format: "csv"},
					DefaultDDL:    `CREATE TABLE baseline (metric TEXT, value REAL)`,
				},
			},
			ResultTables: []*ResultTableConfig{{Name: "baseline"}},
		},
	}

	report := NewReport("sql", sqlReportType, hctx)
	require.NoError(t, hook.exec(hctx, report, telemetry.TimeRange{}))
	assert.Equal(t, 0, report.Result("baseline").Len())
}

func TestSQLReportWriteTable(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.csv")

	hctx, rt := newReportingContext(t)
	rt.Metrics.RecordGauge("cpu", 1.5, map[string]any{"component_name": "a"})

	hook := &sqlReport{
		config: &SQLReportConfig{HookConfig: HookConfig{ReportName: "sql"}},
		details: &SQLReportDetails{
			Queries: []*QueryConfig{
				{Name: "export", SQL: `CREATE TABLE export AS SELECT metric_name, value FROM metrics`},
			},
			WriteTables: map[string]*WriteTableConfig{
				"export": {TableIOConfig: TableIOConfig{Path: outPath, Format: "csv"}},
			},
		},
	}

	report := NewReport("sql", sqlReportType, hctx)
	require.NoError(t, hook.exec(hctx, report, telemetry.TimeRange{}))

	payload, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "metric_name,value")
	assert.Contains(t, string(payload), "cpu,1.5")
}

func TestSQLReportRejectsParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.parquet")
	require.NoError(t, os.WriteFile(path, []byte("PAR1"), 0o644))

	hctx, _ := newReportingContext(t)
	hook := &sqlReport{
		config: &SQLReportConfig{HookConfig: HookConfig{ReportName: "sql"}},
		details: &SQLReportDetails{
			LoadTables: map[string]*LoadTableConfig{
				"p": {TableIOConfig: TableIOConfig{Path: path, Format: "parquet"}},
			},
		},
	}
	report := NewReport("sql", sqlReportType, hctx)
	err := hook.exec(hctx, report, telemetry.TimeRange{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parquet")
}
