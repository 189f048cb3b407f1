package reporting

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

func newTestReport(t *testing.T) *Report {
	t.Helper()
	suite := framework.NewSuite("suite-1", nil, nil, telemetry.NewTestRuntime())
	r := NewReport("perf-run", "test_report", suite.Context)
	r.SetResult("summary", telemetry.NewFrame(
		[]string{"metric_name", "value", "extra"},
		[]telemetry.Row{
			{"metric_name": "rate", "value": math.NaN(), "extra": map[string]any{"inf": math.Inf(1)}},
			{"metric_name": "count", "value": 42.0, "extra": map[string]any{"neg": math.Inf(-1)}},
		},
	))
	return r
}

func TestJSONFormatterReplacesNaNAndInf(t *testing.T) {
	r := newTestReport(t)
	payload, err := NewJSONFormatter(&JSONFormatterConfig{}).Format(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "perf-run", decoded["report_name"])

	results := decoded["results"].(map[string]any)
	rows := results["summary"].([]any)
	first := rows[0].(map[string]any)
	assert.Nil(t, first["value"])
	assert.Nil(t, first["extra"].(map[string]any)["inf"])
	second := rows[1].(map[string]any)
	assert.Equal(t, 42.0, second["value"])
	assert.Nil(t, second["extra"].(map[string]any)["neg"])
}

func TestSanitizeJSONNested(t *testing.T) {
	in := map[string]any{
		"a": math.NaN(),
		"b": []any{math.Inf(1), 1.0, map[string]any{"c": math.Inf(-1)}},
		"t": time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	out := SanitizeJSON(in).(map[string]any)
	assert.Nil(t, out["a"])
	list := out["b"].([]any)
	assert.Nil(t, list[0])
	assert.Equal(t, 1.0, list[1])
	assert.Nil(t, list[2].(map[string]any)["c"])
	assert.Equal(t, "2025-06-01T12:00:00Z", out["t"])
}

func TestNoopFormatterReturnsNothing(t *testing.T) {
	payload, err := (&NoopFormatter{}).Format(newTestReport(t))
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestTemplateFormatterInline(t *testing.T) {
	r := newTestReport(t)
	f := NewTemplateFormatter(&TemplateFormatterConfig{
		Template: `report: {{ index .report "name" }}`,
	})
	payload, err := f.Format(r)
	require.NoError(t, err)
	assert.Equal(t, "report: perf-run", string(payload))
}

func TestTemplateFormatterDefaultTemplate(t *testing.T) {
	r := newTestReport(t)
	payload, err := NewTemplateFormatter(&TemplateFormatterConfig{}).Format(r)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "perf-run")
	assert.Contains(t, string(payload), "summary")
}
