package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricRow(ts time.Time, name string, value float64, component string) Row {
	return Row{
		ColTimestamp:     ts,
		ColMetricName:    name,
		ColMetricType:    string(TypeGauge),
		ColValue:         value,
		ColResourceAttrs: map[string]any{},
		ColScopeAttrs:    map[string]any{},
		ColMetricAttrs:   map[string]any{"component_name": component},
	}
}

func TestAggregateBasic(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	frame := NewFrame(metricFrameColumns, []Row{
		metricRow(t0, "m", 1, "a"),
		metricRow(t0.Add(time.Second), "m", 2, "a"),
		metricRow(t0.Add(2*time.Second), "m", 3, "a"),
	})

	tests := []struct {
		agg  string
		want float64
	}{
		{AggMin, 1},
		{AggMean, 2},
		{AggMax, 3},
		{AggSum, 6},
		{AggCount, 3},
		{AggDelta, 2},
	}
	for _, tt := range tests {
		t.Run(tt.agg, func(t *testing.T) {
			out := frame.Aggregate([]string{"metric_attributes.component_name", ColMetricName}, []string{tt.agg}, "")
			require.Equal(t, 1, out.Len())
			row := out.Rows()[0]
			assert.Equal(t, tt.agg+"(m)", row[ColMetricName])
			assert.Equal(t, string(TypeAggregated), row[ColMetricType])
			assert.InDelta(t, tt.want, row[ColValue].(float64), 1e-9)
			assert.Equal(t, t0.Add(2*time.Second), row[ColTimestamp])
			attrs := row[ColMetricAttrs].(map[string]any)
			assert.Equal(t, "a", attrs["component_name"])
		})
	}
}

func TestAggregateCollapsedName(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	frame := NewFrame(metricFrameColumns, []Row{
		metricRow(t0, "delta(sent)", 900, "lg"),
		metricRow(t0, "delta(failed)", 100, "lg"),
	})
	out := frame.Aggregate([]string{"metric_attributes.component_name"}, []string{AggSum}, "total_sent")
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "sum(total_sent)", out.Rows()[0][ColMetricName])
	assert.InDelta(t, 1000, out.Rows()[0][ColValue].(float64), 1e-9)
}

func TestAggregatePartitionInvariant(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := []Row{
		metricRow(t0, "m", 1, "a"),
		metricRow(t0.Add(time.Second), "m", 5, "a"),
		metricRow(t0.Add(2*time.Second), "m", 3, "b"),
		metricRow(t0.Add(3*time.Second), "m", 7, "b"),
	}
	permuted := []Row{rows[3], rows[1], rows[2], rows[0]}

	by := []string{"metric_attributes.component_name", ColMetricName}
	aggs := []string{AggMin, AggMean, AggMax, AggSum, AggDelta}
	a := NewFrame(metricFrameColumns, rows).Aggregate(by, aggs, "")
	b := NewFrame(metricFrameColumns, permuted).Aggregate(by, aggs, "")
	assert.Equal(t, a.Records(), b.Records())
}

func TestRateOverTime(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	frame := NewFrame(metricFrameColumns, []Row{
		metricRow(t0, "sent", 0, "lg"),
		metricRow(t0.Add(2*time.Second), "sent", 100, "lg"),
	})
	rates := frame.RateOverTime([]string{"metric_attributes.component_name", ColMetricName})
	require.Equal(t, 1, rates.Len())
	row := rates.Rows()[0]
	assert.Equal(t, "rate(sent)", row[ColMetricName])
	assert.InDelta(t, 50.0, row[ColValue].(float64), 1e-9)
	assert.Equal(t, t0.Add(2*time.Second), row[ColTimestamp])
}

func TestRateSumEqualsDeltaOverDuration(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	values := []float64{0, 10, 30, 60}
	rows := make([]Row, len(values))
	for i, v := range values {
		rows[i] = metricRow(t0.Add(time.Duration(i)*time.Second), "sent", v, "lg")
	}
	frame := NewFrame(metricFrameColumns, rows)
	by := []string{"metric_attributes.component_name", ColMetricName}

	rates := frame.RateOverTime(by)
	sum := rates.Aggregate(by, []string{AggSum}, "")
	require.Equal(t, 1, sum.Len())
	// With 1s spacing, the summed rate equals the total delta over the window.
	assert.InDelta(t, 60.0, sum.Rows()[0][ColValue].(float64), 1e-9)
}

func TestDeltaOverTime(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	frame := NewFrame(metricFrameColumns, []Row{
		metricRow(t0, "m", 10, "a"),
		metricRow(t0.Add(time.Second), "m", 25, "a"),
		metricRow(t0.Add(2*time.Second), "m", 27, "a"),
	})
	deltas := frame.DeltaOverTime([]string{"metric_attributes.component_name", ColMetricName})
	require.Equal(t, 2, deltas.Len())
	assert.Equal(t, "delta(m)", deltas.Rows()[0][ColMetricName])
	assert.InDelta(t, 15.0, deltas.Rows()[0][ColValue].(float64), 1e-9)
	assert.InDelta(t, 2.0, deltas.Rows()[1][ColValue].(float64), 1e-9)
}

func TestPivotAggregated(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	frame := NewFrame(metricFrameColumns, []Row{
		metricRow(t0, "min(cpu)", 0.5, "a"),
		metricRow(t0, "max(cpu)", 1.5, "a"),
		metricRow(t0, "min(mem)", 100, "a"),
		metricRow(t0, "max(mem)", 300, "a"),
	})
	pivots := frame.PivotAggregated("metric_attributes.component_name")
	require.Contains(t, pivots, "a")
	pivot := pivots["a"]
	assert.Equal(t, []string{"metric", "min", "max"}, pivot.Columns())
	require.Equal(t, 2, pivot.Len())
	assert.Equal(t, "cpu", pivot.Rows()[0]["metric"])
	assert.InDelta(t, 0.5, pivot.Rows()[0]["min"].(float64), 1e-9)
	assert.InDelta(t, 1.5, pivot.Rows()[0]["max"].(float64), 1e-9)
}

func TestSplitByGroup(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	frame := NewFrame(metricFrameColumns, []Row{
		metricRow(t0, "m", 1, "a"),
		metricRow(t0, "m", 2, "b"),
		metricRow(t0, "n", 3, "a"),
	})
	split := frame.SplitByGroup("metric_attributes.component_name")
	require.Len(t, split, 2)
	assert.Equal(t, 2, split["a"].Len())
	assert.Equal(t, 1, split["b"].Len())
	assert.Equal(t, []string{ColTimestamp, ColMetricName, ColValue}, split["a"].Columns())
}

func TestAggregateDropsNonNumericValues(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := []Row{
		metricRow(t0, "m", 1, "a"),
		metricRow(t0.Add(time.Second), "m", 2, "a"),
	}
	rows = append(rows, Row{
		ColTimestamp:   t0.Add(2 * time.Second),
		ColMetricName:  "m",
		ColMetricType:  string(TypeHistogram),
		ColValue:       map[string]any{"buckets": []any{1, 2}},
		ColMetricAttrs: map[string]any{"component_name": "a"},
	})
	out := NewFrame(metricFrameColumns, rows).Aggregate(
		[]string{"metric_attributes.component_name", ColMetricName}, []string{AggSum}, "")
	require.Equal(t, 1, out.Len())
	assert.InDelta(t, 3.0, out.Rows()[0][ColValue].(float64), 1e-9)
}

func TestAggregateDeltaSingleSampleIsNaN(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	out := NewFrame(metricFrameColumns, []Row{metricRow(t0, "m", 1, "a")}).
		Aggregate([]string{ColMetricName}, []string{AggDelta}, "")
	require.Equal(t, 1, out.Len())
	assert.True(t, math.IsNaN(out.Rows()[0][ColValue].(float64)))
}
