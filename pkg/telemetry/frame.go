package telemetry

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row is a single record in a Frame. Attribute columns hold nested
// map[string]any values addressable with dot notation (for example
// "metric_attributes.component_name").
type Row map[string]any

// Frame is a small in-memory table with an ordered column set. It backs the
// query surface of the metric and span stores and implements the tabular
// operations the reporting engine needs: filtering, group-by aggregation,
// rate and delta over time, pivoting and per-group splitting.
//
// Frames are treated as immutable: every operation returns a new Frame, but
// filtering, sorting and concatenation reuse the input's row maps, and
// derived rows share attribute maps; callers must not mutate either.
type Frame struct {
	columns []string
	rows    []Row
}

// Standard metric frame columns.
const (
	ColTimestamp     = "timestamp"
	ColMetricName    = "metric_name"
	ColMetricType    = "metric_type"
	ColValue         = "value"
	ColResourceAttrs = "resource_attributes"
	ColScopeAttrs    = "scope_attributes"
	ColMetricAttrs   = "metric_attributes"
)

var metricFrameColumns = []string{
	ColTimestamp, ColMetricName, ColMetricType, ColValue,
	ColResourceAttrs, ColScopeAttrs, ColMetricAttrs,
}

// NewFrame creates a frame from a column list and rows.
func NewFrame(columns []string, rows []Row) *Frame {
	return &Frame{columns: append([]string(nil), columns...), rows: rows}
}

// Columns returns the ordered column names.
func (f *Frame) Columns() []string { return append([]string(nil), f.columns...) }

// Rows returns the underlying rows. The slice must not be mutated.
func (f *Frame) Rows() []Row { return f.rows }

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.rows) }

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool { return len(f.rows) == 0 }

// Concat joins the rows of the given frames in order, keeping the first
// frame's columns and adding any columns only present in the others.
func Concat(frames ...*Frame) *Frame {
	var cols []string
	seen := map[string]bool{}
	var rows []Row
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		for _, c := range fr.columns {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
		rows = append(rows, fr.rows...)
	}
	return NewFrame(cols, rows)
}

// Filter returns the rows matching the predicate.
func (f *Frame) Filter(pred func(Row) bool) *Frame {
	out := make([]Row, 0, len(f.rows))
	for _, r := range f.rows {
		if pred(r) {
			out = append(out, r)
		}
	}
	return NewFrame(f.columns, out)
}

// Where filters rows whose column value equals any of the given values.
func (f *Frame) Where(column string, values ...any) *Frame {
	return f.Filter(func(r Row) bool {
		got := ResolveKey(r, column)
		for _, v := range values {
			if got == v {
				return true
			}
		}
		return false
	})
}

// MatchAttrs filters rows whose map-valued column contains every key/value
// pair of the given subset.
func (f *Frame) MatchAttrs(column string, subset map[string]any) *Frame {
	if len(subset) == 0 {
		return f
	}
	return f.Filter(func(r Row) bool {
		attrs, _ := r[column].(map[string]any)
		return matchesSubset(attrs, subset)
	})
}

// WithAttrs returns a copy of the frame where the map-valued column of every
// row has the extra pairs set, overriding existing keys.
func (f *Frame) WithAttrs(column string, extra map[string]any) *Frame {
	rows := make([]Row, 0, len(f.rows))
	for _, r := range f.rows {
		nr := cloneRow(r)
		attrs, _ := nr[column].(map[string]any)
		merged := make(map[string]any, len(attrs)+len(extra))
		for k, v := range attrs {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		nr[column] = merged
		rows = append(rows, nr)
	}
	return NewFrame(f.columns, rows)
}

// SortByTimestamp returns the rows ordered by the timestamp column
// (ascending, stable).
func (f *Frame) SortByTimestamp() *Frame {
	rows := append([]Row(nil), f.rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		return rowTime(rows[i]).Before(rowTime(rows[j]))
	})
	return NewFrame(f.columns, rows)
}

// LookupValue returns the value of the first row whose metric_name equals
// name, or NaN when absent.
func (f *Frame) LookupValue(name string) float64 {
	for _, r := range f.rows {
		if r[ColMetricName] == name {
			if v, ok := asFloat(r[ColValue]); ok {
				return v
			}
			return math.NaN()
		}
	}
	return math.NaN()
}

// Records returns the rows as generic maps, one per row, suitable for JSON
// serialization.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, 0, len(f.rows))
	for _, r := range f.rows {
		m := make(map[string]any, len(r))
		for k, v := range r {
			m[k] = v
		}
		out = append(out, m)
	}
	return out
}

// Aggregator names accepted by Aggregate.
const (
	AggMin   = "min"
	AggMean  = "mean"
	AggMax   = "max"
	AggSum   = "sum"
	AggDelta = "delta"
	AggCount = "count"
)

// Aggregate groups rows by the given keys (dot notation reaches into
// attribute maps) and applies each aggregator to the numeric values of every
// group. Result rows are named "agg(metric)" when metric_name is among the
// group keys, or "agg(collapsedName)" otherwise, carry metric_type
// "aggregated", and preserve the latest timestamp seen in the group.
// Non-numeric values are dropped before aggregation; delta is the last minus
// the first value in timestamp order.
func (f *Frame) Aggregate(by []string, aggs []string, collapsedName string) *Frame {
	groups, order := f.groupRows(by)
	var rows []Row
	for _, agg := range aggs {
		for _, key := range order {
			g := groups[key]
			val := applyAggregator(agg, g.values)
			name := collapsedName
			if containsString(by, ColMetricName) {
				name, _ = g.keyValues[ColMetricName].(string)
			}
			row := Row{
				ColTimestamp:     g.latest,
				ColMetricName:    fmt.Sprintf("%s(%s)", agg, name),
				ColMetricType:    string(TypeAggregated),
				ColValue:         val,
				ColResourceAttrs: map[string]any{},
				ColScopeAttrs:    map[string]any{},
				ColMetricAttrs:   map[string]any{},
			}
			g.applyKeys(row, by)
			rows = append(rows, row)
		}
	}
	return NewFrame(metricFrameColumns, rows)
}

// RateOverTime computes, per group, the first difference of value divided by
// the elapsed seconds between consecutive samples, emitted as
// "rate(metric)". Samples with a non-positive time delta are skipped.
func (f *Frame) RateOverTime(by []string) *Frame {
	return f.computeOverTime(by, func(name string) string {
		return fmt.Sprintf("rate(%s)", name)
	}, func(prev, cur Row) (float64, bool) {
		pv, ok1 := asFloat(prev[ColValue])
		cv, ok2 := asFloat(cur[ColValue])
		if !ok1 || !ok2 {
			return 0, false
		}
		dt := rowTime(cur).Sub(rowTime(prev)).Seconds()
		if dt <= 0 {
			return 0, false
		}
		return (cv - pv) / dt, true
	})
}

// DeltaOverTime computes, per group, the first difference of value between
// consecutive samples, emitted as "delta(metric)".
func (f *Frame) DeltaOverTime(by []string) *Frame {
	return f.computeOverTime(by, func(name string) string {
		return fmt.Sprintf("delta(%s)", name)
	}, func(prev, cur Row) (float64, bool) {
		pv, ok1 := asFloat(prev[ColValue])
		cv, ok2 := asFloat(cur[ColValue])
		if !ok1 || !ok2 {
			return 0, false
		}
		return cv - pv, true
	})
}

func (f *Frame) computeOverTime(by []string, nameFn func(string) string, fn func(prev, cur Row) (float64, bool)) *Frame {
	groups, order := f.groupRows(by)
	var rows []Row
	for _, key := range order {
		g := groups[key]
		for i := 1; i < len(g.rows); i++ {
			prev, cur := g.rows[i-1], g.rows[i]
			v, ok := fn(prev, cur)
			if !ok {
				continue
			}
			name, _ := cur[ColMetricName].(string)
			row := Row{
				ColTimestamp:     rowTime(cur),
				ColMetricName:    nameFn(name),
				ColMetricType:    string(TypeAggregated),
				ColValue:         v,
				ColResourceAttrs: map[string]any{},
				ColScopeAttrs:    map[string]any{},
				ColMetricAttrs:   map[string]any{},
			}
			g.applyKeys(row, by)
			rows = append(rows, row)
		}
	}
	return NewFrame(metricFrameColumns, rows)
}

var aggregatedNameRe = regexp.MustCompile(`^(\w+)\((.*)\)$`)

// PivotAggregated splits an aggregated frame by the given dot-notation group
// key, parses metric names of the form "agg(metric)" and pivots each group
// into a table with one row per metric and one column per aggregator.
func (f *Frame) PivotAggregated(groupKey string) map[string]*Frame {
	result := map[string]*Frame{}
	type cell struct{ metric, agg string }
	values := map[string]map[cell]any{}
	metricsOrder := map[string][]string{}
	aggsOrder := map[string][]string{}

	for _, r := range f.rows {
		group := fmt.Sprint(ResolveKey(r, groupKey))
		name, _ := r[ColMetricName].(string)
		m := aggregatedNameRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		agg, metric := m[1], m[2]
		if values[group] == nil {
			values[group] = map[cell]any{}
		}
		values[group][cell{metric, agg}] = r[ColValue]
		if !containsString(metricsOrder[group], metric) {
			metricsOrder[group] = append(metricsOrder[group], metric)
		}
		if !containsString(aggsOrder[group], agg) {
			aggsOrder[group] = append(aggsOrder[group], agg)
		}
	}

	for group, cells := range values {
		cols := append([]string{"metric"}, aggsOrder[group]...)
		var rows []Row
		for _, metric := range metricsOrder[group] {
			row := Row{"metric": metric}
			for _, agg := range aggsOrder[group] {
				if v, ok := cells[cell{metric, agg}]; ok {
					row[agg] = v
				}
			}
			rows = append(rows, row)
		}
		result[group] = NewFrame(cols, rows)
	}
	return result
}

// SplitByGroup splits a raw metric frame by the given dot-notation attribute
// key into per-group tables of (timestamp, metric_name, value). Rows where
// the key resolves to nil are dropped.
func (f *Frame) SplitByGroup(groupKey string) map[string]*Frame {
	result := map[string]*Frame{}
	for _, r := range f.rows {
		v := ResolveKey(r, groupKey)
		if v == nil {
			continue
		}
		group := fmt.Sprint(v)
		slim := Row{
			ColTimestamp:  r[ColTimestamp],
			ColMetricName: r[ColMetricName],
			ColValue:      r[ColValue],
		}
		fr, ok := result[group]
		if !ok {
			fr = NewFrame([]string{ColTimestamp, ColMetricName, ColValue}, nil)
			result[group] = fr
		}
		fr.rows = append(fr.rows, slim)
	}
	return result
}

// Markdown renders the frame as a GitHub-style table.
func (f *Frame) Markdown() string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(f.columns, " | ") + " |\n")
	seps := make([]string, len(f.columns))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(seps, " | ") + " |\n")
	for _, r := range f.rows {
		cells := make([]string, len(f.columns))
		for i, c := range f.columns {
			cells[i] = formatCell(r[c])
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

// group collects the state of one group-by bucket.
type group struct {
	rows      []Row
	values    []float64
	latest    time.Time
	keyValues map[string]any
}

// applyKeys writes the group's key values back onto an output row,
// re-nesting dotted keys into their attribute maps.
func (g *group) applyKeys(row Row, by []string) {
	for _, key := range by {
		val := g.keyValues[key]
		if base, sub, ok := strings.Cut(key, "."); ok {
			attrs, _ := row[base].(map[string]any)
			if attrs == nil {
				attrs = map[string]any{}
				row[base] = attrs
			}
			attrs[sub] = val
		} else if key != ColMetricName {
			row[key] = val
		}
	}
}

// groupRows partitions the frame (in timestamp order) by the resolved group
// keys and returns the buckets plus their first-seen order.
func (f *Frame) groupRows(by []string) (map[string]*group, []string) {
	sorted := f.SortByTimestamp()
	groups := map[string]*group{}
	var order []string
	for _, r := range sorted.rows {
		parts := make([]string, len(by))
		keyValues := make(map[string]any, len(by))
		for i, key := range by {
			v := ResolveKey(r, key)
			keyValues[key] = v
			parts[i] = fmt.Sprint(v)
		}
		key := strings.Join(parts, "\x1f")
		g, ok := groups[key]
		if !ok {
			g = &group{keyValues: keyValues}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, r)
		if v, ok := asFloat(r[ColValue]); ok {
			g.values = append(g.values, v)
		}
		if ts := rowTime(r); ts.After(g.latest) {
			g.latest = ts
		}
	}
	return groups, order
}

func applyAggregator(agg string, values []float64) float64 {
	if agg == AggCount {
		return float64(len(values))
	}
	if len(values) == 0 {
		return math.NaN()
	}
	switch agg {
	case AggMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case AggMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	case AggMean:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case AggDelta:
		if len(values) < 2 {
			return math.NaN()
		}
		return values[len(values)-1] - values[0]
	default:
		return math.NaN()
	}
}

// ResolveKey resolves a possibly dot-notated key against a row. A dotted key
// addresses one level into a map-valued column.
func ResolveKey(r Row, key string) any {
	if base, sub, ok := strings.Cut(key, "."); ok {
		if attrs, ok := r[base].(map[string]any); ok {
			return attrs[sub]
		}
		return nil
	}
	return r[key]
}

func matchesSubset(attrs map[string]any, subset map[string]any) bool {
	for k, want := range subset {
		got, ok := attrs[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func cloneRow(r Row) Row {
	nr := make(Row, len(r))
	for k, v := range r {
		nr[k] = v
	}
	return nr
}

func rowTime(r Row) time.Time {
	if t, ok := r[ColTimestamp].(time.Time); ok {
		return t
	}
	return time.Time{}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsString(s []string, want string) bool {
	for _, v := range s {
		if v == want {
			return true
		}
	}
	return false
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'g', 6, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
