package telemetry

import (
	"sync"
	"time"
)

// MetricType classifies a metric row.
type MetricType string

// Metric types understood by the store. Aggregated rows are produced by
// Frame operations, never appended directly by collectors.
const (
	TypeSum                  MetricType = "Sum"
	TypeGauge                MetricType = "Gauge"
	TypeHistogram            MetricType = "Histogram"
	TypeExponentialHistogram MetricType = "ExponentialHistogram"
	TypeAggregated           MetricType = "aggregated"
)

// MetricRow is a single metric sample.
type MetricRow struct {
	// Timestamp is when the sample was taken.
	Timestamp time.Time

	// Name is the metric name (e.g. "container.cpu.usage").
	Name string

	// Type classifies the sample.
	Type MetricType

	// Value is a float64 for sums and gauges, or a flat map with
	// buckets/boundaries arrays for histograms.
	Value any

	// ResourceAttrs, ScopeAttrs and MetricAttrs are the attribute maps the
	// sample was recorded with.
	ResourceAttrs map[string]any
	ScopeAttrs    map[string]any
	MetricAttrs   map[string]any
}

// TimeRange bounds a query. A zero Start or End leaves that side unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the range (inclusive).
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.Start.IsZero() && t.Before(tr.Start) {
		return false
	}
	if !tr.End.IsZero() && t.After(tr.End) {
		return false
	}
	return true
}

// MetricQuery selects metric rows. Zero-valued fields do not filter.
type MetricQuery struct {
	Names         []string
	Type          MetricType
	TimeRange     *TimeRange
	ResourceAttrs map[string]any
	ScopeAttrs    map[string]any
	MetricAttrs   map[string]any
	Predicate     func(Row) bool
}

// MetricStore is the thread-safe, append-only metric backend. Appends take
// the store mutex; readers receive a lazily-built immutable snapshot that is
// invalidated on any append.
type MetricStore struct {
	mu       sync.Mutex
	batches  [][]MetricRow
	snapshot *Frame
}

// NewMetricStore creates an empty metric store.
func NewMetricStore() *MetricStore {
	return &MetricStore{}
}

// Append adds a batch of metric rows to the store.
func (s *MetricStore) Append(rows ...MetricRow) {
	if len(rows) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, rows)
	s.snapshot = nil
}

// RecordGauge appends a single gauge sample stamped with the current time.
// Collectors use this as their write path; it must never panic even when the
// owning scenario has already closed.
func (s *MetricStore) RecordGauge(name string, value float64, metricAttrs map[string]any) {
	s.Append(MetricRow{
		Timestamp:   time.Now(),
		Name:        name,
		Type:        TypeGauge,
		Value:       value,
		MetricAttrs: metricAttrs,
	})
}

// Snapshot returns the immutable tabular view of all appended rows.
func (s *MetricStore) Snapshot() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		var rows []Row
		for _, batch := range s.batches {
			for _, m := range batch {
				rows = append(rows, Row{
					ColTimestamp:     m.Timestamp,
					ColMetricName:    m.Name,
					ColMetricType:    string(m.Type),
					ColValue:         m.Value,
					ColResourceAttrs: orEmpty(m.ResourceAttrs),
					ColScopeAttrs:    orEmpty(m.ScopeAttrs),
					ColMetricAttrs:   orEmpty(m.MetricAttrs),
				})
			}
		}
		s.snapshot = NewFrame(metricFrameColumns, rows)
	}
	return s.snapshot
}

// Metrics returns a copy of the snapshot filtered by the query.
func (s *MetricStore) Metrics(q MetricQuery) *Frame {
	return s.Snapshot().Filter(func(r Row) bool {
		if len(q.Names) > 0 {
			name, _ := r[ColMetricName].(string)
			if !containsString(q.Names, name) {
				return false
			}
		}
		if q.Type != "" && r[ColMetricType] != string(q.Type) {
			return false
		}
		if q.TimeRange != nil && !q.TimeRange.Contains(rowTime(r)) {
			return false
		}
		if !matchAttrColumn(r, ColResourceAttrs, q.ResourceAttrs) {
			return false
		}
		if !matchAttrColumn(r, ColScopeAttrs, q.ScopeAttrs) {
			return false
		}
		if !matchAttrColumn(r, ColMetricAttrs, q.MetricAttrs) {
			return false
		}
		if q.Predicate != nil && !q.Predicate(r) {
			return false
		}
		return true
	})
}

func matchAttrColumn(r Row, column string, subset map[string]any) bool {
	if len(subset) == 0 {
		return true
	}
	attrs, _ := r[column].(map[string]any)
	return matchesSubset(attrs, subset)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
