package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// SpanRow is a finished span as stored for querying.
type SpanRow struct {
	Name       string
	TraceID    string
	SpanID     string
	ParentID   string
	Start      time.Time
	End        time.Time
	DurationMs float64
	StatusCode string
	Kind       string
	Attrs      map[string]any
	Resource   map[string]any
}

// SpanEventRow is a named, timestamped event attached to a span.
type SpanEventRow struct {
	SpanID    string
	Timestamp time.Time
	Name      string
	Attrs     map[string]any
}

// SpanQuery selects span rows. Zero-valued fields do not filter.
type SpanQuery struct {
	Name        string
	TraceID     string
	SpanID      string
	ParentID    string
	TimeRange   *TimeRange
	MinDuration *float64
	MaxDuration *float64
	StatusCode  string
	Kind        string
	Attrs       map[string]any
	Predicate   func(Row) bool
}

// SpanEventQuery selects span event rows. Zero-valued fields do not filter.
type SpanEventQuery struct {
	Name      string
	SpanID    string
	TimeRange *TimeRange
	Attrs     map[string]any
	Predicate func(Row) bool
}

// Span frame columns.
const (
	ColSpanName   = "name"
	ColTraceID    = "trace_id"
	ColSpanID     = "span_id"
	ColParentID   = "parent_span_id"
	ColStartTime  = "start_time"
	ColEndTime    = "end_time"
	ColDurationMs = "duration_ms"
	ColStatusCode = "status_code"
	ColSpanKind   = "kind"
	ColAttributes = "attributes"
	ColResource   = "resource"
)

var spanFrameColumns = []string{
	ColSpanName, ColTraceID, ColSpanID, ColParentID, ColStartTime, ColEndTime,
	ColDurationMs, ColStatusCode, ColSpanKind, ColAttributes, ColResource,
}

var spanEventFrameColumns = []string{
	ColSpanID, ColTimestamp, ColSpanName, ColAttributes,
}

// SpanStore is the thread-safe, append-only span backend. It implements the
// OpenTelemetry SDK's SpanProcessor so every span ended anywhere in the
// process is mirrored into the store.
//
// Span events flow through AppendEvent at record time (the execution
// contexts call it alongside span.AddEvent) so that events are queryable
// while their owning span is still open; OnEnd intentionally does not copy
// events off the span a second time.
type SpanStore struct {
	mu            sync.Mutex
	spans         []SpanRow
	events        []SpanEventRow
	spanSnapshot  *Frame
	eventSnapshot *Frame
}

// NewSpanStore creates an empty span store.
func NewSpanStore() *SpanStore {
	return &SpanStore{}
}

var _ sdktrace.SpanProcessor = (*SpanStore)(nil)

// OnStart implements sdktrace.SpanProcessor.
func (s *SpanStore) OnStart(_ context.Context, _ sdktrace.ReadWriteSpan) {}

// OnEnd appends the finished span to the store.
func (s *SpanStore) OnEnd(span sdktrace.ReadOnlySpan) {
	sc := span.SpanContext()
	row := SpanRow{
		Name:       span.Name(),
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		Start:      span.StartTime(),
		End:        span.EndTime(),
		DurationMs: float64(span.EndTime().Sub(span.StartTime())) / float64(time.Millisecond),
		StatusCode: statusCodeString(span.Status().Code),
		Kind:       span.SpanKind().String(),
		Attrs:      attrsToMap(span.Attributes()),
	}
	if span.Parent().IsValid() {
		row.ParentID = span.Parent().SpanID().String()
	}
	if res := span.Resource(); res != nil {
		row.Resource = attrsToMap(res.Attributes())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, row)
	s.spanSnapshot = nil
}

// Shutdown implements sdktrace.SpanProcessor.
func (s *SpanStore) Shutdown(_ context.Context) error { return nil }

// ForceFlush implements sdktrace.SpanProcessor.
func (s *SpanStore) ForceFlush(_ context.Context) error { return nil }

// AppendEvent records a span event. span may be nil or non-recording; the
// event is stored either way so reporting windows can be resolved even when
// no tracer was available.
func (s *SpanStore) AppendEvent(span trace.Span, name string, attrs map[string]any) {
	ev := SpanEventRow{
		Timestamp: time.Now(),
		Name:      name,
		Attrs:     orEmpty(attrs),
	}
	if span != nil && span.SpanContext().IsValid() {
		ev.SpanID = span.SpanContext().SpanID().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.eventSnapshot = nil
}

// SpanSnapshot returns the immutable tabular view of finished spans.
func (s *SpanStore) SpanSnapshot() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spanSnapshot == nil {
		rows := make([]Row, 0, len(s.spans))
		for _, sp := range s.spans {
			rows = append(rows, Row{
				ColSpanName:   sp.Name,
				ColTraceID:    sp.TraceID,
				ColSpanID:     sp.SpanID,
				ColParentID:   sp.ParentID,
				ColStartTime:  sp.Start,
				ColEndTime:    sp.End,
				ColDurationMs: sp.DurationMs,
				ColStatusCode: sp.StatusCode,
				ColSpanKind:   sp.Kind,
				ColAttributes: orEmpty(sp.Attrs),
				ColResource:   orEmpty(sp.Resource),
			})
		}
		s.spanSnapshot = NewFrame(spanFrameColumns, rows)
	}
	return s.spanSnapshot
}

// EventSnapshot returns the immutable tabular view of span events.
func (s *SpanStore) EventSnapshot() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventSnapshot == nil {
		rows := make([]Row, 0, len(s.events))
		for _, ev := range s.events {
			rows = append(rows, Row{
				ColSpanID:     ev.SpanID,
				ColTimestamp:  ev.Timestamp,
				ColSpanName:   ev.Name,
				ColAttributes: orEmpty(ev.Attrs),
			})
		}
		s.eventSnapshot = NewFrame(spanEventFrameColumns, rows)
	}
	return s.eventSnapshot
}

// Spans returns a copy of the span snapshot filtered by the query.
func (s *SpanStore) Spans(q SpanQuery) *Frame {
	return s.SpanSnapshot().Filter(func(r Row) bool {
		if q.Name != "" && r[ColSpanName] != q.Name {
			return false
		}
		if q.TraceID != "" && r[ColTraceID] != q.TraceID {
			return false
		}
		if q.SpanID != "" && r[ColSpanID] != q.SpanID {
			return false
		}
		if q.ParentID != "" && r[ColParentID] != q.ParentID {
			return false
		}
		if q.TimeRange != nil {
			start, _ := r[ColStartTime].(time.Time)
			if !q.TimeRange.Contains(start) {
				return false
			}
		}
		if d, ok := r[ColDurationMs].(float64); ok {
			if q.MinDuration != nil && d < *q.MinDuration {
				return false
			}
			if q.MaxDuration != nil && d > *q.MaxDuration {
				return false
			}
		}
		if q.StatusCode != "" && r[ColStatusCode] != q.StatusCode {
			return false
		}
		if q.Kind != "" && r[ColSpanKind] != q.Kind {
			return false
		}
		if !matchAttrColumn(r, ColAttributes, q.Attrs) {
			return false
		}
		if q.Predicate != nil && !q.Predicate(r) {
			return false
		}
		return true
	})
}

// SpanEvents returns a copy of the event snapshot filtered by the query.
func (s *SpanStore) SpanEvents(q SpanEventQuery) *Frame {
	return s.EventSnapshot().Filter(func(r Row) bool {
		if q.Name != "" && r[ColSpanName] != q.Name {
			return false
		}
		if q.SpanID != "" && r[ColSpanID] != q.SpanID {
			return false
		}
		if q.TimeRange != nil && !q.TimeRange.Contains(rowTime(r)) {
			return false
		}
		if !matchAttrColumn(r, ColAttributes, q.Attrs) {
			return false
		}
		if q.Predicate != nil && !q.Predicate(r) {
			return false
		}
		return true
	})
}

func statusCodeString(c codes.Code) string {
	switch c {
	case codes.Ok:
		return "OK"
	case codes.Error:
		return "ERROR"
	default:
		return "UNSET"
	}
}

func attrsToMap(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
