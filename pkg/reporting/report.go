// Package reporting implements the pull-based post-run reporting engine:
// reporting hooks that query the telemetry substrate over event-bounded
// observation windows, report formatters and writers, and the built-in
// report types (test summary, pipeline performance, comparison, SQL).
package reporting

import (
	"sync"
	"time"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

// Report is the structured artifact emitted by a reporting hook: metadata
// plus one or more named tables, rendered through a formatter/writer
// pipeline.
type Report struct {
	// Name is the configured report name, unique within a suite run.
	Name string

	// Type is the report type identifier (e.g. "pipeline_perf_report").
	Type string

	// GeneratedAt is when the report was produced.
	GeneratedAt time.Time

	// Metadata carries the context metadata the report was generated under,
	// plus observation-window keys.
	Metadata map[string]any

	// Results maps table names to their frames.
	Results map[string]*telemetry.Frame

	// ResultOrder preserves the insertion order of Results for rendering.
	ResultOrder []string

	// DisplayTables marks which result tables the default template renders;
	// empty means all.
	DisplayTables map[string]bool

	// TableDescriptions carries optional per-table descriptions.
	TableDescriptions map[string]string
}

// NewReport creates an empty report of the given type, stamped from the
// context metadata.
func NewReport(name, typeName string, ctx framework.Context) *Report {
	return &Report{
		Name:        name,
		Type:        typeName,
		GeneratedAt: time.Now().UTC(),
		Metadata:    ctx.MergeMetadata(map[string]any{"report.name": name}),
		Results:     make(map[string]*telemetry.Frame),
	}
}

// SetResult stores a named table, preserving insertion order.
func (r *Report) SetResult(name string, frame *telemetry.Frame) {
	if _, exists := r.Results[name]; !exists {
		r.ResultOrder = append(r.ResultOrder, name)
	}
	r.Results[name] = frame
}

// Result returns the named table, or nil.
func (r *Report) Result(name string) *telemetry.Frame {
	return r.Results[name]
}

// Displayed reports whether the named table should appear in rendered
// output.
func (r *Report) Displayed(name string) bool {
	if len(r.DisplayTables) == 0 {
		return true
	}
	return r.DisplayTables[name]
}

// AggregateFunc merges several reports of one type into comparison tables
// keyed by run label, returning the tables in render order.
type AggregateFunc func(reports []*Report, labelKey string) (map[string]*telemetry.Frame, []string, error)

// ReportType describes the renderable surface of a registered report type.
type ReportType struct {
	// DefaultTemplate renders the report when the template formatter is used
	// without an explicit template.
	DefaultTemplate string

	// TemplateData converts a report into the data the template executes
	// against. Nil falls back to the generic table rendering.
	TemplateData func(*Report) map[string]any

	// Aggregate merges reports for the comparison report. Nil means the type
	// does not support comparison.
	Aggregate AggregateFunc
}

var (
	reportTypesMu sync.RWMutex
	reportTypes   = make(map[string]ReportType)
)

// RegisterReportType registers the renderable surface of a report type.
func RegisterReportType(name string, rt ReportType) {
	reportTypesMu.Lock()
	defer reportTypesMu.Unlock()
	reportTypes[name] = rt
}

// LookupReportType returns the registered surface for a report type.
func LookupReportType(name string) (ReportType, bool) {
	reportTypesMu.RLock()
	defer reportTypesMu.RUnlock()
	rt, ok := reportTypes[name]
	return rt, ok
}

// StoreKey is the suite runtime bag namespace holding the report store.
const StoreKey = "reports"

// Store keeps finished reports by name so later reports (comparison) can
// consume them.
type Store struct {
	mu      sync.Mutex
	reports map[string]*Report
}

// NewStore creates an empty report store.
func NewStore() *Store {
	return &Store{reports: make(map[string]*Report)}
}

// Save stores a finished report under its name.
func (s *Store) Save(r *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.Name] = r
}

// Get returns the report stored under the name.
func (s *Store) Get(name string) (*Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[name]
	return r, ok
}

// StoreFromContext resolves the suite's report store, creating it on first
// use.
func StoreFromContext(ctx framework.Context) (*Store, error) {
	suite := ctx.Suite()
	if suite == nil {
		return nil, framework.NewReportingError("no suite available to store reports", nil)
	}
	return suite.Runtime.GetOrCreate(StoreKey, func() any {
		return NewStore()
	}).(*Store), nil
}
