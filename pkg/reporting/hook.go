package reporting

import (
	"context"
	"time"

	"github.com/perfpipe/perfpipe/pkg/config"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
	"github.com/perfpipe/perfpipe/pkg/runner"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

// EventCriteria selects span events by name and attribute subset.
type EventCriteria struct {
	Name       string         `yaml:"name" validate:"required"`
	Attributes map[string]any `yaml:"attributes"`
}

// BetweenEvents bounds a report's observation window: the earliest event
// matching Start opens it, the latest event matching End closes it.
type BetweenEvents struct {
	Start *EventCriteria `yaml:"start"`
	End   *EventCriteria `yaml:"end"`
}

// OutputSpec is one (formatter, writer) pair of the report output pipeline.
type OutputSpec struct {
	Format      *config.TypedSpec `yaml:"format"`
	Destination *config.TypedSpec `yaml:"destination"`
}

// HookConfig carries the fields shared by every reporting hook.
type HookConfig struct {
	ReportName    string         `yaml:"name" validate:"required"`
	Output        []*OutputSpec  `yaml:"output"`
	BetweenEvents *BetweenEvents `yaml:"between_events"`
}

// pipeline is a built (formatter, writer) pair.
type pipeline struct {
	formatter Formatter
	writer    Writer
}

// executor runs the specialized report logic, filling the report's results
// from telemetry bounded by the observation window.
type executor func(hctx *framework.HookContext, r *Report, window telemetry.TimeRange) error

// StandardHook is the base of every reporting hook: it resolves the
// observation window, constructs the report from context metadata, runs the
// specialized logic, pushes the report through the output pipeline and
// stores it in the suite runtime for later reports to consume.
type StandardHook struct {
	framework.BaseHook
	config    *HookConfig
	typeName  string
	pipelines []pipeline
	exec      executor
}

// NewStandardHook builds the base hook, constructing the output pipelines
// up front so config errors surface before execution. An output entry
// without a format uses the json formatter and one without a destination the
// noop writer; with no configured output nothing is written.
func NewStandardHook(typeName string, cfg *HookConfig, exec executor) (*StandardHook, error) {
	h := &StandardHook{
		BaseHook: framework.BaseHook{HookName: typeName},
		config:   cfg,
		typeName: typeName,
		exec:     exec,
	}
	for _, spec := range cfg.Output {
		p := pipeline{formatter: NewJSONFormatter(&JSONFormatterConfig{}), writer: &NoopWriter{}}
		if spec.Format != nil {
			built, err := runner.BuildElement(registry.ReportFormatter, spec.Format)
			if err != nil {
				return nil, err
			}
			formatter, ok := built.(Formatter)
			if !ok {
				return nil, framework.NewConfigError("configured format is not a report formatter", nil)
			}
			p.formatter = formatter
		}
		if spec.Destination != nil {
			built, err := runner.BuildElement(registry.ReportWriter, spec.Destination)
			if err != nil {
				return nil, err
			}
			writer, ok := built.(Writer)
			if !ok {
				return nil, framework.NewConfigError("configured destination is not a report writer", nil)
			}
			p.writer = writer
		}
		h.pipelines = append(h.pipelines, p)
	}
	return h, nil
}

// Execute implements framework.Hook.
func (h *StandardHook) Execute(_ context.Context, hctx *framework.HookContext) error {
	rt := hctx.Telemetry()
	if rt == nil {
		return framework.NewReportingError("no telemetry runtime available", nil)
	}

	window, err := h.resolveWindow(rt)
	if err != nil {
		return err
	}

	report := NewReport(h.config.ReportName, h.typeName, hctx)
	if !window.Start.IsZero() {
		report.Metadata["report.observation.start"] = window.Start.UTC().Format(time.RFC3339Nano)
	}
	if !window.End.IsZero() {
		report.Metadata["report.observation.end"] = window.End.UTC().Format(time.RFC3339Nano)
	}
	if !window.Start.IsZero() && !window.End.IsZero() {
		report.Metadata["report.observation.duration_seconds"] = window.End.Sub(window.Start).Seconds()
	}

	if err := h.exec(hctx, report, window); err != nil {
		return err
	}

	logger := hctx.Logger()
	for _, p := range h.pipelines {
		payload, err := p.formatter.Format(report)
		if err != nil {
			return err
		}
		if err := p.writer.Write(report, payload, logger); err != nil {
			return err
		}
	}

	store, err := StoreFromContext(hctx)
	if err != nil {
		return err
	}
	store.Save(report)
	return nil
}

// resolveWindow queries the span store for the configured window events:
// the earliest match opens the window, the latest match closes it. Without
// between_events the whole trace window (an unbounded range) is used.
func (h *StandardHook) resolveWindow(rt *telemetry.Runtime) (telemetry.TimeRange, error) {
	var window telemetry.TimeRange
	be := h.config.BetweenEvents
	if be == nil {
		return window, nil
	}
	if be.Start != nil {
		ts, ok := matchEventTime(rt, be.Start, false)
		if !ok {
			return window, framework.NewReportingError("no span event matched the window start criteria", nil)
		}
		window.Start = ts
	}
	if be.End != nil {
		ts, ok := matchEventTime(rt, be.End, true)
		if !ok {
			return window, framework.NewReportingError("no span event matched the window end criteria", nil)
		}
		window.End = ts
	}
	return window, nil
}

func matchEventTime(rt *telemetry.Runtime, criteria *EventCriteria, latest bool) (time.Time, bool) {
	events := rt.Spans.SpanEvents(telemetry.SpanEventQuery{
		Name:  criteria.Name,
		Attrs: criteria.Attributes,
	})
	if events.Empty() {
		return time.Time{}, false
	}
	var best time.Time
	for i, row := range events.Rows() {
		ts, _ := row[telemetry.ColTimestamp].(time.Time)
		if i == 0 || (latest && ts.After(best)) || (!latest && ts.Before(best)) {
			best = ts
		}
	}
	return best, true
}
