package reporting

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

const perfReportType = "pipeline_perf_report"

// Metadata keys recording which component played which pipeline role, so the
// comparison aggregation can fold per-component tables across runs.
const (
	metaRoleLoadGenerator   = "report.pipeline.load_generator"
	metaRoleSystemUnderTest = "report.pipeline.system_under_test"
	metaRoleBackend         = "report.pipeline.backend"
)

func init() {
	registry.Register(registry.HookStrategy, perfReportType, registry.Registration{
		NewConfig: func() any { return &PerfReportConfig{} },
		Build: func(cfg any) (any, error) {
			c := cfg.(*PerfReportConfig)
			c.applyDefaults()
			hook := &perfReport{config: c}
			return NewStandardHook(perfReportType, &c.HookConfig, hook.exec)
		},
	})
	RegisterReportType(perfReportType, ReportType{
		DefaultTemplate: perfReportTemplate,
		TemplateData:    perfTemplateData,
		Aggregate:       aggregatePerfReports,
	})
}

// PerfIncludeSections selects which report sections the template renders.
type PerfIncludeSections struct {
	Summary          *bool `yaml:"summary"`
	ComponentSummary *bool `yaml:"component_summary"`
	ComponentDetail  *bool `yaml:"component_detail"`
}

// PerfReportConfig configures the pipeline performance report: the three
// pipeline roles plus section toggles.
type PerfReportConfig struct {
	HookConfig      `yaml:",inline"`
	LoadGenerator   string               `yaml:"load_generator"`
	SystemUnderTest string               `yaml:"system_under_test"`
	Backend         string               `yaml:"backend"`
	IncludeSections *PerfIncludeSections `yaml:"include_sections"`
}

func (c *PerfReportConfig) applyDefaults() {
	if c.LoadGenerator == "" {
		c.LoadGenerator = "load-generator"
	}
	if c.SystemUnderTest == "" {
		c.SystemUnderTest = "otel-collector"
	}
	if c.Backend == "" {
		c.Backend = "backend-service"
	}
}

func (c *PerfReportConfig) includes(section string) bool {
	s := c.IncludeSections
	switch section {
	case "summary":
		return s == nil || s.Summary == nil || *s.Summary
	case "component_summary":
		return s == nil || s.ComponentSummary == nil || *s.ComponentSummary
	case "component_detail":
		return s != nil && s.ComponentDetail != nil && *s.ComponentDetail
	}
	return false
}

// Counter and gauge names queried per pipeline role.
var (
	sutCounterMetrics = []string{
		"otelcol_exporter_send_failed_log_records_total",
		"otelcol_exporter_sent_log_records_total",
		"otelcol_receiver_accepted_log_records_total",
		"otelcol_process_cpu_seconds_total",
		"otelcol_exporter_send_failed_log_records",
		"otelcol_exporter_sent_log_records",
		"otelcol_receiver_accepted_log_records",
		"otelcol_process_cpu_seconds",
	}
	sutGaugeMetrics     = []string{"otelcol_process_memory_rss_bytes"}
	loadgenCounters     = []string{"sent", "failed", "bytes_sent"}
	backendCounters     = []string{"received_logs"}
	perfGroupBy         = []string{"metric_attributes.component_name", telemetry.ColMetricName}
	summaryRowOrder     = []string{
		"Total logs attempted",
		"Logs successfully sent by loadgen",
		"Logs failed at loadgen",
		"Logs received by backend",
		"Logs lost in transit",
		"Duration",
		"Logs receive rate (avg)",
		"Total logs lost",
		"Percentage of logs lost",
	}
)

type perfReport struct {
	config *PerfReportConfig
}

// exec queries the observation window's counters and gauges, computes rates,
// min/mean/max aggregates and deltas, and builds the summary, per-component
// summary and per-component detail tables.
func (p *perfReport) exec(hctx *framework.HookContext, r *Report, window telemetry.TimeRange) error {
	rt := hctx.Telemetry()
	metrics := rt.Metrics

	r.Metadata[metaRoleLoadGenerator] = p.config.LoadGenerator
	r.Metadata[metaRoleSystemUnderTest] = p.config.SystemUnderTest
	r.Metadata[metaRoleBackend] = p.config.Backend

	tr := &window

	sutCounters := metrics.Metrics(telemetry.MetricQuery{
		Names:       sutCounterMetrics,
		MetricAttrs: map[string]any{"component_name": p.config.SystemUnderTest},
		TimeRange:   tr,
	})
	backendCounterFrame := metrics.Metrics(telemetry.MetricQuery{
		Names:       backendCounters,
		MetricAttrs: map[string]any{"component_name": p.config.Backend},
		TimeRange:   tr,
	})
	loadgenCounterFrame := metrics.Metrics(telemetry.MetricQuery{
		Names:       loadgenCounters,
		MetricAttrs: map[string]any{"component_name": p.config.LoadGenerator},
		TimeRange:   tr,
	})
	sutGauges := metrics.Metrics(telemetry.MetricQuery{
		Names:       sutGaugeMetrics,
		MetricAttrs: map[string]any{"component_name": p.config.SystemUnderTest},
		TimeRange:   tr,
	})

	counterMetrics := telemetry.Concat(sutCounters, backendCounterFrame, loadgenCounterFrame)
	counterRates := counterMetrics.RateOverTime(perfGroupBy)

	gaugeMetrics := telemetry.Concat(counterRates, sutGauges)
	gaugeAggregates := gaugeMetrics.Aggregate(perfGroupBy, []string{telemetry.AggMin, telemetry.AggMean, telemetry.AggMax}, "")
	counterDeltas := counterMetrics.Aggregate(perfGroupBy, []string{telemetry.AggDelta}, "")

	allAggregates := telemetry.Concat(gaugeAggregates, counterDeltas)

	sentFailed := allAggregates.
		Where(telemetry.ColMetricName, "delta(sent)", "delta(failed)").
		MatchAttrs(telemetry.ColMetricAttrs, map[string]any{"component_name": p.config.LoadGenerator}).
		Aggregate([]string{"metric_attributes.component_name"}, []string{telemetry.AggSum}, "total_sent").
		WithAttrs(telemetry.ColMetricAttrs, map[string]any{"component_name": perfReportType})
	allAggregates = telemetry.Concat(sentFailed, allAggregates)

	duration := math.NaN()
	if !window.Start.IsZero() && !window.End.IsZero() {
		duration = window.End.Sub(window.Start).Seconds()
	}

	r.SetResult("summary", p.summaryTable(allAggregates, duration))
	r.SetResult("component_summary", telemetry.Concat(gaugeAggregates, counterDeltas))
	r.SetResult("component_detail", gaugeMetrics)
	r.DisplayTables = map[string]bool{
		"summary":           p.config.includes("summary"),
		"component_summary": p.config.includes("component_summary"),
		"component_detail":  p.config.includes("component_detail"),
	}
	return nil
}

func (p *perfReport) summaryTable(all *telemetry.Frame, duration float64) *telemetry.Frame {
	totalAttempted := all.LookupValue("sum(total_sent)")
	sent := all.LookupValue("delta(sent)")
	failed := all.LookupValue("delta(failed)")
	received := all.LookupValue("delta(received_logs)")
	avgRate := all.LookupValue("mean(rate(received_logs))")

	values := map[string]float64{
		"Total logs attempted":              totalAttempted,
		"Logs successfully sent by loadgen": sent,
		"Logs failed at loadgen":            failed,
		"Logs received by backend":          received,
		"Logs lost in transit":              sent - received,
		"Duration":                          duration,
		"Logs receive rate (avg)":           avgRate,
		"Total logs lost":                   totalAttempted - received,
		"Percentage of logs lost":           (totalAttempted - received) / totalAttempted,
	}
	rows := make([]telemetry.Row, 0, len(summaryRowOrder))
	for _, label := range summaryRowOrder {
		rows = append(rows, telemetry.Row{
			telemetry.ColMetricName: label,
			telemetry.ColValue:      values[label],
		})
	}
	return telemetry.NewFrame([]string{telemetry.ColMetricName, telemetry.ColValue}, rows)
}

// FormatBytes renders a byte count human-readably.
func FormatBytes(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return humanize.IBytes(uint64(math.Abs(v)))
}

// formatPerfCell applies the display rules: bytes-typed metrics become
// human-readable sizes, rate metrics get "/s" appended, everything else is
// printed with two decimals.
func formatPerfCell(metric string, v any) string {
	f, ok := v.(float64)
	if !ok {
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
	if math.IsNaN(f) {
		return ""
	}
	bytesTyped := strings.Contains(metric, "bytes") || strings.Contains(metric, "memory") || strings.Contains(metric, "network")
	switch {
	case bytesTyped && strings.HasPrefix(metric, "rate("):
		return FormatBytes(f) + "/s"
	case bytesTyped:
		return FormatBytes(f)
	case strings.HasPrefix(metric, "rate("):
		return fmt.Sprintf("%.2f/s", f)
	default:
		return fmt.Sprintf("%.2f", f)
	}
}

const perfReportTemplate = `# Pipeline Perf Report

## Metadata:

{{ range $k, $v := index .report "metadata" }}- {{ $k }}: {{ $v }}
{{ end }}
{{ if index .report "summary" }}## Summary:

{{ index .report "summary" }}
{{ end }}
{{ range $section := index .report "component_sections" }}### Component: {{ index $section "component" }}

{{ index $section "table" }}
{{ end }}
{{ range $section := index .report "detail_sections" }}### Component Detail: {{ index $section "component" }}

{{ index $section "table" }}
{{ end }}`

// perfTemplateData renders the summary plus per-component pivots with the
// byte/rate display formatting applied.
func perfTemplateData(r *Report) map[string]any {
	data := map[string]any{
		"name":     r.Name,
		"metadata": r.Metadata,
	}

	if r.Displayed("summary") {
		if summary := r.Result("summary"); summary != nil {
			rows := make([]telemetry.Row, 0, summary.Len())
			for _, row := range summary.Rows() {
				name, _ := row[telemetry.ColMetricName].(string)
				value := row[telemetry.ColValue]
				if v, ok := value.(float64); ok {
					rule := name
					if strings.Contains(name, "rate") {
						rule = "rate(" + name + ")"
					}
					value = formatPerfCell(rule, v)
				}
				rows = append(rows, telemetry.Row{
					telemetry.ColMetricName: name,
					telemetry.ColValue:      value,
				})
			}
			formatted := telemetry.NewFrame([]string{telemetry.ColMetricName, telemetry.ColValue}, rows)
			data["summary"] = formatted.Markdown()
		}
	}

	if r.Displayed("component_summary") {
		if cs := r.Result("component_summary"); cs != nil {
			var sections []map[string]any
			pivots := cs.PivotAggregated("metric_attributes.component_name")
			for component, pivot := range pivots {
				formatPivot(pivot)
				sections = append(sections, map[string]any{
					"component": component,
					"table":     pivot.Markdown(),
				})
			}
			data["component_sections"] = sections
		}
	}

	if r.Displayed("component_detail") {
		if cd := r.Result("component_detail"); cd != nil {
			var sections []map[string]any
			for component, frame := range cd.SplitByGroup("metric_attributes.component_name") {
				sections = append(sections, map[string]any{
					"component": component,
					"table":     frame.Markdown(),
				})
			}
			data["detail_sections"] = sections
		}
	}
	return data
}

// formatPivot rewrites a pivot table's numeric cells as display strings
// using the metric column for the formatting rules.
func formatPivot(pivot *telemetry.Frame) {
	cols := pivot.Columns()
	for _, row := range pivot.Rows() {
		metric, _ := row["metric"].(string)
		for _, col := range cols {
			if col == "metric" {
				continue
			}
			if v, ok := row[col]; ok {
				row[col] = formatPerfCell(metric, v)
			}
		}
	}
}
