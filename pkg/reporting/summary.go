package reporting

import (
	"fmt"
	"strings"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

const testReportType = "test_report"

func init() {
	registry.Register(registry.HookStrategy, testReportType, registry.Registration{
		NewConfig: func() any { return &TestReportConfig{} },
		Build: func(cfg any) (any, error) {
			c := cfg.(*TestReportConfig)
			return NewStandardHook(testReportType, &c.HookConfig, execTestReport)
		},
	})
	RegisterReportType(testReportType, ReportType{
		DefaultTemplate: testReportTemplate,
		TemplateData:    testReportTemplateData,
	})
}

// TestReportConfig configures the test summary report hook.
type TestReportConfig struct {
	HookConfig `yaml:",inline"`
}

var summaryColumns = []string{"name", "status", "duration_seconds", "depth", "parent_name"}

// execTestReport walks the suite's child contexts and emits one table per
// scenario with (name, status, duration, depth, parent) for the scenario,
// its steps and their hooks.
func execTestReport(hctx *framework.HookContext, r *Report, _ telemetry.TimeRange) error {
	suite := hctx.Suite()
	if suite == nil {
		return framework.NewReportingError("no suite context available", nil)
	}
	for _, child := range suite.Context.Children() {
		scenario, ok := child.(*framework.ScenarioContext)
		if !ok {
			continue
		}
		var rows []telemetry.Row
		collectContextRows(scenario, 0, "", &rows)
		r.SetResult(scenario.Name(), telemetry.NewFrame(summaryColumns, rows))
	}
	return nil
}

func collectContextRows(ctx framework.Context, depth int, parent string, rows *[]telemetry.Row) {
	duration := ctx.EndTime().Sub(ctx.StartTime()).Seconds()
	if ctx.EndTime().IsZero() || ctx.StartTime().IsZero() {
		duration = 0
	}
	*rows = append(*rows, telemetry.Row{
		"name":             ctx.Name(),
		"status":           string(ctx.Status()),
		"duration_seconds": duration,
		"depth":            depth,
		"parent_name":      parent,
	})
	for _, child := range ctx.Children() {
		collectContextRows(child, depth+1, ctx.Name(), rows)
	}
}

const testReportTemplate = `# {{ index .report "name" }}
{{ range $section := index .report "sections" }}
## {{ index $section "title" }}

{{ index $section "body" }}
{{ end }}`

// testReportTemplateData renders each scenario table as a hierarchical
// indented list.
func testReportTemplateData(r *Report) map[string]any {
	var sections []map[string]any
	for _, name := range r.ResultOrder {
		frame := r.Results[name]
		var b strings.Builder
		for _, row := range frame.Rows() {
			depth, _ := row["depth"].(int)
			duration, _ := row["duration_seconds"].(float64)
			b.WriteString(fmt.Sprintf("%s- %s [%s] (%.2fs)\n",
				strings.Repeat("  ", depth), row["name"], row["status"], duration))
		}
		sections = append(sections, map[string]any{
			"title": name,
			"body":  b.String(),
		})
	}
	return map[string]any{
		"name":     r.Name,
		"metadata": r.Metadata,
		"sections": sections,
	}
}
