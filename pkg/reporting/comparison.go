package reporting

import (
	"fmt"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

const comparisonReportType = "comparison_report"

func init() {
	registry.Register(registry.HookStrategy, comparisonReportType, registry.Registration{
		NewConfig: func() any { return &ComparisonReportConfig{} },
		Build: func(cfg any) (any, error) {
			c := cfg.(*ComparisonReportConfig)
			hook := &comparisonReport{config: c}
			return NewStandardHook(comparisonReportType, &c.HookConfig, hook.exec)
		},
	})
	RegisterReportType(comparisonReportType, ReportType{})
}

// ComparisonReportConfig configures the comparison report: the prior reports
// to fold together (all must have run earlier in the same suite and share a
// report type) and the metadata key labelling each run.
type ComparisonReportConfig struct {
	HookConfig `yaml:",inline"`
	Reports    []string `yaml:"reports" validate:"required,min=1"`
	LabelKey   string   `yaml:"label_key"`
}

type comparisonReport struct {
	config *ComparisonReportConfig
}

// exec loads the named prior reports from the suite store, verifies they
// share a type, and delegates aggregation to that type.
func (c *comparisonReport) exec(hctx *framework.HookContext, r *Report, _ telemetry.TimeRange) error {
	store, err := StoreFromContext(hctx)
	if err != nil {
		return err
	}

	reports := make([]*Report, 0, len(c.config.Reports))
	for _, name := range c.config.Reports {
		prior, ok := store.Get(name)
		if !ok {
			return framework.NewReportingError(fmt.Sprintf("prerequisite report %q has not run", name), nil)
		}
		reports = append(reports, prior)
	}

	reportType := reports[0].Type
	for _, prior := range reports[1:] {
		if prior.Type != reportType {
			return framework.NewReportingError(
				fmt.Sprintf("cannot compare reports of different types (%s vs %s)", reportType, prior.Type), nil)
		}
	}

	rt, ok := LookupReportType(reportType)
	if !ok || rt.Aggregate == nil {
		return framework.NewReportingError(fmt.Sprintf("report type %s does not support comparison", reportType), nil)
	}

	tables, order, err := rt.Aggregate(reports, c.config.LabelKey)
	if err != nil {
		return err
	}
	for _, name := range order {
		r.SetResult(name, tables[name])
	}
	return nil
}
