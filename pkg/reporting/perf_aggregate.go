package reporting

import (
	"fmt"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

// aggregatePerfReports merges pipeline performance reports into wide-format
// comparison tables: rows are metrics, columns are runs keyed by label.
func aggregatePerfReports(reports []*Report, labelKey string) (map[string]*telemetry.Frame, []string, error) {
	if labelKey == "" {
		labelKey = "report.name"
	}
	labels := make([]string, len(reports))
	for i, r := range reports {
		if v, ok := r.Metadata[labelKey]; ok {
			labels[i] = fmt.Sprint(v)
		} else {
			labels[i] = fmt.Sprintf("Run %d", i+1)
		}
	}

	results := make(map[string]*telemetry.Frame)
	var order []string

	summary, err := mergeOnMetricName(reports, labels, "summary", func(r *Report) map[string]*telemetry.Frame {
		return map[string]*telemetry.Frame{"": r.Result("summary")}
	})
	if err != nil {
		return nil, nil, err
	}
	results["summary"] = summary[""]
	order = append(order, "summary")

	componentTables, err := mergeOnMetricName(reports, labels, "component_summary", splitByRole)
	if err != nil {
		return nil, nil, err
	}
	for _, role := range []string{"load_generator", "system_under_test", "backend"} {
		if frame, ok := componentTables[role]; ok {
			name := "component_summary: " + role
			results[name] = frame
			order = append(order, name)
		}
	}
	return results, order, nil
}

// splitByRole splits a report's component_summary by component name and maps
// each component to its pipeline role using the report metadata.
func splitByRole(r *Report) map[string]*telemetry.Frame {
	cs := r.Result("component_summary")
	if cs == nil {
		return nil
	}
	roles := map[string]string{}
	if v, ok := r.Metadata[metaRoleLoadGenerator].(string); ok {
		roles[v] = "load_generator"
	}
	if v, ok := r.Metadata[metaRoleSystemUnderTest].(string); ok {
		roles[v] = "system_under_test"
	}
	if v, ok := r.Metadata[metaRoleBackend].(string); ok {
		roles[v] = "backend"
	}

	out := map[string]*telemetry.Frame{}
	for component, frame := range cs.SplitByGroup("metric_attributes.component_name") {
		role, ok := roles[component]
		if !ok {
			role = component
		}
		out[role] = frame
	}
	return out
}

// mergeOnMetricName outer-joins per-run tables on metric_name, one value
// column per run label.
func mergeOnMetricName(reports []*Report, labels []string, section string, extract func(*Report) map[string]*telemetry.Frame) (map[string]*telemetry.Frame, error) {
	type tableState struct {
		metricOrder []string
		values      map[string]map[string]any // metric -> label -> value
	}
	states := map[string]*tableState{}
	var groupOrder []string

	for i, r := range reports {
		tables := extract(r)
		if tables == nil {
			return nil, framework.NewReportingError(fmt.Sprintf("report %q has no %s table", r.Name, section), nil)
		}
		for group, frame := range tables {
			state, ok := states[group]
			if !ok {
				state = &tableState{values: map[string]map[string]any{}}
				states[group] = state
				groupOrder = append(groupOrder, group)
			}
			for _, row := range frame.Rows() {
				metric, _ := row[telemetry.ColMetricName].(string)
				if _, seen := state.values[metric]; !seen {
					state.values[metric] = map[string]any{}
					state.metricOrder = append(state.metricOrder, metric)
				}
				state.values[metric][labels[i]] = row[telemetry.ColValue]
			}
		}
	}

	out := make(map[string]*telemetry.Frame, len(states))
	for _, group := range groupOrder {
		state := states[group]
		columns := append([]string{telemetry.ColMetricName}, labels...)
		rows := make([]telemetry.Row, 0, len(state.metricOrder))
		for _, metric := range state.metricOrder {
			row := telemetry.Row{telemetry.ColMetricName: metric}
			for _, label := range labels {
				if v, ok := state.values[metric][label]; ok {
					row[label] = v
				}
			}
			rows = append(rows, row)
		}
		out[group] = telemetry.NewFrame(columns, rows)
	}
	return out, nil
}
