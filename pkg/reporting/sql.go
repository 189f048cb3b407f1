package reporting

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	// SQLite driver for the in-memory report engine.
	_ "modernc.org/sqlite"
	"gopkg.in/yaml.v3"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

const sqlReportType = "sql_report"

func init() {
	registry.Register(registry.HookStrategy, sqlReportType, registry.Registration{
		NewConfig: func() any { return &SQLReportConfig{} },
		Build: func(cfg any) (any, error) {
			c := cfg.(*SQLReportConfig)
			details, err := c.resolveDetails()
			if err != nil {
				return nil, err
			}
			hook := &sqlReport{config: c, details: details}
			return NewStandardHook(sqlReportType, &c.HookConfig, hook.exec)
		},
	})
	RegisterReportType(sqlReportType, ReportType{
		DefaultTemplate: sqlReportTemplate,
	})
}

// SQLReportConfig configures the SQL report. The report definition comes
// either inline (report_config) or from a YAML file (report_config_file).
type SQLReportConfig struct {
	HookConfig       `yaml:",inline"`
	ReportConfig     *SQLReportDetails `yaml:"report_config"`
	ReportConfigFile string            `yaml:"report_config_file"`
}

func (c *SQLReportConfig) resolveDetails() (*SQLReportDetails, error) {
	if c.ReportConfig != nil {
		return c.ReportConfig, nil
	}
	if c.ReportConfigFile == "" {
		return nil, framework.NewConfigError("sql_report needs report_config or report_config_file", nil)
	}
	data, err := os.ReadFile(c.ReportConfigFile)
	if err != nil {
		return nil, framework.NewConfigError("failed to read sql report config file", err)
	}
	var details SQLReportDetails
	if err := yaml.Unmarshal(data, &details); err != nil {
		return nil, framework.NewConfigError("failed to parse sql report config file", err)
	}
	return &details, nil
}

// SQLReportDetails is the report definition: external tables to load, SQL
// statements to run, tables to return and tables to persist.
type SQLReportDetails struct {
	LoadTables   map[string]*LoadTableConfig  `yaml:"load_tables"`
	Queries      []*QueryConfig               `yaml:"queries"`
	ResultTables []*ResultTableConfig         `yaml:"result_tables"`
	WriteTables  map[string]*WriteTableConfig `yaml:"write_tables"`
}

// TableIOConfig locates a table on disk. One of Path or PathTemplate must
// be set; when both are, Path is used. PathTemplate is rendered against the
// report metadata and may contain glob patterns.
type TableIOConfig struct {
	Path         string `yaml:"path"`
	PathTemplate string `yaml:"path_template"`
	Format       string `yaml:"format"`
}

func (c *TableIOConfig) resolvePath(metadata map[string]any) (string, error) {
	if c.Path != "" {
		return c.Path, nil
	}
	if c.PathTemplate == "" {
		return "", framework.NewConfigError("table config needs path or path_template", nil)
	}
	tmpl, err := template.New("path").Parse(c.PathTemplate)
	if err != nil {
		return "", framework.NewConfigError("failed to parse path_template", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"metadata": metadata}); err != nil {
		return "", framework.NewConfigError("failed to render path_template", err)
	}
	return buf.String(), nil
}

// LoadTableConfig loads an external file into a table; DefaultDDL runs
// instead when no file matches the pattern.
type LoadTableConfig struct {
	TableIOConfig `yaml:",inline"`
	DefaultDDL    string `yaml:"default_ddl"`
}

// WriteTableConfig persists a table to disk after the queries ran.
type WriteTableConfig struct {
	TableIOConfig `yaml:",inline"`
}

// QueryConfig is one SQL statement of the ordered query list. A query
// creates or updates named tables for later queries to consume.
type QueryConfig struct {
	Name string `yaml:"name"`
	SQL  string `yaml:"sql" validate:"required"`
}

// ResultTableConfig names a table to return as a report result.
type ResultTableConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Display     *bool  `yaml:"display"`
}

type sqlReport struct {
	config  *SQLReportConfig
	details *SQLReportDetails
}

// exec opens an in-memory SQL engine, registers the metadata and telemetry
// tables, loads external tables, runs the configured queries in order,
// collects the result tables and persists the write tables.
func (s *sqlReport) exec(hctx *framework.HookContext, r *Report, _ telemetry.TimeRange) error {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return framework.NewReportingError("failed to open sql engine", err)
	}
	defer db.Close()

	if err := s.registerMetadata(db, r.Metadata); err != nil {
		return err
	}
	if err := s.loadExternalTables(db, r.Metadata); err != nil {
		return err
	}
	if err := s.registerTelemetryTables(db, hctx.Telemetry()); err != nil {
		return err
	}

	for _, q := range s.details.Queries {
		if _, err := db.Exec(q.SQL); err != nil {
			return framework.NewReportingError(fmt.Sprintf("query %q failed", q.Name), err)
		}
	}

	r.DisplayTables = map[string]bool{}
	r.TableDescriptions = map[string]string{}
	for _, table := range s.details.ResultTables {
		frame, err := queryFrame(db, fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(table.Name)))
		if err != nil {
			return framework.NewReportingError(fmt.Sprintf("failed to collect result table %q", table.Name), err)
		}
		r.SetResult(table.Name, frame)
		r.DisplayTables[table.Name] = table.Display == nil || *table.Display
		if table.Description != "" {
			r.TableDescriptions[table.Name] = table.Description
		}
	}

	for name, cfg := range s.details.WriteTables {
		if err := s.writeTable(db, name, cfg, r.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// registerMetadata creates the metadata table in flattened key/value form.
func (s *sqlReport) registerMetadata(db *sql.DB, metadata map[string]any) error {
	if _, err := db.Exec(`CREATE TABLE metadata ("key" TEXT, "value" TEXT)`); err != nil {
		return framework.NewReportingError("failed to create metadata table", err)
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := db.Exec(`INSERT INTO metadata ("key", "value") VALUES (?, ?)`, k, fmt.Sprint(metadata[k])); err != nil {
			return framework.NewReportingError("failed to populate metadata table", err)
		}
	}
	return nil
}

// loadExternalTables loads the configured external files. With no matching
// file the default DDL runs instead; without one the load fails with a
// file-not-found error.
func (s *sqlReport) loadExternalTables(db *sql.DB, metadata map[string]any) error {
	names := make([]string, 0, len(s.details.LoadTables))
	for name := range s.details.LoadTables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := s.details.LoadTables[name]
		pattern, err := cfg.resolvePath(metadata)
		if err != nil {
			return err
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return framework.NewConfigError(fmt.Sprintf("invalid path pattern %q", pattern), err)
		}
		if len(matches) == 0 {
			if cfg.DefaultDDL != "" {
				if _, err := db.Exec(cfg.DefaultDDL); err != nil {
					return framework.NewReportingError(fmt.Sprintf("default ddl for table %q failed", name), err)
				}
				continue
			}
			return framework.NewReportingError(
				fmt.Sprintf("no file matched %q for table %q", pattern, name), os.ErrNotExist)
		}

		switch cfg.Format {
		case "csv":
			err = loadCSVTable(db, name, matches)
		case "", "json":
			err = loadJSONTable(db, name, matches)
		case "parquet":
			err = framework.NewConfigError("parquet tables are not supported", nil)
		default:
			err = framework.NewConfigError(fmt.Sprintf("unknown table format %q", cfg.Format), nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// registerTelemetryTables flattens the metric, span and span event frames
// (attribute maps become dotted columns) and registers them as metrics,
// spans and events. Log events are excluded from the events table.
func (s *sqlReport) registerTelemetryTables(db *sql.DB, rt *telemetry.Runtime) error {
	if rt == nil {
		return framework.NewReportingError("no telemetry runtime available", nil)
	}
	metrics := rt.Metrics.Snapshot()
	spans := rt.Spans.SpanSnapshot()
	events := rt.Spans.EventSnapshot().Filter(func(row telemetry.Row) bool {
		name, _ := row["name"].(string)
		return name != "log"
	})

	tables := []struct {
		name     string
		frame    *telemetry.Frame
		attrCols []string
	}{
		{"metrics", metrics, []string{
			telemetry.ColResourceAttrs, telemetry.ColScopeAttrs, telemetry.ColMetricAttrs}},
		{"spans", spans, []string{telemetry.ColAttributes, telemetry.ColResource}},
		{"events", events, []string{telemetry.ColAttributes}},
	}
	for _, t := range tables {
		columns, rows := flattenFrame(t.frame, t.attrCols)
		if err := createTable(db, t.name, columns, rows); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlReport) writeTable(db *sql.DB, name string, cfg *WriteTableConfig, metadata map[string]any) error {
	frame, err := queryFrame(db, fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(name)))
	if err != nil {
		return framework.NewReportingError(fmt.Sprintf("failed to read table %q for writing", name), err)
	}
	path, err := cfg.resolvePath(metadata)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return framework.NewReportingError("failed to create output directory", err)
		}
	}

	switch cfg.Format {
	case "csv":
		return writeCSV(path, frame)
	case "", "json":
		payload, err := json.MarshalIndent(SanitizeJSON(frame.Records()), "", "  ")
		if err != nil {
			return framework.NewReportingError("failed to encode table", err)
		}
		return writeFile(path, payload)
	case "parquet":
		return framework.NewConfigError("parquet tables are not supported", nil)
	default:
		return framework.NewConfigError(fmt.Sprintf("unknown table format %q", cfg.Format), nil)
	}
}

// flattenFrame expands map-valued attribute columns into dotted columns
// ("metric_attributes.component_name") and returns the full column list
// plus flat rows.
func flattenFrame(f *telemetry.Frame, attrCols []string) ([]string, []telemetry.Row) {
	attrSet := map[string]bool{}
	for _, c := range attrCols {
		attrSet[c] = true
	}

	var base []string
	for _, c := range f.Columns() {
		if !attrSet[c] {
			base = append(base, c)
		}
	}

	extraSet := map[string]bool{}
	var extra []string
	for _, row := range f.Rows() {
		for _, ac := range attrCols {
			attrs, _ := row[ac].(map[string]any)
			for k := range attrs {
				col := ac + "." + k
				if !extraSet[col] {
					extraSet[col] = true
					extra = append(extra, col)
				}
			}
		}
	}
	sort.Strings(extra)
	columns := append(append([]string{}, base...), extra...)

	rows := make([]telemetry.Row, 0, f.Len())
	for _, row := range f.Rows() {
		flat := telemetry.Row{}
		for _, c := range base {
			flat[c] = row[c]
		}
		for _, ac := range attrCols {
			attrs, _ := row[ac].(map[string]any)
			for k, v := range attrs {
				flat[ac+"."+k] = v
			}
		}
		rows = append(rows, flat)
	}
	return columns, rows
}

// createTable creates and populates a table with dynamically-typed columns.
func createTable(db *sql.DB, name string, columns []string, rows []telemetry.Row) error {
	if len(columns) == 0 {
		return framework.NewReportingError(fmt.Sprintf("table %q has no columns", name), nil)
	}
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		placeholders[i] = "?"
	}
	ddl := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(name), strings.Join(quoted, ", "))
	if _, err := db.Exec(ddl); err != nil {
		return framework.NewReportingError(fmt.Sprintf("failed to create table %q", name), err)
	}
	if len(rows) == 0 {
		return nil
	}

	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(name), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	stmt, err := db.Prepare(insert)
	if err != nil {
		return framework.NewReportingError(fmt.Sprintf("failed to prepare insert for %q", name), err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(columns))
		for i, c := range columns {
			args[i] = sqlValue(row[c])
		}
		if _, err := stmt.Exec(args...); err != nil {
			return framework.NewReportingError(fmt.Sprintf("failed to populate table %q", name), err)
		}
	}
	return nil
}

// queryFrame runs a query and converts the rows into a Frame.
func queryFrame(db *sql.DB, query string) (*telemetry.Frame, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []telemetry.Row
	for rows.Next() {
		values := make([]any, len(columns))
		scan := make([]any, len(columns))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := telemetry.Row{}
		for i, c := range columns {
			switch v := values[i].(type) {
			case []byte:
				row[c] = string(v)
			case int64:
				row[c] = float64(v)
			default:
				row[c] = v
			}
		}
		out = append(out, row)
	}
	return telemetry.NewFrame(columns, out), rows.Err()
}

func loadCSVTable(db *sql.DB, name string, paths []string) error {
	var columns []string
	var rows []telemetry.Row
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return framework.NewReportingError(fmt.Sprintf("failed to open %s", path), err)
		}
		records, err := csv.NewReader(f).ReadAll()
		f.Close()
		if err != nil {
			return framework.NewReportingError(fmt.Sprintf("failed to parse %s", path), err)
		}
		if len(records) == 0 {
			continue
		}
		header := records[0]
		if columns == nil {
			columns = header
		}
		for _, record := range records[1:] {
			row := telemetry.Row{}
			for i, col := range header {
				if i >= len(record) {
					continue
				}
				if num, err := strconv.ParseFloat(record[i], 64); err == nil {
					row[col] = num
				} else {
					row[col] = record[i]
				}
			}
			rows = append(rows, row)
		}
	}
	return createTable(db, name, columns, rows)
}

func loadJSONTable(db *sql.DB, name string, paths []string) error {
	var columns []string
	seen := map[string]bool{}
	var rows []telemetry.Row
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return framework.NewReportingError(fmt.Sprintf("failed to read %s", path), err)
		}
		var records []map[string]any
		if err := json.Unmarshal(data, &records); err != nil {
			return framework.NewReportingError(fmt.Sprintf("failed to parse %s", path), err)
		}
		for _, record := range records {
			row := telemetry.Row{}
			for k, v := range record {
				if !seen[k] {
					seen[k] = true
					columns = append(columns, k)
				}
				row[k] = v
			}
			rows = append(rows, row)
		}
	}
	sort.Strings(columns)
	return createTable(db, name, columns, rows)
}

func writeCSV(path string, frame *telemetry.Frame) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	columns := frame.Columns()
	if err := w.Write(columns); err != nil {
		return framework.NewReportingError("failed to encode csv", err)
	}
	for _, row := range frame.Rows() {
		record := make([]string, len(columns))
		for i, c := range columns {
			if row[c] != nil {
				record[i] = fmt.Sprint(row[c])
			}
		}
		if err := w.Write(record); err != nil {
			return framework.NewReportingError("failed to encode csv", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return framework.NewReportingError("failed to encode csv", err)
	}
	return writeFile(path, buf.Bytes())
}

func writeFile(path string, payload []byte) error {
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return framework.NewReportingError(fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

// sqlValue converts a frame value into a driver-friendly value.
func sqlValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		if x {
			return 1
		}
		return 0
	case map[string]any, []any:
		data, err := json.Marshal(SanitizeJSON(x))
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		return sqlValue(float64(x))
	case int:
		return int64(x)
	default:
		return v
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

const sqlReportTemplate = `# {{ index .report "name" }}
{{ range $name := index .report "result_tables" }}
## {{ $name }}
{{ with index (index $.report "descriptions") $name }}
{{ . }}
{{ end }}
{{ index (index $.report "tables") $name }}
{{ end }}`
