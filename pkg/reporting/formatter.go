package reporting

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"text/template"
	"time"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
)

// Formatter turns a report into an output payload.
type Formatter interface {
	Name() string
	Format(r *Report) ([]byte, error)
}

func init() {
	registry.Register(registry.ReportFormatter, "noop", registry.Registration{
		NewConfig: func() any { return &NoopFormatterConfig{} },
		Build: func(cfg any) (any, error) {
			return &NoopFormatter{}, nil
		},
	})
	registry.Register(registry.ReportFormatter, "json", registry.Registration{
		NewConfig: func() any { return &JSONFormatterConfig{} },
		Build: func(cfg any) (any, error) {
			return NewJSONFormatter(cfg.(*JSONFormatterConfig)), nil
		},
	})
	registry.Register(registry.ReportFormatter, "template", registry.Registration{
		NewConfig: func() any { return &TemplateFormatterConfig{} },
		Build: func(cfg any) (any, error) {
			return NewTemplateFormatter(cfg.(*TemplateFormatterConfig)), nil
		},
	})
}

// NoopFormatterConfig configures the noop formatter. It has no fields.
type NoopFormatterConfig struct{}

// NoopFormatter returns no payload; paired with the noop writer it is the
// do-nothing default pipeline.
type NoopFormatter struct{}

// Name implements Formatter.
func (f *NoopFormatter) Name() string { return "noop" }

// Format implements Formatter.
func (f *NoopFormatter) Format(_ *Report) ([]byte, error) { return nil, nil }

// JSONFormatterConfig configures the json formatter.
type JSONFormatterConfig struct {
	Indent int `yaml:"indent"`
}

// JSONFormatter serializes the report record as UTF-8 JSON. NaN and ±Inf
// values are replaced with null recursively, timestamps are ISO-8601 UTC.
type JSONFormatter struct {
	config *JSONFormatterConfig
}

// NewJSONFormatter creates the formatter with a default indent of 2.
func NewJSONFormatter(cfg *JSONFormatterConfig) *JSONFormatter {
	if cfg.Indent <= 0 {
		cfg.Indent = 2
	}
	return &JSONFormatter{config: cfg}
}

// Name implements Formatter.
func (f *JSONFormatter) Name() string { return "json" }

// Format implements Formatter.
func (f *JSONFormatter) Format(r *Report) ([]byte, error) {
	results := make(map[string]any, len(r.Results))
	for name, frame := range r.Results {
		results[name] = frame.Records()
	}
	record := map[string]any{
		"report_name": r.Name,
		"report_time": r.GeneratedAt,
		"metadata":    r.Metadata,
		"results":     results,
	}
	payload, err := json.MarshalIndent(SanitizeJSON(record), "", indentString(f.config.Indent))
	if err != nil {
		return nil, framework.NewReportingError("failed to serialize report", err)
	}
	return payload, nil
}

func indentString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

// SanitizeJSON replaces NaN and ±Inf with nil recursively and renders
// timestamps as ISO-8601 UTC strings, so the result is always valid JSON.
func SanitizeJSON(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		return SanitizeJSON(float64(x))
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = SanitizeJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = SanitizeJSON(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = SanitizeJSON(val)
		}
		return out
	default:
		return v
	}
}

// TemplateFormatterConfig configures the template formatter. With neither an
// inline template nor a path, the report type's default template is used.
type TemplateFormatterConfig struct {
	Template     string `yaml:"template"`
	TemplatePath string `yaml:"template_path"`
}

// TemplateFormatter renders the report through a Go text template.
type TemplateFormatter struct {
	config *TemplateFormatterConfig
}

// NewTemplateFormatter creates the formatter.
func NewTemplateFormatter(cfg *TemplateFormatterConfig) *TemplateFormatter {
	return &TemplateFormatter{config: cfg}
}

// Name implements Formatter.
func (f *TemplateFormatter) Name() string { return "template" }

// Format implements Formatter.
func (f *TemplateFormatter) Format(r *Report) ([]byte, error) {
	text := f.config.Template
	if text == "" && f.config.TemplatePath != "" {
		data, err := os.ReadFile(f.config.TemplatePath)
		if err != nil {
			return nil, framework.NewReportingError("failed to read template file", err)
		}
		text = string(data)
	}

	rt, typeKnown := LookupReportType(r.Type)
	if text == "" {
		if typeKnown && rt.DefaultTemplate != "" {
			text = rt.DefaultTemplate
		} else {
			text = genericTemplate
		}
	}

	var data map[string]any
	if typeKnown && rt.TemplateData != nil {
		data = rt.TemplateData(r)
	} else {
		data = GenericTemplateData(r)
	}

	tmpl, err := template.New(r.Type).Parse(text)
	if err != nil {
		return nil, framework.NewReportingError("failed to parse report template", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"report": data}); err != nil {
		return nil, framework.NewReportingError("failed to render report template", err)
	}
	return buf.Bytes(), nil
}

// genericTemplate renders any report as titled markdown tables.
const genericTemplate = `# {{ index .report "name" }}

## Metadata:

{{ range $k, $v := index .report "metadata" }}- {{ $k }}: {{ $v }}
{{ end }}
{{ range $name := index .report "result_tables" }}## {{ $name }}

{{ index (index $.report "tables") $name }}
{{ end }}`

// GenericTemplateData converts a report into the generic template's data
// shape: metadata, ordered table names and their markdown renderings.
func GenericTemplateData(r *Report) map[string]any {
	tables := make(map[string]string, len(r.Results))
	var order []string
	for _, name := range r.ResultOrder {
		if !r.Displayed(name) {
			continue
		}
		tables[name] = r.Results[name].Markdown()
		order = append(order, name)
	}
	return map[string]any{
		"name":          r.Name,
		"metadata":      r.Metadata,
		"tables":        tables,
		"result_tables": order,
		"descriptions":  r.TableDescriptions,
	}
}
