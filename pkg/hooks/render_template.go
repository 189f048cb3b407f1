package hooks

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"text/template"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
)

func init() {
	registry.Register(registry.HookStrategy, "render_template", registry.Registration{
		NewConfig: func() any { return &RenderTemplateConfig{} },
		Build: func(cfg any) (any, error) {
			return NewRenderTemplateHook(cfg.(*RenderTemplateConfig)), nil
		},
	})
}

// RenderTemplateConfig configures the render_template hook. One of Template
// (inline) or TemplatePath must be set; when both are, the inline template
// is used.
type RenderTemplateConfig struct {
	Template     string `yaml:"template"`
	TemplatePath string `yaml:"template_path"`
	OutputPath   string `yaml:"output_path" validate:"required"`
}

// RenderTemplateHook renders a Go text template against the context
// metadata and writes the result to the output path. Components use it to
// materialize config files before deploy.
type RenderTemplateHook struct {
	framework.BaseHook
	config *RenderTemplateConfig
}

// NewRenderTemplateHook creates the hook.
func NewRenderTemplateHook(cfg *RenderTemplateConfig) *RenderTemplateHook {
	return &RenderTemplateHook{
		BaseHook: framework.BaseHook{HookName: "render_template"},
		config:   cfg,
	}
}

// Execute implements framework.Hook.
func (h *RenderTemplateHook) Execute(_ context.Context, hctx *framework.HookContext) error {
	text := h.config.Template
	if text == "" {
		if h.config.TemplatePath == "" {
			return framework.NewConfigError("render_template needs template or template_path", nil)
		}
		data, err := os.ReadFile(h.config.TemplatePath)
		if err != nil {
			return framework.NewConfigError("failed to read template file", err)
		}
		text = string(data)
	}

	tmpl, err := template.New("render_template").Parse(text)
	if err != nil {
		return framework.NewConfigError("failed to parse template", err)
	}

	data := map[string]any{"metadata": hctx.MergeMetadata(nil)}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return framework.NewStrategyError("failed to render template", err)
	}

	if dir := filepath.Dir(h.config.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return framework.NewStrategyError("failed to create output directory", err)
		}
	}
	if err := os.WriteFile(h.config.OutputPath, buf.Bytes(), 0o644); err != nil {
		return framework.NewStrategyError("failed to write rendered template", err)
	}
	hctx.Logger().Infof("rendered template to %s", h.config.OutputPath)
	return nil
}
