// Package config defines the YAML schema of the orchestrator: components
// with strategy and hook configurations, scenarios with steps and actions,
// and suite-level hooks. Strategy, hook and action configurations are
// tagged variants: each mapping contains exactly one key naming the
// registered type, whose value is decoded into that type's config struct.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/perfpipe/perfpipe/pkg/framework"
)

// TypedSpec is a tagged-variant configuration object: a single-key mapping
// whose key names the registered element type and whose value is the
// element's configuration, kept as a raw node until the registry resolves
// the config schema.
type TypedSpec struct {
	Type string
	Node yaml.Node
}

// UnmarshalYAML decodes the single-key variant form.
func (t *TypedSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("expected a mapping with exactly one key naming the element type")
	}
	t.Type = value.Content[0].Value
	t.Node = *value.Content[1]
	return nil
}

// Decode decodes the variant's configuration into out.
func (t *TypedSpec) Decode(out any) error {
	if t.Node.Kind == 0 {
		return nil
	}
	return t.Node.Decode(out)
}

// AsMap returns the variant's configuration as a neutral tree for merging.
func (t *TypedSpec) AsMap() (map[string]any, error) {
	if t.Node.Kind == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := t.Node.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// HookList holds the pre and post hook configurations of one phase slot.
type HookList struct {
	Pre  []*TypedSpec `yaml:"pre"`
	Post []*TypedSpec `yaml:"post"`
}

// ComponentSpec configures a managed component: one deployment, execution
// and configuration strategy each, any number of monitoring strategies, and
// hooks per lifecycle phase.
type ComponentSpec struct {
	Deployment    *TypedSpec           `yaml:"deployment"`
	Execution     *TypedSpec           `yaml:"execution"`
	Configuration *TypedSpec           `yaml:"configuration"`
	Monitoring    map[string]yaml.Node `yaml:"monitoring"`
	Hooks         map[string]*HookList `yaml:"hooks"`
	OnError       *framework.OnError   `yaml:"on_error"`

	// Raw is the component's configuration subtree as a neutral tree, kept
	// for update_component_strategy merges.
	Raw map[string]any `yaml:"-"`
}

// UnmarshalYAML decodes the typed fields and captures the raw tree.
func (c *ComponentSpec) UnmarshalYAML(value *yaml.Node) error {
	type plain ComponentSpec
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = ComponentSpec(p)
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Raw = raw
	return nil
}

// StepSpec configures a single step: a name and exactly one action variant.
type StepSpec struct {
	Name    string               `yaml:"name" validate:"required"`
	Action  *TypedSpec           `yaml:"action" validate:"required"`
	Hooks   map[string]*HookList `yaml:"hooks"`
	OnError *framework.OnError   `yaml:"on_error"`
}

// ScenarioSpec configures a scenario: an ordered list of steps plus hooks.
type ScenarioSpec struct {
	Name    string               `yaml:"name" validate:"required"`
	Steps   []*StepSpec          `yaml:"steps" validate:"required,min=1,dive"`
	Hooks   map[string]*HookList `yaml:"hooks"`
	OnError *framework.OnError   `yaml:"on_error"`
}

// Document is the full orchestrator configuration file.
type Document struct {
	Name       string                    `yaml:"name"`
	Components map[string]*ComponentSpec `yaml:"components"`
	Tests      []*ScenarioSpec           `yaml:"tests" validate:"required,min=1,dive"`
	Hooks      map[string]*HookList      `yaml:"hooks"`
}

// RunHooks returns the suite-level hook list (the "run" slot), or nil.
func (d *Document) RunHooks() *HookList {
	if d.Hooks == nil {
		return nil
	}
	return d.Hooks["run"]
}
