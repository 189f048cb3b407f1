// Package runner turns a validated configuration document into a runnable
// suite: it resolves every tagged variant through the registry, decodes and
// validates its config, builds strategies, hooks and actions, and wires
// components, scenarios and suite-level services together.
package runner

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/config"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

// BuildSuite assembles the suite from a configuration document. The
// telemetry runtime and CLI args are stored in the suite runtime bag for
// strategies and hooks to consult.
func BuildSuite(doc *config.Document, rt *telemetry.Runtime, args framework.RunnerArgs) (*framework.Suite, error) {
	name := doc.Name
	if name == "" {
		name = "Suite"
	}

	components := make(map[string]framework.Component, len(doc.Components))
	for compName, spec := range doc.Components {
		comp, err := BuildComponent(compName, spec)
		if err != nil {
			return nil, err
		}
		components[compName] = comp
	}

	scenarios := make([]*framework.Scenario, 0, len(doc.Tests))
	for _, spec := range doc.Tests {
		scenario, err := buildScenario(spec)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, scenario)
	}

	suite := framework.NewSuite(name, scenarios, components, rt)
	suite.Runtime.Set(framework.ArgsKey, args)

	if hooks := doc.RunHooks(); hooks != nil {
		if err := addHookList(&suite.Element, framework.PhasePreRun, hooks.Pre); err != nil {
			return nil, err
		}
		if err := addHookList(&suite.Element, framework.PhasePostRun, hooks.Post); err != nil {
			return nil, err
		}
	}
	return suite, nil
}

// BuildComponent builds a component from its spec: strategies, default
// hooks, config-declared hooks and error policy.
func BuildComponent(name string, spec *config.ComponentSpec) (*component.Component, error) {
	var (
		cfgStrategy  component.ConfigurationStrategy
		depStrategy  component.DeploymentStrategy
		execStrategy component.ExecutionStrategy
		monStrategy  component.MonitoringStrategy
	)

	if spec.Configuration != nil {
		built, err := BuildElement(registry.Configuration, spec.Configuration)
		if err != nil {
			return nil, err
		}
		var ok bool
		if cfgStrategy, ok = built.(component.ConfigurationStrategy); !ok {
			return nil, framework.NewConfigError(fmt.Sprintf("%s is not a configuration strategy", spec.Configuration.Type), nil)
		}
	}
	if spec.Deployment != nil {
		built, err := BuildElement(registry.Deployment, spec.Deployment)
		if err != nil {
			return nil, err
		}
		var ok bool
		if depStrategy, ok = built.(component.DeploymentStrategy); !ok {
			return nil, framework.NewConfigError(fmt.Sprintf("%s is not a deployment strategy", spec.Deployment.Type), nil)
		}
	}
	if spec.Execution != nil {
		built, err := BuildElement(registry.Execution, spec.Execution)
		if err != nil {
			return nil, err
		}
		var ok bool
		if execStrategy, ok = built.(component.ExecutionStrategy); !ok {
			return nil, framework.NewConfigError(fmt.Sprintf("%s is not an execution strategy", spec.Execution.Type), nil)
		}
	}
	if len(spec.Monitoring) > 0 {
		mon, err := BuildMonitoring(spec.Monitoring)
		if err != nil {
			return nil, err
		}
		monStrategy = mon
	}

	comp := component.New(name, cfgStrategy, depStrategy, execStrategy, monStrategy)
	comp.Spec = spec.Raw
	if spec.OnError != nil {
		comp.OnError = *spec.OnError
	}

	for phase, hooks := range spec.Hooks {
		if hooks == nil {
			continue
		}
		for _, hspec := range hooks.Pre {
			hook, err := BuildHook(hspec)
			if err != nil {
				return nil, err
			}
			comp.AddHook("pre_"+phase, hook)
		}
		for _, hspec := range hooks.Post {
			hook, err := BuildHook(hspec)
			if err != nil {
				return nil, err
			}
			comp.AddHook("post_"+phase, hook)
		}
	}
	return comp, nil
}

// BuildMonitoring builds the (possibly composite) monitoring strategy from
// the per-type config map.
func BuildMonitoring(specs map[string]yaml.Node) (component.MonitoringStrategy, error) {
	var strategies []component.MonitoringStrategy
	for typeName := range specs {
		node := specs[typeName]
		built, err := buildRegistered(registry.Monitoring, typeName, &node)
		if err != nil {
			return nil, err
		}
		strategy, ok := built.(component.MonitoringStrategy)
		if !ok {
			return nil, framework.NewConfigError(fmt.Sprintf("%s is not a monitoring strategy", typeName), nil)
		}
		strategies = append(strategies, strategy)
	}
	if len(strategies) == 1 {
		return strategies[0], nil
	}
	return component.NewCompositeMonitoring(strategies...), nil
}

// BuildElement resolves a tagged variant through the registry, decodes and
// validates its config, and builds the element.
func BuildElement(cat registry.Category, spec *config.TypedSpec) (any, error) {
	return buildRegistered(cat, spec.Type, &spec.Node)
}

// BuildStrategyFromTree builds a registered element from a neutral config
// tree, used after update_component_strategy merges.
func BuildStrategyFromTree(cat registry.Category, typeName string, tree map[string]any) (any, error) {
	reg, ok := registry.Lookup(cat, typeName)
	if !ok {
		return nil, framework.NewConfigError(fmt.Sprintf("unknown %s type: %s", cat, typeName), nil)
	}
	cfg := reg.NewConfig()
	if cfg != nil {
		if err := config.DecodeTree(tree, cfg); err != nil {
			return nil, err
		}
		if err := config.ValidateStruct(cfg); err != nil {
			return nil, err
		}
	}
	return reg.Build(cfg)
}

// BuildHook builds a hook from its tagged variant.
func BuildHook(spec *config.TypedSpec) (framework.Hook, error) {
	built, err := BuildElement(registry.HookStrategy, spec)
	if err != nil {
		return nil, err
	}
	hook, ok := built.(framework.Hook)
	if !ok {
		return nil, framework.NewConfigError(fmt.Sprintf("%s is not a hook", spec.Type), nil)
	}
	return hook, nil
}

// BuildAction builds a step action from its tagged variant.
func BuildAction(spec *config.TypedSpec) (framework.Action, error) {
	built, err := BuildElement(registry.StepAction, spec)
	if err != nil {
		return nil, err
	}
	action, ok := built.(framework.Action)
	if !ok {
		return nil, framework.NewConfigError(fmt.Sprintf("%s is not a step action", spec.Type), nil)
	}
	return action, nil
}

func buildRegistered(cat registry.Category, typeName string, node *yaml.Node) (any, error) {
	reg, ok := registry.Lookup(cat, typeName)
	if !ok {
		return nil, framework.NewConfigError(fmt.Sprintf("unknown %s type: %s", cat, typeName), nil)
	}
	cfg := reg.NewConfig()
	if cfg != nil && node != nil && node.Kind != 0 {
		if err := node.Decode(cfg); err != nil {
			return nil, framework.NewConfigError(fmt.Sprintf("invalid %s config for %s", cat, typeName), err)
		}
	}
	if cfg != nil {
		if err := config.ValidateStruct(cfg); err != nil {
			return nil, err
		}
	}
	return reg.Build(cfg)
}

func buildScenario(spec *config.ScenarioSpec) (*framework.Scenario, error) {
	steps := make([]*framework.Step, 0, len(spec.Steps))
	for _, stepSpec := range spec.Steps {
		step, err := buildStep(stepSpec)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	scenario := framework.NewScenario(spec.Name, steps, onError(spec.OnError))
	if err := addElementHooks(&scenario.Element, spec.Hooks); err != nil {
		return nil, err
	}
	return scenario, nil
}

func buildStep(spec *config.StepSpec) (*framework.Step, error) {
	action, err := BuildAction(spec.Action)
	if err != nil {
		return nil, err
	}
	step := framework.NewStep(spec.Name, action, onError(spec.OnError))
	if err := addElementHooks(&step.Element, spec.Hooks); err != nil {
		return nil, err
	}
	return step, nil
}

func addElementHooks(e *framework.Element, hooks map[string]*config.HookList) error {
	list, ok := hooks["run"]
	if !ok || list == nil {
		return nil
	}
	if err := addHookList(e, framework.PhasePreRun, list.Pre); err != nil {
		return err
	}
	return addHookList(e, framework.PhasePostRun, list.Post)
}

func addHookList(e *framework.Element, phase framework.HookPhase, specs []*config.TypedSpec) error {
	for _, spec := range specs {
		hook, err := BuildHook(spec)
		if err != nil {
			return err
		}
		e.AddHook(phase, hook)
	}
	return nil
}

func onError(p *framework.OnError) framework.OnError {
	if p == nil {
		return framework.OnError{}
	}
	return *p
}
