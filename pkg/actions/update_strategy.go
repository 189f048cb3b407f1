package actions

import (
	"context"
	"fmt"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/config"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
	"github.com/perfpipe/perfpipe/pkg/runner"
)

func init() {
	registry.Register(registry.StepAction, "update_component_strategy", registry.Registration{
		NewConfig: func() any { return &UpdateStrategyConfig{} },
		Build: func(cfg any) (any, error) {
			return &UpdateStrategyAction{config: cfg.(*UpdateStrategyConfig)}, nil
		},
	})
}

// UpdateStrategyConfig configures the update_component_strategy action: the
// target component plus partial strategy configuration to deep-merge into
// its live config. Each populated slot is a single-key mapping naming the
// strategy type, mirroring the component configuration shape.
type UpdateStrategyConfig struct {
	Target        string         `yaml:"target" validate:"required"`
	Deployment    map[string]any `yaml:"deployment"`
	Configuration map[string]any `yaml:"configuration"`
	Execution     map[string]any `yaml:"execution"`
	Monitoring    map[string]any `yaml:"monitoring"`
}

// UpdateStrategyAction deep-merges a partial strategy config into the
// component's live config tree, rebuilds the affected strategies from the
// merged result, and replaces them on the component for mid-run
// reconfiguration.
type UpdateStrategyAction struct {
	config *UpdateStrategyConfig
}

// Name implements framework.Action.
func (a *UpdateStrategyAction) Name() string { return "update_component_strategy" }

// Execute implements framework.Action.
func (a *UpdateStrategyAction) Execute(_ context.Context, sctx *framework.StepContext) error {
	comp := sctx.ComponentByName(a.config.Target)
	if comp == nil {
		return framework.NewAssertionError(fmt.Sprintf("component %q not found", a.config.Target), nil)
	}
	managed, ok := comp.(*component.Component)
	if !ok {
		return framework.NewAssertionError(fmt.Sprintf("component %q is not lifecycle-managed", a.config.Target), nil)
	}
	sctx.SetStepComponent(managed)

	overlay := map[string]any{}
	slots := map[string]map[string]any{
		"deployment":    a.config.Deployment,
		"configuration": a.config.Configuration,
		"execution":     a.config.Execution,
		"monitoring":    a.config.Monitoring,
	}
	for slot, partial := range slots {
		if len(partial) > 0 {
			overlay[slot] = partial
		}
	}
	if len(overlay) == 0 {
		return framework.NewConfigError("update_component_strategy has no strategy config to merge", nil)
	}

	merged, err := config.DeepMerge(managed.Spec, overlay)
	if err != nil {
		return err
	}

	categories := map[string]registry.Category{
		"deployment":    registry.Deployment,
		"configuration": registry.Configuration,
		"execution":     registry.Execution,
	}
	for slot := range overlay {
		if slot == "monitoring" {
			if err := a.rebuildMonitoring(managed, merged); err != nil {
				return err
			}
			continue
		}
		typeName, tree, err := singleVariant(merged, slot)
		if err != nil {
			return err
		}
		built, err := runner.BuildStrategyFromTree(categories[slot], typeName, tree)
		if err != nil {
			return err
		}
		if !managed.ReplaceStrategy(built) {
			return framework.NewConfigError(fmt.Sprintf("rebuilt %s strategy does not fit any slot", slot), nil)
		}
	}

	managed.Spec = merged
	sctx.Logger().WithComponent(managed.ComponentName()).Info("component strategies updated")
	return nil
}

// rebuildMonitoring rebuilds every monitoring strategy from the merged tree
// and replaces the component's (possibly composite) monitoring slot.
func (a *UpdateStrategyAction) rebuildMonitoring(managed *component.Component, merged map[string]any) error {
	monTree, ok := merged["monitoring"].(map[string]any)
	if !ok {
		return framework.NewConfigError("merged monitoring config is not a mapping", nil)
	}
	var strategies []component.MonitoringStrategy
	for typeName, sub := range monTree {
		tree, ok := sub.(map[string]any)
		if !ok {
			tree = map[string]any{}
		}
		built, err := runner.BuildStrategyFromTree(registry.Monitoring, typeName, tree)
		if err != nil {
			return err
		}
		strategy, ok := built.(component.MonitoringStrategy)
		if !ok {
			return framework.NewConfigError(fmt.Sprintf("%s is not a monitoring strategy", typeName), nil)
		}
		strategies = append(strategies, strategy)
	}
	if len(strategies) == 1 {
		managed.Monitoring = strategies[0]
	} else {
		managed.Monitoring = component.NewCompositeMonitoring(strategies...)
	}
	return nil
}

// singleVariant extracts the (type, config) pair from a single-key slot of
// the merged tree.
func singleVariant(tree map[string]any, slot string) (string, map[string]any, error) {
	sub, ok := tree[slot].(map[string]any)
	if !ok || len(sub) != 1 {
		return "", nil, framework.NewConfigError(fmt.Sprintf("merged %s config must contain exactly one strategy type", slot), nil)
	}
	for typeName, cfg := range sub {
		cfgTree, ok := cfg.(map[string]any)
		if !ok {
			cfgTree = map[string]any{}
		}
		return typeName, cfgTree, nil
	}
	return "", nil, framework.NewConfigError("unreachable", nil)
}
