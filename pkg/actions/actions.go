// Package actions implements the registered step actions: no_op, wait,
// component_action, multi_component_action and update_component_strategy.
package actions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
)

func init() {
	registry.Register(registry.StepAction, "no_op", registry.Registration{
		NewConfig: func() any { return &NoOpConfig{} },
		Build: func(cfg any) (any, error) {
			return &NoOpAction{}, nil
		},
	})
	registry.Register(registry.StepAction, "wait", registry.Registration{
		NewConfig: func() any { return &WaitConfig{} },
		Build: func(cfg any) (any, error) {
			return &WaitAction{config: cfg.(*WaitConfig)}, nil
		},
	})
	registry.Register(registry.StepAction, "component_action", registry.Registration{
		NewConfig: func() any { return &ComponentActionConfig{} },
		Build: func(cfg any) (any, error) {
			return &ComponentAction{config: cfg.(*ComponentActionConfig)}, nil
		},
	})
	registry.Register(registry.StepAction, "multi_component_action", registry.Registration{
		NewConfig: func() any { return &MultiComponentActionConfig{} },
		Build: func(cfg any) (any, error) {
			return &MultiComponentAction{config: cfg.(*MultiComponentActionConfig)}, nil
		},
	})
}

// NoOpConfig configures the no_op action. It has no fields.
type NoOpConfig struct{}

// NoOpAction does nothing.
type NoOpAction struct{}

// Name implements framework.Action.
func (a *NoOpAction) Name() string { return "no_op" }

// Execute implements framework.Action.
func (a *NoOpAction) Execute(_ context.Context, _ *framework.StepContext) error {
	return nil
}

// WaitConfig configures the wait action.
type WaitConfig struct {
	DelaySeconds float64 `yaml:"delay_seconds" validate:"gte=0"`
}

// WaitAction sleeps for the configured delay.
type WaitAction struct {
	config *WaitConfig
}

// Name implements framework.Action.
func (a *WaitAction) Name() string { return "wait" }

// Execute implements framework.Action.
func (a *WaitAction) Execute(ctx context.Context, sctx *framework.StepContext) error {
	sctx.Logger().Debugf("waiting %.2fs", a.config.DelaySeconds)
	select {
	case <-time.After(time.Duration(a.config.DelaySeconds * float64(time.Second))):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ComponentActionConfig configures the component_action action.
type ComponentActionConfig struct {
	Target string `yaml:"target" validate:"required"`
	Phase  string `yaml:"phase" validate:"required"`
}

// ComponentAction resolves the target component and invokes the configured
// lifecycle phase on it, under the component's own error policy.
type ComponentAction struct {
	config *ComponentActionConfig
}

// Name implements framework.Action.
func (a *ComponentAction) Name() string { return "component_action" }

// Execute implements framework.Action.
func (a *ComponentAction) Execute(ctx context.Context, sctx *framework.StepContext) error {
	return invokePhase(ctx, sctx, a.config.Target, a.config.Phase)
}

// MultiComponentActionConfig configures the multi_component_action action.
// An empty target list addresses every component in the suite.
type MultiComponentActionConfig struct {
	Targets []string `yaml:"targets"`
	Phase   string   `yaml:"phase" validate:"required"`
}

// MultiComponentAction invokes a lifecycle phase on a list of components, or
// on all components when no targets are named.
type MultiComponentAction struct {
	config *MultiComponentActionConfig
}

// Name implements framework.Action.
func (a *MultiComponentAction) Name() string { return "multi_component_action" }

// Execute implements framework.Action.
func (a *MultiComponentAction) Execute(ctx context.Context, sctx *framework.StepContext) error {
	targets := a.config.Targets
	if len(targets) == 0 {
		for name := range sctx.Components() {
			targets = append(targets, name)
		}
		sort.Strings(targets)
	}
	for _, target := range targets {
		if err := invokePhase(ctx, sctx, target, a.config.Phase); err != nil {
			return err
		}
	}
	return nil
}

func invokePhase(ctx context.Context, sctx *framework.StepContext, target, phase string) error {
	comp := sctx.ComponentByName(target)
	if comp == nil {
		return framework.NewAssertionError(fmt.Sprintf("component %q not found", target), nil)
	}
	managed, ok := comp.(*component.Component)
	if !ok {
		return framework.NewAssertionError(fmt.Sprintf("component %q is not lifecycle-managed", target), nil)
	}
	sctx.SetStepComponent(managed)
	return framework.RunWithPolicy(sctx, sctx.Logger(), managed.OnError, func() error {
		return managed.InvokePhase(ctx, sctx, component.Phase(phase))
	})
}
