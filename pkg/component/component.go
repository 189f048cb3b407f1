// Package component implements the component supervisor: per-component
// lifecycle phases driven by interchangeable deployment, execution,
// monitoring and configuration strategies, with pre/post hooks around every
// phase and a runtime bag for opaque strategy state.
package component

import (
	"context"
	"fmt"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

// Phase is a component lifecycle phase.
type Phase string

// Component lifecycle phases. Each is idempotent with respect to observable
// side effects when re-run.
const (
	PhaseConfigure       Phase = "configure"
	PhaseDeploy          Phase = "deploy"
	PhaseStart           Phase = "start"
	PhaseStop            Phase = "stop"
	PhaseDestroy         Phase = "destroy"
	PhaseStartMonitoring Phase = "start_monitoring"
	PhaseStopMonitoring  Phase = "stop_monitoring"
)

// Phases lists every lifecycle phase in execution order.
var Phases = []Phase{
	PhaseConfigure, PhaseDeploy, PhaseStart, PhaseStop, PhaseDestroy,
	PhaseStartMonitoring, PhaseStopMonitoring,
}

// Pre and Post return the hook slot names for a phase ("pre_deploy",
// "post_deploy", ...).
func (p Phase) Pre() string  { return "pre_" + string(p) }
func (p Phase) Post() string { return "post_" + string(p) }

// Component is a managed external entity (container, process) with a
// lifecycle driven by its strategies. Phases dispatch as
// pre-hooks -> strategy method -> post-hooks.
type Component struct {
	name string

	// Strategy slots; any may be nil.
	Configuration ConfigurationStrategy
	Deployment    DeploymentStrategy
	Execution     ExecutionStrategy
	Monitoring    MonitoringStrategy

	// OnError is the component-level error policy, consulted by actions that
	// invoke phases on this component.
	OnError framework.OnError

	// Runtime holds opaque per-component strategy state.
	Runtime *framework.RuntimeBag

	// Spec is the component's raw configuration subtree, kept so
	// update_component_strategy can deep-merge partial changes and rebuild
	// strategies from it.
	Spec map[string]any

	hooks map[string][]framework.Hook
}

// New creates a component and installs the deployment strategy's default
// hooks, if any.
func New(name string, cfg ConfigurationStrategy, dep DeploymentStrategy, exec ExecutionStrategy, mon MonitoringStrategy) *Component {
	c := &Component{
		name:          name,
		Configuration: cfg,
		Deployment:    dep,
		Execution:     exec,
		Monitoring:    mon,
		Runtime:       framework.NewRuntimeBag(),
		hooks:         make(map[string][]framework.Hook),
	}
	if dep != nil {
		for phase, hooks := range dep.DefaultHooks() {
			for _, h := range hooks {
				c.AddHook(phase, h)
			}
		}
	}
	return c
}

// ComponentName implements framework.Component.
func (c *Component) ComponentName() string { return c.name }

// AddHook registers a hook on a lifecycle slot ("pre_deploy", "post_destroy", ...).
func (c *Component) AddHook(slot string, hook framework.Hook) {
	c.hooks[slot] = append(c.hooks[slot], hook)
}

// Hooks returns the hooks registered on a slot, in insertion order.
func (c *Component) Hooks(slot string) []framework.Hook {
	return c.hooks[slot]
}

// GetOrCreateRuntime returns the runtime data stored under the namespace,
// constructing it via the factory when absent.
func (c *Component) GetOrCreateRuntime(namespace string, factory func() any) any {
	return c.Runtime.GetOrCreate(namespace, factory)
}

// SetRuntimeData stores runtime data under the namespace.
func (c *Component) SetRuntimeData(namespace string, data any) {
	c.Runtime.Set(namespace, data)
}

// ReplaceStrategy updates whichever strategy slot matches the given
// strategy's type. It returns false when the value implements none of the
// strategy interfaces.
func (c *Component) ReplaceStrategy(s any) bool {
	// The interfaces nest (every strategy has Start), so the widest method
	// set is matched first.
	replaced := false
	if ds, ok := s.(DeploymentStrategy); ok {
		c.Deployment = ds
		replaced = true
	} else if ms, ok := s.(MonitoringStrategy); ok {
		c.Monitoring = ms
		replaced = true
	} else if es, ok := s.(ExecutionStrategy); ok {
		c.Execution = es
		replaced = true
	} else if cs, ok := s.(ConfigurationStrategy); ok {
		c.Configuration = cs
		replaced = true
	}
	return replaced
}

// Configure applies pre-deploy configuration via the configuration strategy.
func (c *Component) Configure(ctx context.Context, sctx *framework.StepContext) error {
	return c.runPhase(ctx, sctx, PhaseConfigure, "configuration.start", func() error {
		if c.Configuration == nil {
			return nil
		}
		return c.Configuration.Start(ctx, c, sctx)
	})
}

// Deploy creates the component's runtime resource via the deployment
// strategy.
func (c *Component) Deploy(ctx context.Context, sctx *framework.StepContext) error {
	return c.runPhase(ctx, sctx, PhaseDeploy, "deployment.start", func() error {
		if c.Deployment == nil {
			return nil
		}
		return c.Deployment.Start(ctx, c, sctx)
	})
}

// Start drives the component's workload via the execution strategy.
func (c *Component) Start(ctx context.Context, sctx *framework.StepContext) error {
	return c.runPhase(ctx, sctx, PhaseStart, "execution.start", func() error {
		if c.Execution == nil {
			return nil
		}
		return c.Execution.Start(ctx, c, sctx)
	})
}

// Stop halts the component's workload via the execution strategy.
func (c *Component) Stop(ctx context.Context, sctx *framework.StepContext) error {
	return c.runPhase(ctx, sctx, PhaseStop, "execution.stop", func() error {
		if c.Execution == nil {
			return nil
		}
		return c.Execution.Stop(ctx, c, sctx)
	})
}

// Destroy terminates and cleans up the component's runtime resource via the
// deployment strategy.
func (c *Component) Destroy(ctx context.Context, sctx *framework.StepContext) error {
	return c.runPhase(ctx, sctx, PhaseDestroy, "deployment.stop", func() error {
		if c.Deployment == nil {
			return nil
		}
		return c.Deployment.Stop(ctx, c, sctx)
	})
}

// StartMonitoring spawns the component's monitoring collectors.
func (c *Component) StartMonitoring(ctx context.Context, sctx *framework.StepContext) error {
	return c.runPhase(ctx, sctx, PhaseStartMonitoring, "monitoring.start", func() error {
		if c.Monitoring == nil {
			return nil
		}
		return c.Monitoring.Start(ctx, c, sctx)
	})
}

// StopMonitoring signals the monitoring collectors to halt and joins them.
func (c *Component) StopMonitoring(ctx context.Context, sctx *framework.StepContext) error {
	return c.runPhase(ctx, sctx, PhaseStopMonitoring, "monitoring.stop", func() error {
		if c.Monitoring == nil {
			return nil
		}
		return c.Monitoring.Stop(ctx, c, sctx)
	})
}

// InvokePhase dispatches a phase by name, for component_action steps.
func (c *Component) InvokePhase(ctx context.Context, sctx *framework.StepContext, phase Phase) error {
	switch phase {
	case PhaseConfigure:
		return c.Configure(ctx, sctx)
	case PhaseDeploy:
		return c.Deploy(ctx, sctx)
	case PhaseStart:
		return c.Start(ctx, sctx)
	case PhaseStop:
		return c.Stop(ctx, sctx)
	case PhaseDestroy:
		return c.Destroy(ctx, sctx)
	case PhaseStartMonitoring:
		return c.StartMonitoring(ctx, sctx)
	case PhaseStopMonitoring:
		return c.StopMonitoring(ctx, sctx)
	default:
		return framework.NewAssertionError(fmt.Sprintf("component %s has no phase %q", c.name, phase), nil)
	}
}

// runPhase implements the phase pattern: pre-hooks, strategy_start event,
// the strategy call inside its own span, strategy_end event, post-hooks.
func (c *Component) runPhase(ctx context.Context, sctx *framework.StepContext, phase Phase, spanName string, fn func() error) error {
	if err := framework.RunComponentHooks(ctx, sctx, c.hooks[phase.Pre()], phase.Pre()); err != nil {
		return err
	}

	attrs := map[string]any{"ctx.phase": string(phase), "ctx.component": c.name}
	sctx.RecordEvent(telemetry.EventStrategyStart, attrs)

	err := c.withSpan(ctx, sctx, spanName, fn)

	sctx.RecordEvent(telemetry.EventStrategyEnd, attrs)

	if err != nil {
		return err
	}
	return framework.RunComponentHooks(ctx, sctx, c.hooks[phase.Post()], phase.Post())
}

func (c *Component) withSpan(ctx context.Context, sctx *framework.StepContext, spanName string, fn func() error) error {
	rt := sctx.Telemetry()
	if rt == nil || rt.Tracer == nil {
		return fn()
	}
	_, span := rt.Tracer.Start(ctx, spanName)
	defer span.End()
	err := fn()
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return err
}
