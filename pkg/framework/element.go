package framework

import (
	"context"
	"fmt"
)

// HookPhase is a hookable phase of a framework element.
type HookPhase string

// Framework element hook phases.
const (
	PhasePreRun  HookPhase = "pre_run"
	PhasePostRun HookPhase = "post_run"
)

// Hook is a piece of logic attached to a lifecycle phase's pre or post slot.
// Hooks are ordered (insertion order) and run sequentially within a phase,
// each inside its own child HookContext.
type Hook interface {
	// Name identifies the hook (its registered type name).
	Name() string

	// Execute performs the hook's side effects under the given hook context.
	Execute(ctx context.Context, hctx *HookContext) error

	// ErrorPolicy returns the hook's on_error policy; the zero value means
	// no retries and propagate.
	ErrorPolicy() OnError
}

// BaseHook carries the name and error policy shared by hook implementations;
// embed it and implement Execute.
type BaseHook struct {
	HookName string
	OnErr    OnError
}

// Name implements Hook.
func (h *BaseHook) Name() string { return h.HookName }

// ErrorPolicy implements Hook.
func (h *BaseHook) ErrorPolicy() OnError { return h.OnErr }

// Element is the base of every runnable framework element (suite, scenario,
// step): ordered hook lists per phase plus a runtime bag.
type Element struct {
	hooks   map[HookPhase][]Hook
	Runtime *RuntimeBag
}

// NewElement initializes the element base.
func NewElement() Element {
	return Element{
		hooks:   make(map[HookPhase][]Hook),
		Runtime: NewRuntimeBag(),
	}
}

// AddHook registers a hook to trigger at the specified phase.
func (e *Element) AddHook(phase HookPhase, hook Hook) {
	e.hooks[phase] = append(e.hooks[phase], hook)
}

// Hooks returns the hooks registered for a phase, in insertion order.
func (e *Element) Hooks(phase HookPhase) []Hook {
	return e.hooks[phase]
}

// RunHooks executes the hooks of a phase under the parent context. Each hook
// runs in its own child HookContext and under its own on_error policy. A
// propagating hook error aborts the remaining hooks of the phase and is
// returned as a hook error.
func (e *Element) RunHooks(ctx context.Context, parent Context, phase HookPhase) error {
	return runHookList(ctx, parent, e.hooks[phase], FrameworkHook, string(phase))
}

func runHookList(ctx context.Context, parent Context, hooks []Hook, flavor HookFlavor, phase string) error {
	for _, hook := range hooks {
		hctx := NewHookContext(fmt.Sprintf("%s (%s)", hook.Name(), phase), flavor, phase)
		parent.AddChild(hctx)
		hgo := hctx.Enter(ctx)
		err := RunWithPolicy(hctx, hctx.Logger(), hook.ErrorPolicy(), func() error {
			return hook.Execute(hgo, hctx)
		})
		hctx.Exit(err)
		if err != nil {
			return NewHookError(fmt.Sprintf("hook %s failed", hook.Name()), err).WithOp(phase)
		}
	}
	return nil
}

// RunComponentHooks executes a component-lifecycle hook list; it differs
// from RunHooks only in the flavor recorded on the hook contexts.
func RunComponentHooks(ctx context.Context, parent Context, hooks []Hook, phase string) error {
	return runHookList(ctx, parent, hooks, ComponentHook, phase)
}
