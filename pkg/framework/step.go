package framework

import "context"

// Action is a registered piece of logic a step executes.
type Action interface {
	// Name identifies the action (its registered type name).
	Name() string

	// Execute runs the action under the given step context.
	Execute(ctx context.Context, sctx *StepContext) error
}

// Step is an executable unit bound to a single action; it may target a
// component through the action's configuration.
type Step struct {
	Element
	Name    string
	Action  Action
	OnError OnError
}

// NewStep creates a step bound to an action.
func NewStep(name string, action Action, onError OnError) *Step {
	return &Step{
		Element: NewElement(),
		Name:    name,
		Action:  action,
		OnError: onError,
	}
}

// Run executes the step: pre_run hooks, the bound action under the step's
// on_error policy, post_run hooks. Post hooks run even when the pre hooks or
// the action failed.
func (s *Step) Run(ctx context.Context, sctx *StepContext) error {
	preErr := s.RunHooks(ctx, sctx, PhasePreRun)

	var actionErr error
	if preErr == nil && s.Action != nil {
		actionErr = RunWithPolicy(sctx, sctx.Logger(), s.OnError, func() error {
			return s.Action.Execute(ctx, sctx)
		})
	}

	postErr := s.RunHooks(ctx, sctx, PhasePostRun)

	return firstError(preErr, actionErr, postErr)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
