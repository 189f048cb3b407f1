package framework

import "context"

// Scenario is an ordered list of steps executed against the suite's
// components.
type Scenario struct {
	Element
	Name    string
	Steps   []*Step
	OnError OnError
}

// NewScenario creates a scenario from its steps.
func NewScenario(name string, steps []*Step, onError OnError) *Scenario {
	return &Scenario{
		Element: NewElement(),
		Name:    name,
		Steps:   steps,
		OnError: onError,
	}
}

// Run executes the scenario: pre_run hooks, each step in declared order in
// its own child context, post_run hooks. A step error stops the remaining
// steps unless the step's own policy swallowed it; post_run hooks run
// regardless, so teardown steps registered as hooks always fire.
func (s *Scenario) Run(ctx context.Context, sctx *ScenarioContext) error {
	preErr := s.RunHooks(ctx, sctx, PhasePreRun)

	var bodyErr error
	if preErr == nil {
		logger := sctx.Logger().WithScenario(s.Name)
		logger.Infof("running %d steps", len(s.Steps))
		for _, step := range s.Steps {
			stepCtx := NewStepContext(step, sctx)
			stepGo := stepCtx.Enter(ctx)
			err := step.Run(stepGo, stepCtx)
			stepCtx.Exit(err)
			if err != nil {
				logger.WithStep(step.Name).Errorf("step failed: %v", err)
				bodyErr = err
				break
			}
		}
	}

	postErr := s.RunHooks(ctx, sctx, PhasePostRun)

	return firstError(preErr, bodyErr, postErr)
}
