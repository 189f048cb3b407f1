package framework

import (
	"context"

	"github.com/google/uuid"

	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

// Suite is the top-level test container: it owns the component map, the
// ordered scenarios, the suite-level hooks and the runtime bag carrying
// cross-cutting services (telemetry runtime, CLI args, report store).
type Suite struct {
	Element
	Name       string
	Scenarios  []*Scenario
	Components map[string]Component
	Context    *SuiteContext
}

// NewSuite assembles a suite. The telemetry runtime is stored in the suite
// runtime bag and shared with every context in the tree.
func NewSuite(name string, scenarios []*Scenario, components map[string]Component, rt *telemetry.Runtime) *Suite {
	s := &Suite{
		Element:    NewElement(),
		Name:       name,
		Scenarios:  scenarios,
		Components: components,
		Context:    NewSuiteContext(name, rt),
	}
	s.Context.suite = s
	s.Context.SetMetadataKey("test.run.id", uuid.New().String())
	s.Runtime.Set(telemetry.RuntimeKey, rt)
	for name, comp := range components {
		s.Context.AddComponent(name, comp)
	}
	return s
}

// TelemetryRuntime returns the telemetry runtime from the suite runtime bag.
func (s *Suite) TelemetryRuntime() *telemetry.Runtime {
	if v, ok := s.Runtime.Get(telemetry.RuntimeKey); ok {
		if rt, ok := v.(*telemetry.Runtime); ok {
			return rt
		}
	}
	return nil
}

// Run executes the suite: pre_run hooks, each scenario in order under its
// own child context and on_error policy, post_run hooks. Post hooks (where
// the reporting hooks live) run even when a scenario failed, so reports
// still cover the phases that completed. A scenario error terminates the
// remaining scenarios unless the scenario's policy set continue.
func (s *Suite) Run(ctx context.Context) error {
	sctx := s.Context
	ctx = sctx.Enter(ctx)
	logger := sctx.Logger()

	var runErr error
	if err := s.RunHooks(ctx, sctx, PhasePreRun); err != nil {
		runErr = err
	} else {
		for _, scenario := range s.Scenarios {
			scenario := scenario
			logger.Infof("starting scenario: %s", scenario.Name)
			err := RunWithPolicy(nil, logger, scenario.OnError, func() error {
				scCtx := NewScenarioContext(scenario, sctx)
				scGo := scCtx.Enter(ctx)
				scErr := scenario.Run(scGo, scCtx)
				scCtx.Exit(scErr)
				return scErr
			})
			if err != nil {
				logger.Errorf("scenario %s failed: %v", scenario.Name, err)
				runErr = err
				break
			}
		}
	}

	if err := s.RunHooks(ctx, sctx, PhasePostRun); err != nil && runErr == nil {
		runErr = err
	}

	sctx.Exit(runErr)
	return runErr
}
