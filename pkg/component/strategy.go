package component

import (
	"context"

	"github.com/perfpipe/perfpipe/pkg/framework"
)

// DeploymentStrategy creates and tears down the component's runtime resource
// (container, process). Implementations record the resource identifier in
// the component runtime bag. A deployment strategy may register default
// hooks on the component at construction.
type DeploymentStrategy interface {
	Start(ctx context.Context, c *Component, sctx *framework.StepContext) error
	Stop(ctx context.Context, c *Component, sctx *framework.StepContext) error

	// DefaultHooks returns hooks to install on the component when the
	// strategy is attached, keyed by hook slot ("pre_deploy", ...).
	DefaultHooks() map[string][]framework.Hook
}

// ConfigurationStrategy applies any pre-deploy configuration (materialize
// manifests, render config files).
type ConfigurationStrategy interface {
	Start(ctx context.Context, c *Component, sctx *framework.StepContext) error
}

// ExecutionStrategy drives the component's workload (e.g. POSTs to a load
// generator's control endpoint).
type ExecutionStrategy interface {
	Start(ctx context.Context, c *Component, sctx *framework.StepContext) error
	Stop(ctx context.Context, c *Component, sctx *framework.StepContext) error
}

// MonitoringStrategy runs a background collector for the component. Start
// spawns the worker; Stop signals it to halt and joins it; Collect returns
// an arbitrary mapping (often empty, since collectors write directly to the
// telemetry substrate).
type MonitoringStrategy interface {
	Start(ctx context.Context, c *Component, sctx *framework.StepContext) error
	Stop(ctx context.Context, c *Component, sctx *framework.StepContext) error
	Collect(ctx context.Context, c *Component, sctx *framework.StepContext) (map[string]any, error)
}

// CompositeMonitoring aggregates multiple monitoring strategies and
// dispatches start, stop and collect to each.
type CompositeMonitoring struct {
	Strategies []MonitoringStrategy
}

// NewCompositeMonitoring creates a composite over the given strategies.
func NewCompositeMonitoring(strategies ...MonitoringStrategy) *CompositeMonitoring {
	return &CompositeMonitoring{Strategies: strategies}
}

// Start starts every aggregated strategy, stopping at the first error.
func (m *CompositeMonitoring) Start(ctx context.Context, c *Component, sctx *framework.StepContext) error {
	for _, s := range m.Strategies {
		if err := s.Start(ctx, c, sctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every aggregated strategy, returning the first error after all
// have been signalled.
func (m *CompositeMonitoring) Stop(ctx context.Context, c *Component, sctx *framework.StepContext) error {
	var firstErr error
	for _, s := range m.Strategies {
		if err := s.Stop(ctx, c, sctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Collect merges the mappings returned by every aggregated strategy.
func (m *CompositeMonitoring) Collect(ctx context.Context, c *Component, sctx *framework.StepContext) (map[string]any, error) {
	merged := make(map[string]any)
	for _, s := range m.Strategies {
		data, err := s.Collect(ctx, c, sctx)
		if err != nil {
			return nil, err
		}
		for k, v := range data {
			merged[k] = v
		}
	}
	return merged, nil
}
