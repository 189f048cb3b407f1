package framework

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

func newTestSuite(t *testing.T, scenarios []*Scenario) *Suite {
	t.Helper()
	return NewSuite("suite-1", scenarios, nil, telemetry.NewTestRuntime())
}

func TestContextEnterExitPromotesSuccess(t *testing.T) {
	suite := newTestSuite(t, nil)
	sctx := suite.Context

	assert.Equal(t, StatusPending, sctx.Status())
	sctx.Enter(context.Background())
	assert.Equal(t, StatusRunning, sctx.Status())
	sctx.Exit(nil)
	assert.Equal(t, StatusSuccess, sctx.Status())
	assert.False(t, sctx.EndTime().Before(sctx.StartTime()))
}

func TestContextExitWithErrorSetsError(t *testing.T) {
	suite := newTestSuite(t, nil)
	sctx := suite.Context
	sctx.Enter(context.Background())

	boom := errors.New("boom")
	sctx.Exit(boom)
	assert.Equal(t, StatusError, sctx.Status())
	assert.Equal(t, boom, sctx.Err())
}

func TestContextExitPreservesTimeoutStatus(t *testing.T) {
	suite := newTestSuite(t, nil)
	sctx := suite.Context
	sctx.Enter(context.Background())

	sctx.SetStatus(StatusTimeout)
	sctx.Exit(errors.New("deadline exceeded"))
	assert.Equal(t, StatusTimeout, sctx.Status())
}

func TestChildInheritsMetadata(t *testing.T) {
	scenario := NewScenario("scenario-1", nil, OnError{})
	suite := newTestSuite(t, []*Scenario{scenario})
	suite.Context.SetMetadataKey("env", "test")

	scCtx := NewScenarioContext(scenario, suite.Context)
	assert.Equal(t, "test", scCtx.Metadata()["env"])
	assert.Equal(t, "suite-1", scCtx.Metadata()["test.suite"])
	assert.Equal(t, "scenario-1", scCtx.Metadata()["test.name"])

	// Child-set keys win over inherited ones.
	step := NewStep("step-1", nil, OnError{})
	stCtx := NewStepContext(step, scCtx)
	assert.Equal(t, "scenario-1", stCtx.Metadata()["test.name"])
	assert.Equal(t, "step-1", stCtx.Metadata()["test.step"])
}

func TestAddChildLinksParent(t *testing.T) {
	scenario := NewScenario("scenario-1", nil, OnError{})
	suite := newTestSuite(t, []*Scenario{scenario})

	scCtx := NewScenarioContext(scenario, suite.Context)
	require.Len(t, suite.Context.Children(), 1)
	assert.Same(t, suite.Context, scCtx.Parent().(*SuiteContext))
	assert.Same(t, suite, scCtx.Suite())
}

func TestMergeMetadataSetdefault(t *testing.T) {
	suite := newTestSuite(t, nil)
	sctx := suite.Context
	sctx.SetMetadataKey("key", "original")

	merged := sctx.MergeMetadata(map[string]any{"key": "override", "extra": 1})
	assert.Equal(t, "original", merged["key"])
	assert.Equal(t, 1, merged["extra"])
}

func TestMergeMetadataIncludesError(t *testing.T) {
	suite := newTestSuite(t, nil)
	sctx := suite.Context
	sctx.SetErr(errors.New("boom"))

	merged := sctx.MergeMetadata(nil)
	assert.Equal(t, "boom", merged["test.ctx.error"])
}

func TestParentChildTimeOrdering(t *testing.T) {
	scenario := NewScenario("scenario-1", nil, OnError{})
	suite := newTestSuite(t, []*Scenario{scenario})
	goCtx := suite.Context.Enter(context.Background())

	scCtx := NewScenarioContext(scenario, suite.Context)
	scCtx.Enter(goCtx)
	scCtx.Exit(nil)
	suite.Context.Exit(nil)

	assert.False(t, scCtx.StartTime().Before(suite.Context.StartTime()))
	assert.False(t, scCtx.EndTime().Before(scCtx.StartTime()))
	assert.False(t, suite.Context.EndTime().Before(scCtx.EndTime()))
}

func TestComponentLookupDelegatesToSuite(t *testing.T) {
	scenario := NewScenario("scenario-1", nil, OnError{})
	suite := NewSuite("suite-1", []*Scenario{scenario},
		map[string]Component{"c1": fakeComponent{name: "c1"}}, telemetry.NewTestRuntime())

	scCtx := NewScenarioContext(scenario, suite.Context)
	require.NotNil(t, scCtx.ComponentByName("c1"))
	assert.Nil(t, scCtx.ComponentByName("missing"))
	assert.Len(t, scCtx.Components(), 1)
}

type fakeComponent struct{ name string }

func (f fakeComponent) ComponentName() string { return f.name }
