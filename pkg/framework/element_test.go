package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAction is a scriptable step action for exercising the element engine.
type fakeAction struct {
	name  string
	fn    func(sctx *StepContext) error
	calls int
}

func (a *fakeAction) Name() string { return a.name }

func (a *fakeAction) Execute(_ context.Context, sctx *StepContext) error {
	a.calls++
	if a.fn != nil {
		return a.fn(sctx)
	}
	return nil
}

// fakeHook is a scriptable hook.
type fakeHook struct {
	BaseHook
	fn    func(hctx *HookContext) error
	calls int
}

func (h *fakeHook) Execute(_ context.Context, hctx *HookContext) error {
	h.calls++
	if h.fn != nil {
		return h.fn(hctx)
	}
	return nil
}

func TestSimpleScenario(t *testing.T) {
	wait := &fakeAction{name: "wait", fn: func(*StepContext) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}}
	scenario := NewScenario("scenario-1", []*Step{NewStep("step-1", wait, OnError{})}, OnError{})
	suite := newTestSuite(t, []*Scenario{scenario})

	err := suite.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, suite.Context.Status())
	require.Len(t, suite.Context.Children(), 1)
	scCtx := suite.Context.Children()[0]
	assert.Equal(t, StatusSuccess, scCtx.Status())
	require.Len(t, scCtx.Children(), 1)
	stCtx := scCtx.Children()[0]
	assert.Equal(t, StatusSuccess, stCtx.Status())
	assert.GreaterOrEqual(t, stCtx.EndTime().Sub(stCtx.StartTime()), 50*time.Millisecond)
	assert.Equal(t, 1, wait.calls)
}

func TestRetryableStep(t *testing.T) {
	flaky := &fakeAction{name: "flaky"}
	flaky.fn = func(*StepContext) error {
		if flaky.calls < 3 {
			return errors.New("transient")
		}
		return nil
	}
	step := NewStep("step-1", flaky, OnError{Retries: 2})
	scenario := NewScenario("scenario-1", []*Step{step}, OnError{})
	suite := newTestSuite(t, []*Scenario{scenario})

	err := suite.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
	stCtx := suite.Context.Children()[0].Children()[0]
	assert.Equal(t, StatusSuccess, stCtx.Status())
}

func TestRetryExhaustionPropagates(t *testing.T) {
	failing := &fakeAction{name: "failing", fn: func(*StepContext) error {
		return errors.New("always")
	}}
	step := NewStep("step-1", failing, OnError{Retries: 1})
	scenario := NewScenario("scenario-1", []*Step{step}, OnError{})
	suite := newTestSuite(t, []*Scenario{scenario})

	err := suite.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, failing.calls)
	assert.Equal(t, StatusError, suite.Context.Status())
}

func TestHookShortCircuit(t *testing.T) {
	boom := &fakeHook{BaseHook: BaseHook{HookName: "raise_exception"}, fn: func(*HookContext) error {
		return errors.New("boom")
	}}
	second := &fakeHook{BaseHook: BaseHook{HookName: "second"}}
	post := &fakeHook{BaseHook: BaseHook{HookName: "post"}}
	action := &fakeAction{name: "no_op"}

	scenario := NewScenario("scenario-1", []*Step{NewStep("step-1", action, OnError{})}, OnError{})
	scenario.AddHook(PhasePreRun, boom)
	scenario.AddHook(PhasePreRun, second)
	scenario.AddHook(PhasePostRun, post)
	suite := newTestSuite(t, []*Scenario{scenario})

	err := suite.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, IsHookError(err))

	scCtx := suite.Context.Children()[0]
	assert.Equal(t, StatusError, scCtx.Status())
	require.Error(t, scCtx.Err())
	assert.Contains(t, scCtx.Err().Error(), "boom")

	// No steps executed, remaining pre hooks aborted, post hooks still run.
	assert.Equal(t, 0, action.calls)
	assert.Equal(t, 0, second.calls)
	assert.Equal(t, 1, post.calls)
}

func TestStepContinuePolicy(t *testing.T) {
	failing := &fakeAction{name: "failing", fn: func(*StepContext) error {
		return errors.New("swallowed")
	}}
	next := &fakeAction{name: "next"}
	scenario := NewScenario("scenario-1", []*Step{
		NewStep("step-1", failing, OnError{Continue: true}),
		NewStep("step-2", next, OnError{}),
	}, OnError{})
	suite := newTestSuite(t, []*Scenario{scenario})

	err := suite.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)

	scCtx := suite.Context.Children()[0]
	stCtx := scCtx.Children()[0]
	assert.Equal(t, StatusError, stCtx.Status())
	require.Error(t, stCtx.Err())
	assert.Equal(t, StatusSuccess, scCtx.Status())
}

func TestScenarioContinuePolicy(t *testing.T) {
	failing := &fakeAction{name: "failing", fn: func(*StepContext) error {
		return errors.New("scenario fails")
	}}
	next := &fakeAction{name: "next"}
	first := NewScenario("scenario-1", []*Step{NewStep("step-1", failing, OnError{})}, OnError{Continue: true})
	second := NewScenario("scenario-2", []*Step{NewStep("step-1", next, OnError{})}, OnError{})
	suite := newTestSuite(t, []*Scenario{first, second})

	err := suite.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
	require.Len(t, suite.Context.Children(), 2)
	assert.Equal(t, StatusError, suite.Context.Children()[0].Status())
	assert.Equal(t, StatusSuccess, suite.Context.Children()[1].Status())
}

func TestHookContinuePolicy(t *testing.T) {
	failing := &fakeHook{BaseHook: BaseHook{HookName: "flaky", OnErr: OnError{Continue: true}}, fn: func(*HookContext) error {
		return errors.New("ignored")
	}}
	after := &fakeHook{BaseHook: BaseHook{HookName: "after"}}
	action := &fakeAction{name: "no_op"}

	scenario := NewScenario("scenario-1", []*Step{NewStep("step-1", action, OnError{})}, OnError{})
	scenario.AddHook(PhasePreRun, failing)
	scenario.AddHook(PhasePreRun, after)
	suite := newTestSuite(t, []*Scenario{scenario})

	err := suite.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, after.calls)
	assert.Equal(t, 1, action.calls)
}

func TestHookContextsAreChildren(t *testing.T) {
	hook := &fakeHook{BaseHook: BaseHook{HookName: "marker"}}
	scenario := NewScenario("scenario-1", []*Step{NewStep("step-1", &fakeAction{name: "no_op"}, OnError{})}, OnError{})
	scenario.AddHook(PhasePreRun, hook)
	suite := newTestSuite(t, []*Scenario{scenario})

	require.NoError(t, suite.Run(context.Background()))

	scCtx := suite.Context.Children()[0]
	require.Len(t, scCtx.Children(), 2)
	hctx, ok := scCtx.Children()[0].(*HookContext)
	require.True(t, ok)
	assert.Equal(t, "marker (pre_run)", hctx.Name())
	assert.Equal(t, string(PhasePreRun), hctx.Phase())
	assert.Equal(t, StatusSuccess, hctx.Status())
}
