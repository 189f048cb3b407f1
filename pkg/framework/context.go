package framework

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

// Component is the view of a managed component the framework needs. The full
// supervisor lives in the component package; callers that need lifecycle
// phases assert to the concrete type.
type Component interface {
	ComponentName() string
}

// Context is a node in the execution tree. It carries metadata, timing,
// status, an optional tracing span, and parent/child linkage, and emits a
// start/end event pair to the telemetry substrate.
type Context interface {
	Name() string
	Status() ExecutionStatus
	SetStatus(ExecutionStatus)
	Err() error
	SetErr(error)
	StartTime() time.Time
	EndTime() time.Time
	Metadata() map[string]any
	SetMetadataKey(key string, value any)
	MergeMetadata(extra map[string]any) map[string]any
	Parent() Context
	Children() []Context
	AddChild(child Context)
	Span() trace.Span

	// Enter records the start time, sets status Running, begins the tracing
	// span and emits the context's start event. Failure to obtain a tracer
	// does not abort execution; the context continues without a span.
	Enter(ctx context.Context) context.Context

	// Exit records the end time, resolves the terminal status from err, emits
	// the end event and closes the span.
	Exit(err error)

	// RecordEvent emits a named event on the context's span and into the span
	// store, with the context metadata merged in (explicit attrs win).
	RecordEvent(name string, attrs map[string]any)

	// Upward helpers. Each delegates to the parent; the suite context
	// implements the terminal case.
	Suite() *Suite
	Components() map[string]Component
	ComponentByName(name string) Component
	Telemetry() *telemetry.Runtime
	Logger() *telemetry.Logger

	setParent(parent Context)
	inherit(parent Context)
}

// baseContext carries the fields and behavior shared by every context kind.
type baseContext struct {
	name       string
	metadata   map[string]any
	status     ExecutionStatus
	err        error
	start, end time.Time
	parent     Context
	children   []Context
	span       trace.Span
	rt         *telemetry.Runtime

	spanName   string
	startEvent string
	endEvent   string

	// outer is the concrete context wrapping this base, assigned by every
	// constructor so AddChild can hand children their real parent.
	outer Context
}

func newBaseContext(name string) baseContext {
	return baseContext{
		name:     name,
		metadata: make(map[string]any),
		status:   StatusPending,
	}
}

func (c *baseContext) Name() string                  { return c.name }
func (c *baseContext) Status() ExecutionStatus       { return c.status }
func (c *baseContext) SetStatus(s ExecutionStatus)   { c.status = s }
func (c *baseContext) Err() error                    { return c.err }
func (c *baseContext) SetErr(err error)              { c.err = err }
func (c *baseContext) StartTime() time.Time          { return c.start }
func (c *baseContext) EndTime() time.Time            { return c.end }
func (c *baseContext) Metadata() map[string]any      { return c.metadata }
func (c *baseContext) Parent() Context               { return c.parent }
func (c *baseContext) Children() []Context           { return c.children }
func (c *baseContext) Span() trace.Span              { return c.span }
func (c *baseContext) setParent(parent Context)      { c.parent = parent }

// SetMetadataKey sets a single metadata key on the context.
func (c *baseContext) SetMetadataKey(key string, value any) {
	c.metadata[key] = value
}

// AddChild appends the child and sets its parent atomically. The child
// inherits the parent's metadata; keys the child already set win.
func (c *baseContext) AddChild(child Context) {
	c.children = append(c.children, child)
	child.setParent(c.self())
	child.inherit(c.self())
}

// inherit copies metadata and the telemetry runtime down from the parent.
func (c *baseContext) inherit(parent Context) {
	for k, v := range parent.Metadata() {
		if _, ok := c.metadata[k]; !ok {
			c.metadata[k] = v
		}
	}
	if c.rt == nil {
		c.rt = parent.Telemetry()
	}
}

func (c *baseContext) self() Context { return c.outer }

// MergeMetadata returns the context metadata with extra merged in using
// setdefault semantics (existing keys win), plus test.ctx.error when the
// context carries an error.
func (c *baseContext) MergeMetadata(extra map[string]any) map[string]any {
	merged := make(map[string]any, len(c.metadata)+len(extra)+1)
	for k, v := range c.metadata {
		merged[k] = v
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	if c.err != nil {
		if _, ok := merged["test.ctx.error"]; !ok {
			merged["test.ctx.error"] = c.err.Error()
		}
	}
	return merged
}

// Enter implements Context.
func (c *baseContext) Enter(ctx context.Context) context.Context {
	c.start = time.Now()
	c.status = StatusRunning
	if c.rt != nil && c.rt.Tracer != nil {
		ctx, c.span = c.rt.Tracer.Start(ctx, c.spanName)
	} else {
		c.Logger().Warnf("no tracer available for %q, continuing without a span", c.name)
	}
	if c.startEvent != "" {
		c.RecordEvent(c.startEvent, nil)
	}
	return ctx
}

// Exit implements Context.
func (c *baseContext) Exit(err error) {
	c.end = time.Now()
	if err != nil {
		c.err = err
		if c.status == StatusRunning || c.status == StatusPending {
			c.status = StatusError
		}
	} else if c.status == StatusRunning {
		c.status = StatusSuccess
	}
	if c.endEvent != "" {
		c.RecordEvent(c.endEvent, map[string]any{"test.ctx.status": string(c.status)})
	}
	if c.span != nil {
		if err != nil {
			telemetry.RecordError(c.span, err)
		}
		switch {
		case c.status == StatusSuccess:
			c.span.SetStatus(codes.Ok, "")
		case c.status.Failed():
			msg := string(c.status)
			if c.err != nil {
				msg = c.err.Error()
			}
			c.span.SetStatus(codes.Error, msg)
		}
		c.span.End()
	}
}

// RecordEvent implements Context. Explicit attributes take precedence over
// merged context metadata; empty values are filtered out.
func (c *baseContext) RecordEvent(name string, attrs map[string]any) {
	merged := make(map[string]any, len(c.metadata)+len(attrs)+1)
	for k, v := range c.metadata {
		merged[k] = v
	}
	if c.err != nil {
		merged["test.ctx.error"] = c.err.Error()
	}
	for k, v := range attrs {
		merged[k] = v
	}
	merged = filterEmpty(merged)

	if c.rt != nil && c.rt.Spans != nil {
		c.rt.Spans.AppendEvent(c.span, name, merged)
	}
	if c.span != nil && c.span.IsRecording() {
		c.span.AddEvent(name, trace.WithAttributes(toOTelAttrs(merged)...))
	}
}

// Suite implements Context by delegating to the parent.
func (c *baseContext) Suite() *Suite {
	if c.parent != nil {
		return c.parent.Suite()
	}
	return nil
}

// Components implements Context by delegating to the parent.
func (c *baseContext) Components() map[string]Component {
	if c.parent != nil {
		return c.parent.Components()
	}
	return nil
}

// ComponentByName implements Context by delegating to the parent.
func (c *baseContext) ComponentByName(name string) Component {
	if c.parent != nil {
		return c.parent.ComponentByName(name)
	}
	return nil
}

// Telemetry returns the telemetry runtime shared by the suite run.
func (c *baseContext) Telemetry() *telemetry.Runtime {
	return c.rt
}

// Logger returns the run logger, or a nop logger when telemetry is absent.
func (c *baseContext) Logger() *telemetry.Logger {
	if c.rt != nil && c.rt.Logger != nil {
		return c.rt.Logger
	}
	return telemetry.NopLogger()
}

// SuiteContext is the root of the execution tree. It holds the component map
// and terminates the upward helper chain.
type SuiteContext struct {
	baseContext
	suite      *Suite
	components map[string]Component
}

// NewSuiteContext creates the root context for a suite run.
func NewSuiteContext(name string, rt *telemetry.Runtime) *SuiteContext {
	c := &SuiteContext{
		baseContext: newBaseContext(name),
		components:  make(map[string]Component),
	}
	c.outer = c
	c.rt = rt
	c.spanName = fmt.Sprintf("Run Test Suite: %s", name)
	c.startEvent = telemetry.EventSuiteStart
	c.endEvent = telemetry.EventSuiteEnd
	c.metadata["test.suite"] = name
	return c
}

// AddComponent registers a component on the suite context by name.
func (c *SuiteContext) AddComponent(name string, comp Component) {
	c.components[name] = comp
}

// Suite returns the suite owning this run.
func (c *SuiteContext) Suite() *Suite { return c.suite }

// Components returns all components indexed by name.
func (c *SuiteContext) Components() map[string]Component { return c.components }

// ComponentByName returns the named component, or nil when absent.
func (c *SuiteContext) ComponentByName(name string) Component {
	return c.components[name]
}

// ScenarioContext is the execution context for a single scenario.
type ScenarioContext struct {
	baseContext
	scenario *Scenario
}

// NewScenarioContext creates a scenario context as a child of the suite
// context.
func NewScenarioContext(scenario *Scenario, parent *SuiteContext) *ScenarioContext {
	c := &ScenarioContext{
		baseContext: newBaseContext(scenario.Name),
		scenario:    scenario,
	}
	c.outer = c
	c.spanName = fmt.Sprintf("Run Test: %s", scenario.Name)
	c.startEvent = telemetry.EventTestStart
	c.endEvent = telemetry.EventTestEnd
	c.metadata["test.name"] = scenario.Name
	parent.AddChild(c)
	return c
}

// Scenario returns the scenario definition bound to this context.
func (c *ScenarioContext) Scenario() *Scenario { return c.scenario }

// StepContext is the execution context for an individual step.
type StepContext struct {
	baseContext
	step      *Step
	component Component
}

// NewStepContext creates a step context as a child of the scenario context.
func NewStepContext(step *Step, parent *ScenarioContext) *StepContext {
	c := &StepContext{
		baseContext: newBaseContext(step.Name),
		step:        step,
	}
	c.outer = c
	c.spanName = fmt.Sprintf("Run Test Step: %s", step.Name)
	c.startEvent = telemetry.EventStepStart
	c.endEvent = telemetry.EventStepEnd
	c.metadata["test.step"] = step.Name
	parent.AddChild(c)
	return c
}

// Step returns the step definition bound to this context.
func (c *StepContext) Step() *Step { return c.step }

// StepComponent returns the component targeted by this step, if any.
func (c *StepContext) StepComponent() Component { return c.component }

// SetStepComponent binds the component targeted by this step.
func (c *StepContext) SetStepComponent(comp Component) { c.component = comp }

// HookFlavor distinguishes component-lifecycle hooks from framework-element
// hooks.
type HookFlavor string

// Hook flavors.
const (
	FrameworkHook HookFlavor = "framework_hook"
	ComponentHook HookFlavor = "component_hook"
)

// HookContext is the execution context for a single hook invocation. It
// records the phase the hook is attached to.
type HookContext struct {
	baseContext
	flavor HookFlavor
	phase  string
}

// NewHookContext creates a hook context. The caller adds it to its parent.
func NewHookContext(name string, flavor HookFlavor, phase string) *HookContext {
	c := &HookContext{
		baseContext: newBaseContext(name),
		flavor:      flavor,
		phase:       phase,
	}
	c.outer = c
	c.spanName = fmt.Sprintf("Run Hook: %s", name)
	c.startEvent = telemetry.EventHookStart
	c.endEvent = telemetry.EventHookEnd
	c.metadata["test.hook.phase"] = phase
	return c
}

// Flavor returns the hook flavor.
func (c *HookContext) Flavor() HookFlavor { return c.flavor }

// Phase returns the lifecycle phase the hook fired under.
func (c *HookContext) Phase() string { return c.phase }

// StepComponent walks up to the enclosing step context and returns its bound
// component, or nil when the hook does not fire under a step.
func (c *HookContext) StepComponent() Component {
	for p := c.Parent(); p != nil; p = p.Parent() {
		if sc, ok := p.(*StepContext); ok {
			return sc.StepComponent()
		}
	}
	return nil
}

// filterEmpty drops nil values, empty strings and empty maps before metadata
// is attached to events or log records.
func filterEmpty(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case nil:
			continue
		case string:
			if x == "" {
				continue
			}
		case map[string]any:
			if len(x) == 0 {
				continue
			}
		}
		out[k] = v
	}
	return out
}

func toOTelAttrs(m map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, x))
		case bool:
			attrs = append(attrs, attribute.Bool(k, x))
		case int:
			attrs = append(attrs, attribute.Int(k, x))
		case int64:
			attrs = append(attrs, attribute.Int64(k, x))
		case float64:
			attrs = append(attrs, attribute.Float64(k, x))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return attrs
}
