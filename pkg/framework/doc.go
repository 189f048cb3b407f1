// Package framework implements the hierarchical execution model of the
// orchestrator: Suite -> Scenario -> Step, each opening an execution context
// that carries timing, status, metadata and a tracing span, with pre/post
// hook dispatch and retry/continue error policies at every level.
package framework
