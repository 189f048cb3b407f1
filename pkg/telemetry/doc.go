// Package telemetry provides the in-process telemetry substrate for the
// orchestrator: structured logging (zerolog), tracing (OpenTelemetry), an
// append-only metric store, an append-only span/span-event store fed by a
// span processor, and a tabular Frame type with the query and aggregation
// operations used by the reporting engine.
//
// All stores are safe for concurrent use: the driver goroutine and every
// monitoring collector append through a mutex, while readers operate on
// immutable snapshots that are invalidated on append.
package telemetry
