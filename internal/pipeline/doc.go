// Package pipeline provides the ordered asynchronous inference driver: it
// submits work items to a bounded-concurrency engine as capacity allows and
// delivers completions to the consumer in strict submission order, buffering
// completions that arrive early. It is structured into small files by concern:
//
//   - engine.go: Engine capability interface, Item and Completion types.
//   - driver.go: Driver and the pull-based Stream (Next/Result/Err).
//   - config.go: Config, cancellation policies and package defaults.
//   - errors.go: error types and predicates (IsInvalidInput, IsBusy, ...).
//   - events.go: EventPublisher hook; eventpub_memory.go for tests.
//   - metrics.go: prometheus instrumentation.
//
// The driver is a pure ordering/scheduling layer: it does not retry, it does
// not abort in-flight engine work, and any engine error ends the run. A
// Stream must not be used from multiple goroutines and must not be reused
// after Err reports a failure.
package pipeline
