package pipeline

// CancelPolicy selects what the driver does when the run context is
// canceled. Cancellation is only observed at loop-iteration boundaries;
// work already submitted to the engine is never aborted by the driver.
type CancelPolicy int

const (
	// CancelDrain stops submitting new work, keeps collecting the already
	// in-flight completions and delivers them in order, then the stream
	// ends with the context error. Default.
	CancelDrain CancelPolicy = iota
	// CancelDiscard ends the stream immediately with the context error;
	// in-flight completions are dropped.
	CancelDiscard
)

// Config holds driver tunables.
type Config struct {
	// Capacity bounds the number of submitted-but-undelivered items the
	// driver allows in flight, independent of the engine's own bound.
	// Must be >= 1; Run fails with an invalid-input error otherwise.
	Capacity int
	// OnCancel selects drain vs discard behavior (see CancelPolicy).
	OnCancel CancelPolicy
	// Publisher receives driver lifecycle events. Nil means drop.
	Publisher EventPublisher
}
