package pipeline

import "context"

// Item is a unit of work handed to the engine. Seq is assigned by the driver
// at submission time (0,1,2,...) and must be echoed back on the matching
// Completion. Payload and Meta are opaque to the driver.
type Item struct {
	Seq     int
	Payload any
	Meta    any
}

// Completion is the engine's signal that a submitted item finished.
type Completion struct {
	Seq    int
	Result any
	Meta   any
}

// Engine abstracts a bounded-concurrency execution backend. Completions may
// be reported in any order relative to submission.
//
// Implementations signal exhausted capacity from Submit with ErrBusy; the
// driver checks HasCapacity first, so ErrBusy only occurs on races. Any
// other error from Submit or PollAny is treated as fatal by the driver and
// propagated verbatim.
type Engine interface {
	// Submit hands an item to the engine. It must not block on capacity.
	Submit(ctx context.Context, item Item) error
	// HasCapacity reports whether Submit would currently be accepted.
	HasCapacity() bool
	// PollAny returns the next available completion. When block is true it
	// waits until a completion exists or ctx is done; when false it returns
	// ok=false immediately if nothing is ready.
	PollAny(ctx context.Context, block bool) (c Completion, ok bool, err error)
}
