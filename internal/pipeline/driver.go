package pipeline

import (
	"context"
	"fmt"
)

// Driver runs finite, ordered batches of work items against an Engine and
// hands results back in input order. A Driver is cheap and reusable; each
// Run produces an independent Stream.
type Driver struct {
	eng Engine
	cfg Config
	pub EventPublisher
}

// New constructs a Driver over eng. Capacity is validated at Run time so a
// misconfiguration surfaces where the caller can observe it.
func New(eng Engine, cfg Config) *Driver {
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Driver{eng: eng, cfg: cfg, pub: pub}
}

// Run starts a batch over items and returns a Stream that yields one result
// per item, in item order. The Seq field of each item is assigned here;
// caller-set values are ignored. Fails fast with an invalid-input error when
// items is empty or the configured capacity is < 1.
func (d *Driver) Run(ctx context.Context, items []Item) (*Stream, error) {
	if len(items) == 0 {
		return nil, invalidInputError{msg: "empty input sequence"}
	}
	if d.cfg.Capacity < 1 {
		return nil, invalidInputError{msg: fmt.Sprintf("capacity must be >= 1, got %d", d.cfg.Capacity)}
	}
	in := make([]Item, len(items))
	copy(in, items)
	for i := range in {
		in[i].Seq = i
	}
	return &Stream{
		eng:     d.eng,
		cfg:     d.cfg,
		pub:     d.pub,
		ctx:     ctx,
		inputs:  in,
		pending: make(map[int]Completion),
	}, nil
}

// Stream is the lazy, pull-based result sequence of one Run. Usage follows
// the database/sql Rows protocol:
//
//	for st.Next() {
//		c := st.Result()
//		...
//	}
//	if err := st.Err(); err != nil { ... }
//
// Each Next call advances the single-threaded driver loop: it submits
// further items while capacity is free, polls the engine for completions,
// and returns once the next in-order result is available. The only blocking
// suspension point is the blocking engine poll taken when no submission can
// proceed and no buffered completion is deliverable.
//
// A Stream is not safe for concurrent use and must be abandoned after Err
// reports a failure.
type Stream struct {
	eng Engine
	cfg Config
	pub EventPublisher
	ctx context.Context

	inputs []Item

	nextSubmit   int // next input index to submit
	nextExpected int // delivery cursor
	inflight     int // submitted, not yet reported back by the engine

	// pending holds completions that arrived ahead of the delivery cursor.
	// Invariant: every key is >= nextExpected.
	pending map[int]Completion

	cur      Completion
	err      error
	done     bool
	canceled bool // cancellation observed; no further submissions
}

// Next advances to the next in-order result. It returns false when the
// batch is exhausted or a failure occurred; Err distinguishes the two.
func (s *Stream) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	for {
		// Cooperative cancellation, checked only at loop boundaries. Under
		// CancelDiscard even already-buffered completions are dropped.
		if !s.canceled && s.ctx.Err() != nil {
			s.canceled = true
			s.pub.Publish(Event{Name: "cancel", Seq: s.nextExpected, Fields: map[string]any{"inflight": s.inflight}})
			if s.cfg.OnCancel == CancelDiscard {
				s.fail(s.ctx.Err())
				return false
			}
		}

		// Deliver from the reorder buffer next. Consecutive buffered runs
		// drain one per Next call without touching the engine again.
		if c, ok := s.pending[s.nextExpected]; ok {
			delete(s.pending, s.nextExpected)
			s.deliver(c)
			return true
		}
		if s.canceled && s.inflight == 0 {
			// Drain complete. Anything still undelivered was never submitted;
			// even a fully delivered batch ends with the context error.
			s.fail(s.ctx.Err())
			return false
		}
		if s.nextExpected == len(s.inputs) {
			s.done = true
			return false
		}

		// Eager submission: as long as both the driver bound and the engine
		// report room, push the next not-yet-submitted item.
		if !s.canceled && s.nextSubmit < len(s.inputs) && s.inflight < s.cfg.Capacity && s.eng.HasCapacity() {
			it := s.inputs[s.nextSubmit]
			err := s.eng.Submit(s.ctx, it)
			if err != nil && !IsBusy(err) {
				s.fail(err)
				return false
			}
			if err == nil {
				s.nextSubmit++
				s.inflight++
				submissionsTotal.Inc()
				inflightItems.Inc()
				s.pub.Publish(Event{Name: "submit", Seq: it.Seq})
				// Opportunistic non-blocking check keeps the buffer shallow.
				c, ok, perr := s.eng.PollAny(s.ctx, false)
				if perr != nil {
					s.fail(perr)
					return false
				}
				if ok {
					if delivered := s.accept(c); delivered || s.err != nil {
						return delivered
					}
				}
				continue
			}
			// ErrBusy: the engine's capacity raced away; fall through to poll.
		}

		// Single blocking suspension point. While draining after a cancel,
		// the poll must outlive the canceled run context.
		pollCtx := s.ctx
		if s.canceled {
			pollCtx = context.Background()
		}
		c, ok, err := s.eng.PollAny(pollCtx, true)
		if err != nil {
			s.fail(err)
			return false
		}
		if !ok {
			s.fail(fmt.Errorf("engine: blocking poll returned neither completion nor error"))
			return false
		}
		if delivered := s.accept(c); delivered || s.err != nil {
			return delivered
		}
	}
}

// accept records a completion from the engine: either delivers it (when it
// matches the cursor) or parks it in the reorder buffer. Reports whether a
// result was delivered. Sets err on a sequencing contract breach.
func (s *Stream) accept(c Completion) bool {
	if c.Seq >= s.nextSubmit {
		s.fail(orderingViolationError{seq: c.Seq, msg: fmt.Sprintf("completion for unsubmitted sequence id %d", c.Seq)})
		return false
	}
	if c.Seq < s.nextExpected {
		s.fail(orderingViolationError{seq: c.Seq, msg: fmt.Sprintf("duplicate completion for delivered sequence id %d", c.Seq)})
		return false
	}
	if _, dup := s.pending[c.Seq]; dup {
		s.fail(orderingViolationError{seq: c.Seq, msg: fmt.Sprintf("duplicate completion for buffered sequence id %d", c.Seq)})
		return false
	}
	s.inflight--
	inflightItems.Dec()
	if c.Seq == s.nextExpected {
		s.deliver(c)
		return true
	}
	s.pending[c.Seq] = c
	reorderHoldsTotal.Inc()
	s.pub.Publish(Event{Name: "hold", Seq: c.Seq, Fields: map[string]any{"expected": s.nextExpected}})
	return false
}

func (s *Stream) deliver(c Completion) {
	s.cur = c
	s.nextExpected++
	deliveriesTotal.Inc()
	s.pub.Publish(Event{Name: "deliver", Seq: c.Seq})
}

func (s *Stream) fail(err error) {
	s.err = err
	s.done = true
	s.release()
}

// release zeroes the in-flight gauge contribution of an abandoned stream.
// The engine may still be executing those items; the stream just stops
// accounting for them.
func (s *Stream) release() {
	if s.inflight > 0 {
		inflightItems.Sub(float64(s.inflight))
		s.inflight = 0
	}
}

// Result returns the completion delivered by the last successful Next call.
func (s *Stream) Result() Completion { return s.cur }

// Err returns the failure that terminated the stream, or nil after normal
// exhaustion.
func (s *Stream) Err() error { return s.err }

// Delivered returns how many results have been handed out so far.
func (s *Stream) Delivered() int { return s.nextExpected }

// Close abandons the stream. Work already submitted to the engine keeps
// running there; the stream simply stops observing it.
func (s *Stream) Close() error {
	s.done = true
	s.release()
	return nil
}
