package engine

import (
	"context"
	"errors"
	"sync"

	"inferd/internal/pipeline"
)

// InferFunc executes one work item payload and returns its result. The ctx
// carries request-scoped values only: the pool detaches it from run
// cancellation before invoking infer, so a submitted item always runs to
// completion and a canceled consumer can still drain it.
type InferFunc func(ctx context.Context, payload any) (any, error)

// Pool is a bounded-concurrency engine: at most capacity work items execute
// at once, each on its own goroutine. Completions surface through PollAny in
// completion order, not submission order.
type Pool struct {
	slots       chan struct{}
	completions chan outcome
	infer       InferFunc
	wg          sync.WaitGroup
}

type outcome struct {
	c   pipeline.Completion
	err error
}

// NewPool constructs a Pool running infer with the given capacity.
func NewPool(capacity int, infer InferFunc) (*Pool, error) {
	if capacity < 1 {
		return nil, errors.New("engine: pool capacity must be >= 1")
	}
	if infer == nil {
		return nil, errors.New("engine: infer func is required")
	}
	return &Pool{
		slots: make(chan struct{}, capacity),
		// Sized so workers never block handing back an outcome even when
		// the consumer went away: in-flight count is bounded by slots.
		completions: make(chan outcome, capacity),
		infer:       infer,
	}, nil
}

// Submit starts executing item on a free slot. Returns pipeline.ErrBusy
// without blocking when every slot is taken.
func (p *Pool) Submit(ctx context.Context, item pipeline.Item) error {
	select {
	case p.slots <- struct{}{}:
	default:
		return pipeline.ErrBusy
	}
	p.wg.Add(1)
	// Submitted work is never aborted: the worker runs on a context that
	// keeps the caller's values but not its cancellation, so the consumer
	// can cancel submissions and still collect what is in flight.
	workCtx := context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()
		res, err := p.infer(workCtx, item.Payload)
		o := outcome{c: pipeline.Completion{Seq: item.Seq, Result: res, Meta: item.Meta}}
		if err != nil {
			o.err = execError{seq: item.Seq, cause: err}
		}
		p.completions <- o
		// Free the slot only after the outcome is queued, so in-flight
		// plus queued outcomes never exceed the completions buffer.
		<-p.slots
	}()
	return nil
}

// HasCapacity reports whether a Submit would currently be accepted.
func (p *Pool) HasCapacity() bool { return len(p.slots) < cap(p.slots) }

// PollAny returns the next finished work item. A worker failure is returned
// as the error, ending the consumer's run.
func (p *Pool) PollAny(ctx context.Context, block bool) (pipeline.Completion, bool, error) {
	if block {
		select {
		case o := <-p.completions:
			if o.err != nil {
				return pipeline.Completion{}, false, o.err
			}
			return o.c, true, nil
		case <-ctx.Done():
			return pipeline.Completion{}, false, ctx.Err()
		}
	}
	select {
	case o := <-p.completions:
		if o.err != nil {
			return pipeline.Completion{}, false, o.err
		}
		return o.c, true, nil
	default:
		return pipeline.Completion{}, false, nil
	}
}

// Close waits for all in-flight work to finish. Pending outcomes that were
// never polled are discarded.
func (p *Pool) Close() error {
	p.wg.Wait()
	for {
		select {
		case <-p.completions:
		default:
			return nil
		}
	}
}
