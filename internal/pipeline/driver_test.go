package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// scriptedEngine is a deterministic in-memory engine. Completions become
// available strictly in the order given by arrival; a sequence id is only
// released once every earlier entry of arrival has been completed. This lets
// tests pin down exact completion orderings without goroutines or clocks.
type scriptedEngine struct {
	capacity int
	arrival  []int

	inflight    map[int]Item
	completed   map[int]bool
	maxInflight int

	submits        int
	polls          int
	pollsSinceLast int

	// failSubmitSeq makes Submit fail for that sequence id (-1 disables).
	failSubmitSeq int
	submitErr     error
}

func newScriptedEngine(capacity int, arrival []int) *scriptedEngine {
	return &scriptedEngine{
		capacity:      capacity,
		arrival:       arrival,
		inflight:      make(map[int]Item),
		completed:     make(map[int]bool),
		failSubmitSeq: -1,
	}
}

func (e *scriptedEngine) Submit(ctx context.Context, item Item) error {
	if item.Seq == e.failSubmitSeq {
		return e.submitErr
	}
	if len(e.inflight) >= e.capacity {
		return ErrBusy
	}
	e.submits++
	e.inflight[item.Seq] = item
	if len(e.inflight) > e.maxInflight {
		e.maxInflight = len(e.inflight)
	}
	return nil
}

func (e *scriptedEngine) HasCapacity() bool { return len(e.inflight) < e.capacity }

func (e *scriptedEngine) PollAny(ctx context.Context, block bool) (Completion, bool, error) {
	e.polls++
	e.pollsSinceLast++
	for _, seq := range e.arrival {
		if e.completed[seq] {
			continue
		}
		item, ok := e.inflight[seq]
		if !ok {
			if block {
				// The preferred next arrival was never submitted (e.g. the
				// driver stopped after a cancel); let a later one finish.
				continue
			}
			// Non-blocking: nothing ahead of the unsubmitted entry is ready.
			break
		}
		delete(e.inflight, seq)
		e.completed[seq] = true
		e.pollsSinceLast = 0
		return Completion{Seq: seq, Result: fmt.Sprintf("r%d", seq), Meta: item.Meta}, true, nil
	}
	if !block {
		return Completion{}, false, nil
	}
	return Completion{}, false, errors.New("scripted engine stalled: blocking poll with nothing completable")
}

// collect drains a stream into the delivered sequence ids.
func collect(t *testing.T, st *Stream) []int {
	t.Helper()
	var got []int
	for st.Next() {
		got = append(got, st.Result().Seq)
	}
	return got
}

func payloads(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{Payload: fmt.Sprintf("p%d", i), Meta: i}
	}
	return items
}

func seqsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunEmptyInputFailsFast(t *testing.T) {
	d := New(newScriptedEngine(2, nil), Config{Capacity: 2})
	_, err := d.Run(context.Background(), nil)
	if err == nil || !IsInvalidInput(err) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestRunCapacityBelowOneFailsFast(t *testing.T) {
	d := New(newScriptedEngine(2, nil), Config{Capacity: 0})
	_, err := d.Run(context.Background(), payloads(2))
	if err == nil || !IsInvalidInput(err) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestReversedPairsDeliveredInOrder(t *testing.T) {
	// Inputs [A,B,C,D], capacity 2, engine completes B,A,D,C.
	eng := newScriptedEngine(2, []int{1, 0, 3, 2})
	d := New(eng, Config{Capacity: 2})
	st, err := d.Run(context.Background(), payloads(4))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := collect(t, st)
	if st.Err() != nil {
		t.Fatalf("stream err: %v", st.Err())
	}
	if !seqsEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("expected in-order delivery, got %v", got)
	}
	if eng.maxInflight > 2 {
		t.Fatalf("capacity bound violated: %d in flight", eng.maxInflight)
	}
}

func TestCapacityExceedsInputsSubmitsAllBeforeDelivery(t *testing.T) {
	// Inputs length 3, capacity 10, completions arrive C,A,B.
	eng := newScriptedEngine(10, []int{2, 0, 1})
	pub := NewMemoryPublisher()
	d := New(eng, Config{Capacity: 10, Publisher: pub})
	st, err := d.Run(context.Background(), payloads(3))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := collect(t, st)
	if st.Err() != nil {
		t.Fatalf("stream err: %v", st.Err())
	}
	if !seqsEqual(got, []int{0, 1, 2}) {
		t.Fatalf("expected in-order delivery, got %v", got)
	}
	// All three submissions must precede the first delivery.
	submitsSeen := 0
	for _, ev := range pub.Events() {
		switch ev.Name {
		case "submit":
			submitsSeen++
		case "deliver":
			if submitsSeen != 3 {
				t.Fatalf("first delivery after %d submissions, want 3", submitsSeen)
			}
			return
		}
	}
	t.Fatalf("no delivery event recorded")
}

func TestAllPermutationsPreserveOrder(t *testing.T) {
	const n = 5
	want := []int{0, 1, 2, 3, 4}
	perms := permutations(n)
	for _, arrival := range perms {
		eng := newScriptedEngine(n, arrival)
		d := New(eng, Config{Capacity: n})
		st, err := d.Run(context.Background(), payloads(n))
		if err != nil {
			t.Fatalf("run(%v): %v", arrival, err)
		}
		got := collect(t, st)
		if st.Err() != nil {
			t.Fatalf("arrival %v: stream err: %v", arrival, st.Err())
		}
		if !seqsEqual(got, want) {
			t.Fatalf("arrival %v: delivered %v", arrival, got)
		}
	}
}

// permutations returns all orderings of 0..n-1 (Heap's algorithm).
func permutations(n int) [][]int {
	base := make([]int, n)
	for i := range base {
		base[i] = i
	}
	var out [][]int
	var gen func(k int)
	gen = func(k int) {
		if k == 1 {
			cp := make([]int, n)
			copy(cp, base)
			out = append(out, cp)
			return
		}
		for i := 0; i < k; i++ {
			gen(k - 1)
			if k%2 == 0 {
				base[i], base[k-1] = base[k-1], base[i]
			} else {
				base[0], base[k-1] = base[k-1], base[0]
			}
		}
	}
	gen(n)
	return out
}

func TestCompletenessNoDuplicatesNoOmissions(t *testing.T) {
	eng := newScriptedEngine(3, []int{2, 1, 0, 5, 3, 4, 7, 6})
	d := New(eng, Config{Capacity: 3})
	st, err := d.Run(context.Background(), payloads(8))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	seen := make(map[int]int)
	count := 0
	for st.Next() {
		seen[st.Result().Seq]++
		count++
	}
	if st.Err() != nil {
		t.Fatalf("stream err: %v", st.Err())
	}
	if count != 8 {
		t.Fatalf("expected 8 results, got %d", count)
	}
	for seq, n := range seen {
		if n != 1 {
			t.Fatalf("seq %d delivered %d times", seq, n)
		}
	}
	if st.Delivered() != 8 {
		t.Fatalf("Delivered() = %d, want 8", st.Delivered())
	}
}

func TestBufferedRunDrainsWithoutExtraPolls(t *testing.T) {
	// Fully reversed arrival: after the last completion is polled, the
	// remaining results must come straight from the reorder buffer.
	eng := newScriptedEngine(4, []int{3, 2, 1, 0})
	d := New(eng, Config{Capacity: 4})
	st, err := d.Run(context.Background(), payloads(4))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := collect(t, st)
	if st.Err() != nil {
		t.Fatalf("stream err: %v", st.Err())
	}
	if !seqsEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("expected in-order delivery, got %v", got)
	}
	if eng.pollsSinceLast != 0 {
		t.Fatalf("expected no polls after final completion, got %d", eng.pollsSinceLast)
	}
}

func TestSubmitErrorSurfacesAfterDeliverableResults(t *testing.T) {
	// Engine fails the 3rd submission; the first two results must still
	// be deliverable and no further submissions may happen.
	boom := errors.New("engine: malformed payload")
	eng := newScriptedEngine(2, []int{0, 1})
	eng.failSubmitSeq = 2
	eng.submitErr = boom
	d := New(eng, Config{Capacity: 2})
	st, err := d.Run(context.Background(), payloads(4))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := collect(t, st)
	if !seqsEqual(got, []int{0, 1}) {
		t.Fatalf("expected first two results, got %v", got)
	}
	if !errors.Is(st.Err(), boom) {
		t.Fatalf("expected engine error, got %v", st.Err())
	}
	if eng.submits != 2 {
		t.Fatalf("expected no submissions after the failure, got %d", eng.submits)
	}
	// A failed stream stays failed.
	if st.Next() {
		t.Fatalf("Next() succeeded on a failed stream")
	}
}

func TestCompletionForUnsubmittedSeqIsOrderingViolation(t *testing.T) {
	eng := &rogueEngine{completion: Completion{Seq: 99}}
	d := New(eng, Config{Capacity: 2})
	st, err := d.Run(context.Background(), payloads(2))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Next() {
		t.Fatalf("expected no delivery from rogue engine")
	}
	if !IsOrderingViolation(st.Err()) {
		t.Fatalf("expected ordering violation, got %v", st.Err())
	}
}

func TestDuplicateCompletionIsOrderingViolation(t *testing.T) {
	eng := &rogueEngine{completion: Completion{Seq: 0}, repeat: true}
	d := New(eng, Config{Capacity: 2})
	st, err := d.Run(context.Background(), payloads(3))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := collect(t, st)
	if !seqsEqual(got, []int{0}) {
		t.Fatalf("expected single delivery before the breach, got %v", got)
	}
	if !IsOrderingViolation(st.Err()) {
		t.Fatalf("expected ordering violation, got %v", st.Err())
	}
}

// rogueEngine violates the completion contract on purpose: it reports the
// configured completion on every poll.
type rogueEngine struct {
	completion Completion
	repeat     bool
	polled     bool
}

func (e *rogueEngine) Submit(ctx context.Context, item Item) error { return nil }
func (e *rogueEngine) HasCapacity() bool                           { return true }
func (e *rogueEngine) PollAny(ctx context.Context, block bool) (Completion, bool, error) {
	if e.polled && !e.repeat {
		return Completion{}, false, errors.New("rogue engine exhausted")
	}
	e.polled = true
	return e.completion, true, nil
}

func TestCancelDrainDeliversInFlightThenStops(t *testing.T) {
	eng := newScriptedEngine(2, []int{1, 0, 3, 2, 5, 4})
	d := New(eng, Config{Capacity: 2, OnCancel: CancelDrain})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st, err := d.Run(ctx, payloads(6))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var got []int
	for st.Next() {
		got = append(got, st.Result().Seq)
		if len(got) == 2 {
			cancel()
		}
	}
	if !errors.Is(st.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", st.Err())
	}
	// Whatever was in flight at cancellation must still have been
	// delivered, in order, with no gaps.
	if len(got) < 2 || len(got) > 4 {
		t.Fatalf("unexpected delivered count %d (%v)", len(got), got)
	}
	for i, seq := range got {
		if seq != i {
			t.Fatalf("delivery gap at %d: %v", i, got)
		}
	}
	// Drained everything submitted: no further engine submissions after
	// the cancel was observed.
	if got[len(got)-1] != eng.submits-1 {
		t.Fatalf("drain incomplete: last delivered %d, submitted %d", got[len(got)-1], eng.submits)
	}
}

func TestCancelDrainFullDeliveryReportsContextError(t *testing.T) {
	// Both items are in flight when the cancel lands, so the drain hands
	// out the whole batch; the stream must still end with the context
	// error rather than a clean exhaustion.
	eng := newScriptedEngine(2, []int{1, 0})
	d := New(eng, Config{Capacity: 2, OnCancel: CancelDrain})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st, err := d.Run(ctx, payloads(2))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var got []int
	for st.Next() {
		got = append(got, st.Result().Seq)
		cancel()
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("expected full drained delivery [0 1], got %v", got)
	}
	if !errors.Is(st.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled after drained batch, got %v", st.Err())
	}
}

func TestCancelDiscardStopsImmediately(t *testing.T) {
	eng := newScriptedEngine(2, []int{1, 0, 3, 2})
	d := New(eng, Config{Capacity: 2, OnCancel: CancelDiscard})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st, err := d.Run(ctx, payloads(4))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var got []int
	for st.Next() {
		got = append(got, st.Result().Seq)
		cancel()
	}
	if !errors.Is(st.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", st.Err())
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery before discard, got %v", got)
	}
}

func TestAlreadyCanceledContextDeliversNothing(t *testing.T) {
	eng := newScriptedEngine(2, []int{0, 1})
	d := New(eng, Config{Capacity: 2, OnCancel: CancelDiscard})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := d.Run(ctx, payloads(2))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Next() {
		t.Fatalf("expected no delivery under canceled context")
	}
	if !errors.Is(st.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", st.Err())
	}
	if eng.submits != 0 {
		t.Fatalf("expected no submissions under canceled context, got %d", eng.submits)
	}
}

func TestMetadataCarriedThrough(t *testing.T) {
	eng := newScriptedEngine(2, []int{1, 0})
	d := New(eng, Config{Capacity: 2})
	st, err := d.Run(context.Background(), []Item{
		{Payload: "a", Meta: "meta-a"},
		{Payload: "b", Meta: "meta-b"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"meta-a", "meta-b"}
	i := 0
	for st.Next() {
		if st.Result().Meta != want[i] {
			t.Fatalf("result %d meta = %v, want %s", i, st.Result().Meta, want[i])
		}
		i++
	}
	if st.Err() != nil {
		t.Fatalf("stream err: %v", st.Err())
	}
}

func TestCapacityBoundHeldAcrossRuns(t *testing.T) {
	for _, cap := range []int{1, 2, 3} {
		eng := newScriptedEngine(cap, []int{0, 1, 2, 3, 4, 5})
		d := New(eng, Config{Capacity: cap})
		st, err := d.Run(context.Background(), payloads(6))
		if err != nil {
			t.Fatalf("run cap=%d: %v", cap, err)
		}
		got := collect(t, st)
		if st.Err() != nil {
			t.Fatalf("cap=%d: stream err: %v", cap, st.Err())
		}
		if len(got) != 6 {
			t.Fatalf("cap=%d: delivered %d", cap, len(got))
		}
		if eng.maxInflight > cap {
			t.Fatalf("cap=%d: observed %d in flight", cap, eng.maxInflight)
		}
	}
}
