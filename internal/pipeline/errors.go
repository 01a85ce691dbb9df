package pipeline

import "errors"

// ErrBusy is returned by Engine.Submit when capacity is exhausted. The
// driver treats it as a cue to poll for a completion, never as a failure.
var ErrBusy = errors.New("engine busy")

// IsBusy reports whether err indicates exhausted engine capacity.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// invalidInputError signals a precondition violation by the caller
// (empty input sequence, capacity < 1). Never retried.
type invalidInputError struct{ msg string }

func (e invalidInputError) Error() string { return "invalid input: " + e.msg }

// IsInvalidInput reports whether err indicates a caller precondition
// violation (map to 400 at the HTTP layer).
func IsInvalidInput(err error) bool {
	var ie invalidInputError
	return errors.As(err, &ie)
}

// orderingViolationError signals an engine contract breach: a completion for
// a sequence id that was never submitted, or one that was already delivered.
// Defensive; should be unreachable with a conforming engine. Fatal.
type orderingViolationError struct{ seq int; msg string }

func (e orderingViolationError) Error() string { return "ordering violation: " + e.msg }

// IsOrderingViolation reports whether err indicates an engine contract
// breach in completion sequencing.
func IsOrderingViolation(err error) bool {
	var oe orderingViolationError
	return errors.As(err, &oe)
}
