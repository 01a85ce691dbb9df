package engine

import "errors"

// execError wraps a worker failure so PollAny can surface which work item
// broke the run. The driver propagates it verbatim and stops.
type execError struct {
	seq   int
	cause error
}

func (e execError) Error() string { return "engine: work item failed: " + e.cause.Error() }
func (e execError) Unwrap() error { return e.cause }

// IsExecError reports whether err originated from a failed work item.
func IsExecError(err error) bool {
	var ee execError
	return errors.As(err, &ee)
}

// dependencyUnavailableError signals a missing runtime dependency (e.g. a
// binary built without llama support) so the HTTP layer can return 503
// Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed
// runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}
