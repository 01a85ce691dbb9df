// Package engine provides concrete execution backends behind the
// pipeline.Engine capability interface. The Pool runs an InferFunc on a
// slot-bounded set of goroutines and reports completions through PollAny in
// whatever order the work finishes; ordering is the pipeline driver's job.
//
// Model runtimes plug in through InferenceAdapter. The go-llama.cpp backend
// is enabled with `-tags=llama`; default builds get a no-CGO stub that fails
// fast instead of mocking inference.
package engine
