//go:build !llama

package engine

// This file provides a no-CGO stub for the llama adapter. It is compiled
// when the 'llama' build tag is NOT set, keeping default builds and CI
// CGO-free. The real adapter lives in adapter_llama.go (tagged 'llama').

// llamaAdapter is a stub that satisfies InferenceAdapter but refuses to run
// inference without the 'llama' build tag. This avoids any mocked behavior
// in production binaries built without CGO support.
type llamaAdapter struct {
	ctxSize int
	threads int
}

// NewLlamaAdapter returns the stub adapter; Start always fails fast.
func NewLlamaAdapter(ctxSize, threads int) InferenceAdapter {
	return &llamaAdapter{ctxSize: ctxSize, threads: threads}
}

func (a *llamaAdapter) Start(modelPath string, params InferParams) (InferSession, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
