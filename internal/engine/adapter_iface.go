package engine

import "context"

// InferenceAdapter abstracts the model runtime backing a Pool's InferFunc.
// Concrete implementations (e.g., llama.cpp) should satisfy this interface.
type InferenceAdapter interface {
	// Start prepares a session for inference with the given model path and
	// parameters. One session serves a whole batch.
	Start(modelPath string, params InferParams) (InferSession, error)
}

// InferSession represents a reusable inference context for one model.
// Sessions are used by one batch at a time; the Pool serializes access when
// the underlying runtime is not concurrency-safe.
type InferSession interface {
	// Generate produces a completion for the given prompt. The onToken
	// callback is invoked per token when streaming is supported.
	// Implementations must return when the context is canceled.
	Generate(ctx context.Context, prompt string, onToken func(string) error) (FinalResult, error)
	// Close releases any resources associated with the session.
	Close() error
}

// InferParams captures generation parameters passed to the adapter.
type InferParams struct {
	Temperature   float32
	TopP          float32
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// FinalResult summarizes one generation.
type FinalResult struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// Usage contains token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
