//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaAdapter holds global config used to initialize a model instance.
type llamaAdapter struct {
	ctxSize int
	threads int
}

// NewLlamaAdapter returns the in-process go-llama.cpp adapter.
func NewLlamaAdapter(ctxSize, threads int) InferenceAdapter {
	return &llamaAdapter{ctxSize: ctxSize, threads: threads}
}

// llamaSession owns the loaded model.
type llamaSession struct {
	model      *llama.LLama
	threads    int
	baseParams InferParams
}

func (a *llamaAdapter) Start(modelPath string, params InferParams) (InferSession, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	m, err := llama.New(modelPath, llama.SetContext(a.ctxSize))
	if err != nil {
		return nil, err
	}
	return &llamaSession{model: m, threads: a.threads, baseParams: params}, nil
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, onToken func(string) error) (FinalResult, error) {
	if s.model == nil {
		return FinalResult{}, errors.New("llama model not initialized")
	}
	// Bridge token streaming to onToken and respect cancellation.
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken == nil {
			return true
		}
		return onToken(tok) == nil
	})
	po := predictOptions(s.baseParams, s.threads)
	text, err := s.model.Predict(prompt, po...)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	return FinalResult{
		Content:      text,
		FinishReason: "stop",
	}, nil
}

func (s *llamaSession) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func atLeast(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultFloat(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts adapter params into go-llama.cpp options.
func predictOptions(params InferParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(atLeast(params.MaxTokens, 1)),
		llama.SetThreads(atLeast(threads, 1)),
		llama.SetTopP(orDefaultFloat(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(orDefaultInt(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(orDefaultFloat(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(orDefaultFloat(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}
