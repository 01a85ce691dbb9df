package types

// BatchRequest is the payload for POST /infer. The server runs every prompt
// through the inference engine and streams results back in prompt order.
type BatchRequest struct {
	// Optional model identifier. If empty, the server default is used.
	// example: tinyllama-q4
	Model string `json:"model,omitempty" example:"tinyllama-q4"`
	// Ordered prompts to run. Results are streamed in the same order.
	Prompts []string `json:"prompts"`
	// Maximum number of new tokens to generate per prompt.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Optional stop sequences. Generation stops when any sequence is matched.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty"`
	// Random seed for reproducibility; 0 or omitted lets the server choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
	// Optional per-request cap on concurrent in-flight prompts. 0 uses the
	// server configured capacity.
	// example: 4
	Capacity int `json:"capacity,omitempty" example:"4"`
}

// ResultLine is one NDJSON line streamed by POST /infer, carrying the result
// for a single prompt. Lines are emitted strictly in prompt order.
type ResultLine struct {
	// Zero-based index of the prompt this result answers.
	// example: 0
	Index int `json:"index" example:"0"`
	// Generated completion text.
	Content string `json:"content"`
	// Reason generation stopped (stop, length, cancel).
	// example: stop
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	// Wall time the engine spent on this prompt, in milliseconds.
	// example: 412
	DurationMS int64 `json:"duration_ms,omitempty" example:"412"`
}

// BatchSummary is the final NDJSON line of a successful POST /infer stream.
type BatchSummary struct {
	// Always true on the terminating line.
	Done bool `json:"done" example:"true"`
	// Identifier of the recorded job.
	// example: 01J9ZK3V9GQ2M4S7X0B8E5TCWD
	JobID string `json:"job_id,omitempty" example:"01J9ZK3V9GQ2M4S7X0B8E5TCWD"`
	// Number of results delivered.
	// example: 4
	Count int `json:"count" example:"4"`
	// Total batch wall time in milliseconds.
	// example: 1650
	DurationMS int64 `json:"duration_ms" example:"1650"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall server state (ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Number of models visible in the registry.
	// example: 3
	ModelCount int `json:"model_count" example:"3"`
	// Configured concurrent in-flight capacity per batch.
	// example: 4
	Capacity int `json:"capacity" example:"4"`
	// Batches currently being served.
	// example: 1
	ActiveBatches int `json:"active_batches" example:"1"`
	// Total batches served since start.
	// example: 12
	BatchesTotal uint64 `json:"batches_total" example:"12"`
	// Total prompts delivered since start.
	// example: 96
	ResultsTotal uint64 `json:"results_total" example:"96"`
	// Last error observed by the runner (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// JobRecord describes one recorded batch run for GET /jobs.
type JobRecord struct {
	// ULID job identifier.
	// example: 01J9ZK3V9GQ2M4S7X0B8E5TCWD
	ID string `json:"id" example:"01J9ZK3V9GQ2M4S7X0B8E5TCWD"`
	// Model the batch ran against.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Lifecycle status (running, done, error).
	// example: done
	Status string `json:"status" example:"done"`
	// Number of prompts in the batch.
	// example: 4
	ItemCount int `json:"item_count" example:"4"`
	// Number of results delivered before the batch ended.
	// example: 4
	Completed int `json:"completed" example:"4"`
	// Error message when Status is error.
	Error string `json:"error,omitempty"`
	// Total batch wall time in milliseconds.
	// example: 1650
	DurationMS int64 `json:"duration_ms" example:"1650"`
	// Creation time in unix seconds.
	// example: 1700000000
	CreatedAt int64 `json:"created_at_unix" example:"1700000000"`
	// Finish time in unix seconds (0 while running).
	// example: 1700000002
	FinishedAt int64 `json:"finished_at_unix,omitempty" example:"1700000002"`
}

// JobsResponse wraps the paginated list returned by GET /jobs.
type JobsResponse struct {
	// Jobs in the current page, newest first.
	Jobs []JobRecord `json:"jobs"`
	// Total number of recorded jobs.
	// example: 42
	Total int `json:"total" example:"42"`
}
