package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/internal/pipeline"
	"inferd/internal/store"
	"inferd/pkg/types"
)

// Options configures a Runner.
type Options struct {
	// Models is the registry snapshot the runner serves from.
	Models []types.Model
	// DefaultModel is used when a request names no model. Empty means
	// requests must always name one.
	DefaultModel string
	// Capacity bounds concurrent in-flight prompts per batch unless the
	// request overrides it.
	Capacity int
	// OnCancel selects drain vs discard behavior for canceled batches.
	OnCancel pipeline.CancelPolicy
}

// Runner serves inference batches: it resolves the model, opens an adapter
// session, runs the ordered pipeline over a bounded worker pool and streams
// results out in prompt order. One Runner serves many concurrent batches.
type Runner struct {
	opts    Options
	adapter engine.InferenceAdapter
	jobs    store.Store // nil disables job history
	log     zerolog.Logger
	started time.Time
	byID    map[string]types.Model

	mu            sync.Mutex
	activeBatches int
	batchesTotal  uint64
	resultsTotal  uint64
	lastError     string
}

// New constructs a Runner. jobs may be nil to disable job history.
func New(opts Options, adapter engine.InferenceAdapter, jobs store.Store, log zerolog.Logger) *Runner {
	byID := make(map[string]types.Model, len(opts.Models))
	for _, m := range opts.Models {
		byID[m.ID] = m
	}
	return &Runner{
		opts:    opts,
		adapter: adapter,
		jobs:    jobs,
		log:     log,
		started: time.Now(),
		byID:    byID,
	}
}

// ListModels returns the registry snapshot.
func (r *Runner) ListModels() []types.Model {
	out := make([]types.Model, len(r.opts.Models))
	copy(out, r.opts.Models)
	return out
}

// Ready reports whether the runner can serve inference requests.
func (r *Runner) Ready() bool { return len(r.opts.Models) > 0 }

// Status summarizes the runner for GET /status.
func (r *Runner) Status() types.StatusResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := "ready"
	if len(r.opts.Models) == 0 {
		state = "error"
	}
	now := time.Now()
	return types.StatusResponse{
		State:          state,
		ModelCount:     len(r.opts.Models),
		Capacity:       r.opts.Capacity,
		ActiveBatches:  r.activeBatches,
		BatchesTotal:   r.batchesTotal,
		ResultsTotal:   r.resultsTotal,
		LastError:      r.lastError,
		UptimeSeconds:  int64(now.Sub(r.started).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}

// Jobs returns a page of recorded batch runs, newest first.
func (r *Runner) Jobs(ctx context.Context, limit, offset int) (types.JobsResponse, error) {
	if r.jobs == nil {
		return types.JobsResponse{Jobs: []types.JobRecord{}}, nil
	}
	jobs, total, err := r.jobs.ListJobs(ctx, limit, offset)
	if err != nil {
		return types.JobsResponse{}, err
	}
	if jobs == nil {
		jobs = []types.JobRecord{}
	}
	return types.JobsResponse{Jobs: jobs, Total: total}, nil
}

// Job returns one recorded batch run. store.ErrNotFound when absent or when
// job history is disabled.
func (r *Runner) Job(ctx context.Context, id string) (types.JobRecord, error) {
	if r.jobs == nil {
		return types.JobRecord{}, store.ErrNotFound
	}
	return r.jobs.GetJob(ctx, id)
}

// promptResult is the pool payload result: the adapter's final output plus
// per-prompt wall time.
type promptResult struct {
	final engine.FinalResult
	durMS int64
}

// InferBatch runs req and streams NDJSON lines to w: one types.ResultLine per
// prompt in prompt order, then a types.BatchSummary line. flush, when non-nil,
// is called after every line. Errors raised before the first line map cleanly
// to an HTTP status; a mid-stream error just terminates the stream.
func (r *Runner) InferBatch(ctx context.Context, req types.BatchRequest, w io.Writer, flush func()) error {
	model, err := r.resolveModel(req.Model)
	if err != nil {
		return err
	}
	capacity := r.opts.Capacity
	if req.Capacity > 0 {
		capacity = req.Capacity
	}

	session, err := r.adapter.Start(model.Path, paramsFrom(req))
	if err != nil {
		r.noteError(err)
		return fmt.Errorf("start session: %w", err)
	}
	defer session.Close()

	infer := func(ctx context.Context, payload any) (any, error) {
		prompt, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected payload type %T", payload)
		}
		start := time.Now()
		final, err := session.Generate(ctx, prompt, nil)
		if err != nil {
			return nil, err
		}
		return promptResult{final: final, durMS: time.Since(start).Milliseconds()}, nil
	}
	pool, err := engine.NewPool(capacity, infer)
	if err != nil {
		return err
	}
	defer pool.Close()

	items := make([]pipeline.Item, len(req.Prompts))
	for i, p := range req.Prompts {
		items[i].Payload = p
	}
	driver := pipeline.New(pool, pipeline.Config{Capacity: capacity, OnCancel: r.opts.OnCancel})
	st, err := driver.Run(ctx, items)
	if err != nil {
		return err
	}
	defer st.Close()

	jobID := store.NewID()
	startedAt := time.Now()
	r.batchStarted(ctx, jobID, model.ID, len(req.Prompts), startedAt)
	log := r.log.With().Str("job_id", jobID).Str("model", model.ID).Int("prompts", len(req.Prompts)).Logger()
	log.Info().Int("capacity", capacity).Msg("batch started")

	enc := json.NewEncoder(w)
	for st.Next() {
		c := st.Result()
		pr, ok := c.Result.(promptResult)
		if !ok {
			st.Close()
			err := fmt.Errorf("unexpected result type %T for sequence %d", c.Result, c.Seq)
			r.batchFinished(jobID, st.Delivered(), startedAt, err)
			return err
		}
		line := types.ResultLine{
			Index:        c.Seq,
			Content:      pr.final.Content,
			FinishReason: pr.final.FinishReason,
			DurationMS:   pr.durMS,
		}
		if err := enc.Encode(line); err != nil {
			st.Close()
			r.batchFinished(jobID, st.Delivered(), startedAt, err)
			return fmt.Errorf("write result line: %w", err)
		}
		if flush != nil {
			flush()
		}
	}
	if err := st.Err(); err != nil {
		r.batchFinished(jobID, st.Delivered(), startedAt, err)
		log.Error().Err(err).Int("delivered", st.Delivered()).Msg("batch failed")
		return err
	}

	summary := types.BatchSummary{
		Done:       true,
		JobID:      jobID,
		Count:      st.Delivered(),
		DurationMS: time.Since(startedAt).Milliseconds(),
	}
	if err := enc.Encode(summary); err != nil {
		r.batchFinished(jobID, st.Delivered(), startedAt, err)
		return fmt.Errorf("write summary line: %w", err)
	}
	if flush != nil {
		flush()
	}
	r.batchFinished(jobID, st.Delivered(), startedAt, nil)
	log.Info().Int("delivered", st.Delivered()).Int64("duration_ms", summary.DurationMS).Msg("batch done")
	return nil
}

func (r *Runner) resolveModel(id string) (types.Model, error) {
	if id == "" {
		id = r.opts.DefaultModel
	}
	if id == "" {
		return types.Model{}, modelNotFoundError{}
	}
	m, ok := r.byID[id]
	if !ok {
		return types.Model{}, modelNotFoundError{id: id}
	}
	return m, nil
}

func paramsFrom(req types.BatchRequest) engine.InferParams {
	return engine.InferParams{
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		TopK:        req.TopK,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Seed:        int(req.Seed),
	}
}

func (r *Runner) batchStarted(ctx context.Context, jobID, modelID string, items int, startedAt time.Time) {
	r.mu.Lock()
	r.activeBatches++
	r.batchesTotal++
	r.mu.Unlock()
	if r.jobs == nil {
		return
	}
	rec := types.JobRecord{
		ID:        jobID,
		Model:     modelID,
		Status:    store.StatusRunning,
		ItemCount: items,
		CreatedAt: startedAt.Unix(),
	}
	if err := r.jobs.CreateJob(ctx, rec); err != nil {
		r.log.Warn().Err(err).Str("job_id", jobID).Msg("record job start")
	}
}

func (r *Runner) batchFinished(jobID string, delivered int, startedAt time.Time, cause error) {
	r.mu.Lock()
	r.activeBatches--
	r.resultsTotal += uint64(delivered)
	if cause != nil {
		r.lastError = cause.Error()
	}
	r.mu.Unlock()
	if r.jobs == nil {
		return
	}
	status := store.StatusDone
	errMsg := ""
	if cause != nil {
		status = store.StatusError
		errMsg = cause.Error()
	}
	now := time.Now()
	// The request context may already be canceled; the record still lands.
	if err := r.jobs.FinishJob(context.Background(), jobID, status, delivered, errMsg, now.Sub(startedAt).Milliseconds(), now.Unix()); err != nil {
		r.log.Warn().Err(err).Str("job_id", jobID).Msg("record job finish")
	}
}

func (r *Runner) noteError(err error) {
	r.mu.Lock()
	r.lastError = err.Error()
	r.mu.Unlock()
}
