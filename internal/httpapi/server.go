package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/engine"
	"inferd/internal/pipeline"
	"inferd/internal/runner"
	"inferd/internal/store"
	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
	InferBatch(ctx context.Context, req types.BatchRequest, w io.Writer, flush func()) error
	Jobs(ctx context.Context, limit, offset int) (types.JobsResponse, error)
	Job(ctx context.Context, id string) (types.JobRecord, error)
}

// trackingWriter records whether anything was written downstream. Once the
// NDJSON stream has started, error responses can no longer change the status
// code.
type trackingWriter struct {
	w     io.Writer
	wrote bool
}

func (tw *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		tw.wrote = true
	}
	return tw.w.Write(p)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		origins := corsAllowedOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		methods := corsAllowedMethods
		if len(methods) == 0 {
			methods = []string{"GET", "POST", "OPTIONS"}
		}
		headers := corsAllowedHeaders
		if len(headers) == 0 {
			headers = []string{"Accept", "Content-Type", "X-Request-Id", "X-Log-Level"}
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: methods,
			AllowedHeaders: headers,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Get("/models", handleModels(svc))
	r.Get("/status", handleStatus(svc))
	r.Get("/jobs", handleJobs(svc))
	r.Get("/jobs/{id}", handleJob(svc))
	r.Post("/infer", handleInfer(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleModels godoc
// @Summary List available models
// @Produce json
// @Success 200 {object} types.ModelsResponse
// @Router /models [get]
func handleModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.ModelsResponse{Models: svc.ListModels()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// handleStatus godoc
// @Summary Server status and counters
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Router /status [get]
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// handleJobs godoc
// @Summary List recorded batch jobs, newest first
// @Produce json
// @Param limit query int false "page size (default 50, max 200)"
// @Param offset query int false "page offset"
// @Success 200 {object} types.JobsResponse
// @Router /jobs [get]
func handleJobs(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		if limit < 1 {
			limit = 50
		}
		if limit > 200 {
			limit = 200
		}
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}
		resp, err := svc.Jobs(r.Context(), limit, offset)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// handleJob godoc
// @Summary Fetch one recorded batch job
// @Produce json
// @Param id path string true "job id"
// @Success 200 {object} types.JobRecord
// @Failure 404 {object} types.ErrorResponse
// @Router /jobs/{id} [get]
func handleJob(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := svc.Job(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeJSONError(w, http.StatusNotFound, "job not found")
				return
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rec); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// handleInfer godoc
// @Summary Run a batch of prompts and stream NDJSON results in prompt order
// @Accept json
// @Produce application/x-ndjson
// @Param request body types.BatchRequest true "batch request"
// @Success 200 {object} types.ResultLine
// @Failure 400 {object} types.ErrorResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 429 {object} types.ErrorResponse
// @Failure 503 {object} types.ErrorResponse
// @Router /infer [post]
func handleInfer(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		// Limit body size (configurable, default 1MiB)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.Prompts) == 0 {
			writeJSONError(w, http.StatusBadRequest, "prompts are required")
			return
		}
		for i, p := range req.Prompts {
			if strings.TrimSpace(p) == "" {
				writeJSONError(w, http.StatusBadRequest, "prompt "+strconv.Itoa(i)+" is empty")
				return
			}
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		start := time.Now()
		lvl := requestLogLevel(r)
		writer := io.Writer(w)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{})
		}
		tw := &trackingWriter{w: writer}
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Str("path", r.URL.Path).Str("model", req.Model).Int("prompts", len(req.Prompts))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("infer start")
		}

		// Join server base context with request context so shutdown cancels
		// running batches too.
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		err := svc.InferBatch(joinedCtx, req, tw, flush)
		if err == nil {
			if lvl >= LevelInfo {
				logInferEnd(r, http.StatusOK, start, nil)
			}
			return
		}
		// Client disconnect or shutdown: nothing useful left to send.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		// Once lines went out the status code is already committed; the
		// truncated stream (no terminating summary line) is the signal.
		if tw.wrote {
			if lvl >= LevelError {
				logInferEnd(r, http.StatusOK, start, err)
			}
			return
		}
		status := statusForError(err)
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("engine_busy")
		}
		writeJSONError(w, status, err.Error())
		if lvl >= LevelInfo {
			logInferEnd(r, status, start, err)
		}
	}
}

// statusForError maps well-known service errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case runner.IsModelNotFound(err):
		return http.StatusNotFound
	case pipeline.IsInvalidInput(err):
		return http.StatusBadRequest
	case pipeline.IsBusy(err):
		return http.StatusTooManyRequests
	case engine.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
