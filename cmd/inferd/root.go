package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/config"
	"inferd/internal/engine"
	"inferd/internal/httpapi"
	"inferd/internal/pipeline"
	"inferd/internal/registry"
	"inferd/internal/runner"
	"inferd/internal/store"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "inferd",
		Short:         "Ordered batch inference server for local GGUF models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newModelsCmd())
	return root
}

// Flags default from environment variables so container deployments need no
// wrapper scripts. Precedence: explicit flag > config file > env > default.
func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	f := cmd.Flags()
	f.String("config", envStr("INFERD_CONFIG", ""), "Path to a yaml/json/toml config file")
	f.String("addr", envStr("INFERD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	f.String("models-dir", envStr("INFERD_MODELS_DIR", "~/models/llm"), "Directory to scan for *.gguf model files")
	f.String("default-model", envStr("INFERD_DEFAULT_MODEL", ""), "Default model id when request omits model")
	f.Int("capacity", envInt("INFERD_CAPACITY", 4), "Max concurrent in-flight prompts per batch")
	f.String("on-cancel", envStr("INFERD_ON_CANCEL", "drain"), "Canceled batch behavior: drain|discard")
	f.String("db-path", envStr("INFERD_DB_PATH", ""), "SQLite job history path (empty disables)")
	f.String("log-level", envStr("INFERD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	f.Int64("max-body-bytes", int64(envInt("INFERD_MAX_BODY_BYTES", 1<<20)), "Max request body size in bytes")
	f.Int("llama-ctx", envInt("INFERD_LLAMA_CTX", 2048), "llama.cpp context size")
	f.Int("llama-threads", envInt("INFERD_LLAMA_THREADS", 0), "llama.cpp threads (0 = auto)")
	f.Bool("cors", os.Getenv("INFERD_CORS") == "1", "Enable CORS middleware")
	f.String("cors-origins", envStr("INFERD_CORS_ORIGINS", ""), "Comma-separated allowed CORS origins")
	return cmd
}

// resolveConfig merges the optional config file under the flag values. Flags
// that were set explicitly always win; unset flags yield to the file.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	f := cmd.Flags()
	var cfg config.Config
	cfg.Addr, _ = f.GetString("addr")
	cfg.ModelsDir, _ = f.GetString("models-dir")
	cfg.DefaultModel, _ = f.GetString("default-model")
	cfg.Capacity, _ = f.GetInt("capacity")
	cfg.OnCancel, _ = f.GetString("on-cancel")
	cfg.DBPath, _ = f.GetString("db-path")
	cfg.LogLevel, _ = f.GetString("log-level")
	cfg.MaxBodyBytes, _ = f.GetInt64("max-body-bytes")
	cfg.LlamaCtx, _ = f.GetInt("llama-ctx")
	cfg.LlamaThreads, _ = f.GetInt("llama-threads")
	cfg.CORSEnabled, _ = f.GetBool("cors")
	if v, _ := f.GetString("cors-origins"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}

	path, _ := f.GetString("config")
	if path == "" {
		return cfg, nil
	}
	fileCfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if !f.Changed("addr") && fileCfg.Addr != "" {
		cfg.Addr = fileCfg.Addr
	}
	if !f.Changed("models-dir") && fileCfg.ModelsDir != "" {
		cfg.ModelsDir = fileCfg.ModelsDir
	}
	if !f.Changed("default-model") && fileCfg.DefaultModel != "" {
		cfg.DefaultModel = fileCfg.DefaultModel
	}
	if !f.Changed("capacity") && fileCfg.Capacity != 0 {
		cfg.Capacity = fileCfg.Capacity
	}
	if !f.Changed("on-cancel") && fileCfg.OnCancel != "" {
		cfg.OnCancel = fileCfg.OnCancel
	}
	if !f.Changed("db-path") && fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	}
	if !f.Changed("log-level") && fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if !f.Changed("max-body-bytes") && fileCfg.MaxBodyBytes != 0 {
		cfg.MaxBodyBytes = fileCfg.MaxBodyBytes
	}
	if !f.Changed("llama-ctx") && fileCfg.LlamaCtx != 0 {
		cfg.LlamaCtx = fileCfg.LlamaCtx
	}
	if !f.Changed("llama-threads") && fileCfg.LlamaThreads != 0 {
		cfg.LlamaThreads = fileCfg.LlamaThreads
	}
	if !f.Changed("cors") && fileCfg.CORSEnabled {
		cfg.CORSEnabled = true
	}
	if !f.Changed("cors-origins") && len(fileCfg.CORSOrigins) > 0 {
		cfg.CORSOrigins = fileCfg.CORSOrigins
	}
	return cfg, nil
}

func parseCancelPolicy(s string) (pipeline.CancelPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drain":
		return pipeline.CancelDrain, nil
	case "discard":
		return pipeline.CancelDiscard, nil
	default:
		return pipeline.CancelDrain, fmt.Errorf("invalid on-cancel value %q (want drain|discard)", s)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(lvl)
}

func runServe(cfg config.Config) error {
	logger := newLogger(cfg.LogLevel)

	onCancel, err := parseCancelPolicy(cfg.OnCancel)
	if err != nil {
		return err
	}
	if cfg.Capacity < 1 {
		return fmt.Errorf("capacity must be >= 1, got %d", cfg.Capacity)
	}

	models, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		return fmt.Errorf("load models from %s: %w", cfg.ModelsDir, err)
	}
	logger.Info().Int("models", len(models)).Str("dir", cfg.ModelsDir).Msg("registry loaded")

	var jobs store.Store
	if cfg.DBPath != "" {
		s, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open job store %s: %w", cfg.DBPath, err)
		}
		defer s.Close()
		jobs = s
		logger.Info().Str("db", cfg.DBPath).Msg("job history enabled")
	}

	adapter := engine.NewLlamaAdapter(cfg.LlamaCtx, cfg.LlamaThreads)
	svc := runner.New(runner.Options{
		Models:       models,
		DefaultModel: cfg.DefaultModel,
		Capacity:     cfg.Capacity,
		OnCancel:     onCancel,
	}, adapter, jobs, logger)

	httpapi.SetLogger(logger)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// Cancel running batches, then drain connections.
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown")
	}
	return nil
}

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models found in the models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("models-dir")
			models, err := registry.LoadDir(dir)
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no models found in", dir)
				return nil
			}
			for _, m := range models {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%dMB\t%s\n", m.ID, m.Quant, m.SizeMB, m.Path)
			}
			return nil
		},
	}
	cmd.Flags().String("models-dir", envStr("INFERD_MODELS_DIR", "~/models/llm"), "Directory to scan for *.gguf model files")
	return cmd
}

// splitCSV splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
