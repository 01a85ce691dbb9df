package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	// Capacity bounds concurrent in-flight prompts per batch.
	Capacity int `json:"capacity" yaml:"capacity" toml:"capacity"`
	// OnCancel selects drain|discard behavior for canceled batches.
	OnCancel string `json:"on_cancel" yaml:"on_cancel" toml:"on_cancel"`
	// DBPath is the sqlite job history location. Empty disables persistence.
	DBPath       string `json:"db_path" yaml:"db_path" toml:"db_path"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	// Llama adapter tuning (used with the 'llama' build tag).
	LlamaCtx     int `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads int `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	// CORS (opt-in).
	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
