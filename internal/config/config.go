package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the HTTP listener and shard pool wiring.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	ShardAddresses []string `yaml:"shard_addresses"`
}

// ValidationConfig mirrors internal/validation.Limits in YAML form.
type ValidationConfig struct {
	MaxBestOf           int    `yaml:"max_best_of"`
	MaxStopSequences    int    `yaml:"max_stop_sequences"`
	MaxTopNTokens       uint32 `yaml:"max_top_n_tokens"`
	MaxInputLength      uint32 `yaml:"max_input_length"`
	MaxTotalTokens      uint32 `yaml:"max_total_tokens"`
	MaxTokenizerWorkers int    `yaml:"max_tokenizer_workers"`
}

// BatchingConfig mirrors internal/scheduler.Limits plus the admission
// cap, in YAML form.
type BatchingConfig struct {
	MaxConcurrentRequests int64   `yaml:"max_concurrent_requests"`
	MaxBatchPrefillTokens uint64  `yaml:"max_batch_prefill_tokens"`
	MaxBatchTotalTokens   uint64  `yaml:"max_batch_total_tokens"`
	MaxBatchSize          int     `yaml:"max_batch_size"`
	MaxWaitingTokens      uint64  `yaml:"max_waiting_tokens"`
	WaitingServedRatio    float64 `yaml:"waiting_served_ratio"`
}

// ModelConfig names the tokenizer encoding and chat template this
// deployment serves.
type ModelConfig struct {
	ID                string `yaml:"id"`
	SHA               string `yaml:"sha"`
	TokenizerEncoding string `yaml:"tokenizer_encoding"`
	ChatTemplatePath  string `yaml:"chat_template_path"`
}

// DeploymentConfig carries the handful of behaviors the original
// service exposes through environment variables and optional platform
// integration rather than through the request/response shapes.
type DeploymentConfig struct {
	ComputeType            string `yaml:"compute_type"`
	CompatReturnFullText   bool   `yaml:"compat_return_full_text"`
	ChatToolPromptInPrompt bool   `yaml:"chat_tool_prompt_in_prompt"`
	InvocationsRouteTarget string `yaml:"invocations_route_target"`
	DockerLabel            string `yaml:"docker_label"`
}

// LoggingConfig controls the slog handler built at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full deployment configuration loaded from YAML, with
// environment variables layered on top by Load.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Validation ValidationConfig `yaml:"validation"`
	Batching   BatchingConfig   `yaml:"batching"`
	Model      ModelConfig      `yaml:"model"`
	Deployment DeploymentConfig `yaml:"deployment"`
	Logging    LoggingConfig    `yaml:"logging"`
	Version    string           `yaml:"version"`
}

// Default returns a Config with the same conservative defaults the
// original service ships with when a field is omitted from YAML.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 3000},
		Validation: ValidationConfig{
			MaxBestOf:           2,
			MaxStopSequences:    4,
			MaxTopNTokens:       5,
			MaxInputLength:      1024,
			MaxTotalTokens:      2048,
			MaxTokenizerWorkers: 4,
		},
		Batching: BatchingConfig{
			MaxConcurrentRequests: 128,
			MaxBatchPrefillTokens: 4096,
			MaxBatchTotalTokens:   16384,
			MaxBatchSize:          0,
			MaxWaitingTokens:      20,
			WaitingServedRatio:    0.3,
		},
		Deployment: DeploymentConfig{
			ComputeType:            "gpu+optimized",
			InvocationsRouteTarget: "chat_completions",
			ChatToolPromptInPrompt: true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Version: "0.1.0",
	}
}

// Load reads YAML from path over top of Default(), then applies
// environment variable overrides for the handful of settings the
// original service controls that way (COMPUTE_TYPE and friends).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("COMPUTE_TYPE"); v != "" {
		cfg.Deployment.ComputeType = v
	}
	if v := os.Getenv("DOCKER_LABEL"); v != "" {
		cfg.Deployment.DockerLabel = v
	}

	return &cfg, nil
}
