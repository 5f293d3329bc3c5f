package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Deployment.ComputeType != "gpu+optimized" {
		t.Errorf("ComputeType = %q, want gpu+optimized", cfg.Deployment.ComputeType)
	}
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 8080
  shard_addresses:
    - "http://shard-0:6000"
    - "http://shard-1:6000"
batching:
  max_concurrent_requests: 16
  max_batch_total_tokens: 32768
model:
  id: "my-model"
  tokenizer_encoding: "cl100k_base"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8080 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if len(cfg.Server.ShardAddresses) != 2 {
		t.Errorf("expected 2 shard addresses, got %d", len(cfg.Server.ShardAddresses))
	}
	if cfg.Batching.MaxConcurrentRequests != 16 {
		t.Errorf("MaxConcurrentRequests = %d, want 16", cfg.Batching.MaxConcurrentRequests)
	}
	// A field omitted from YAML should keep its Default() value.
	if cfg.Validation.MaxTotalTokens != 2048 {
		t.Errorf("MaxTotalTokens = %d, want default 2048", cfg.Validation.MaxTotalTokens)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected an error loading a missing file")
	}
}

func TestLoadInvalidYAMLErrors(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: [unterminated\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error parsing invalid YAML")
	}
}

func TestLoadComputeTypeEnvOverride(t *testing.T) {
	t.Setenv("COMPUTE_TYPE", "cpu")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Deployment.ComputeType != "cpu" {
		t.Errorf("ComputeType = %q, want cpu", cfg.Deployment.ComputeType)
	}
}
