// Package modelinfo caches the service/model metadata the /info route
// reports, repopulated once at startup from the shard pool's info RPC
// and the warmup result.
package modelinfo

import (
	"sync"

	"github.com/agenthands/tgi-router/internal/shardclient"
)

// Info is the full metadata snapshot served from GET /info.
type Info struct {
	ModelID                string  `json:"model_id"`
	ModelSHA               string  `json:"model_sha,omitempty"`
	ModelDtype             string  `json:"model_dtype"`
	ModelDeviceType        string  `json:"model_device_type"`
	MaxConcurrentRequests  int     `json:"max_concurrent_requests"`
	MaxBestOf              int     `json:"max_best_of"`
	MaxStopSequences       int     `json:"max_stop_sequences"`
	MaxInputLength         uint32  `json:"max_input_length"`
	MaxTotalTokens         uint32  `json:"max_total_tokens"`
	WaitingServedRatio     float64 `json:"waiting_served_ratio"`
	MaxBatchTotalTokens    uint64  `json:"max_batch_total_tokens"`
	MaxWaitingTokens       uint64  `json:"max_waiting_tokens"`
	MaxBatchSize           *int    `json:"max_batch_size,omitempty"`
	Version                string  `json:"version"`
	SHA                    string  `json:"sha,omitempty"`
	DockerLabel            string  `json:"docker_label,omitempty"`
}

// Registry holds the single Info snapshot for this deployment. It is
// written once, at startup after the shard pool reports its
// capabilities, and read concurrently by every /info request
// thereafter; the RWMutex favors that read-heavy pattern.
type Registry struct {
	mu   sync.RWMutex
	info Info
}

// New builds an empty Registry; call Set once the shard pool's info and
// warmup results are known.
func New() *Registry {
	return &Registry{}
}

// Set replaces the cached snapshot wholesale.
func (r *Registry) Set(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = info
}

// Get returns the current snapshot.
func (r *Registry) Get() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

// FromShard folds a shard's reported capabilities into base, the way
// startup wiring combines static deployment config with what the shard
// pool reports about itself at connect time.
func FromShard(base Info, shardInfo shardclient.ShardInfo, maxSupportedTotalTokens *uint32) Info {
	base.ModelDtype = shardInfo.Dtype
	base.ModelDeviceType = shardInfo.DeviceType
	if maxSupportedTotalTokens != nil {
		base.MaxTotalTokens = *maxSupportedTotalTokens
	}
	return base
}
