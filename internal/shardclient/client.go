package shardclient

import "context"

// ShardClient is the RPC surface the router consumes from one model
// shard. The shard process that implements this contract owns model
// loading and tensor execution; this interface is the entire boundary —
// everything above it (the scheduler, health probe) only ever talks to
// a ShardClient or a ShardedClient fan-out over several of them.
type ShardClient interface {
	// Info reports the shard's static capabilities.
	Info(ctx context.Context) (ShardInfo, error)

	// Warmup asks the shard to allocate its largest expected batch up
	// front. A non-nil return value is the shard's suggested
	// max_supported_total_tokens when it differs from what was requested.
	Warmup(ctx context.Context, maxInputLength, maxPrefillTokens, maxTotalTokens, maxBatchSize uint32) (*uint32, error)

	// Prefill runs the first forward pass over batch and returns one
	// Generation per entry plus the residual batch (nil if every entry
	// in the batch already finished on its first token).
	Prefill(ctx context.Context, batch WireBatch) ([]Generation, *WireBatch, error)

	// Decode advances every batch in batches by one (or, under
	// speculative decoding, more than one) token each.
	Decode(ctx context.Context, batches []WireBatch) ([]Generation, *WireBatch, error)

	// FilterBatch drops entries not in keepRequestIDs from batchID's
	// shard-side state, returning the resulting batch or nil if empty.
	FilterBatch(ctx context.Context, batchID uint64, keepRequestIDs []uint64) (*WireBatch, error)

	// ClearCache releases shard-side state for one batch, or all batches
	// when batchID is nil.
	ClearCache(ctx context.Context, batchID *uint64) error

	// Health performs a minimal liveness round-trip.
	Health(ctx context.Context) error
}
