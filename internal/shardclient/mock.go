package shardclient

import "context"

// MockShardClient is a test double for ShardClient, exported for use by
// other packages' tests. Each RPC has its own optional function field;
// a nil field returns a zero value and a nil error, which is enough for
// tests that only exercise one or two RPCs.
type MockShardClient struct {
	InfoFunc        func(ctx context.Context) (ShardInfo, error)
	WarmupFunc      func(ctx context.Context, maxInputLength, maxPrefillTokens, maxTotalTokens, maxBatchSize uint32) (*uint32, error)
	PrefillFunc     func(ctx context.Context, batch WireBatch) ([]Generation, *WireBatch, error)
	DecodeFunc      func(ctx context.Context, batches []WireBatch) ([]Generation, *WireBatch, error)
	FilterBatchFunc func(ctx context.Context, batchID uint64, keepRequestIDs []uint64) (*WireBatch, error)
	ClearCacheFunc  func(ctx context.Context, batchID *uint64) error
	HealthFunc      func(ctx context.Context) error
}

func (m *MockShardClient) Info(ctx context.Context) (ShardInfo, error) {
	if m.InfoFunc != nil {
		return m.InfoFunc(ctx)
	}
	return ShardInfo{}, nil
}

func (m *MockShardClient) Warmup(ctx context.Context, maxInputLength, maxPrefillTokens, maxTotalTokens, maxBatchSize uint32) (*uint32, error) {
	if m.WarmupFunc != nil {
		return m.WarmupFunc(ctx, maxInputLength, maxPrefillTokens, maxTotalTokens, maxBatchSize)
	}
	return nil, nil
}

func (m *MockShardClient) Prefill(ctx context.Context, batch WireBatch) ([]Generation, *WireBatch, error) {
	if m.PrefillFunc != nil {
		return m.PrefillFunc(ctx, batch)
	}
	return nil, nil, nil
}

func (m *MockShardClient) Decode(ctx context.Context, batches []WireBatch) ([]Generation, *WireBatch, error) {
	if m.DecodeFunc != nil {
		return m.DecodeFunc(ctx, batches)
	}
	return nil, nil, nil
}

func (m *MockShardClient) FilterBatch(ctx context.Context, batchID uint64, keepRequestIDs []uint64) (*WireBatch, error) {
	if m.FilterBatchFunc != nil {
		return m.FilterBatchFunc(ctx, batchID, keepRequestIDs)
	}
	return nil, nil
}

func (m *MockShardClient) ClearCache(ctx context.Context, batchID *uint64) error {
	if m.ClearCacheFunc != nil {
		return m.ClearCacheFunc(ctx, batchID)
	}
	return nil
}

func (m *MockShardClient) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}
