package shardclient

import (
	"context"
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"
)

// ShardedClient fans every call out to N ShardClients concurrently and
// aggregates: the call only succeeds if every shard succeeds, and for
// data-returning calls shard 0's payload is the one returned. Info
// results must be deeply equal across shards. Prefill and Decode results
// must agree in generation count and request-ID order; their token
// payloads are not compared. Warmup and FilterBatch return shard 0's
// result without comparing the others. A detected mismatch is returned
// as an error like any shard failure; the process keeps running.
type ShardedClient struct {
	shards []ShardClient
}

// NewShardedClient wraps one ShardClient per shard. At least one shard
// is required.
func NewShardedClient(shards ...ShardClient) (*ShardedClient, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("shardclient: at least one shard is required")
	}
	return &ShardedClient{shards: shards}, nil
}

// NumShards reports how many shards the client fans out to.
func (s *ShardedClient) NumShards() int { return len(s.shards) }

func (s *ShardedClient) Info(ctx context.Context) (ShardInfo, error) {
	results := make([]ShardInfo, len(s.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range s.shards {
		i, shard := i, shard
		g.Go(func() error {
			info, err := shard.Info(gctx)
			if err != nil {
				return fmt.Errorf("shard %d: info: %w", i, err)
			}
			results[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ShardInfo{}, err
	}
	for i := 1; i < len(results); i++ {
		if !reflect.DeepEqual(results[0], results[i]) {
			return ShardInfo{}, fmt.Errorf("shardclient: shard %d info diverges from shard 0", i)
		}
	}
	return results[0], nil
}

func (s *ShardedClient) Warmup(ctx context.Context, maxInputLength, maxPrefillTokens, maxTotalTokens, maxBatchSize uint32) (*uint32, error) {
	results := make([]*uint32, len(s.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range s.shards {
		i, shard := i, shard
		g.Go(func() error {
			v, err := shard.Warmup(gctx, maxInputLength, maxPrefillTokens, maxTotalTokens, maxBatchSize)
			if err != nil {
				return fmt.Errorf("shard %d: warmup: %w", i, err)
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results[0], nil
}

func (s *ShardedClient) Prefill(ctx context.Context, batch WireBatch) ([]Generation, *WireBatch, error) {
	return s.fanOutPrefillDecode(ctx, func(shard ShardClient, gctx context.Context) ([]Generation, *WireBatch, error) {
		return shard.Prefill(gctx, batch)
	})
}

func (s *ShardedClient) Decode(ctx context.Context, batches []WireBatch) ([]Generation, *WireBatch, error) {
	return s.fanOutPrefillDecode(ctx, func(shard ShardClient, gctx context.Context) ([]Generation, *WireBatch, error) {
		return shard.Decode(gctx, batches)
	})
}

type prefillDecodeResult struct {
	generations []Generation
	batch       *WireBatch
}

func (s *ShardedClient) fanOutPrefillDecode(ctx context.Context, call func(ShardClient, context.Context) ([]Generation, *WireBatch, error)) ([]Generation, *WireBatch, error) {
	results := make([]prefillDecodeResult, len(s.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range s.shards {
		i, shard := i, shard
		g.Go(func() error {
			gens, next, err := call(shard, gctx)
			if err != nil {
				return fmt.Errorf("shard %d: %w", i, err)
			}
			results[i] = prefillDecodeResult{generations: gens, batch: next}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	for i := 1; i < len(results); i++ {
		if len(results[i].generations) != len(results[0].generations) {
			return nil, nil, fmt.Errorf("shardclient: shard %d returned %d generations, shard 0 returned %d", i, len(results[i].generations), len(results[0].generations))
		}
		for j := range results[0].generations {
			if results[0].generations[j].RequestID != results[i].generations[j].RequestID {
				return nil, nil, fmt.Errorf("shardclient: shard %d generation order diverges from shard 0 at index %d", i, j)
			}
		}
	}
	return results[0].generations, results[0].batch, nil
}

func (s *ShardedClient) FilterBatch(ctx context.Context, batchID uint64, keepRequestIDs []uint64) (*WireBatch, error) {
	results := make([]*WireBatch, len(s.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range s.shards {
		i, shard := i, shard
		g.Go(func() error {
			b, err := shard.FilterBatch(gctx, batchID, keepRequestIDs)
			if err != nil {
				return fmt.Errorf("shard %d: filter_batch: %w", i, err)
			}
			results[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results[0], nil
}

func (s *ShardedClient) ClearCache(ctx context.Context, batchID *uint64) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range s.shards {
		i, shard := i, shard
		g.Go(func() error {
			if err := shard.ClearCache(gctx, batchID); err != nil {
				return fmt.Errorf("shard %d: clear_cache: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *ShardedClient) Health(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range s.shards {
		i, shard := i, shard
		g.Go(func() error {
			if err := shard.Health(gctx); err != nil {
				return fmt.Errorf("shard %d: health: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
