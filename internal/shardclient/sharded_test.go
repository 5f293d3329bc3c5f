package shardclient

import (
	"context"
	"errors"
	"testing"
)

func TestShardClientInterface(t *testing.T) {
	var _ ShardClient = (*MockShardClient)(nil)
	var _ ShardClient = (*HTTPClient)(nil)
}

func TestNewShardedClientRequiresAtLeastOneShard(t *testing.T) {
	if _, err := NewShardedClient(); err == nil {
		t.Fatal("expected error constructing a ShardedClient with no shards")
	}
}

func TestShardedClientPrefillAggregatesAllShards(t *testing.T) {
	calls := make([]int, 3)
	shards := make([]ShardClient, 3)
	for i := range shards {
		i := i
		shards[i] = &MockShardClient{
			PrefillFunc: func(ctx context.Context, batch WireBatch) ([]Generation, *WireBatch, error) {
				calls[i]++
				return []Generation{{RequestID: 1}, {RequestID: 2}}, &WireBatch{ID: batch.ID}, nil
			},
		}
	}

	sc, err := NewShardedClient(shards...)
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}

	gens, batch, err := sc.Prefill(context.Background(), WireBatch{ID: 7})
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if len(gens) != 2 {
		t.Fatalf("expected 2 generations, got %d", len(gens))
	}
	if batch.ID != 7 {
		t.Fatalf("expected batch id 7, got %d", batch.ID)
	}
	for i, c := range calls {
		if c != 1 {
			t.Errorf("shard %d called %d times, want 1", i, c)
		}
	}
}

func TestShardedClientPrefillFailsOnAnyShardError(t *testing.T) {
	sc, err := NewShardedClient(
		&MockShardClient{PrefillFunc: func(ctx context.Context, batch WireBatch) ([]Generation, *WireBatch, error) {
			return []Generation{{RequestID: 1}}, &WireBatch{}, nil
		}},
		&MockShardClient{PrefillFunc: func(ctx context.Context, batch WireBatch) ([]Generation, *WireBatch, error) {
			return nil, nil, errors.New("shard exploded")
		}},
	)
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}

	if _, _, err := sc.Prefill(context.Background(), WireBatch{}); err == nil {
		t.Fatal("expected error when one shard fails")
	}
}

func TestShardedClientPrefillDetectsDivergence(t *testing.T) {
	sc, err := NewShardedClient(
		&MockShardClient{PrefillFunc: func(ctx context.Context, batch WireBatch) ([]Generation, *WireBatch, error) {
			return []Generation{{RequestID: 1}, {RequestID: 2}}, &WireBatch{}, nil
		}},
		&MockShardClient{PrefillFunc: func(ctx context.Context, batch WireBatch) ([]Generation, *WireBatch, error) {
			return []Generation{{RequestID: 2}, {RequestID: 1}}, &WireBatch{}, nil
		}},
	)
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}

	if _, _, err := sc.Prefill(context.Background(), WireBatch{}); err == nil {
		t.Fatal("expected divergence error when shard generation order disagrees")
	}
}

func TestShardedClientHealthAggregates(t *testing.T) {
	sc, err := NewShardedClient(
		&MockShardClient{HealthFunc: func(ctx context.Context) error { return nil }},
		&MockShardClient{HealthFunc: func(ctx context.Context) error { return errors.New("down") }},
	)
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}
	if err := sc.Health(context.Background()); err == nil {
		t.Fatal("expected health error when one shard is down")
	}
}

func TestShardedClientNumShards(t *testing.T) {
	sc, err := NewShardedClient(&MockShardClient{}, &MockShardClient{}, &MockShardClient{})
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}
	if sc.NumShards() != 3 {
		t.Fatalf("expected 3 shards, got %d", sc.NumShards())
	}
}
