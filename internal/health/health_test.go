package health

import (
	"context"
	"errors"
	"testing"

	"github.com/agenthands/tgi-router/internal/shardclient"
)

type fakeRecentSuccess struct{ v bool }

func (f *fakeRecentSuccess) RecentSuccess() bool {
	v := f.v
	f.v = false
	return v
}

func TestCheckSkipsProbeOnRecentSuccess(t *testing.T) {
	called := false
	shard := &shardclient.MockShardClient{
		PrefillFunc: func(ctx context.Context, batch shardclient.WireBatch) ([]shardclient.Generation, *shardclient.WireBatch, error) {
			called = true
			return nil, nil, nil
		},
	}
	sc, err := shardclient.NewShardedClient(shard)
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}

	c := New(sc, &fakeRecentSuccess{v: true})
	if !c.Check(context.Background()) {
		t.Fatal("expected Check to succeed on recent success")
	}
	if called {
		t.Fatal("expected Check to skip the synthetic probe")
	}
}

func TestCheckRunsSyntheticProbeWhenNoRecentSuccess(t *testing.T) {
	clearCalled := false
	shard := &shardclient.MockShardClient{
		PrefillFunc: func(ctx context.Context, batch shardclient.WireBatch) ([]shardclient.Generation, *shardclient.WireBatch, error) {
			return nil, &shardclient.WireBatch{ID: batch.ID}, nil
		},
		ClearCacheFunc: func(ctx context.Context, batchID *uint64) error {
			clearCalled = true
			return nil
		},
	}
	sc, err := shardclient.NewShardedClient(shard)
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}

	c := New(sc, &fakeRecentSuccess{v: false})
	if !c.Check(context.Background()) {
		t.Fatal("expected Check to succeed")
	}
	if !clearCalled {
		t.Fatal("expected the synthetic probe's batch to be cleared")
	}
}

func TestCheckFailsWhenProbeErrors(t *testing.T) {
	shard := &shardclient.MockShardClient{
		PrefillFunc: func(ctx context.Context, batch shardclient.WireBatch) ([]shardclient.Generation, *shardclient.WireBatch, error) {
			return nil, nil, errors.New("shard down")
		},
	}
	sc, err := shardclient.NewShardedClient(shard)
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}

	c := New(sc, &fakeRecentSuccess{v: false})
	if c.Check(context.Background()) {
		t.Fatal("expected Check to fail when the probe errors")
	}
}
