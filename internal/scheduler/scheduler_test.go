package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/agenthands/tgi-router/internal/queue"
	"github.com/agenthands/tgi-router/internal/router"
	"github.com/agenthands/tgi-router/internal/shardclient"
)

func newEntry(id uint64, maxNew uint32) *router.Entry {
	return router.NewEntry(context.Background(), &router.ValidRequest{
		ID:                 id,
		InputLength:        5,
		StoppingParameters: router.StoppingCriteria{MaxNewTokens: maxNew},
	})
}

func TestSchedulerPrefillOnlyBatchEmitsEndAndStops(t *testing.T) {
	q := queue.New(false, 0)
	e := newEntry(1, 5)
	q.Append(e)

	shard := &shardclient.MockShardClient{
		PrefillFunc: func(ctx context.Context, batch shardclient.WireBatch) ([]shardclient.Generation, *shardclient.WireBatch, error) {
			gens := make([]shardclient.Generation, 0, len(batch.Requests))
			for _, r := range batch.Requests {
				gens = append(gens, shardclient.Generation{
					RequestID:     r.ID,
					Token:         router.Token{ID: 1, Text: "hi"},
					GeneratedText: &router.GeneratedText{Text: "hi", GeneratedTokens: 1, FinishReason: router.FinishEndOfSequenceToken},
				})
			}
			return gens, nil, nil
		},
	}
	sc, err := shardclient.NewShardedClient(shard)
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}

	s := New(q, sc, shardclient.ShardInfo{}, Limits{MaxBatchPrefillTokens: 1000, MaxBatchTotalTokens: 1000, MaxWaitingTokens: 20, WaitingServedRatio: 0.3}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	var got *router.StreamItem
	select {
	case item, ok := <-e.ResponseTx:
		if !ok {
			t.Fatal("entry channel closed with no item")
		}
		got = item
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream item")
	}

	if got.Kind != router.StreamEnd {
		t.Fatalf("expected StreamEnd, got %v", got.Kind)
	}
	if got.GeneratedText == nil || got.GeneratedText.Text != "hi" {
		t.Fatalf("unexpected generated text: %+v", got.GeneratedText)
	}

	cancel()
	<-done
}

func TestSchedulerRecentSuccessFlag(t *testing.T) {
	q := queue.New(false, 0)
	shard := &shardclient.MockShardClient{}
	sc, err := shardclient.NewShardedClient(shard)
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}
	s := New(q, sc, shardclient.ShardInfo{}, Limits{MaxBatchPrefillTokens: 10, MaxBatchTotalTokens: 10}, nil)

	if s.RecentSuccess() {
		t.Fatal("expected RecentSuccess to start false")
	}
	s.recentSuccess.Store(true)
	if !s.RecentSuccess() {
		t.Fatal("expected RecentSuccess to report true once set")
	}
	if s.RecentSuccess() {
		t.Fatal("expected RecentSuccess to clear itself after being read")
	}
}

func TestSchedulerFailBatchSendsErrorAndCloses(t *testing.T) {
	q := queue.New(false, 0)
	sc, err := shardclient.NewShardedClient(&shardclient.MockShardClient{})
	if err != nil {
		t.Fatalf("NewShardedClient: %v", err)
	}
	s := New(q, sc, shardclient.ShardInfo{}, Limits{}, nil)

	e := newEntry(1, 5)
	s.failBatch(&router.Batch{Entries: []*router.Entry{e}}, &router.GenerationError{Kind: "shard", Message: "boom"})

	item, ok := <-e.ResponseTx
	if !ok {
		t.Fatal("expected an error item before channel close")
	}
	if item.Kind != router.StreamError {
		t.Fatalf("expected StreamError, got %v", item.Kind)
	}
	if _, ok := <-e.ResponseTx; ok {
		t.Fatal("expected channel to be closed after the error item")
	}
}
