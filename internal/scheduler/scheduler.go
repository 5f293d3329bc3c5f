// Package scheduler drives the prefill/decode loop that turns queued
// entries into shard RPCs and routes the results back to each entry's
// own event stream.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/agenthands/tgi-router/internal/queue"
	"github.com/agenthands/tgi-router/internal/router"
	"github.com/agenthands/tgi-router/internal/shardclient"
)

// Limits bounds every batch the scheduler forms or extends.
type Limits struct {
	MaxBatchPrefillTokens uint64
	MaxBatchTotalTokens   uint64
	MaxWaitingTokens      uint64
	WaitingServedRatio    float64
}

// Scheduler owns the single background loop that forms batches from the
// queue, dispatches them to the shards, and fans results back out to
// each entry's response channel. There is exactly one Scheduler per
// Infer facade and exactly one goroutine running its Run loop.
type Scheduler struct {
	queue   *queue.Queue
	shards  *shardclient.ShardedClient
	limits  Limits
	info    shardclient.ShardInfo
	logger  *slog.Logger

	recentSuccess atomic.Bool
}

// New builds a Scheduler. info is the shard pool's reported capabilities
// (speculate count, padding requirement), fetched once at startup.
func New(q *queue.Queue, shards *shardclient.ShardedClient, info shardclient.ShardInfo, limits Limits, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{queue: q, shards: shards, info: info, limits: limits, logger: logger}
}

// RecentSuccess reports and clears the "a decode step completed
// normally since the last check" flag the health prober consumes.
func (s *Scheduler) RecentSuccess() bool {
	return s.recentSuccess.Swap(false)
}

// Run blocks forming and draining batches until ctx is cancelled. It is
// meant to be launched as the sole goroutine driving this Scheduler's
// queue.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		batch := s.awaitBatch(ctx, nil, s.limits.MaxBatchPrefillTokens, s.limits.MaxBatchTotalTokens)
		if batch == nil {
			return
		}

		active := s.prefill(ctx, batch)
		waitingTokens := uint64(0)

		for active != nil && active.Len() > 0 {
			active, waitingTokens = s.tryExtend(ctx, active, waitingTokens)

			gens, next, err := s.shards.Decode(ctx, []shardclient.WireBatch{shardclient.NewWireBatch(active)})
			if err != nil {
				s.failBatch(active, err)
				active = nil
				break
			}
			s.recentSuccess.Store(true)
			active = s.routeGenerations(ctx, active, gens, next)
			waitingTokens++
		}
	}
}

// awaitBatch polls the queue until a batch can be formed or ctx is
// cancelled. The original design suspends the caller on a queue
// condition variable; polling on a short interval is the idiomatic Go
// equivalent when the queue has no native wakeup channel.
func (s *Scheduler) awaitBatch(ctx context.Context, minSize *int, prefillBudget, tokenBudget uint64) *router.Batch {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b := s.queue.NextBatch(minSize, prefillBudget, tokenBudget); b != nil {
			return b
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) prefill(ctx context.Context, batch *router.Batch) *router.Batch {
	wire := shardclient.NewWireBatch(batch)
	gens, next, err := s.shards.Prefill(ctx, wire)
	if err != nil {
		s.failBatch(batch, err)
		return nil
	}
	s.recentSuccess.Store(true)
	return s.routeGenerations(ctx, batch, gens, next)
}

// routeGenerations delivers one StreamItem per Generation to its
// originating entry, closes the channel of any entry that just
// finished, and returns the batch with finished/cancelled entries
// filtered out (via a FilterBatch RPC) so callers always hold a batch
// consistent with shard-side state.
func (s *Scheduler) routeGenerations(ctx context.Context, batch *router.Batch, gens []shardclient.Generation, next *shardclient.WireBatch) *router.Batch {
	byID := make(map[uint64]*router.Entry, len(batch.Entries))
	for _, e := range batch.Entries {
		byID[e.Request.ID] = e
	}

	var keep []uint64
	for _, g := range gens {
		e, ok := byID[g.RequestID]
		if !ok {
			continue
		}

		if len(g.PrefillTokens) > 0 {
			e.Send(&router.StreamItem{Kind: router.StreamPrefill, PrefillTokens: g.PrefillTokens})
		}

		if g.GeneratedText != nil {
			e.Send(&router.StreamItem{
				Kind:          router.StreamEnd,
				Token:         g.Token,
				TopTokens:     g.TopTokens,
				GeneratedText: g.GeneratedText,
			})
			e.Close()
			continue
		}

		e.GeneratedTokens++
		e.Send(&router.StreamItem{Kind: router.StreamIntermediate, Token: g.Token, TopTokens: g.TopTokens})

		if e.Cancelled() {
			e.Close()
			continue
		}
		keep = append(keep, g.RequestID)
	}

	if len(keep) == 0 || next == nil {
		if next != nil {
			s.clearCacheBestEffort(next.ID)
		}
		return nil
	}

	filtered, err := s.shards.FilterBatch(ctx, next.ID, keep)
	if err != nil {
		s.failEntries(keepEntries(byID, keep), err)
		return nil
	}
	if filtered == nil {
		return nil
	}

	survivors := make([]*router.Entry, 0, len(keep))
	for _, id := range keep {
		survivors = append(survivors, byID[id])
	}
	return &router.Batch{ID: filtered.ID, Entries: survivors}
}

func keepEntries(byID map[uint64]*router.Entry, ids []uint64) []*router.Entry {
	out := make([]*router.Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// tryExtend attempts to merge a freshly prefilled batch into active,
// following the waiting-served-ratio headroom rule: the new batch must
// always fit within the max_batch_total_tokens headroom active leaves.
// Once waitingTokens has reached MaxWaitingTokens, the queue must also
// supply at least floor(active size × WaitingServedRatio) entries (never
// fewer than one); before that, any batch that fits is merged.
func (s *Scheduler) tryExtend(ctx context.Context, active *router.Batch, waitingTokens uint64) (*router.Batch, uint64) {
	batchMaxTokens := active.RemainingMaxTokens()
	if batchMaxTokens >= s.limits.MaxBatchTotalTokens {
		return active, waitingTokens
	}

	var minSize *int
	if waitingTokens >= s.limits.MaxWaitingTokens {
		n := int(float64(active.Len()) * s.limits.WaitingServedRatio)
		if n < 1 {
			n = 1
		}
		minSize = &n
	}

	prefillBudget := s.limits.MaxBatchPrefillTokens
	headroom := s.limits.MaxBatchTotalTokens - batchMaxTokens
	if headroom < prefillBudget {
		prefillBudget = headroom
	}

	newBatch := s.queue.NextBatch(minSize, prefillBudget, headroom)
	if newBatch == nil {
		return active, waitingTokens
	}

	extended := s.prefill(ctx, newBatch)
	if extended == nil {
		return active, 0
	}

	merged := &router.Batch{ID: active.ID, Entries: append(append([]*router.Entry{}, active.Entries...), extended.Entries...)}
	return merged, 0
}

func (s *Scheduler) failBatch(batch *router.Batch, err error) {
	s.failEntries(batch.Entries, err)
}

func (s *Scheduler) failEntries(entries []*router.Entry, err error) {
	genErr := &router.GenerationError{Kind: "shard", Message: err.Error()}
	for _, e := range entries {
		e.Send(&router.StreamItem{Kind: router.StreamError, Err: genErr})
		e.Close()
	}
	s.logger.Error("batch failed", "error", err, "entries", len(entries))
}

func (s *Scheduler) clearCacheBestEffort(batchID uint64) {
	if err := s.shards.ClearCache(context.Background(), &batchID); err != nil {
		s.logger.Warn("clear_cache after drained batch failed", "batch_id", batchID, "error", err)
	}
}

// Speculate reports how many tokens each decode step advances per
// entry, per ShardInfo.Speculate. A value greater than one means the
// shard pool is running speculative decoding and each Generation may
// represent more than one emitted token; the wire protocol already
// flattens those into individual Generation values in order, so the
// routing loop above requires no special casing beyond what
// routeGenerations already does.
func (s *Scheduler) Speculate() uint32 { return s.info.Speculate }
