// Package queue holds the FIFO of admitted, validated requests waiting
// to be formed into a batch by the scheduler.
package queue

import (
	"sync"

	"github.com/agenthands/tgi-router/internal/router"
)

// Queue is an unbounded FIFO of entries. The scheduler is its sole
// consumer; any number of validation workers may append concurrently.
type Queue struct {
	mu              sync.Mutex
	entries         []*router.Entry
	nextID          uint64
	requiresPadding bool
	maxBatchSize    int
}

// New builds an empty queue. requiresPadding mirrors the shard's
// ShardInfo.RequiresPadding: when true, NextBatch recomputes the decode
// token budget as a rectangular max_input_length × count instead of a
// ragged sum. maxBatchSize caps the number of entries NextBatch will
// pack into one batch regardless of remaining token budget; zero means
// unbounded.
func New(requiresPadding bool, maxBatchSize int) *Queue {
	return &Queue{requiresPadding: requiresPadding, maxBatchSize: maxBatchSize}
}

// Append adds an entry to the back of the queue. Non-blocking.
func (q *Queue) Append(e *router.Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// Len reports the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// NextBatch scans the queue in FIFO order, accumulating entries into a
// new batch under the given budgets. minSize, when non-nil, causes
// NextBatch to return nil unless at least that many entries could be
// packed; the caller is expected to wait and retry. prefillTokenBudget
// bounds the sum of input lengths; tokenBudget bounds prefill tokens
// plus the sum of max_new_tokens (or, under padding, the rectangular
// decode cost). Entries whose request context has been cancelled are
// closed and dropped from the queue rather than batched.
// An entry that doesn't fit under the current budgets is held back for
// the next call rather than skipped over, preserving FIFO order.
func (q *Queue) NextBatch(minSize *int, prefillTokenBudget, tokenBudget uint64) *router.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}

	var (
		picked      []*router.Entry
		remaining   []*router.Entry
		kept        []*router.Entry
		prefillUsed uint64
		maxInput    uint64
		decodeSum   uint64
	)

	for _, e := range q.entries {
		if e.Cancelled() {
			e.Close()
			continue
		}
		kept = append(kept, e)

		if q.maxBatchSize > 0 && len(picked) >= q.maxBatchSize {
			remaining = append(remaining, e)
			continue
		}

		inputLen := uint64(e.Request.InputLength)
		maxNew := uint64(e.Request.StoppingParameters.MaxNewTokens)

		candidatePrefill := prefillUsed + inputLen
		if candidatePrefill > prefillTokenBudget {
			remaining = append(remaining, e)
			continue
		}

		candidateMaxInput := maxInput
		if inputLen > candidateMaxInput {
			candidateMaxInput = inputLen
		}
		candidateDecodeSum := decodeSum + maxNew

		var candidateTokenBudgetUsed uint64
		if q.requiresPadding {
			candidateTokenBudgetUsed = candidateMaxInput*uint64(len(picked)+1) + candidateDecodeSum
		} else {
			candidateTokenBudgetUsed = candidatePrefill + candidateDecodeSum
		}
		if candidateTokenBudgetUsed > tokenBudget {
			remaining = append(remaining, e)
			continue
		}

		picked = append(picked, e)
		prefillUsed = candidatePrefill
		maxInput = candidateMaxInput
		decodeSum = candidateDecodeSum
	}

	if len(picked) == 0 {
		q.entries = kept
		return nil
	}
	if minSize != nil && len(picked) < *minSize {
		// Not enough entries to justify forming a batch yet; put
		// everything back in FIFO order and let the caller retry later.
		q.entries = kept
		return nil
	}

	q.entries = remaining
	return &router.Batch{ID: q.allocateBatchID(), Entries: picked}
}

func (q *Queue) allocateBatchID() uint64 {
	q.nextID++
	return q.nextID
}
