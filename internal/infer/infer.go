// Package infer is the facade the HTTP layer drives: admission control,
// validation, queueing, and draining a request's response stream all
// happen behind Generate, GenerateStream, and GenerateBestOf.
package infer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agenthands/tgi-router/internal/queue"
	"github.com/agenthands/tgi-router/internal/router"
	"github.com/agenthands/tgi-router/internal/validation"
	"github.com/agenthands/tgi-router/pkg/tokenizer"
)

// Response is the fully drained, non-streaming result of one generation.
type Response struct {
	Prefill       []router.Token
	Tokens        []router.Token
	TopTokens     [][]router.Token
	GeneratedText *router.GeneratedText
	Queued        time.Time
	Start         time.Time
	InputLength   uint32
}

// Infer wires admission, validation, and the queue together. The
// scheduler that actually drains the queue runs independently; Infer
// only ever appends entries to it and waits on their response channel.
type Infer struct {
	sem   *semaphore.Weighted
	queue *queue.Queue
	pool  *validation.Pool
	chat  *tokenizer.ChatTemplate
}

// New builds an Infer facade. maxConcurrentRequests sizes the admission
// semaphore.
func New(maxConcurrentRequests int64, q *queue.Queue, pool *validation.Pool, chat *tokenizer.ChatTemplate) *Infer {
	return &Infer{sem: semaphore.NewWeighted(maxConcurrentRequests), queue: q, pool: pool, chat: chat}
}

// acquire tries to take one admission permit without blocking. The
// original design's "no queueing at admission" invariant maps directly
// onto semaphore.TryAcquire.
func (inf *Infer) acquire() (*permit, error) {
	if !inf.sem.TryAcquire(1) {
		return nil, &router.OverloadedError{}
	}
	return &permit{sem: inf.sem}, nil
}

// permit represents one held admission slot. Release is idempotent so
// it is safe to defer unconditionally alongside an explicit release on
// the success path.
type permit struct {
	sem      *semaphore.Weighted
	released bool
}

func (p *permit) release() {
	if p.released {
		return
	}
	p.released = true
	p.sem.Release(1)
}

// Generate runs one request to completion and returns the aggregated
// response. The admission permit is held for the call's entire
// duration.
func (inf *Infer) Generate(ctx context.Context, req router.GenerateRequest) (*Response, error) {
	p, err := inf.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release()

	valid, err := inf.pool.Validate(ctx, req)
	if err != nil {
		return nil, err
	}

	entry := router.NewEntry(ctx, valid)
	inf.queue.Append(entry)

	return drain(ctx, entry, valid)
}

// GenerateStream validates and enqueues req, returning the live entry
// plus a release function the caller must invoke once the stream ends
// (successfully, with an error, or because the client disconnected).
// The permit is bound to the entry's lifetime rather than to this call
// returning, matching the "permit lifetime tied to stream" rule.
func (inf *Infer) GenerateStream(ctx context.Context, req router.GenerateRequest) (*router.Entry, uint32, func(), error) {
	p, err := inf.acquire()
	if err != nil {
		return nil, 0, nil, err
	}

	valid, err := inf.pool.ValidateStreaming(ctx, req)
	if err != nil {
		p.release()
		return nil, 0, nil, err
	}

	entry := router.NewEntry(ctx, valid)
	inf.queue.Append(entry)

	return entry, valid.InputLength, p.release, nil
}

// GenerateBestOf runs n independent generations with distinct seeds and
// returns the one with the highest cumulative log-probability alongside
// the rest, ranked by the same criterion, highest first.
func (inf *Infer) GenerateBestOf(ctx context.Context, req router.GenerateRequest, n int) (*Response, []*Response, error) {
	if n < 1 {
		n = 1
	}

	type outcome struct {
		resp *Response
		err  error
	}
	results := make(chan outcome, n)

	for i := 0; i < n; i++ {
		seed := uint64(i)
		reqCopy := req
		reqCopy.Parameters.Seed = &seed
		reqCopy.Parameters.BestOf = 1
		go func() {
			resp, err := inf.Generate(ctx, reqCopy)
			results <- outcome{resp: resp, err: err}
		}()
	}

	var all []*Response
	for i := 0; i < n; i++ {
		o := <-results
		if o.err != nil {
			return nil, nil, o.err
		}
		all = append(all, o.resp)
	}

	best := all[0]
	bestScore := cumulativeLogprob(best)
	others := make([]*Response, 0, len(all)-1)
	for _, r := range all[1:] {
		if s := cumulativeLogprob(r); s > bestScore {
			others = append(others, best)
			best = r
			bestScore = s
		} else {
			others = append(others, r)
		}
	}
	sort.SliceStable(others, func(i, j int) bool {
		return cumulativeLogprob(others[i]) > cumulativeLogprob(others[j])
	})
	return best, others, nil
}

func cumulativeLogprob(r *Response) float32 {
	var sum float32
	for _, t := range r.Tokens {
		sum += t.Logprob
	}
	return sum
}

// Tokenize tokenizes text only, bypassing queueing and the shards.
func (inf *Infer) Tokenize(text string) ([]tokenizer.TokenOffset, error) {
	return inf.pool.Tokenize(text)
}

// ApplyChatTemplate renders messages through the configured chat
// template into a single prompt string.
func (inf *Infer) ApplyChatTemplate(messages []tokenizer.ChatMessage, addGenerationPrompt bool) (string, error) {
	if inf.chat == nil {
		return "", &router.TemplateError{Message: "no chat template configured"}
	}
	prompt, err := inf.chat.Render(messages, addGenerationPrompt)
	if err != nil {
		return "", &router.TemplateError{Message: err.Error()}
	}
	return prompt, nil
}

// drain reads entry's response channel to completion, assembling a
// Response. It returns IncompleteGenerationError if the channel closes
// without ever delivering an End or Error item, which should be
// unreachable given the scheduler's contract.
func drain(ctx context.Context, entry *router.Entry, valid *router.ValidRequest) (*Response, error) {
	resp := &Response{Queued: entry.QueueTime, InputLength: valid.InputLength}
	first := true

	for {
		select {
		case item, ok := <-entry.ResponseTx:
			if !ok {
				return nil, &router.IncompleteGenerationError{}
			}
			if first {
				resp.Start = time.Now()
				first = false
			}
			switch item.Kind {
			case router.StreamPrefill:
				resp.Prefill = append(resp.Prefill, item.PrefillTokens...)
			case router.StreamIntermediate:
				resp.Tokens = append(resp.Tokens, item.Token)
				resp.TopTokens = append(resp.TopTokens, item.TopTokens)
			case router.StreamEnd:
				resp.Tokens = append(resp.Tokens, item.Token)
				resp.TopTokens = append(resp.TopTokens, item.TopTokens)
				resp.GeneratedText = item.GeneratedText
				return resp, nil
			case router.StreamError:
				return nil, item.Err
			default:
				return nil, fmt.Errorf("infer: unknown stream item kind %d", item.Kind)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
