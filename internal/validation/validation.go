// Package validation bounds, sanitizes, and tokenizes incoming requests
// on a fixed-size worker pool, off whatever goroutine is serving the
// HTTP request.
package validation

import (
	"context"
	"fmt"

	"github.com/agenthands/tgi-router/internal/router"
	"github.com/agenthands/tgi-router/pkg/tokenizer"
)

// Limits holds the bounds enforced against every request.
type Limits struct {
	MaxBestOf           int
	MaxStopSequences    int
	MaxTopNTokens       uint32
	MaxInputLength      uint32
	MaxTotalTokens      uint32
	MaxTokenizerWorkers int
}

// job is one (request, reply) pair submitted to a worker.
type job struct {
	ctx    context.Context
	req    router.GenerateRequest
	nextID func() uint64
	reply  chan<- result
}

type result struct {
	valid *router.ValidRequest
	err   error
}

// Pool is the bounded tokenization worker pool. When tok is nil,
// validation skips every token-level check, and the ValidRequest it
// returns has no InputIDs and an InputLength of zero.
type Pool struct {
	limits Limits
	tok    *tokenizer.Tokenizer
	jobs   chan job
	nextID func() uint64
}

// New starts limits.MaxTokenizerWorkers goroutines (four when that is
// not positive) draining a shared job queue. tok may be nil; see Pool's
// doc comment.
func New(limits Limits, tok *tokenizer.Tokenizer, idGen func() uint64) *Pool {
	workers := limits.MaxTokenizerWorkers
	if workers <= 0 {
		workers = 4
	}
	p := &Pool{limits: limits, tok: tok, jobs: make(chan job, workers*4), nextID: idGen}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for j := range p.jobs {
		valid, err := p.validate(j.req)
		select {
		case j.reply <- result{valid: valid, err: err}:
		case <-j.ctx.Done():
		}
	}
}

// Validate submits req to the pool and blocks until a worker processes
// it or ctx is cancelled.
func (p *Pool) Validate(ctx context.Context, req router.GenerateRequest) (*router.ValidRequest, error) {
	reply := make(chan result, 1)
	select {
	case p.jobs <- job{ctx: ctx, req: req, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.valid, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) validate(req router.GenerateRequest) (*router.ValidRequest, error) {
	params := req.Parameters

	if params.BestOf < 1 {
		params.BestOf = 1
	}
	if params.BestOf > p.limits.MaxBestOf {
		return nil, router.NewValidationError("best_of must be <= %d", p.limits.MaxBestOf)
	}
	if params.BestOf > 1 && !params.DoSample {
		return nil, router.NewValidationError("best_of > 1 requires do_sample = true")
	}

	if params.Temperature <= 0 {
		return nil, router.NewValidationError("temperature must be > 0")
	}
	if params.RepetitionPenalty <= 0 {
		return nil, router.NewValidationError("repetition_penalty must be > 0")
	}
	if params.FrequencyPenalty <= -2 || params.FrequencyPenalty >= 2 {
		return nil, router.NewValidationError("frequency_penalty must be in (-2, 2)")
	}
	topP := 1.0
	if params.TopP != nil {
		if *params.TopP <= 0 || *params.TopP >= 1 {
			return nil, router.NewValidationError("top_p must be in (0, 1)")
		}
		topP = *params.TopP
	}
	typicalP := 1.0
	if params.TypicalP != nil {
		if *params.TypicalP <= 0 || *params.TypicalP >= 1 {
			return nil, router.NewValidationError("typical_p must be in (0, 1)")
		}
		typicalP = *params.TypicalP
	}
	if params.TopK != 0 && params.TopK <= 0 {
		return nil, router.NewValidationError("top_k must be > 0 when set")
	}
	if len(params.Stop) > p.limits.MaxStopSequences {
		return nil, router.NewValidationError("stop sequences must be <= %d", p.limits.MaxStopSequences)
	}

	var topN uint32
	if params.TopNTokens != nil {
		topN = *params.TopNTokens
		if topN > p.limits.MaxTopNTokens {
			return nil, router.NewValidationError("top_n_tokens must be <= %d", p.limits.MaxTopNTokens)
		}
	}

	if req.Inputs == "" {
		return nil, router.NewValidationError("inputs cannot be empty")
	}

	var inputIDs []uint32
	if p.tok != nil {
		inputIDs = p.tok.Encode(req.Inputs)
	}

	var truncateLength uint32
	if params.Truncate != nil && p.tok != nil && uint32(len(inputIDs)) > *params.Truncate {
		truncateLength = *params.Truncate
		inputIDs = inputIDs[uint32(len(inputIDs))-truncateLength:]
	}
	inputLength := uint32(len(inputIDs))
	if p.tok != nil && inputLength > p.limits.MaxInputLength {
		return nil, router.NewValidationError("input_length (%d) must be <= max_input_length (%d)", inputLength, p.limits.MaxInputLength)
	}

	maxNewTokens := p.limits.MaxTotalTokens - inputLength
	if params.MaxNewTokens != nil {
		maxNewTokens = *params.MaxNewTokens
	}
	if p.tok != nil && inputLength+maxNewTokens > p.limits.MaxTotalTokens {
		return nil, router.NewValidationError("input_length (%d) + max_new_tokens (%d) must be <= max_total_tokens (%d)", inputLength, maxNewTokens, p.limits.MaxTotalTokens)
	}

	grammar := params.Grammar
	if err := compileGrammar(grammar); err != nil {
		return nil, err
	}

	seed := uint64(0)
	if params.Seed != nil {
		seed = *params.Seed
	}

	valid := &router.ValidRequest{
		ID:                  p.nextID(),
		InputIDs:            inputIDs,
		InputLength:         inputLength,
		TruncateLength:      truncateLength,
		DecoderInputDetails: params.DecoderInputDetails,
		Details:             params.Details,
		BestOf:              params.BestOf,
		Parameters: router.ValidParameters{
			Temperature:       params.Temperature,
			RepetitionPenalty: params.RepetitionPenalty,
			FrequencyPenalty:  params.FrequencyPenalty,
			TopK:              params.TopK,
			TopP:              topP,
			TypicalP:          typicalP,
			DoSample:          params.DoSample,
			Seed:              seed,
			Watermark:         params.Watermark,
		},
		StoppingParameters: router.StoppingCriteria{
			MaxNewTokens:  maxNewTokens,
			StopSequences: params.Stop,
		},
		TopNTokens: topN,
		Grammar:    grammar,
	}
	return valid, nil
}

// ValidateStreaming applies the streaming-only restrictions (best_of and
// decoder_input_details are both incompatible with a streamed response)
// on top of the usual bounds.
func (p *Pool) ValidateStreaming(ctx context.Context, req router.GenerateRequest) (*router.ValidRequest, error) {
	if req.Parameters.BestOf > 1 {
		return nil, router.NewValidationError("best_of != 1 is not supported when streaming")
	}
	if req.Parameters.DecoderInputDetails {
		return nil, router.NewValidationError("decoder_input_details is not supported when streaming")
	}
	return p.Validate(ctx, req)
}

// Tokenize tokenizes text only, bypassing every other bound. Returns an
// error when no tokenizer is configured; the HTTP layer maps this to a
// 404 on /tokenize.
func (p *Pool) Tokenize(text string) ([]tokenizer.TokenOffset, error) {
	if p.tok == nil {
		return nil, fmt.Errorf("validation: no tokenizer configured")
	}
	return p.tok.Offsets(text), nil
}

// Tokenizer exposes the underlying tokenizer, or nil, for callers (chat
// template rendering) that need direct access.
func (p *Pool) Tokenizer() *tokenizer.Tokenizer { return p.tok }
