// Package router holds the data model shared by every stage of the
// inference pipeline: the wire-level request/response shapes, the
// validated internal request, and the queue/batch bookkeeping types.
package router

import (
	"context"
	"time"
)

// GrammarKind selects how Grammar.Value is interpreted.
type GrammarKind int

const (
	GrammarNone GrammarKind = iota
	GrammarJSONSchema
	GrammarRegex
)

// Grammar constrains generation to a JSON schema or a regular expression.
type Grammar struct {
	Kind  GrammarKind
	Value string
}

// GenerateParameters mirrors the knobs accepted on every HTTP surface
// that eventually calls Infer.Generate.
type GenerateParameters struct {
	BestOf              int
	Temperature         float64
	RepetitionPenalty   float64
	FrequencyPenalty    float64
	TopK                int32
	TopP                *float64
	TypicalP            *float64
	DoSample            bool
	MaxNewTokens        *uint32
	ReturnFullText      *bool
	Stop                []string
	Truncate            *uint32
	Watermark           bool
	Details             bool
	DecoderInputDetails bool
	Seed                *uint64
	TopNTokens          *uint32
	Grammar             Grammar
}

// DefaultGenerateParameters fills in the field-for-field defaults applied
// when a JSON request omits a sampling parameter. TopP and TypicalP are
// left nil: both are disabled-by-default nucleus/typical filters, not a
// bounded (0, 1) value, so validation only range-checks them when the
// caller actually sets one.
func DefaultGenerateParameters() GenerateParameters {
	return GenerateParameters{
		BestOf:            1,
		Temperature:       1.0,
		RepetitionPenalty: 1.0,
		FrequencyPenalty:  0.0,
		DoSample:          false,
		Watermark:         false,
		Details:           false,
	}
}

// GenerateRequest is the HTTP-layer-agnostic request every adapter builds.
type GenerateRequest struct {
	Inputs     string
	Parameters GenerateParameters
}

// ValidParameters is the sampling configuration after validation has
// resolved every optional field to a concrete value.
type ValidParameters struct {
	Temperature       float64
	RepetitionPenalty float64
	FrequencyPenalty  float64
	TopK              int32
	TopP              float64
	TypicalP          float64
	DoSample          bool
	Seed              uint64
	Watermark         bool
}

// StoppingCriteria is precomputed once during validation so the scheduler
// never has to re-derive it on the hot path.
type StoppingCriteria struct {
	MaxNewTokens  uint32
	StopSequences []string
}

// ValidRequest is the output of the validation pipeline: a tokenized,
// bounds-checked, default-resolved request ready to be queued.
type ValidRequest struct {
	ID                  uint64
	InputIDs            []uint32
	InputLength         uint32
	TruncateLength      uint32
	DecoderInputDetails bool
	Details             bool
	BestOf              int
	Parameters          ValidParameters
	StoppingParameters  StoppingCriteria
	TopNTokens          uint32
	Grammar             Grammar
}

// FinishReason explains why generation for one sequence stopped.
type FinishReason int

const (
	FinishLength FinishReason = iota
	FinishEndOfSequenceToken
	FinishStopSequence
)

func (f FinishReason) String() string {
	switch f {
	case FinishLength:
		return "length"
	case FinishEndOfSequenceToken:
		return "eos_token"
	case FinishStopSequence:
		return "stop_sequence"
	default:
		return "unknown"
	}
}

// Token is a single generated or prefill token with its log-probability.
type Token struct {
	ID      uint32
	Text    string
	Logprob float32
	Special bool
}

// GeneratedText is the terminal payload for one finished sequence.
type GeneratedText struct {
	Text            string
	GeneratedTokens uint32
	FinishReason    FinishReason
	Seed            *uint64
}

// StreamItemKind tags the variant carried by a StreamItem.
type StreamItemKind int

const (
	StreamPrefill StreamItemKind = iota
	StreamIntermediate
	StreamEnd
	StreamError
)

// StreamItem is one tagged update on an entry's response stream:
// Prefill(tokens) | Intermediate{token, top_tokens} | End{...} | Error.
// Exactly one StreamEnd or StreamError terminates an entry's stream.
type StreamItem struct {
	Kind          StreamItemKind
	Index         int
	PrefillTokens []Token
	Token         Token
	TopTokens     []Token
	GeneratedText *GeneratedText
	Queued        time.Time
	Start         time.Time
	Err           error
}

// Entry is a queued, validated request extended with everything the
// scheduler needs to drive it through prefill/decode and report results
// back to the owning HTTP handler.
type Entry struct {
	Request         *ValidRequest
	ResponseTx      chan *StreamItem
	Ctx             context.Context
	QueueTime       time.Time
	BatchTime       time.Time
	GeneratedTokens uint32

	closed bool
}

// NewEntry builds an Entry ready to be appended to the Queue. The channel
// is buffered so the scheduler never blocks on a slow or abandoned
// consumer for a single send.
func NewEntry(ctx context.Context, req *ValidRequest) *Entry {
	return &Entry{
		Request:    req,
		ResponseTx: make(chan *StreamItem, 16),
		Ctx:        ctx,
		QueueTime:  nowFunc(),
	}
}

// Cancelled reports whether the owning HTTP handler has gone away. The
// scheduler is the sole sender on ResponseTx; Go gives no signal when a
// channel's receiver disappears the way Rust's mpsc does on Receiver
// drop, so cancellation is instead observed through the request's
// context, exactly as net/http cancels ctx when the client disconnects.
func (e *Entry) Cancelled() bool {
	select {
	case <-e.Ctx.Done():
		return true
	default:
		return false
	}
}

// Send delivers an item to the entry's consumer unless the entry has
// already been closed or the consumer has gone away. Returns false when
// the item could not be delivered, signalling the caller to filter the
// entry out of the batch.
func (e *Entry) Send(item *StreamItem) bool {
	if e.closed || e.Cancelled() {
		return false
	}
	select {
	case e.ResponseTx <- item:
		return true
	case <-e.Ctx.Done():
		return false
	}
}

// Close closes the response channel. Calls after the first do nothing;
// the scheduler calls it after emitting StreamEnd or StreamError.
func (e *Entry) Close() {
	if e.closed {
		return
	}
	e.closed = true
	close(e.ResponseTx)
}

// Batch is a contiguous collection of entries addressed by BatchID and
// dispatched to the shards as a unit.
type Batch struct {
	ID      uint64
	Entries []*Entry
}

// MaxTokens is the sum over entries of input_length + max_new_tokens,
// the budget the shards must reserve in KV-cache memory for this batch.
func (b *Batch) MaxTokens() uint64 {
	var total uint64
	for _, e := range b.Entries {
		total += uint64(e.Request.InputLength) + uint64(e.Request.StoppingParameters.MaxNewTokens)
	}
	return total
}

// RemainingMaxTokens sums input_length + (max_new_tokens - generated_tokens),
// i.e. the budget still required once some tokens have already been
// produced — used by the scheduler when deciding how much headroom an
// in-flight batch leaves for merging a new one.
func (b *Batch) RemainingMaxTokens() uint64 {
	var total uint64
	for _, e := range b.Entries {
		remaining := e.Request.StoppingParameters.MaxNewTokens
		if e.GeneratedTokens < remaining {
			remaining -= e.GeneratedTokens
		} else {
			remaining = 0
		}
		total += uint64(e.Request.InputLength) + uint64(remaining)
	}
	return total
}

// RequestIDs returns the entries' request ids in batch order, the shape
// the shard client's FilterBatch call expects.
func (b *Batch) RequestIDs() []uint64 {
	ids := make([]uint64, len(b.Entries))
	for i, e := range b.Entries {
		ids[i] = e.Request.ID
	}
	return ids
}

// Len reports the number of entries still resident in the batch.
func (b *Batch) Len() int { return len(b.Entries) }

// nowFunc is a seam for tests; production code always uses time.Now.
var nowFunc = time.Now
