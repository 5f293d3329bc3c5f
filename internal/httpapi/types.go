package httpapi

import "github.com/agenthands/tgi-router/internal/router"

// GenerateRequestBody is the JSON body for POST /generate and friends.
type GenerateRequestBody struct {
	Inputs     string           `json:"inputs"`
	Parameters ParametersBody   `json:"parameters,omitempty"`
	Stream     bool             `json:"stream,omitempty"`
}

// ParametersBody mirrors router.GenerateParameters over the wire, with
// every field optional so JSON omission resolves to router defaults.
type ParametersBody struct {
	BestOf              *int     `json:"best_of,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	RepetitionPenalty   *float64 `json:"repetition_penalty,omitempty"`
	FrequencyPenalty    *float64 `json:"frequency_penalty,omitempty"`
	TopK                *int32   `json:"top_k,omitempty"`
	TopP                *float64 `json:"top_p,omitempty"`
	TypicalP            *float64 `json:"typical_p,omitempty"`
	DoSample            *bool    `json:"do_sample,omitempty"`
	MaxNewTokens        *uint32  `json:"max_new_tokens,omitempty"`
	ReturnFullText      *bool    `json:"return_full_text,omitempty"`
	Stop                []string `json:"stop,omitempty"`
	Truncate            *uint32  `json:"truncate,omitempty"`
	Watermark           *bool    `json:"watermark,omitempty"`
	Details             *bool    `json:"details,omitempty"`
	DecoderInputDetails *bool    `json:"decoder_input_details,omitempty"`
	Seed                *uint64  `json:"seed,omitempty"`
	TopNTokens          *uint32  `json:"top_n_tokens,omitempty"`
	Grammar             *GrammarBody `json:"grammar,omitempty"`
}

// GrammarBody is the wire form of router.Grammar.
type GrammarBody struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (g *GrammarBody) toGrammar() router.Grammar {
	if g == nil {
		return router.Grammar{}
	}
	switch g.Type {
	case "json":
		return router.Grammar{Kind: router.GrammarJSONSchema, Value: g.Value}
	case "regex":
		return router.Grammar{Kind: router.GrammarRegex, Value: g.Value}
	default:
		return router.Grammar{}
	}
}

// toParameters resolves ParametersBody over router.DefaultGenerateParameters.
func (p ParametersBody) toParameters() router.GenerateParameters {
	params := router.DefaultGenerateParameters()
	if p.BestOf != nil {
		params.BestOf = *p.BestOf
	}
	if p.Temperature != nil {
		params.Temperature = *p.Temperature
	}
	if p.RepetitionPenalty != nil {
		params.RepetitionPenalty = *p.RepetitionPenalty
	}
	if p.FrequencyPenalty != nil {
		params.FrequencyPenalty = *p.FrequencyPenalty
	}
	if p.TopK != nil {
		params.TopK = *p.TopK
	}
	params.TopP = p.TopP
	params.TypicalP = p.TypicalP
	if p.DoSample != nil {
		params.DoSample = *p.DoSample
	}
	params.MaxNewTokens = p.MaxNewTokens
	params.ReturnFullText = p.ReturnFullText
	params.Stop = p.Stop
	params.Truncate = p.Truncate
	if p.Watermark != nil {
		params.Watermark = *p.Watermark
	}
	if p.Details != nil {
		params.Details = *p.Details
	}
	if p.DecoderInputDetails != nil {
		params.DecoderInputDetails = *p.DecoderInputDetails
	}
	params.Seed = p.Seed
	params.TopNTokens = p.TopNTokens
	params.Grammar = p.Grammar.toGrammar()
	return params
}

// GenerateResponse is the JSON body for a non-streaming /generate reply.
type GenerateResponse struct {
	GeneratedText string   `json:"generated_text"`
	Details       *Details `json:"details,omitempty"`
}

// Details carries per-token detail when the caller requested it.
type Details struct {
	FinishReason      string        `json:"finish_reason"`
	GeneratedTokens   uint32        `json:"generated_tokens"`
	Seed              *uint64       `json:"seed,omitempty"`
	Prefill           []TokenBody   `json:"prefill,omitempty"`
	Tokens            []TokenBody   `json:"tokens"`
	TopTokens         [][]TokenBody `json:"top_tokens,omitempty"`
	BestOfSequences   []BestOfSeq   `json:"best_of_sequences,omitempty"`
}

// BestOfSeq is one also-ran returned alongside the chosen best_of
// sequence when best_of > 1 and details were requested.
type BestOfSeq struct {
	GeneratedText   string      `json:"generated_text"`
	FinishReason    string      `json:"finish_reason"`
	GeneratedTokens uint32      `json:"generated_tokens"`
	Seed            *uint64     `json:"seed,omitempty"`
	Prefill         []TokenBody `json:"prefill,omitempty"`
	Tokens          []TokenBody `json:"tokens"`
}

// TokenBody is the wire form of router.Token.
type TokenBody struct {
	ID      uint32  `json:"id"`
	Text    string  `json:"text"`
	Logprob float32 `json:"logprob"`
	Special bool    `json:"special"`
}

func tokenBody(t router.Token) TokenBody {
	return TokenBody{ID: t.ID, Text: t.Text, Logprob: t.Logprob, Special: t.Special}
}

func tokenBodies(ts []router.Token) []TokenBody {
	out := make([]TokenBody, len(ts))
	for i, t := range ts {
		out[i] = tokenBody(t)
	}
	return out
}

func topTokenBodies(tts [][]router.Token) [][]TokenBody {
	out := make([][]TokenBody, len(tts))
	for i, tt := range tts {
		out[i] = tokenBodies(tt)
	}
	return out
}

// StreamResponse is one SSE data payload for /generate_stream.
type StreamResponse struct {
	Index         int         `json:"index"`
	Token         TokenBody   `json:"token"`
	TopTokens     []TokenBody `json:"top_tokens,omitempty"`
	GeneratedText *string     `json:"generated_text,omitempty"`
	Details       *Details    `json:"details,omitempty"`
	Error         string      `json:"error,omitempty"`
	ErrorType     string      `json:"error_type,omitempty"`
}

// ErrorResponse is the standard JSON error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// TokenizeResponseItem is one element of the /tokenize response array.
type TokenizeResponseItem struct {
	ID    uint32 `json:"id"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	Stop  int    `json:"stop"`
}

// InfoResponse is the JSON body for GET /info.
type InfoResponse struct {
	ModelID               string  `json:"model_id"`
	ModelSHA              string  `json:"model_sha,omitempty"`
	ModelDtype            string  `json:"model_dtype"`
	ModelDeviceType       string  `json:"model_device_type"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests"`
	MaxBestOf             int     `json:"max_best_of"`
	MaxStopSequences      int     `json:"max_stop_sequences"`
	MaxInputLength        uint32  `json:"max_input_length"`
	MaxTotalTokens        uint32  `json:"max_total_tokens"`
	WaitingServedRatio    float64 `json:"waiting_served_ratio"`
	MaxBatchTotalTokens   uint64  `json:"max_batch_total_tokens"`
	MaxWaitingTokens      uint64  `json:"max_waiting_tokens"`
	Version               string  `json:"version"`
	DockerLabel           string  `json:"docker_label,omitempty"`
}
