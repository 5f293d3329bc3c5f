package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/agenthands/tgi-router/internal/config"
	"github.com/agenthands/tgi-router/internal/router"
	"github.com/agenthands/tgi-router/pkg/tokenizer"
)

// ChatMessage is the OpenAI-shaped chat message the chat/completions
// and vertex routes accept.
type ChatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one function invocation the model chose, in the shape
// OpenAI clients expect back on choices[].message.tool_calls.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the called function's name and its
// arguments, JSON-encoded as a string per the OpenAI wire shape.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// generatedToolCall is the shape toolsGrammar constrains decoding to:
// {"function":{"name":...,"arguments":{...}}}.
type generatedToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

// parseToolCall parses generated text constrained by toolsGrammar back
// into an OpenAI-shaped tool call. Returns ok = false when text isn't
// the expected JSON shape, e.g. because no grammar was applied.
func parseToolCall(text string) (ToolCall, bool) {
	var g generatedToolCall
	if err := json.Unmarshal([]byte(text), &g); err != nil || g.Function.Name == "" {
		return ToolCall{}, false
	}
	args, err := json.Marshal(g.Function.Arguments)
	if err != nil {
		return ToolCall{}, false
	}
	return ToolCall{
		ID:   "call_" + newRequestID(),
		Type: "function",
		Function: ToolCallFunction{
			Name:      g.Function.Name,
			Arguments: string(args),
		},
	}, true
}

// ToolFunction describes one callable function a chat request offers
// the model, the same shape OpenAI's tools array uses.
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Tool wraps a ToolFunction the way the tools array nests it.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ChatCompletionRequest is the POST /v1/chat/completions body.
type ChatCompletionRequest struct {
	Model            string        `json:"model,omitempty"`
	Messages         []ChatMessage `json:"messages"`
	MaxTokens        *uint32       `json:"max_tokens,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	N                int           `json:"n,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	Logprobs         bool          `json:"logprobs,omitempty"`
	TopLogprobs      *uint32       `json:"top_logprobs,omitempty"`
	Seed             *uint64       `json:"seed,omitempty"`
	Tools            []Tool        `json:"tools,omitempty"`
	ToolChoice       interface{}   `json:"tool_choice,omitempty"`
}

// ChatCompletionChoice is one entry of the choices array.
type ChatCompletionChoice struct {
	Index        int             `json:"index"`
	Message      ChatMessage     `json:"message"`
	FinishReason string          `json:"finish_reason"`
	Logprobs     *ChoiceLogprobs `json:"logprobs,omitempty"`
}

// ChoiceLogprobs carries the per-token logprobs OpenAI clients ask for
// with logprobs: true; content is nil unless the request opted in.
type ChoiceLogprobs struct {
	Content []TokenLogprob `json:"content"`
}

// TokenLogprob is one generated token's chosen logprob, lifted straight
// from the token stream the shard already reports.
type TokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float32 `json:"logprob"`
}

// ChatCompletionResponse is the POST /v1/chat/completions reply body.
type ChatCompletionResponse struct {
	ID                string                 `json:"id"`
	Object            string                 `json:"object"`
	Created           int64                  `json:"created"`
	Model             string                 `json:"model"`
	SystemFingerprint string                 `json:"system_fingerprint,omitempty"`
	Choices           []ChatCompletionChoice `json:"choices"`
	Usage             ChatCompletionUsage    `json:"usage"`
}

// ChatCompletionUsage is the token accounting block every OpenAI-shaped
// response carries.
type ChatCompletionUsage struct {
	PromptTokens     uint32 `json:"prompt_tokens"`
	CompletionTokens uint32 `json:"completion_tokens"`
	TotalTokens      uint32 `json:"total_tokens"`
}

// presencePenaltyToRepetitionPenalty rescales the OpenAI-shaped
// presence_penalty knob, (-2.0, 2.0), onto this router's
// repetition_penalty range, (0.0, 4.0), the same x + 2.0 shift the
// original router applies.
func presencePenaltyToRepetitionPenalty(p float64) float64 {
	return p + 2
}

// systemFingerprint identifies the exact deployment that produced a
// response, the same "<version>-<build>" shape OpenAI-compatible
// clients use to detect a model or runtime change between calls.
func systemFingerprint(cfg config.Config) string {
	build := cfg.Deployment.DockerLabel
	if build == "" {
		build = "native"
	}
	return cfg.Version + "-" + build
}

// toolsPromptBlock renders the offered tools as a plain-text block to
// splice into the prompt, for deployments that steer tool calls through
// prompting instead of constrained decoding.
func toolsPromptBlock(tools []Tool) string {
	var b strings.Builder
	b.WriteString("You have access to the following functions. Respond with a JSON object of the form {\"function\":{\"name\":...,\"arguments\":{...}}} to call one.\n\n")
	for _, t := range tools {
		raw, _ := json.Marshal(t.Function)
		b.WriteString(string(raw))
		b.WriteByte('\n')
	}
	return b.String()
}

// defaultChatMaxTokens is the max_tokens applied when an OpenAI-shaped
// request omits it, matching the original router's compatibility shim
// rather than falling through to max_total_tokens - input_length.
const defaultChatMaxTokens = 100

func chatParameters(req ChatCompletionRequest, toolPromptInPrompt bool) router.GenerateParameters {
	params := router.DefaultGenerateParameters()
	maxTokens := req.MaxTokens
	if maxTokens == nil {
		d := uint32(defaultChatMaxTokens)
		maxTokens = &d
	}
	params.MaxNewTokens = maxTokens
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
		params.DoSample = *req.Temperature > 0
	}
	params.TopP = req.TopP
	if req.PresencePenalty != nil {
		params.RepetitionPenalty = presencePenaltyToRepetitionPenalty(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = *req.FrequencyPenalty
	}
	params.Stop = req.Stop
	params.Seed = req.Seed
	if req.TopLogprobs != nil {
		params.TopNTokens = req.TopLogprobs
	}
	if len(req.Tools) > 0 && !toolPromptInPrompt {
		params.Grammar = toolsGrammar(req.Tools)
		params.DoSample = true
	}
	return params
}

// toolsGrammar assembles a JSON-schema grammar constraining generation
// to a call of exactly one of the offered tools, the same $functions /
// $ref indirection used to let a single schema reference N named
// function shapes.
func toolsGrammar(tools []Tool) router.Grammar {
	functions := make(map[string]interface{}, len(tools))
	refs := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		functions[t.Function.Name] = map[string]interface{}{
			"type":       "object",
			"properties": t.Function.Parameters,
		}
		refs = append(refs, map[string]interface{}{"$ref": "#/$functions/" + t.Function.Name})
	}
	schema := map[string]interface{}{
		"$functions": functions,
		"type":       "object",
		"properties": map[string]interface{}{
			"function": map[string]interface{}{"anyOf": refs},
		},
		"required": []string{"function"},
	}
	raw, _ := json.Marshal(schema)
	return router.Grammar{Kind: router.GrammarJSONSchema, Value: string(raw)}
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error(), "validation")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "messages must not be empty", "validation")
		return
	}

	toolPromptInPrompt := s.cfg.Deployment.ChatToolPromptInPrompt && len(req.Tools) > 0

	msgs := make([]tokenizer.ChatMessage, 0, len(req.Messages)+1)
	if toolPromptInPrompt {
		msgs = append(msgs, tokenizer.ChatMessage{Role: "system", Content: toolsPromptBlock(req.Tools)})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, tokenizer.ChatMessage{Role: m.Role, Content: m.Content})
	}

	prompt, err := s.infer.ApplyChatTemplate(msgs, true)
	if err != nil {
		writeErr(w, err)
		return
	}

	genReq := router.GenerateRequest{Inputs: prompt, Parameters: chatParameters(req, toolPromptInPrompt)}
	resp, err := s.infer.Generate(r.Context(), genReq)
	if err != nil {
		writeErr(w, err)
		return
	}

	message := ChatMessage{Role: "assistant", Content: resp.GeneratedText.Text}
	if len(req.Tools) > 0 && !toolPromptInPrompt {
		if call, ok := parseToolCall(resp.GeneratedText.Text); ok {
			message.Content = ""
			message.ToolCalls = []ToolCall{call}
		}
	}
	choice := ChatCompletionChoice{
		Index:        0,
		Message:      message,
		FinishReason: resp.GeneratedText.FinishReason.String(),
	}
	if req.Logprobs {
		content := make([]TokenLogprob, len(resp.Tokens))
		for i, t := range resp.Tokens {
			content[i] = TokenLogprob{Token: t.Text, Logprob: t.Logprob}
		}
		choice.Logprobs = &ChoiceLogprobs{Content: content}
	}

	out := ChatCompletionResponse{
		ID:                "chatcmpl-" + newRequestID(),
		Object:            "chat.completion",
		Created:           start.Unix(),
		Model:             req.Model,
		SystemFingerprint: systemFingerprint(s.cfg),
		Choices:           []ChatCompletionChoice{choice},
		Usage: ChatCompletionUsage{
			PromptTokens:     resp.InputLength,
			CompletionTokens: resp.GeneratedText.GeneratedTokens,
			TotalTokens:      resp.InputLength + resp.GeneratedText.GeneratedTokens,
		},
	}
	setTimingHeaders(w, s.cfg, resp.Queued, resp.Start, start, resp.InputLength, resp.GeneratedText.GeneratedTokens, len(prompt))
	writeJSON(w, http.StatusOK, out)
}

// CompletionRequest is the legacy POST /v1/completions body.
type CompletionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	Suffix      *string  `json:"suffix,omitempty"`
	MaxTokens   *uint32  `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	Seed        *uint64  `json:"seed,omitempty"`
}

// CompletionChoice is one entry of the legacy completions choices array.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// CompletionResponse is the legacy POST /v1/completions reply body.
type CompletionResponse struct {
	ID                string              `json:"id"`
	Object            string              `json:"object"`
	Created           int64               `json:"created"`
	Model             string              `json:"model"`
	SystemFingerprint string              `json:"system_fingerprint,omitempty"`
	Choices           []CompletionChoice  `json:"choices"`
	Usage             ChatCompletionUsage `json:"usage"`
}

func completionParameters(req CompletionRequest) router.GenerateParameters {
	params := router.DefaultGenerateParameters()
	maxTokens := req.MaxTokens
	if maxTokens == nil {
		d := uint32(defaultChatMaxTokens)
		maxTokens = &d
	}
	params.MaxNewTokens = maxTokens
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
		params.DoSample = *req.Temperature > 0
	}
	params.TopP = req.TopP
	params.Stop = req.Stop
	params.Seed = req.Seed
	return params
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error(), "validation")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusUnprocessableEntity, "prompt must not be empty", "validation")
		return
	}
	if req.Suffix != nil {
		writeError(w, http.StatusUnprocessableEntity, "suffix is not supported", "suffix not supported")
		return
	}

	if req.Stream {
		s.handleCompletionsStream(w, r, req)
		return
	}

	start := time.Now()
	resp, err := s.infer.Generate(r.Context(), router.GenerateRequest{Inputs: req.Prompt, Parameters: completionParameters(req)})
	if err != nil {
		writeErr(w, err)
		return
	}

	out := CompletionResponse{
		ID:                "cmpl-" + newRequestID(),
		Object:            "text_completion",
		Created:           start.Unix(),
		Model:             req.Model,
		SystemFingerprint: systemFingerprint(s.cfg),
		Choices: []CompletionChoice{{
			Index:        0,
			Text:         resp.GeneratedText.Text,
			FinishReason: resp.GeneratedText.FinishReason.String(),
		}},
		Usage: ChatCompletionUsage{
			PromptTokens:     resp.InputLength,
			CompletionTokens: resp.GeneratedText.GeneratedTokens,
			TotalTokens:      resp.InputLength + resp.GeneratedText.GeneratedTokens,
		},
	}
	setTimingHeaders(w, s.cfg, resp.Queued, resp.Start, start, resp.InputLength, resp.GeneratedText.GeneratedTokens, len(req.Prompt))
	writeJSON(w, http.StatusOK, out)
}

// CompletionStreamChunk is one SSE frame of a streamed /v1/completions
// response, the text_completion analogue of a chat completion delta.
type CompletionStreamChunk struct {
	ID                string              `json:"id"`
	Object            string              `json:"object"`
	Created           int64               `json:"created"`
	Model             string              `json:"model"`
	SystemFingerprint string              `json:"system_fingerprint,omitempty"`
	Choices           []CompletionChoice  `json:"choices"`
}

func (s *Server) handleCompletionsStream(w http.ResponseWriter, r *http.Request, req CompletionRequest) {
	id := "cmpl-" + newRequestID()
	fingerprint := systemFingerprint(s.cfg)

	entry, inputLength, release, err := s.infer.GenerateStream(r.Context(), router.GenerateRequest{Inputs: req.Prompt, Parameters: completionParameters(req)})
	if err != nil {
		writeErr(w, err)
		return
	}
	defer release()

	flusher, ok := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	declareTimingTrailers(w)
	w.WriteHeader(http.StatusOK)
	if ok {
		flusher.Flush()
	}

	ew := newEventWriter(w)
	defer ew.Close()

	index := 0
	start := time.Now()
	var inferenceStart time.Time
	var generated uint32
	for item := range entry.ResponseTx {
		if inferenceStart.IsZero() {
			inferenceStart = time.Now()
		}
		if item.Kind == router.StreamPrefill {
			continue
		}
		generated++
		finish := ""
		if item.Kind == router.StreamEnd {
			finish = item.GeneratedText.FinishReason.String()
		}
		chunk := CompletionStreamChunk{
			ID:                id,
			Object:            "text_completion",
			Created:           start.Unix(),
			Model:             req.Model,
			SystemFingerprint: fingerprint,
			Choices: []CompletionChoice{{
				Index:        0,
				Text:         item.Token.Text,
				FinishReason: finish,
			}},
		}
		_ = ew.WriteChunk(chunk)
		if ok {
			flusher.Flush()
		}
		index++
	}
	setTimingHeaders(w, s.cfg, entry.QueueTime, inferenceStart, start, inputLength, generated, len(req.Prompt))
}

// VertexInstance is one request within a Vertex AI raw-predict batch.
type VertexInstance struct {
	Inputs     string         `json:"inputs"`
	Parameters ParametersBody `json:"parameters,omitempty"`
}

// VertexRequest is the POST /vertex body: a batch of independent
// instances, each to be generated and reported back by position.
type VertexRequest struct {
	Instances []VertexInstance `json:"instances"`
}

// VertexPrediction is one instance's outcome; Error is set instead of
// GeneratedText when that instance alone failed, so one bad instance
// never fails the whole batch.
type VertexPrediction struct {
	GeneratedText string `json:"generated_text,omitempty"`
	Error         string `json:"error,omitempty"`
}

// VertexResponse is the POST /vertex reply body.
type VertexResponse struct {
	Predictions []VertexPrediction `json:"predictions"`
}

// handleVertex fans each instance out to its own goroutine and its own
// generation, isolated from the others: a bad prompt in instance 3
// surfaces as that instance's error, not a failed batch.
func (s *Server) handleVertex(w http.ResponseWriter, r *http.Request) {
	var req VertexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error(), "validation")
		return
	}

	predictions := make([]VertexPrediction, len(req.Instances))
	done := make(chan struct{}, len(req.Instances))
	for i, inst := range req.Instances {
		go func(i int, inst VertexInstance) {
			defer func() { done <- struct{}{} }()
			genReq := router.GenerateRequest{Inputs: inst.Inputs, Parameters: inst.Parameters.toParameters()}
			resp, err := s.infer.Generate(r.Context(), genReq)
			if err != nil {
				predictions[i] = VertexPrediction{Error: err.Error()}
				return
			}
			predictions[i] = VertexPrediction{GeneratedText: resp.GeneratedText.Text}
		}(i, inst)
	}
	for range req.Instances {
		<-done
	}

	writeJSON(w, http.StatusOK, VertexResponse{Predictions: predictions})
}
