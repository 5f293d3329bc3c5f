package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/agenthands/tgi-router/internal/config"
	"github.com/agenthands/tgi-router/internal/infer"
	"github.com/agenthands/tgi-router/internal/metrics"
	"github.com/agenthands/tgi-router/internal/modelinfo"
	"github.com/agenthands/tgi-router/internal/router"
)

// handleCompatRoot serves POST / for older clients: a body with
// "stream": true is handled exactly as /generate_stream, any other body
// exactly as /generate (including its single-object reply).
func (s *Server) handleCompatRoot(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error(), "validation")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	var probe GenerateRequestBody
	if json.Unmarshal(data, &probe) == nil && probe.Stream {
		s.handleGenerateStream(w, r)
		return
	}
	s.handleGenerate(w, r)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.RequestCount.Inc()

	var body GenerateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		metrics.RequestFailure.WithLabelValues("validation").Inc()
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error(), "validation")
		return
	}

	req := router.GenerateRequest{Inputs: body.Inputs, Parameters: body.Parameters.toParameters()}

	if req.Parameters.BestOf > 1 {
		best, others, err := s.infer.GenerateBestOf(r.Context(), req, req.Parameters.BestOf)
		if err != nil {
			metrics.RequestFailure.WithLabelValues(router.ErrorType(err)).Inc()
			writeErr(w, err)
			return
		}
		metrics.RequestSuccess.Inc()
		metrics.RequestDuration.Observe(time.Since(start).Seconds())
		metrics.RequestInputLength.Observe(float64(best.InputLength))
		s.writeGenerateResult(w, body, best, others, start)
		return
	}

	resp, err := s.infer.Generate(r.Context(), req)
	if err != nil {
		metrics.RequestFailure.WithLabelValues(router.ErrorType(err)).Inc()
		writeErr(w, err)
		return
	}
	metrics.RequestSuccess.Inc()
	metrics.RequestDuration.Observe(time.Since(start).Seconds())
	metrics.RequestInputLength.Observe(float64(resp.InputLength))
	metrics.RequestGeneratedTokens.Observe(float64(resp.GeneratedText.GeneratedTokens))
	s.writeGenerateResult(w, body, resp, nil, start)
}

func (s *Server) writeGenerateResult(w http.ResponseWriter, body GenerateRequestBody, resp *infer.Response, others []*infer.Response, start time.Time) {
	returnFullText := s.cfg.Deployment.CompatReturnFullText
	if body.Parameters.ReturnFullText != nil {
		returnFullText = *body.Parameters.ReturnFullText
	}
	generatedText := resp.GeneratedText.Text
	if returnFullText {
		generatedText = body.Inputs + generatedText
	}
	out := GenerateResponse{GeneratedText: generatedText}
	if body.Parameters.Details != nil && *body.Parameters.Details {
		d := &Details{
			FinishReason:    resp.GeneratedText.FinishReason.String(),
			GeneratedTokens: resp.GeneratedText.GeneratedTokens,
			Seed:            resp.GeneratedText.Seed,
			Tokens:          tokenBodies(resp.Tokens),
		}
		if body.Parameters.DecoderInputDetails != nil && *body.Parameters.DecoderInputDetails {
			d.Prefill = tokenBodies(resp.Prefill)
		}
		if len(resp.TopTokens) > 0 {
			d.TopTokens = topTokenBodies(resp.TopTokens)
		}
		for _, o := range others {
			seq := BestOfSeq{
				GeneratedText:   o.GeneratedText.Text,
				FinishReason:    o.GeneratedText.FinishReason.String(),
				GeneratedTokens: o.GeneratedText.GeneratedTokens,
				Seed:            o.GeneratedText.Seed,
				Tokens:          tokenBodies(o.Tokens),
			}
			if body.Parameters.DecoderInputDetails != nil && *body.Parameters.DecoderInputDetails {
				seq.Prefill = tokenBodies(o.Prefill)
			}
			d.BestOfSequences = append(d.BestOfSequences, seq)
		}
		out.Details = d
	}

	setTimingHeaders(w, s.cfg, resp.Queued, resp.Start, start, resp.InputLength, resp.GeneratedText.GeneratedTokens, len(body.Inputs))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var body GenerateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error(), "validation")
		return
	}
	if body.Parameters.BestOf != nil && *body.Parameters.BestOf > 1 {
		writeError(w, http.StatusUnprocessableEntity, "best_of is incompatible with streaming", "validation")
		return
	}

	req := router.GenerateRequest{Inputs: body.Inputs, Parameters: body.Parameters.toParameters()}
	entry, inputLength, release, err := s.infer.GenerateStream(r.Context(), req)
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
	var inferenceStart time.Time
	var generated uint32

	for item := range entry.ResponseTx {
		if inferenceStart.IsZero() {
			inferenceStart = time.Now()
		}
		switch item.Kind {
		case router.StreamPrefill:
			continue
		case router.StreamIntermediate, router.StreamEnd:
			generated++
			frame := StreamResponse{Index: index, Token: tokenBody(item.Token)}
			if len(item.TopTokens) > 0 {
				frame.TopTokens = tokenBodies(item.TopTokens)
			}
			if item.Kind == router.StreamEnd {
				text := item.GeneratedText.Text
				frame.GeneratedText = &text
				frame.Details = &Details{
					FinishReason:    item.GeneratedText.FinishReason.String(),
					GeneratedTokens: item.GeneratedText.GeneratedTokens,
					Seed:            item.GeneratedText.Seed,
				}
			}
			_ = ew.WriteChunk(frame)
			if ok {
				flusher.Flush()
			}
			index++
		case router.StreamError:
			_ = ew.WriteChunk(StreamResponse{Index: index, Error: item.Err.Error(), ErrorType: router.ErrorType(item.Err)})
			if ok {
				flusher.Flush()
			}
			return
		}
	}

	setTimingHeaders(w, s.cfg, entry.QueueTime, inferenceStart, start, inputLength, generated, len(body.Inputs))
}

func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Inputs string `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error(), "validation")
		return
	}

	offsets, err := s.infer.Tokenize(body.Inputs)
	if err != nil {
		writeError(w, http.StatusNotFound, "no tokenizer configured for this deployment", "not_found")
		return
	}

	out := make([]TokenizeResponseItem, len(offsets))
	for i, o := range offsets {
		out[i] = TokenizeResponseItem{ID: o.ID, Text: o.Text, Start: o.Start, Stop: o.Stop}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := s.registry.Get()
	writeJSON(w, http.StatusOK, infoResponseFrom(info))
}

func infoResponseFrom(info modelinfo.Info) InfoResponse {
	return InfoResponse{
		ModelID:               info.ModelID,
		ModelSHA:              info.ModelSHA,
		ModelDtype:            info.ModelDtype,
		ModelDeviceType:       info.ModelDeviceType,
		MaxConcurrentRequests: info.MaxConcurrentRequests,
		MaxBestOf:             info.MaxBestOf,
		MaxStopSequences:      info.MaxStopSequences,
		MaxInputLength:        info.MaxInputLength,
		MaxTotalTokens:        info.MaxTotalTokens,
		WaitingServedRatio:    info.WaitingServedRatio,
		MaxBatchTotalTokens:   info.MaxBatchTotalTokens,
		MaxWaitingTokens:      info.MaxWaitingTokens,
		Version:               info.Version,
		DockerLabel:           info.DockerLabel,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.checker.Check(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "shard pool failed the health probe", "unhealthy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if !s.checker.Check(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "shard pool failed the health probe", "unhealthy")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("see /info for deployment metadata and /generate, /generate_stream, /v1/completions, /v1/chat/completions for inference routes\n"))
}

// handleInvocations is the SageMaker-style single entrypoint; it
// forwards to whichever route the deployment is configured to target.
func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	switch s.cfg.Deployment.InvocationsRouteTarget {
	case "completions":
		s.handleCompletions(w, r)
	default:
		s.handleChatCompletions(w, r)
	}
}

// timingHeaderNames lists every header setTimingHeaders sets, in the
// order a streaming handler must pre-declare them via the Trailer
// header before it writes its status line.
var timingHeaderNames = []string{
	"x-compute-type",
	"x-compute-time",
	"x-compute-characters",
	"x-total-time",
	"x-validation-time",
	"x-queue-time",
	"x-inference-time",
	"x-time-per-token",
	"x-prompt-tokens",
	"x-generated-tokens",
}

// declareTimingTrailers marks the x-* timing headers as trailers.
// net/http only transmits a Set call made after WriteHeader when the
// header's name was listed in a Trailer header beforehand, so a
// streaming handler must call this before it writes its status line
// to have setTimingHeaders take effect once the stream is done.
func declareTimingTrailers(w http.ResponseWriter) {
	h := w.Header()
	for _, name := range timingHeaderNames {
		h.Add("Trailer", name)
	}
}

func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}

// setTimingHeaders attaches the x-* timing and counting headers the
// original service reports on every generation response, as numeric
// milliseconds (x-compute-time is reported in seconds instead, the one
// header the original formats that way).
func setTimingHeaders(w http.ResponseWriter, cfg config.Config, queued, inferenceStart, handlerStart time.Time, inputLength, generatedTokens uint32, inputChars int) {
	now := time.Now()
	validationTime := time.Duration(0)
	if !queued.IsZero() {
		validationTime = queued.Sub(handlerStart)
		if validationTime < 0 {
			validationTime = 0
		}
	}
	queueTime := time.Duration(0)
	if !inferenceStart.IsZero() && !queued.IsZero() {
		queueTime = inferenceStart.Sub(queued)
	}
	inferenceTime := time.Duration(0)
	if !inferenceStart.IsZero() {
		inferenceTime = now.Sub(inferenceStart)
	}
	totalTime := now.Sub(handlerStart)

	var timePerToken time.Duration
	if generatedTokens > 0 {
		timePerToken = inferenceTime / time.Duration(generatedTokens)
	}

	h := w.Header()
	h.Set("x-compute-type", cfg.Deployment.ComputeType)
	h.Set("x-compute-time", strconv.FormatFloat(inferenceTime.Seconds(), 'f', 6, 64))
	h.Set("x-compute-characters", strconv.Itoa(inputChars))
	h.Set("x-total-time", millis(totalTime))
	h.Set("x-validation-time", millis(validationTime))
	h.Set("x-queue-time", millis(queueTime))
	h.Set("x-inference-time", millis(inferenceTime))
	h.Set("x-time-per-token", millis(timePerToken))
	h.Set("x-prompt-tokens", strconv.FormatUint(uint64(inputLength), 10))
	h.Set("x-generated-tokens", strconv.FormatUint(uint64(generatedTokens), 10))
}
