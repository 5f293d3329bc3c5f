package shardclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/worldline-go/klient"
)

// HTTPClient implements ShardClient by issuing JSON POSTs to one shard's
// RPC surface, the same request/response-closure shape used to talk to
// any upstream HTTP provider. The actual model-execution wire format is
// shard-side; this transport fixes a simple JSON envelope per RPC name
// so the scheduler has a concrete client to drive in tests and in a real
// deployment behind a shard-side adapter.
type HTTPClient struct {
	baseURL string
	client  *klient.Client
}

// NewHTTPClient builds a shard client against baseURL (e.g.
// "http://shard-0.internal:6000").
func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	c, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(http.Header{"Content-Type": []string{"application/json"}}),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("shardclient: %w", err)
	}
	return &HTTPClient{baseURL: baseURL, client: c}, nil
}

func (h *HTTPClient) call(ctx context.Context, rpc string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shardclient: encode %s request: %w", rpc, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/rpc/"+rpc, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	return h.client.Do(req, func(r *http.Response) error {
		if r.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(r.Body)
			return &GenerationErrorWire{Kind: "transport", Message: fmt.Sprintf("shard %s: status %d: %s", rpc, r.StatusCode, string(data))}
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(r.Body).Decode(out)
	})
}

// GenerationErrorWire is the error shape returned by a shard RPC failure.
type GenerationErrorWire struct {
	Kind    string
	Message string
}

func (e *GenerationErrorWire) Error() string { return e.Message }

func (h *HTTPClient) Info(ctx context.Context) (ShardInfo, error) {
	var info ShardInfo
	err := h.call(ctx, "info", struct{}{}, &info)
	return info, err
}

func (h *HTTPClient) Warmup(ctx context.Context, maxInputLength, maxPrefillTokens, maxTotalTokens, maxBatchSize uint32) (*uint32, error) {
	req := struct {
		MaxInputLength   uint32 `json:"max_input_length"`
		MaxPrefillTokens uint32 `json:"max_prefill_tokens"`
		MaxTotalTokens   uint32 `json:"max_total_tokens"`
		MaxBatchSize     uint32 `json:"max_batch_size"`
	}{maxInputLength, maxPrefillTokens, maxTotalTokens, maxBatchSize}

	var resp struct {
		MaxSupportedTotalTokens *uint32 `json:"max_supported_total_tokens"`
	}
	if err := h.call(ctx, "warmup", req, &resp); err != nil {
		return nil, err
	}
	return resp.MaxSupportedTotalTokens, nil
}

func (h *HTTPClient) Prefill(ctx context.Context, batch WireBatch) ([]Generation, *WireBatch, error) {
	var resp prefillDecodeResponse
	if err := h.call(ctx, "prefill", batch, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Generations, resp.Batch, nil
}

func (h *HTTPClient) Decode(ctx context.Context, batches []WireBatch) ([]Generation, *WireBatch, error) {
	var resp prefillDecodeResponse
	if err := h.call(ctx, "decode", struct {
		Batches []WireBatch `json:"batches"`
	}{batches}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Generations, resp.Batch, nil
}

func (h *HTTPClient) FilterBatch(ctx context.Context, batchID uint64, keepRequestIDs []uint64) (*WireBatch, error) {
	req := struct {
		BatchID        uint64   `json:"batch_id"`
		KeepRequestIDs []uint64 `json:"keep_request_ids"`
	}{batchID, keepRequestIDs}

	var resp struct {
		Batch *WireBatch `json:"batch"`
	}
	if err := h.call(ctx, "filter_batch", req, &resp); err != nil {
		return nil, err
	}
	return resp.Batch, nil
}

func (h *HTTPClient) ClearCache(ctx context.Context, batchID *uint64) error {
	return h.call(ctx, "clear_cache", struct {
		BatchID *uint64 `json:"batch_id,omitempty"`
	}{batchID}, nil)
}

func (h *HTTPClient) Health(ctx context.Context) error {
	return h.call(ctx, "health", struct{}{}, nil)
}

type prefillDecodeResponse struct {
	Generations []Generation `json:"generations"`
	Batch       *WireBatch   `json:"batch"`
}
