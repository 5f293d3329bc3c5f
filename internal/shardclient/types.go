// Package shardclient is the fan-out RPC facade onto the N model shards
// behind one router. Every call is issued to all shards concurrently; the aggregate
// only succeeds if every shard succeeds, and shard 0's payload is
// authoritative for anything data-bearing. ShardedClient never retries a
// partial failure, and a detected divergence between shards is returned
// as an error.
package shardclient

import "github.com/agenthands/tgi-router/internal/router"

// ShardInfo is the static capability descriptor every shard reports from
// its info RPC.
type ShardInfo struct {
	RequiresPadding bool
	Dtype           string
	DeviceType      string
	WindowSize      *uint32
	Speculate       uint32
}

// WireRequest is one entry's contribution to a WireBatch sent to the shards.
type WireRequest struct {
	ID                  uint64                 `json:"id"`
	InputIDs            []uint32               `json:"input_ids"`
	InputLength         uint32                 `json:"input_length"`
	TruncateLength      uint32                 `json:"truncate_length"`
	MaxNewTokens        uint32                 `json:"max_new_tokens"`
	StopSequences       []string               `json:"stop_sequences"`
	Parameters          router.ValidParameters `json:"parameters"`
	TopNTokens          uint32                 `json:"top_n_tokens"`
	DecoderInputDetails bool                   `json:"decoder_input_details"`
}

// WireBatch is the batch wire format: a batch id plus per-entry requests
// and the aggregate token budget the shards must reserve.
type WireBatch struct {
	ID        uint64        `json:"id"`
	Requests  []WireRequest `json:"requests"`
	Size      uint32        `json:"size"`
	MaxTokens uint64        `json:"max_tokens"`
}

// NewWireBatch builds the wire representation of a scheduler Batch.
func NewWireBatch(b *router.Batch) WireBatch {
	wb := WireBatch{
		ID:        b.ID,
		Requests:  make([]WireRequest, 0, b.Len()),
		MaxTokens: b.MaxTokens(),
	}
	for _, e := range b.Entries {
		req := e.Request
		wb.Requests = append(wb.Requests, WireRequest{
			ID:                  req.ID,
			InputIDs:            req.InputIDs,
			InputLength:         req.InputLength,
			TruncateLength:      req.TruncateLength,
			MaxNewTokens:        req.StoppingParameters.MaxNewTokens,
			StopSequences:       req.StoppingParameters.StopSequences,
			Parameters:          req.Parameters,
			TopNTokens:          req.TopNTokens,
			DecoderInputDetails: req.DecoderInputDetails,
		})
	}
	wb.Size = uint32(len(wb.Requests))
	return wb
}

// Generation is one shard's per-token output for a single request within
// a batch; GeneratedText is non-nil only on the token that finishes the
// sequence.
type Generation struct {
	RequestID     uint64                `json:"request_id"`
	PrefillTokens []router.Token        `json:"prefill_tokens,omitempty"`
	Token         router.Token          `json:"token"`
	TopTokens     []router.Token        `json:"top_tokens,omitempty"`
	GeneratedText *router.GeneratedText `json:"generated_text,omitempty"`
}
