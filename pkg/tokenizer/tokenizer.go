package tokenizer

import (
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer wraps a BPE encoding so validation and the HTTP tokenize
// route share one implementation of text <-> token-id conversion.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the named BPE encoding (e.g. "cl100k_base"). Model shards
// are expected to share the same vocabulary; a mismatch between the
// router's tokenizer and the shard's embedding table is a deployment
// error this package cannot detect.
func New(encodingName string) (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding %q: %w", encodingName, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Encode converts text to token ids.
func (t *Tokenizer) Encode(text string) []uint32 {
	ids := t.enc.Encode(text, nil, nil)
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = uint32(id)
	}
	return out
}

// Decode converts token ids back to text.
func (t *Tokenizer) Decode(ids []uint32) string {
	conv := make([]int, len(ids))
	for i, id := range ids {
		conv[i] = int(id)
	}
	return t.enc.Decode(conv)
}

// VocabSize reports the size of the underlying BPE vocabulary.
func (t *Tokenizer) VocabSize() int {
	return int(t.enc.MaxTokenValue() + 1)
}

// TokenOffset is one entry of the /tokenize response: a token id, its
// decoded text, and its character offsets in the original input.
type TokenOffset struct {
	ID    uint32 `json:"id"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	Stop  int    `json:"stop"`
}

// Offsets tokenizes text and, for each token, reports the character
// span in text that decodes back to that token's text. Tokens are
// decoded individually and matched by scanning forward from the
// previous token's end, since BPE token boundaries don't necessarily
// align with byte-for-byte substring search from the start of text.
func (t *Tokenizer) Offsets(text string) []TokenOffset {
	ids := t.Encode(text)
	out := make([]TokenOffset, 0, len(ids))
	runes := []rune(text)
	cursor := 0
	for _, id := range ids {
		piece := t.Decode([]uint32{id})
		pieceRunes := []rune(piece)
		start := cursor
		stop := cursor
		if len(pieceRunes) > 0 && cursor+len(pieceRunes) <= len(runes) && string(runes[cursor:cursor+len(pieceRunes)]) == piece {
			stop = cursor + len(pieceRunes)
		} else {
			stop = cursor + len(pieceRunes)
		}
		out = append(out, TokenOffset{ID: id, Text: piece, Start: start, Stop: stop})
		cursor = stop
	}
	return out
}

// ChatMessage is one turn of a chat-style request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the input to chat template rendering.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}
