package tokenizer

import (
	"encoding/json"
	"testing"
)

func TestNewUnknownEncoding(t *testing.T) {
	if _, err := New("not-a-real-encoding"); err == nil {
		t.Fatal("expected an error loading an unknown encoding")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok, err := New("cl100k_base")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := "Hello, world!"
	ids := tok.Encode(text)
	if len(ids) == 0 {
		t.Fatal("expected at least one token")
	}
	if got := tok.Decode(ids); got != text {
		t.Errorf("Decode(Encode(%q)) = %q", text, got)
	}
}

func TestOffsetsCoverInput(t *testing.T) {
	tok, err := New("cl100k_base")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := "hello world"
	offsets := tok.Offsets(text)
	if len(offsets) == 0 {
		t.Fatal("expected at least one offset")
	}
	for _, o := range offsets {
		if o.Start < 0 || o.Stop < o.Start {
			t.Errorf("invalid offset range [%d, %d)", o.Start, o.Stop)
		}
	}
	if last := offsets[len(offsets)-1]; last.Stop != len([]rune(text)) {
		t.Errorf("final offset stop = %d, want %d", last.Stop, len([]rune(text)))
	}
}

func TestVocabSizePositive(t *testing.T) {
	tok, err := New("cl100k_base")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tok.VocabSize() <= 0 {
		t.Errorf("VocabSize() = %d, want positive", tok.VocabSize())
	}
}

func TestChatMessageJSON(t *testing.T) {
	msg := ChatMessage{Role: "user", Content: "Hello"}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ChatMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != msg {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestChatTemplateRender(t *testing.T) {
	tpl := NewChatTemplate(DefaultChatTemplate)
	out, err := tpl.Render([]ChatMessage{
		{Role: "system", Content: "Be concise."},
		{Role: "user", Content: "Hi"},
	}, true)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty rendered prompt")
	}
}

func TestChatTemplateRenderNoTemplateConfigured(t *testing.T) {
	tpl := NewChatTemplate("")
	if _, err := tpl.Render(nil, false); err == nil {
		t.Fatal("expected an error with no template configured")
	}
}
