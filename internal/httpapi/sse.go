package httpapi

import (
	"encoding/json"
	"io"
	"sync"
)

// eventWriter writes Server-Sent Events frames, one JSON payload per
// event. Adapted from the plain newline-delimited writer this service
// used for its non-SSE streaming surface; EventStream clients expect
// each frame terminated by a blank line rather than a single newline.
type eventWriter struct {
	w       io.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

func newEventWriter(w io.Writer) *eventWriter {
	return &eventWriter{w: w, encoder: json.NewEncoder(w)}
}

func (s *eventWriter) WriteChunk(chunk interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.w, "data: "); err != nil {
		return err
	}
	if err := s.encoder.Encode(chunk); err != nil {
		return err
	}
	_, err := io.WriteString(s.w, "\n")
	return err
}

func (s *eventWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, "data: [DONE]\n\n")
	return err
}
