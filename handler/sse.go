package handler

import (
	"fmt"
	"net/http"
)

// sseWriter implements dialect.EventWriter over an http.ResponseWriter,
// grounded on handler/stream.go's flush-per-chunk loop. The event name
// is discarded — OpenAI/Anthropic-shaped SSE never uses named events,
// only bare "data: " lines.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for event-stream output and
// returns nil, false if the underlying writer can't flush incrementally.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) WriteEvent(_ string, data []byte) error {
	_, err := fmt.Fprintf(s.w, "data: %s\n\n", data)
	return err
}

func (s *sseWriter) Flush() {
	s.flusher.Flush()
}

func (s *sseWriter) writeDone() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}
