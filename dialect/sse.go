package dialect

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// Stream yields successive deltas from an upstream response body,
// generalized from the teacher's provider.Stream interface.
type Stream interface {
	Next() (Delta, error) // io.EOF when exhausted
	Close() error
}

// EventWriter writes one SSE event to the client connection.
type EventWriter interface {
	WriteEvent(event string, data []byte) error
	Flush()
}

// sseBodyStream parses an upstream `text/event-stream` body into
// Deltas, grounded on handler/stream.go's SSE-line scanning.
type sseBodyStream struct {
	scanner *bufio.Scanner
	closer  io.Closer
	decode  func(data []byte) (Delta, error)
}

// NewProviderSSEStream wraps an upstream SSE body with a
// provider-specific per-event decoder.
func NewProviderSSEStream(body io.ReadCloser, decode func([]byte) (Delta, error)) Stream {
	return &sseBodyStream{scanner: bufio.NewScanner(body), closer: body, decode: decode}
}

func (s *sseBodyStream) Next() (Delta, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return Delta{Done: true}, io.EOF
		}
		return s.decode([]byte(payload))
	}
	if err := s.scanner.Err(); err != nil {
		return Delta{}, err
	}
	return Delta{Done: true}, io.EOF
}

func (s *sseBodyStream) Close() error {
	return s.closer.Close()
}

// CollectToJSON drains an upstream stream into a single aggregated
// Response, used when a client requested JSON but the provider only
// speaks SSE (or the reverse: provider JSON downgraded from a
// client-requested stream, handled by SynthesizeSSE instead).
func CollectToJSON(ctx context.Context, upstream Stream) (Response, error) {
	var resp Response
	var textBuf strings.Builder
	toolCallsByIndex := map[int]*ToolCall{}

	for {
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		default:
		}

		d, err := upstream.Next()
		if d.TextDelta != "" {
			textBuf.WriteString(d.TextDelta)
		}
		if d.ToolCallDelta != nil {
			tc := *d.ToolCallDelta
			toolCallsByIndex[len(toolCallsByIndex)] = &tc
		}
		if d.FinishReason != "" {
			resp.FinishReason = d.FinishReason
		}
		if d.Usage != nil {
			resp.Usage = *d.Usage
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return resp, err
		}
	}

	resp.Text = textBuf.String()
	for i := 0; i < len(toolCallsByIndex); i++ {
		resp.ToolCalls = append(resp.ToolCalls, *toolCallsByIndex[i])
	}
	return resp, nil
}

// ProxySSE forwards upstream deltas to the client as SSE events with
// minimal re-framing, preserving arrival order. Cancelling ctx aborts
// the forward without writing a terminal event.
func ProxySSE(ctx context.Context, upstream Stream, w EventWriter, encode func(Delta) ([]byte, error)) error {
	defer upstream.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		d, err := upstream.Next()
		if d.TextDelta != "" || d.ToolCallDelta != nil || d.FinishReason != "" {
			data, encErr := encode(d)
			if encErr != nil {
				return encErr
			}
			if writeErr := w.WriteEvent("message", data); writeErr != nil {
				return writeErr
			}
			w.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// SynthesizeSSE emits a single JSON response as a synthetic SSE
// stream (a text delta followed by a terminal completion event), used
// when upstream spoke JSON but the client requested a stream.
func SynthesizeSSE(ctx context.Context, resp Response, w EventWriter) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deltaPayload, err := json.Marshal(map[string]any{"delta": resp.Text})
	if err != nil {
		return err
	}
	if err := w.WriteEvent("message", deltaPayload); err != nil {
		return err
	}
	w.Flush()

	finalPayload, err := json.Marshal(map[string]any{
		"finish_reason": resp.FinishReason,
		"usage":         resp.Usage,
	})
	if err != nil {
		return err
	}
	if err := w.WriteEvent("message", finalPayload); err != nil {
		return err
	}
	w.Flush()
	return nil
}
