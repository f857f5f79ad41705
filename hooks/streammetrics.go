package hooks

import (
	"sync"
	"time"
)

// StreamMetrics captures chunk/byte/token accounting for one streaming
// request, adapted from the teacher's handler/stream.go. Unlike the
// teacher, this never feeds billing — it only gives the semantic
// tracker's usage selector a best-effort token count when a client
// disconnects before the terminal usage event arrives.
type StreamMetrics struct {
	mu               sync.Mutex
	providerID       string
	model            string
	ChunksSent       int
	TextBuf          []byte
	ClientDisconnect bool
	DisconnectAt     time.Time
	TotalDuration    time.Duration
	FinishReason     string
}

// NewStreamMetrics creates a tracker for one stream. providerID selects
// the token-counting strategy used for the disconnect estimate.
func NewStreamMetrics(providerID, model string) *StreamMetrics {
	return &StreamMetrics{providerID: providerID, model: model}
}

// RecordChunk records one text delta forwarded to the client.
func (sm *StreamMetrics) RecordChunk(textDelta string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.ChunksSent++
	sm.TextBuf = append(sm.TextBuf, textDelta...)
}

// RecordDisconnect marks the stream as having ended via client
// disconnect rather than a clean terminal event.
func (sm *StreamMetrics) RecordDisconnect() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.ClientDisconnect = true
	sm.DisconnectAt = time.Now().UTC()
	sm.FinishReason = "client_disconnect"
}

// UsagePayload returns a best-effort usage estimate for the snapshot
// tracker's usage selector, populated only on disconnect — a clean
// finish reports upstream's real usage instead, so this is never
// consulted in that path.
func (sm *StreamMetrics) UsagePayload() map[string]any {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.ClientDisconnect {
		return nil
	}
	counter := NewTokenCounter(sm.providerID)
	return map[string]any{
		"model": sm.model,
		"usage": map[string]int{
			"estimated_tokens": counter.CountText(string(sm.TextBuf)),
		},
		"partial":       true,
		"chunks_sent":   sm.ChunksSent,
		"finish_reason": sm.FinishReason,
	}
}
