// Package snapshot records point-in-time request/response state for
// later inspection. Writes are fire-and-forget: a slow or failing disk
// must never add latency to the request path.
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Phase identifies where in the pipeline a snapshot was taken.
type Phase string

const (
	PhaseClientInbound  Phase = "client-inbound"
	PhaseProviderOutbound Phase = "provider-outbound"
	PhaseProviderInbound  Phase = "provider-inbound"
	PhaseServerFinal      Phase = "server-final"
	PhaseProviderError    Phase = "provider-error"
)

// Snapshot is one recorded entry, handed to subscribers of the optional
// in-process hook channel.
type Snapshot struct {
	RequestID    string          `json:"requestId"`
	Phase        Phase           `json:"phase"`
	EntryDialect string          `json:"entryDialect"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
}

// RequestContext is the minimal addressing info a snapshot needs.
type RequestContext struct {
	RequestID    string
	EntryDialect string
}

const (
	defaultQueueDepth = 256
	defaultTTL        = 24 * time.Hour
	sweepInterval     = time.Hour
)

// Writer is the C2 snapshot sink: it serializes payloads to disk under
// <baseDir>/<entry-dialect>/<requestId>_<phase>.json (main.go's default
// baseDir is <home>/.novagate/codex-samples), masking sensitive headers
// on the way in.
type Writer struct {
	baseDir string
	ttl     time.Duration
	logger  zerolog.Logger

	queue  chan writeJob
	subs   chan Snapshot
	stopCh chan struct{}
}

type writeJob struct {
	ctx     RequestContext
	phase   Phase
	payload any
}

// Option configures a Writer at construction time.
type Option func(*Writer)

// WithTTL overrides the default 24h snapshot retention.
func WithTTL(ttl time.Duration) Option {
	return func(w *Writer) { w.ttl = ttl }
}

// NewWriter creates a Writer rooted at baseDir and starts its
// background flush worker and TTL sweeper.
func NewWriter(baseDir string, logger zerolog.Logger, opts ...Option) *Writer {
	w := &Writer{
		baseDir: baseDir,
		ttl:     defaultTTL,
		logger:  logger.With().Str("component", "snapshot").Logger(),
		queue:   make(chan writeJob, defaultQueueDepth),
		subs:    make(chan Snapshot, defaultQueueDepth),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.flushLoop()
	go w.sweepLoop()
	return w
}

// Write enqueues a snapshot for asynchronous persistence. If the queue
// is full the oldest pending write is dropped in favor of this one —
// a slow disk must never block the caller.
func (w *Writer) Write(ctx RequestContext, phase Phase, payload any) {
	job := writeJob{ctx: ctx, phase: phase, payload: payload}
	select {
	case w.queue <- job:
	default:
		select {
		case <-w.queue:
		default:
		}
		select {
		case w.queue <- job:
		default:
			w.logger.Warn().Str("request_id", ctx.RequestID).Msg("snapshot queue saturated, dropping entry")
		}
	}
}

// Subscribe returns a channel that mirrors every write for in-process
// observers (e.g. the semantic tracker). Never blocks the writer: a
// full subscriber channel silently drops the notification.
func (w *Writer) Subscribe() <-chan Snapshot {
	return w.subs
}

// Close stops the background goroutines.
func (w *Writer) Close() {
	close(w.stopCh)
}

func (w *Writer) flushLoop() {
	for {
		select {
		case job := <-w.queue:
			w.flush(job)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Writer) flush(job writeJob) {
	masked := maskPayload(job.payload)
	body, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		w.logger.Warn().Err(err).Str("request_id", job.ctx.RequestID).Msg("failed to marshal snapshot")
		return
	}

	dir := filepath.Join(w.baseDir, sanitizeSegment(job.ctx.EntryDialect))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.logger.Warn().Err(err).Msg("failed to create snapshot directory")
		return
	}

	name := sanitizeSegment(job.ctx.RequestID) + "_" + string(job.phase) + ".json"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("failed to write snapshot")
		return
	}

	select {
	case w.subs <- Snapshot{
		RequestID:    job.ctx.RequestID,
		Phase:        job.phase,
		EntryDialect: job.ctx.EntryDialect,
		Timestamp:    time.Now(),
		Payload:      json.RawMessage(body),
	}:
	default:
	}
}

func (w *Writer) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.sweep()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Writer) sweep() {
	cutoff := time.Now().Add(-w.ttl)
	_ = filepath.Walk(w.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr != nil {
				w.logger.Debug().Err(rmErr).Str("path", path).Msg("snapshot cleanup failed")
			}
		}
		return nil
	})
}

func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "unknown"
	}
	return s
}

var sensitiveHeaderSuffixes = []string{"token", "cookie", "secret"}
var sensitiveHeaderNames = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"proxy-authorization": true,
}

// maskPayload walks a map[string]any payload looking for a "headers"
// field to redact; any other shape passes through untouched.
func maskPayload(payload any) any {
	m, ok := payload.(map[string]any)
	if !ok {
		return payload
	}
	headers, ok := m["headers"].(map[string]string)
	if !ok {
		return payload
	}
	masked := make(map[string]string, len(headers))
	for k, v := range headers {
		masked[k] = maskHeaderValue(k, v)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	out["headers"] = masked
	return out
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	if sensitiveHeaderNames[lower] {
		return true
	}
	for _, suffix := range sensitiveHeaderSuffixes {
		if strings.HasSuffix(lower, "-"+suffix) || lower == suffix {
			return true
		}
	}
	return false
}

// maskHeaderValue returns "<first6>****<last6>" for values long enough
// to carry a visible prefix/suffix, else a flat "****".
func maskHeaderValue(name, value string) string {
	if !isSensitiveHeader(name) {
		return value
	}
	if len(value) <= 12 {
		return "****"
	}
	return value[:6] + "****" + value[len(value)-6:]
}
