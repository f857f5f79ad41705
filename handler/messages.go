package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/novagate/dialect"
	"github.com/AlfredDev/novagate/hooks"
	"github.com/AlfredDev/novagate/pipeline"
	"github.com/AlfredDev/novagate/reqid"
	"github.com/AlfredDev/novagate/snapshot"
	"github.com/AlfredDev/novagate/vrouter"
)

// messagesWireMessage is the client-facing Anthropic Messages shape.
type messagesWireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type messagesWireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type messagesRequest struct {
	Model       string                 `json:"model"`
	MaxTokens   int                    `json:"max_tokens"`
	Messages    []messagesWireMessage  `json:"messages"`
	System      string                 `json:"system,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	TopP        *float64               `json:"top_p,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
	StopSeqs    []string               `json:"stop_sequences,omitempty"`
	Tools       []messagesWireTool     `json:"tools,omitempty"`
}

type messagesContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type messagesResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Model      string                  `json:"model"`
	Content    []messagesContentBlock  `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      messagesUsage           `json:"usage"`
}

type messagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessagesHandler serves POST /v1/messages, the Anthropic Messages
// dialect entrypoint.
type MessagesHandler struct {
	orchestrator *pipeline.Orchestrator
	sessions     *vrouter.SessionStore
	snapshots    *snapshot.Writer
	reqids       *reqid.Fabric
	logger       zerolog.Logger
}

// NewMessagesHandler wires the orchestrator into the messages handler.
func NewMessagesHandler(orchestrator *pipeline.Orchestrator, sessions *vrouter.SessionStore, snapshots *snapshot.Writer, reqids *reqid.Fabric, logger zerolog.Logger) *MessagesHandler {
	return &MessagesHandler{orchestrator: orchestrator, sessions: sessions, snapshots: snapshots, reqids: reqids, logger: logger.With().Str("handler", "messages").Logger()}
}

// ServeHTTP implements POST /v1/messages.
func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientRequestID, providerRequestID := h.reqids.Generate(r.Header.Get("X-Request-ID"), reqid.Meta{EntryEndpoint: r.URL.Path})
	requestID := clientRequestID

	var req messagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request_error", "failed to parse request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	dreq := dialect.Request{
		Model:       req.Model,
		System:      req.System,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   &req.MaxTokens,
		Stop:        req.StopSeqs,
		Stream:      req.Stream,
	}
	for _, m := range req.Messages {
		msg := dialect.Message{Role: m.Role}
		if s, ok := m.Content.(string); ok {
			msg.Text = s
		}
		dreq.Messages = append(dreq.Messages, msg)
	}
	for _, t := range req.Tools {
		dreq.Tools = append(dreq.Tools, dialect.Tool{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}

	sessionID := sessionIDFor(r)
	observeDirectives(h.sessions, sessionID, lastMessageText(dreq))

	rc := pipeline.RequestContext{
		ClientDialect:     dialect.ClientAnthropic,
		SessionID:         sessionID,
		Meta:              requestMetaFor(r, dreq),
		Request:           dreq,
		Stream:            req.Stream,
		EntryEndpoint:     r.URL.Path,
		ClientRequestID:   clientRequestID,
		ProviderRequestID: providerRequestID,
	}

	res, err := h.orchestrator.Execute(r.Context(), rc)
	if err != nil {
		h.logger.Warn().Err(err).Str("model", req.Model).Msg("messages request failed")
		writePipelineError(w, requestID, err)
		return
	}

	w.Header().Set("x-request-id", requestID)
	w.Header().Set("x-provider-stream-requested", strconv.FormatBool(req.Stream))

	if !req.Stream {
		w.Header().Set("x-upstream-mode", "json")
		writeJSON(w, http.StatusOK, toMessagesResponse(res.Response))
		return
	}

	h.streamMessages(w, r, res, req.Model)
}

func (h *MessagesHandler) streamMessages(w http.ResponseWriter, r *http.Request, res *pipeline.Result, model string) {
	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, res.ClientRequestID, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support flushing")
		return
	}

	if res.ResponseStream == nil {
		w.Header().Set("x-upstream-mode", "json")
		w.WriteHeader(http.StatusOK)
		_ = dialect.SynthesizeSSE(r.Context(), res.Response, sw)
		sw.writeDone()
		return
	}

	w.Header().Set("x-upstream-mode", "sse")
	w.WriteHeader(http.StatusOK)
	sw.Flush()

	metrics := hooks.NewStreamMetrics(providerIDFromTarget(string(res.Target)), model)

	err := dialect.ProxySSE(r.Context(), res.ResponseStream, sw, func(d dialect.Delta) ([]byte, error) {
		metrics.RecordChunk(d.TextDelta)
		evt := map[string]any{
			"type": "content_block_delta",
			"delta": map[string]string{
				"type": "text_delta",
				"text": d.TextDelta,
			},
		}
		return json.Marshal(evt)
	})

	if err != nil && r.Context().Err() != nil {
		metrics.RecordDisconnect()
		if h.snapshots != nil {
			h.snapshots.Write(snapshot.RequestContext{RequestID: res.ProviderRequestID, EntryDialect: string(dialect.ClientAnthropic)}, snapshot.PhaseServerFinal, metrics.UsagePayload())
		}
		return
	}
	sw.writeDone()
}

func toMessagesResponse(resp dialect.Response) messagesResponse {
	blocks := []messagesContentBlock{{Type: "text", Text: resp.Text}}
	return messagesResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		Content:    blocks,
		StopReason: resp.FinishReason,
		Usage: messagesUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}
