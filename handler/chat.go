package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/novagate/dialect"
	"github.com/AlfredDev/novagate/hooks"
	"github.com/AlfredDev/novagate/pipeline"
	"github.com/AlfredDev/novagate/reqid"
	"github.com/AlfredDev/novagate/snapshot"
	"github.com/AlfredDev/novagate/vrouter"
)

// chatWireMessage is the client-facing OpenAI Chat Completions message
// shape. Parsing it is the handler's job, not dialect's — dialect only
// owns the neutral-to-provider leg (see dialect/switch.go).
type chatWireMessage struct {
	Role       string          `json:"role"`
	Content    any             `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []chatWireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type chatWireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatWireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatCompletionRequest struct {
	Model       string             `json:"model"`
	Messages    []chatWireMessage  `json:"messages"`
	Tools       []chatWireTool     `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	MaxTokens   *int               `json:"max_tokens,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type chatCompletionChoice struct {
	Index        int             `json:"index"`
	Message      chatWireMessage `json:"message,omitempty"`
	Delta        *chatDelta      `json:"delta,omitempty"`
	FinishReason *string         `json:"finish_reason"`
}

type chatDelta struct {
	Content string `json:"content,omitempty"`
}

type chatCompletionResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Model   string                  `json:"model"`
	Choices []chatCompletionChoice  `json:"choices"`
	Usage   chatUsage               `json:"usage"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatHandler serves POST /v1/chat/completions, the OpenAI Chat
// Completions dialect entrypoint.
type ChatHandler struct {
	orchestrator *pipeline.Orchestrator
	sessions     *vrouter.SessionStore
	snapshots    *snapshot.Writer
	reqids       *reqid.Fabric
	logger       zerolog.Logger
}

// NewChatHandler wires the orchestrator and session store into the
// chat completions handler.
func NewChatHandler(orchestrator *pipeline.Orchestrator, sessions *vrouter.SessionStore, snapshots *snapshot.Writer, reqids *reqid.Fabric, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{orchestrator: orchestrator, sessions: sessions, snapshots: snapshots, reqids: reqids, logger: logger.With().Str("handler", "chat").Logger()}
}

// ServeHTTP implements POST /v1/chat/completions.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientRequestID, providerRequestID := h.reqids.Generate(r.Header.Get("X-Request-ID"), reqid.Meta{EntryEndpoint: r.URL.Path})
	requestID := clientRequestID

	var req chatCompletionRequest
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

	dreq := toDialectRequest(req)
	sessionID := sessionIDFor(r)
	observeDirectives(h.sessions, sessionID, lastMessageText(dreq))

	if r.Header.Get("X-NovaGate-DryRun") == "true" {
		writeDryRunEstimate(w, requestID, req.Model, dreq)
		return
	}

	rc := pipeline.RequestContext{
		ClientDialect:     dialect.ClientOpenAIChat,
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
		h.logger.Warn().Err(err).Str("model", req.Model).Msg("chat completion failed")
		writePipelineError(w, requestID, err)
		return
	}

	w.Header().Set("x-request-id", requestID)
	w.Header().Set("x-provider-stream-requested", strconv.FormatBool(req.Stream))

	if !req.Stream {
		w.Header().Set("x-upstream-mode", "json")
		writeJSON(w, http.StatusOK, toChatCompletionResponse(res.Response))
		return
	}

	h.streamChat(w, r, res, req.Model)
}

func (h *ChatHandler) streamChat(w http.ResponseWriter, r *http.Request, res *pipeline.Result, model string) {
	if res.ResponseStream == nil {
		// Provider spoke JSON even though a stream was requested —
		// synthesize an SSE response from the aggregated result.
		sw, ok := newSSEWriter(w)
		if !ok {
			writeError(w, res.ClientRequestID, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support flushing")
			return
		}
		w.Header().Set("x-upstream-mode", "json")
		w.WriteHeader(http.StatusOK)
		_ = dialect.SynthesizeSSE(r.Context(), res.Response, sw)
		sw.writeDone()
		return
	}

	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, res.ClientRequestID, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support flushing")
		return
	}
	w.Header().Set("x-upstream-mode", "sse")
	w.WriteHeader(http.StatusOK)
	sw.Flush()

	metrics := hooks.NewStreamMetrics(providerIDFromTarget(string(res.Target)), model)

	err := dialect.ProxySSE(r.Context(), res.ResponseStream, sw, func(d dialect.Delta) ([]byte, error) {
		metrics.RecordChunk(d.TextDelta)
		chunk := chatCompletionResponse{
			ID:     res.ConnectionID,
			Object: "chat.completion.chunk",
			Model:  model,
			Choices: []chatCompletionChoice{{
				Delta:        &chatDelta{Content: d.TextDelta},
				FinishReason: finishReasonPtr(d.FinishReason),
			}},
		}
		return json.Marshal(chunk)
	})

	if err != nil && r.Context().Err() != nil {
		metrics.RecordDisconnect()
		if h.snapshots != nil {
			h.snapshots.Write(snapshot.RequestContext{RequestID: res.ProviderRequestID, EntryDialect: string(dialect.ClientOpenAIChat)}, snapshot.PhaseServerFinal, metrics.UsagePayload())
		}
		return
	}
	sw.writeDone()
}

func toDialectRequest(req chatCompletionRequest) dialect.Request {
	var dreq dialect.Request
	dreq.Model = req.Model
	dreq.Temperature = req.Temperature
	dreq.TopP = req.TopP
	dreq.MaxTokens = req.MaxTokens
	dreq.Stop = req.Stop
	dreq.Stream = req.Stream

	for _, m := range req.Messages {
		if m.Role == "system" {
			if s, ok := m.Content.(string); ok {
				dreq.System = s
			}
			continue
		}
		dreq.Messages = append(dreq.Messages, messageFromWire(m))
	}
	for _, t := range req.Tools {
		dreq.Tools = append(dreq.Tools, dialect.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return dreq
}

func messageFromWire(m chatWireMessage) dialect.Message {
	msg := dialect.Message{Role: m.Role, Name: m.Name, ToolCallID: m.ToolCallID}
	if s, ok := m.Content.(string); ok {
		msg.Text = s
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, dialect.ToolCall{
			ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
		})
	}
	return msg
}

func toChatCompletionResponse(resp dialect.Response) chatCompletionResponse {
	finish := resp.FinishReason
	return chatCompletionResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []chatCompletionChoice{{
			Message:      chatWireMessage{Role: "assistant", Content: resp.Text},
			FinishReason: &finish,
		}},
		Usage: chatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

func requestMetaFor(r *http.Request, dreq dialect.Request) vrouter.RequestMeta {
	headers := make(map[string]string)
	for k := range r.Header {
		if strings.HasPrefix(strings.ToLower(k), "x-novagate-") {
			headers[strings.ToLower(k)] = r.Header.Get(k)
		}
	}
	return vrouter.RequestMeta{
		Model:   dreq.Model,
		Headers: headers,
		Hint:    r.Header.Get("X-NovaGate-Route-Hint"),
	}
}

func lastMessageText(req dialect.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Text
}

func finishReasonPtr(reason string) *string {
	if reason == "" {
		return nil
	}
	return &reason
}

func providerIDFromTarget(target string) string {
	if i := strings.IndexByte(target, '.'); i > 0 {
		return target[:i]
	}
	return target
}

// writeDryRunEstimate reports a token estimate without calling
// upstream, adapted from the teacher's handler/proxy.go handleDryRun.
// It never touches billing — just an estimate, per spec's dry-run
// supplement. No route has been resolved yet at this point, so the
// strategy is guessed from the model name itself (ResolveTokenStrategy
// matches "gpt"/"claude"/"gemini"/"mistral" substrings either way).
func writeDryRunEstimate(w http.ResponseWriter, requestID, model string, dreq dialect.Request) {
	counter := hooks.NewTokenCounter(model)
	promptTokens := counter.CountRequest(dreq)
	maxTokens := 1024
	if dreq.MaxTokens != nil {
		maxTokens = *dreq.MaxTokens
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-request-id", requestID)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"dry_run": true,
		"model":   model,
		"estimated_tokens": map[string]int{
			"prompt_tokens":   promptTokens,
			"max_completion":  maxTokens,
			"total_estimated": promptTokens + maxTokens,
		},
		"message": "dry run complete — no provider was called",
	})
}
