package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/AlfredDev/novagate/dialect"
	"github.com/AlfredDev/novagate/hooks"
	"github.com/AlfredDev/novagate/pipeline"
	"github.com/AlfredDev/novagate/reqid"
	"github.com/AlfredDev/novagate/snapshot"
	"github.com/AlfredDev/novagate/vrouter"
)

// responsesInputItem is one entry of the client-facing Responses "input"
// array: either a plain message or a function_call_output submitted back
// from a prior turn.
type responsesInputItem struct {
	Type    string               `json:"type,omitempty"`
	Role    string               `json:"role,omitempty"`
	Content []responsesContent   `json:"content,omitempty"`
	CallID  string               `json:"call_id,omitempty"`
	Output  string               `json:"output,omitempty"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type responsesRequest struct {
	Model       string               `json:"model"`
	Input       []responsesInputItem `json:"input"`
	Instructions string              `json:"instructions,omitempty"`
	Tools       []responsesTool      `json:"tools,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	TopP        *float64             `json:"top_p,omitempty"`
	MaxTokens   *int                 `json:"max_output_tokens,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type responsesOutputItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []responsesContent `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Name    string             `json:"name,omitempty"`
	Arguments string           `json:"arguments,omitempty"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type responsesResponse struct {
	ID     string                 `json:"id"`
	Object string                 `json:"object"`
	Model  string                 `json:"model"`
	Status string                 `json:"status"`
	Output []responsesOutputItem  `json:"output"`
	Usage  responsesUsage         `json:"usage"`
}

// pendingRun tracks the request state of a response that ended on a
// tool call, so a later submit_tool_outputs can resume the turn.
type pendingRun struct {
	sessionID string
	model     string
	request   dialect.Request
}

// ResponsesHandler serves POST /v1/responses and
// POST /v1/responses/{id}/submit_tool_outputs, the OpenAI Responses
// dialect entrypoints.
type ResponsesHandler struct {
	orchestrator *pipeline.Orchestrator
	sessions     *vrouter.SessionStore
	snapshots    *snapshot.Writer
	reqids       *reqid.Fabric
	logger       zerolog.Logger

	pending sync.Map // response id -> *pendingRun
}

// NewResponsesHandler wires the orchestrator into the responses handler.
func NewResponsesHandler(orchestrator *pipeline.Orchestrator, sessions *vrouter.SessionStore, snapshots *snapshot.Writer, reqids *reqid.Fabric, logger zerolog.Logger) *ResponsesHandler {
	return &ResponsesHandler{orchestrator: orchestrator, sessions: sessions, snapshots: snapshots, reqids: reqids, logger: logger.With().Str("handler", "responses").Logger()}
}

// ServeHTTP implements POST /v1/responses.
func (h *ResponsesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientRequestID, providerRequestID := h.reqids.Generate(r.Header.Get("X-Request-ID"), reqid.Meta{EntryEndpoint: r.URL.Path})
	requestID := clientRequestID

	var req responsesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request_error", "failed to parse request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}
	if len(req.Input) == 0 {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request_error", "input must not be empty")
		return
	}

	dreq := toDialectRequestFromResponses(req)
	sessionID := sessionIDFor(r)
	observeDirectives(h.sessions, sessionID, lastMessageText(dreq))

	h.execute(w, r, clientRequestID, providerRequestID, sessionID, req.Model, dreq, req.Stream)
}

// SubmitToolOutputs implements POST /v1/responses/{id}/submit_tool_outputs.
func (h *ResponsesHandler) SubmitToolOutputs(w http.ResponseWriter, r *http.Request) {
	clientRequestID, providerRequestID := h.reqids.Generate(r.Header.Get("X-Request-ID"), reqid.Meta{EntryEndpoint: r.URL.Path})
	requestID := clientRequestID
	responseID := chi.URLParam(r, "id")

	v, ok := h.pending.Load(responseID)
	if !ok {
		writeError(w, requestID, http.StatusNotFound, "not_found", "no pending run for response id "+responseID)
		return
	}
	run := v.(*pendingRun)
	h.pending.Delete(responseID)

	var body struct {
		Outputs []struct {
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"outputs"`
		Stream bool `json:"stream,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request_error", "failed to parse request body: "+err.Error())
		return
	}

	dreq := run.request
	for _, o := range body.Outputs {
		dreq.Messages = append(dreq.Messages, dialect.Message{
			Role:       "tool",
			Text:       o.Output,
			ToolCallID: o.CallID,
		})
	}

	h.execute(w, r, clientRequestID, providerRequestID, run.sessionID, run.model, dreq, body.Stream)
}

func (h *ResponsesHandler) execute(w http.ResponseWriter, r *http.Request, clientRequestID, providerRequestID, sessionID, model string, dreq dialect.Request, stream bool) {
	dreq.Stream = stream
	requestID := clientRequestID

	rc := pipeline.RequestContext{
		ClientDialect:     dialect.ClientOpenAIResponses,
		SessionID:         sessionID,
		Meta:              requestMetaFor(r, dreq),
		Request:           dreq,
		Stream:            stream,
		EntryEndpoint:     r.URL.Path,
		ClientRequestID:   clientRequestID,
		ProviderRequestID: providerRequestID,
	}

	res, err := h.orchestrator.Execute(r.Context(), rc)
	if err != nil {
		h.logger.Warn().Err(err).Str("model", model).Msg("responses request failed")
		writePipelineError(w, requestID, err)
		return
	}

	w.Header().Set("x-request-id", requestID)
	w.Header().Set("x-provider-stream-requested", strconv.FormatBool(stream))

	if len(res.Response.ToolCalls) > 0 {
		h.pending.Store(res.Response.ID, &pendingRun{sessionID: sessionID, model: model, request: dreq})
	}

	if !stream {
		w.Header().Set("x-upstream-mode", "json")
		writeJSON(w, http.StatusOK, toResponsesResponse(res.Response))
		return
	}

	h.streamResponses(w, r, res, model)
}

func (h *ResponsesHandler) streamResponses(w http.ResponseWriter, r *http.Request, res *pipeline.Result, model string) {
	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, res.ClientRequestID, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support flushing")
		return
	}

	if res.ResponseStream == nil {
		// Provider configured for streaming:"always" returns a single
		// aggregated JSON body even when the Responses client asked for
		// stream:false — transport already collapsed the SSE for us, so
		// this path only fires when the client itself requested a stream
		// but transport returned JSON; synthesize SSE for it.
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
			"type":  "response.output_text.delta",
			"delta": d.TextDelta,
		}
		return json.Marshal(evt)
	})

	if err != nil && r.Context().Err() != nil {
		metrics.RecordDisconnect()
		if h.snapshots != nil {
			h.snapshots.Write(snapshot.RequestContext{RequestID: res.ProviderRequestID, EntryDialect: string(dialect.ClientOpenAIResponses)}, snapshot.PhaseServerFinal, metrics.UsagePayload())
		}
		return
	}
	sw.writeDone()
}

func toDialectRequestFromResponses(req responsesRequest) dialect.Request {
	dreq := dialect.Request{
		Model:       req.Model,
		System:      req.Instructions,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
	for _, item := range req.Input {
		if item.CallID != "" {
			dreq.Messages = append(dreq.Messages, dialect.Message{Role: "tool", Text: item.Output, ToolCallID: item.CallID})
			continue
		}
		msg := dialect.Message{Role: item.Role}
		for _, c := range item.Content {
			msg.Text += c.Text
		}
		dreq.Messages = append(dreq.Messages, msg)
	}
	for _, t := range req.Tools {
		dreq.Tools = append(dreq.Tools, dialect.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return dreq
}

func toResponsesResponse(resp dialect.Response) responsesResponse {
	out := []responsesOutputItem{}
	if resp.Text != "" {
		out = append(out, responsesOutputItem{
			Type: "message",
			Role: "assistant",
			Content: []responsesContent{{Type: "output_text", Text: resp.Text}},
		})
	}
	for _, tc := range resp.ToolCalls {
		out = append(out, responsesOutputItem{
			Type:      "function_call",
			CallID:    tc.ID,
			Name:      tc.Name,
			Arguments: tc.Arguments,
		})
	}

	status := "completed"
	if len(resp.ToolCalls) > 0 {
		status = "requires_action"
	}

	return responsesResponse{
		ID:     resp.ID,
		Object: "response",
		Model:  resp.Model,
		Status: status,
		Output: out,
		Usage: responsesUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
}
