package dialect

import "encoding/json"

// openaiWireMessage is the OpenAI Chat Completions message shape.
type openaiWireMessage struct {
	Role       string              `json:"role"`
	Content    any                 `json:"content,omitempty"`
	Name       string              `json:"name,omitempty"`
	ToolCalls  []openaiWireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
}

type openaiWireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiWireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type openaiWireRequest struct {
	Model       string              `json:"model"`
	Messages    []openaiWireMessage `json:"messages"`
	Tools       []openaiWireTool    `json:"tools,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

type openaiWireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int               `json:"index"`
		Message      openaiWireMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ToOpenAIRequest converts the neutral Request into an OpenAI Chat
// Completions wire payload.
func ToOpenAIRequest(req Request) ([]byte, error) {
	wire := openaiWireRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      req.Stream,
	}

	if req.System != "" {
		wire.Messages = append(wire.Messages, openaiWireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, messageToOpenAIWire(m))
	}
	for _, t := range req.Tools {
		var wt openaiWireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		wire.Tools = append(wire.Tools, wt)
	}

	return json.Marshal(wire)
}

func messageToOpenAIWire(m Message) openaiWireMessage {
	wm := openaiWireMessage{Role: m.Role, Name: m.Name, ToolCallID: m.ToolCallID}
	if m.Text != "" || (m.Role != "assistant" || len(m.ToolCalls) == 0) {
		wm.Content = m.Text
	}
	for _, tc := range m.ToolCalls {
		wtc := openaiWireToolCall{ID: tc.ID, Type: "function"}
		wtc.Function.Name = tc.Name
		wtc.Function.Arguments = tc.Arguments
		wm.ToolCalls = append(wm.ToolCalls, wtc)
	}
	return wm
}

// FromOpenAIResponse parses an OpenAI-shaped wire response into the
// neutral Response.
func FromOpenAIResponse(body []byte) (Response, error) {
	var wire openaiWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return Response{}, err
	}

	resp := Response{
		ID:    wire.ID,
		Model: wire.Model,
		Usage: Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}
	if len(wire.Choices) > 0 {
		c := wire.Choices[0]
		resp.FinishReason = c.FinishReason
		if s, ok := c.Message.Content.(string); ok {
			resp.Text = s
		}
		for _, tc := range c.Message.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
			})
		}
	}
	return resp, nil
}
