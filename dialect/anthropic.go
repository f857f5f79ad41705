package dialect

import "encoding/json"

type anthropicWireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []map[string]any
}

type anthropicWireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anthropicWireRequest struct {
	Model       string                 `json:"model"`
	MaxTokens   int                    `json:"max_tokens"`
	Messages    []anthropicWireMessage `json:"messages"`
	System      string                 `json:"system,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	TopP        *float64               `json:"top_p,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
	StopSeqs    []string               `json:"stop_sequences,omitempty"`
	Tools       []anthropicWireTool    `json:"tools,omitempty"`
}

type anthropicWireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		ID    string          `json:"id,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

const defaultAnthropicMaxTokens = 1024

// ToAnthropicRequest converts the neutral Request into Anthropic's
// Messages API wire payload. Generalized from the teacher's
// AnthropicProvider.convertRequest.
func ToAnthropicRequest(req Request) ([]byte, error) {
	wire := anthropicWireRequest{
		Model:       req.Model,
		MaxTokens:   defaultAnthropicMaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSeqs:    req.Stop,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil {
		wire.MaxTokens = *req.MaxTokens
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, anthropicWireTool{
			Name: t.Name, Description: t.Description, InputSchema: t.Parameters,
		})
	}

	for _, m := range req.Messages {
		switch {
		case m.Role == "tool":
			wire.Messages = append(wire.Messages, anthropicWireMessage{
				Role: "user",
				Content: []map[string]any{{
					"type": "tool_result", "tool_use_id": m.ToolCallID, "content": m.Text,
				}},
			})
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			blocks := make([]map[string]any, 0, len(m.ToolCalls)+1)
			if m.Text != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Text})
			}
			for _, tc := range m.ToolCalls {
				var input json.RawMessage
				_ = json.Unmarshal([]byte(tc.Arguments), &input)
				blocks = append(blocks, map[string]any{
					"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": input,
				})
			}
			wire.Messages = append(wire.Messages, anthropicWireMessage{Role: "assistant", Content: blocks})
		default:
			wire.Messages = append(wire.Messages, anthropicWireMessage{Role: m.Role, Content: m.Text})
		}
	}

	return json.Marshal(wire)
}

// FromAnthropicResponse converts Anthropic's wire response into the
// neutral Response. Generalized from convertResponse.
func FromAnthropicResponse(body []byte) (Response, error) {
	var wire anthropicWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return Response{}, err
	}

	var text string
	var toolCalls []ToolCall
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			toolCalls = append(toolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: string(args)})
		}
	}

	finish := MapAnthropicStopReason(wire.StopReason)
	if len(toolCalls) > 0 && wire.StopReason == "tool_use" {
		finish = "tool_calls"
	}

	return Response{
		ID:           wire.ID,
		Model:        wire.Model,
		Text:         text,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage: Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
	}, nil
}

func MapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
