package dialect

import "encoding/json"

type geminiWirePart struct {
	Text         string          `json:"text,omitempty"`
	FunctionCall *struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	} `json:"functionCall,omitempty"`
	FunctionResponse *struct {
		Name     string          `json:"name"`
		Response json.RawMessage `json:"response"`
	} `json:"functionResponse,omitempty"`
}

type geminiWireContent struct {
	Role  string           `json:"role"`
	Parts []geminiWirePart `json:"parts"`
}

type geminiWireFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiWireTool struct {
	FunctionDeclarations []geminiWireFunctionDeclaration `json:"functionDeclarations"`
}

type geminiWireRequest struct {
	Contents         []geminiWireContent `json:"contents"`
	SystemInstruction *geminiWireContent `json:"systemInstruction,omitempty"`
	Tools            []geminiWireTool    `json:"tools,omitempty"`
	GenerationConfig struct {
		Temperature     *float64 `json:"temperature,omitempty"`
		TopP            *float64 `json:"topP,omitempty"`
		MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
		StopSequences   []string `json:"stopSequences,omitempty"`
	} `json:"generationConfig"`
}

type geminiWireResponse struct {
	Candidates []struct {
		Content      geminiWireContent `json:"content"`
		FinishReason string            `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// ToGeminiRequest converts the neutral Request into Gemini's
// generateContent wire payload.
func ToGeminiRequest(req Request) ([]byte, error) {
	wire := geminiWireRequest{}
	wire.GenerationConfig.Temperature = req.Temperature
	wire.GenerationConfig.TopP = req.TopP
	wire.GenerationConfig.MaxOutputTokens = req.MaxTokens
	wire.GenerationConfig.StopSequences = req.Stop

	if req.System != "" {
		wire.SystemInstruction = &geminiWireContent{
			Role: "system", Parts: []geminiWirePart{{Text: req.System}},
		}
	}

	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}

		var parts []geminiWirePart
		if m.Text != "" {
			parts = append(parts, geminiWirePart{Text: m.Text})
		}
		for _, tc := range m.ToolCalls {
			part := geminiWirePart{}
			part.FunctionCall = &struct {
				Name string          `json:"name"`
				Args json.RawMessage `json:"args"`
			}{Name: tc.Name, Args: json.RawMessage(tc.Arguments)}
			parts = append(parts, part)
		}
		if m.Role == "tool" {
			part := geminiWirePart{}
			part.FunctionResponse = &struct {
				Name     string          `json:"name"`
				Response json.RawMessage `json:"response"`
			}{Name: m.Name, Response: json.RawMessage(m.Text)}
			parts = []geminiWirePart{part}
			role = "user"
		}

		wire.Contents = append(wire.Contents, geminiWireContent{Role: role, Parts: parts})
	}

	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, geminiWireTool{
			FunctionDeclarations: []geminiWireFunctionDeclaration{
				{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
			},
		})
	}

	return json.Marshal(wire)
}

// FromGeminiResponse converts Gemini's wire response into the neutral
// Response.
func FromGeminiResponse(body []byte) (Response, error) {
	var wire geminiWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return Response{}, err
	}

	var resp Response
	resp.Usage = Usage{
		PromptTokens:     wire.UsageMetadata.PromptTokenCount,
		CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      wire.UsageMetadata.TotalTokenCount,
	}

	if len(wire.Candidates) == 0 {
		return resp, nil
	}
	c := wire.Candidates[0]
	resp.FinishReason = MapGeminiFinishReason(c.FinishReason)

	for _, part := range c.Content.Parts {
		if part.Text != "" {
			resp.Text += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{Name: part.FunctionCall.Name, Arguments: string(args)})
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = "tool_calls"
	}

	return resp, nil
}

func MapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return reason
	}
}
