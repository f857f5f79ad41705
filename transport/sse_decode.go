package transport

import (
	"encoding/json"

	"github.com/AlfredDev/novagate/dialect"
)

// Per-provider SSE chunk decoders. Each provider's streaming wire shape
// differs from its non-streaming response shape, so these live beside
// the HTTP plumbing rather than in dialect's request/response converters.

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func decodeOpenAIDelta(data []byte) (dialect.Delta, error) {
	var chunk openaiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return dialect.Delta{}, err
	}
	var d dialect.Delta
	if len(chunk.Choices) > 0 {
		c := chunk.Choices[0]
		d.TextDelta = c.Delta.Content
		d.FinishReason = c.FinishReason
		if len(c.Delta.ToolCalls) > 0 {
			tc := c.Delta.ToolCalls[0]
			d.ToolCallDelta = &dialect.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		}
	}
	if chunk.Usage != nil {
		d.Usage = &dialect.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	return d, nil
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func decodeAnthropicDelta(data []byte) (dialect.Delta, error) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return dialect.Delta{}, err
	}
	var d dialect.Delta
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta.Type == "text_delta" {
			d.TextDelta = ev.Delta.Text
		} else if ev.Delta.Type == "input_json_delta" {
			d.ToolCallDelta = &dialect.ToolCall{Arguments: ev.Delta.PartialJSON}
		}
	case "content_block_start":
		if ev.ContentBlock.Type == "tool_use" {
			d.ToolCallDelta = &dialect.ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
		}
	case "message_delta":
		d.FinishReason = dialect.MapAnthropicStopReason(ev.Delta.StopReason)
		if ev.Usage != nil {
			d.Usage = &dialect.Usage{CompletionTokens: ev.Usage.OutputTokens}
		}
	case "message_stop":
		d.Done = true
	}
	return d, nil
}

type geminiStreamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func decodeGeminiDelta(data []byte) (dialect.Delta, error) {
	var chunk geminiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return dialect.Delta{}, err
	}
	var d dialect.Delta
	if len(chunk.Candidates) > 0 {
		c := chunk.Candidates[0]
		for _, p := range c.Content.Parts {
			d.TextDelta += p.Text
		}
		if c.FinishReason != "" {
			d.FinishReason = dialect.MapGeminiFinishReason(c.FinishReason)
		}
	}
	if chunk.UsageMetadata != nil {
		d.Usage = &dialect.Usage{
			PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
			CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
		}
	}
	return d, nil
}
