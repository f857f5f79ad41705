package dialect

import (
	"context"
	"encoding/json"
	"io"
	"testing"
)

func TestToOpenAIRequestIncludesSystemMessage(t *testing.T) {
	body, err := ToOpenAIRequest(Request{Model: "gpt-4o", System: "be concise", Messages: []Message{{Role: "user", Text: "hi"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	msgs := decoded["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user message, got %d", len(msgs))
	}
}

func TestFromOpenAIResponseParsesToolCalls(t *testing.T) {
	body := []byte(`{"id":"r1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","tool_calls":[{"id":"t1","type":"function","function":{"name":"lookup","arguments":"{}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	resp, err := FromOpenAIResponse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "lookup" {
		t.Fatalf("expected tool call round-trip, got %+v", resp.ToolCalls)
	}
}

func TestToAnthropicRequestConvertsToolResultMessage(t *testing.T) {
	body, err := ToAnthropicRequest(Request{
		Model:     "claude-3-5-sonnet-20241022",
		Messages:  []Message{{Role: "tool", ToolCallID: "call-1", Text: "42"}},
		MaxTokens: intPtr(512),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(body, &decoded)
	if decoded["max_tokens"].(float64) != 512 {
		t.Fatalf("expected max_tokens preserved, got %+v", decoded["max_tokens"])
	}
	msgs := decoded["messages"].([]any)
	first := msgs[0].(map[string]any)
	block := first["content"].([]any)[0].(map[string]any)
	if first["role"] != "user" || block["type"] != "tool_result" || block["tool_use_id"] != "call-1" {
		t.Fatalf("expected tool message converted to a user tool_result block, got %+v", first)
	}
}

func TestFromAnthropicResponseMapsToolUseToToolCalls(t *testing.T) {
	body := []byte(`{"id":"r1","model":"claude-3-5-sonnet-20241022","content":[{"type":"tool_use","id":"t1","name":"lookup","input":{}}],"stop_reason":"tool_use","usage":{"input_tokens":3,"output_tokens":1}}`)
	resp, err := FromAnthropicResponse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("expected finish_reason tool_calls, got %s", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "lookup" {
		t.Fatalf("expected tool call round-trip, got %+v", resp.ToolCalls)
	}
}

func TestFromGeminiResponseMapsFinishReason(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1,"totalTokenCount":2}}`)
	resp, err := FromGeminiResponse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinishReason != "stop" || resp.Text != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestValidateToolsRejectsDuplicateNames(t *testing.T) {
	err := ValidateTools([]Tool{{Name: "a"}, {Name: "a"}})
	if err == nil {
		t.Fatal("expected error for duplicate tool name")
	}
}

func TestValidateToolsRejectsInvalidParametersJSON(t *testing.T) {
	err := ValidateTools([]Tool{{Name: "a", Parameters: json.RawMessage(`not json`)}})
	if err == nil {
		t.Fatal("expected error for invalid parameters JSON")
	}
}

type fakeStream struct {
	deltas []Delta
	i      int
}

func (f *fakeStream) Next() (Delta, error) {
	if f.i >= len(f.deltas) {
		return Delta{Done: true}, io.EOF
	}
	d := f.deltas[f.i]
	f.i++
	return d, nil
}
func (f *fakeStream) Close() error { return nil }

func TestCollectToJSONAggregatesTextDeltas(t *testing.T) {
	s := &fakeStream{deltas: []Delta{{TextDelta: "hel"}, {TextDelta: "lo"}, {FinishReason: "stop"}}}
	resp, err := CollectToJSON(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected aggregate: %+v", resp)
	}
}

func intPtr(v int) *int { return &v }
