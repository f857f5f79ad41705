package compat

import "testing"

func TestMapperApplyFiltersDeniedFields(t *testing.T) {
	m := NewMapper(map[Direction]map[string]FieldMapConfig{
		DirectionRequest: {"prof-1": {ID: "prof-1", DenyFields: []string{"internal_debug"}}},
	})
	out, err := m.Apply("prof-1", DirectionRequest, map[string]any{
		"model": "gpt-4o", "internal_debug": true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out["internal_debug"]; ok {
		t.Fatal("expected denied field to be filtered")
	}
	if out["model"] != "gpt-4o" {
		t.Fatal("expected allowed field to survive")
	}
}

func TestMapperApplyRewritesFieldPath(t *testing.T) {
	m := NewMapper(map[Direction]map[string]FieldMapConfig{
		DirectionRequest: {"prof-1": {ID: "prof-1", Rewrites: []FieldRewrite{{From: "max_tokens", To: "max_output_tokens"}}}},
	})
	out, err := m.Apply("prof-1", DirectionRequest, map[string]any{"max_tokens": 256})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["max_output_tokens"] != 256 {
		t.Fatalf("expected rewritten field, got %+v", out)
	}
	if _, ok := out["max_tokens"]; ok {
		t.Fatal("expected original field name removed")
	}
}

func TestMapperApplyValidateMissingRequiredField(t *testing.T) {
	m := NewMapper(map[Direction]map[string]FieldMapConfig{
		DirectionRequest: {"prof-1": {ID: "prof-1", RequireFields: []string{"model"}}},
	})
	_, err := m.Apply("prof-1", DirectionRequest, map[string]any{})
	if err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}

func TestMapperApplyUnknownProfilePassesThrough(t *testing.T) {
	m := NewMapper(map[Direction]map[string]FieldMapConfig{})
	out, err := m.Apply("missing", DirectionRequest, map[string]any{"a": 1})
	if err != nil || out["a"] != 1 {
		t.Fatalf("expected pass-through for unknown profile, got out=%+v err=%v", out, err)
	}
}

func TestIFlowHookRewritesWebSearchEndpoint(t *testing.T) {
	h := NewIFlowHook()
	ctx := &HookContext{
		Endpoint:  "https://api.iflow.cn/v1/chat/completions",
		Headers:   map[string]string{},
		Body:      []byte(`{"tools":[{"type":"web_search"}]}`),
		APIKey:    "key",
		SessionID: "sess",
		UserAgent: "ua",
	}
	if err := h.Finalize(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Endpoint != "https://api.iflow.cn/v1/chat/retrieve" {
		t.Fatalf("expected endpoint rewritten, got %s", ctx.Endpoint)
	}
	if ctx.Headers["X-IFlow-Signature"] == "" {
		t.Fatal("expected signature header to be set")
	}
}

func TestAntigravityHookSwapsSessionOnRateLimit(t *testing.T) {
	h := NewAntigravityHook(func() string { return "generated" })
	h.OnRateLimited("alias-1", "swapped-sig")

	ctx := &HookContext{Alias: "alias-1", Headers: map[string]string{"x-goog-api-client": "x"}}
	if err := h.Finalize(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.SessionID != "swapped-sig" {
		t.Fatalf("expected swapped session id, got %s", ctx.SessionID)
	}
	if _, ok := ctx.Headers["x-goog-api-client"]; ok {
		t.Fatal("expected gemini-era header stripped")
	}
}
