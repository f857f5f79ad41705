package hooks

import (
	"testing"

	"github.com/AlfredDev/novagate/dialect"
)

func TestResolveTokenStrategyMapsProviderSubstrings(t *testing.T) {
	cases := map[string]TokenStrategy{
		"openai":      StrategyTiktoken,
		"azure-openai": StrategyTiktoken,
		"anthropic":   StrategyAnthropic,
		"gemini":      StrategyGemini,
		"mistral":     StrategyMistral,
		"unknown-xyz": StrategyDefault,
	}
	for provider, want := range cases {
		if got := ResolveTokenStrategy(provider); got != want {
			t.Fatalf("provider %q: expected strategy %d, got %d", provider, want, got)
		}
	}
}

func TestCountRequestIncludesSystemAndMessages(t *testing.T) {
	counter := NewTokenCounter("openai")
	req := dialect.Request{
		System:   "be concise",
		Messages: []dialect.Message{{Role: "user", Text: "hello there, how are you today?"}},
	}
	if got := counter.CountRequest(req); got <= 0 {
		t.Fatalf("expected positive token estimate, got %d", got)
	}
}

func TestCountRequestAccountsForTools(t *testing.T) {
	counter := NewTokenCounter("openai")
	base := dialect.Request{Messages: []dialect.Message{{Role: "user", Text: "hi"}}}
	withTools := base
	withTools.Tools = []dialect.Tool{{Name: "lookup", Description: "looks things up"}}

	if counter.CountRequest(withTools) <= counter.CountRequest(base) {
		t.Fatal("expected tool definitions to increase the token estimate")
	}
}
