package reqid

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestGenerateEchoesCandidateAsClientRequestID(t *testing.T) {
	f := New()
	defer f.Close()

	client, _ := f.Generate("client-supplied-id", Meta{EntryEndpoint: "/v1/chat/completions"})
	if client != "client-supplied-id" {
		t.Fatalf("expected candidate to be echoed, got %q", client)
	}
}

func TestGenerateMintsClientRequestIDWhenCandidateEmpty(t *testing.T) {
	f := New()
	defer f.Close()

	client, _ := f.Generate("   ", Meta{EntryEndpoint: "/v1/messages"})
	if client == "" {
		t.Fatal("expected a minted client request id")
	}
	if !strings.HasPrefix(client, "req_") {
		t.Fatalf("expected minted id to start with req_, got %q", client)
	}
}

func TestGenerateProviderRequestIDShape(t *testing.T) {
	f := New()
	defer f.Close()

	_, provider := f.Generate("", Meta{EntryEndpoint: "/v1/responses", Provider: "openai", Model: "gpt-4o"})

	parts := strings.Split(provider, "-")
	if len(parts) < 5 {
		t.Fatalf("expected at least 5 dash-separated segments, got %d (%q)", len(parts), provider)
	}
	if !strings.HasPrefix(provider, "openai-responses-") {
		t.Fatalf("expected entryTag openai-responses folded into id, got %q", provider)
	}
	seq := parts[len(parts)-1]
	if len(seq) < 3 {
		t.Fatalf("expected a zero-padded 3-digit sequence suffix, got %q", seq)
	}
}

func TestGenerateEntryTagMapping(t *testing.T) {
	f := New()
	defer f.Close()

	cases := map[string]string{
		"/v1/responses":        "openai-responses",
		"/v1/messages":         "anthropic-messages",
		"/v1/chat/completions": "openai-chat",
		"":                      "openai-chat",
	}
	for endpoint, wantTag := range cases {
		_, provider := f.Generate("", Meta{EntryEndpoint: endpoint, Provider: "p", Model: "m"})
		if !strings.HasPrefix(provider, wantTag+"-") {
			t.Fatalf("entryEndpoint %q: expected providerRequestId %q to start with %q", endpoint, provider, wantTag)
		}
	}
}

func TestGenerateSanitizesProviderAndModelTokens(t *testing.T) {
	f := New()
	defer f.Close()

	_, provider := f.Generate("", Meta{EntryEndpoint: "/v1/chat/completions", Provider: "9bad!!", Model: "gpt 4o/preview"})
	if !strings.Contains(provider, "-unknown-") {
		t.Fatalf("expected a provider token starting with a digit to sanitize to unknown, got %q", provider)
	}
	if !strings.Contains(provider, "gpt4opreview") {
		t.Fatalf("expected model token to drop disallowed characters, got %q", provider)
	}
}

func TestGenerateSequenceIsMonotonicPerKey(t *testing.T) {
	f := New()
	defer f.Close()

	_, a := f.Generate("", Meta{EntryEndpoint: "/v1/chat/completions", Provider: "openai", Model: "gpt-4o"})
	_, b := f.Generate("", Meta{EntryEndpoint: "/v1/chat/completions", Provider: "openai", Model: "gpt-4o"})

	if lastSeq(t, b) != lastSeq(t, a)+1 {
		t.Fatalf("expected monotonically increasing sequence, got %d then %d", lastSeq(t, a), lastSeq(t, b))
	}
}

func TestEnhanceRegistersAliasFromOldToNew(t *testing.T) {
	f := New()
	defer f.Close()

	_, provisional := f.Generate("", Meta{EntryEndpoint: "/v1/chat/completions"})
	final := f.Enhance(provisional, "/v1/chat/completions", "openai", "gpt-4o")

	if final == provisional {
		t.Fatal("expected Enhance to produce a different id once provider/model are known")
	}

	c, ok := f.Resolve(provisional)
	if !ok {
		t.Fatal("expected the provisional id to resolve via its alias")
	}
	if c.Provider != "openai" || c.Model != "gpt-4o" {
		t.Fatalf("expected resolved components to reflect the enhanced provider/model, got %+v", c)
	}
}

func TestResolveFollowsMultiHopAliasChain(t *testing.T) {
	f := New()
	defer f.Close()

	_, first := f.Generate("", Meta{EntryEndpoint: "/v1/chat/completions"})
	second := f.Enhance(first, "/v1/chat/completions", "openai", "gpt-4o-mini")
	third := f.Enhance(second, "/v1/chat/completions", "openai", "gpt-4o")

	c, ok := f.Resolve(first)
	if !ok {
		t.Fatal("expected the original id to resolve through two alias hops")
	}
	if c.Model != "gpt-4o" {
		t.Fatalf("expected terminal model gpt-4o, got %q", c.Model)
	}
	if _, ok := f.Resolve(third); !ok {
		t.Fatal("expected the terminal id to resolve to itself")
	}
}

func TestResolveGuardsAgainstAliasCycles(t *testing.T) {
	f := New()
	defer f.Close()

	f.mu.Lock()
	f.aliases["a"] = aliasEntry{target: "b", expiresAt: time.Now().Add(time.Hour)}
	f.aliases["b"] = aliasEntry{target: "a", expiresAt: time.Now().Add(time.Hour)}
	f.components["a"] = Components{Provider: "stuck"}
	f.mu.Unlock()

	// Must return promptly with whichever id the cycle guard lands on,
	// not hang or recurse forever.
	if _, ok := f.Resolve("a"); !ok {
		t.Fatal("expected cycle guard to still resolve to a component")
	}
}

func TestResolveUnknownIDReturnsFalse(t *testing.T) {
	f := New()
	defer f.Close()
	if _, ok := f.Resolve("does-not-exist"); ok {
		t.Fatal("expected unknown id to not resolve")
	}
}

func TestNewConnectionIDIsUnique(t *testing.T) {
	f := New()
	defer f.Close()
	a := f.NewConnectionID()
	b := f.NewConnectionID()
	if a == b {
		t.Fatal("expected distinct connection ids")
	}
}

func lastSeq(t *testing.T, id string) int {
	t.Helper()
	parts := strings.Split(id, "-")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		t.Fatalf("expected numeric sequence suffix in %q: %v", id, err)
	}
	return n
}
