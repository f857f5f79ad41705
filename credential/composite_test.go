package credential

import (
	"context"
	"testing"
)

type stubSource struct {
	token string
	err   error
}

func (s *stubSource) EnsureValid(ctx context.Context, providerID, alias string) (string, error) {
	return s.token, s.err
}

func TestCompositeSourceDispatchesByAuthMode(t *testing.T) {
	apikey := &stubSource{token: "apikey-token"}
	oauth := &stubSource{token: "oauth-token"}
	modes := map[string]string{"openai": "apikey", "anthropic": "oauth"}
	c := NewCompositeSource(modes, apikey, oauth)

	tok, err := c.EnsureValid(context.Background(), "openai", "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "apikey-token" {
		t.Fatalf("expected apikey token, got %q", tok)
	}

	tok, err = c.EnsureValid(context.Background(), "anthropic", "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "oauth-token" {
		t.Fatalf("expected oauth token, got %q", tok)
	}
}

func TestCompositeSourceRegisterCustomOverridesMode(t *testing.T) {
	apikey := &stubSource{token: "apikey-token"}
	oauth := &stubSource{token: "oauth-token"}
	custom := &stubSource{token: "pow-token"}
	modes := map[string]string{"deepseek": "pow"}
	c := NewCompositeSource(modes, apikey, oauth)
	c.RegisterCustom("deepseek", custom)

	tok, err := c.EnsureValid(context.Background(), "deepseek", "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "pow-token" {
		t.Fatalf("expected custom pow token, got %q", tok)
	}
}

func TestCompositeSourceUnknownModeErrors(t *testing.T) {
	apikey := &stubSource{token: "apikey-token"}
	oauth := &stubSource{token: "oauth-token"}
	modes := map[string]string{"iflow": "cookie"}
	c := NewCompositeSource(modes, apikey, oauth)

	if _, err := c.EnsureValid(context.Background(), "iflow", "default"); err == nil {
		t.Fatal("expected error for unregistered auth mode")
	}
}
