package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRotatorRoundRobinsAndSkipsCooldown(t *testing.T) {
	r := NewRotator([]KeyEntry{{Alias: "a"}, {Alias: "b"}}, time.Minute)
	r.ReportFailure("a")

	k, ok := r.Next()
	if !ok {
		t.Fatal("expected an eligible key")
	}
	if k.Alias != "b" {
		t.Fatalf("expected key b (a is cooling down), got %s", k.Alias)
	}
}

func TestRotatorAllCooldownReturnsFalse(t *testing.T) {
	r := NewRotator([]KeyEntry{{Alias: "a"}}, time.Minute)
	r.ReportFailure("a")
	if _, ok := r.Next(); ok {
		t.Fatal("expected no eligible key when all are cooling down")
	}
}

func TestRotatorReportSuccessClearsCooldown(t *testing.T) {
	r := NewRotator([]KeyEntry{{Alias: "a"}}, time.Minute)
	r.ReportFailure("a")
	r.ReportSuccess("a")
	if _, ok := r.Next(); !ok {
		t.Fatal("expected key to be eligible again after success")
	}
}

func TestOAuthStoreEnsureValidRefreshesExpired(t *testing.T) {
	calls := 0
	refresher := func(ctx context.Context, providerID, alias string, rec *OAuthRecord) (*OAuthRecord, error) {
		calls++
		return &OAuthRecord{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	store := NewOAuthStore(refresher, zerolog.Nop(), 30*time.Second)
	store.Seed("openai", "default", &OAuthRecord{AccessToken: "stale", ExpiresAt: time.Now().Add(-time.Minute)})

	tok, err := store.EnsureValid(context.Background(), "openai", "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "fresh" {
		t.Fatalf("expected refreshed token, got %q", tok)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", calls)
	}
}

func TestOAuthStoreEnsureValidSkipsRefreshWhenStillValid(t *testing.T) {
	calls := 0
	refresher := func(ctx context.Context, providerID, alias string, rec *OAuthRecord) (*OAuthRecord, error) {
		calls++
		return rec, nil
	}
	store := NewOAuthStore(refresher, zerolog.Nop(), 30*time.Second)
	store.Seed("openai", "default", &OAuthRecord{AccessToken: "valid", ExpiresAt: time.Now().Add(time.Hour)})

	tok, err := store.EnsureValid(context.Background(), "openai", "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "valid" || calls != 0 {
		t.Fatalf("expected no refresh call, got calls=%d tok=%q", calls, tok)
	}
}

func TestOAuthStoreFatalFailureTriggersRepair(t *testing.T) {
	refresher := func(ctx context.Context, providerID, alias string, rec *OAuthRecord) (*OAuthRecord, error) {
		return nil, &AuthBrokenError{ProviderID: providerID, Alias: alias, IssueKind: IssueRevokedGrant, Detail: "revoked"}
	}
	store := NewOAuthStore(refresher, zerolog.Nop(), 30*time.Second)
	store.Seed("anthropic", "default", &OAuthRecord{ExpiresAt: time.Now().Add(-time.Hour)})

	repaired := make(chan struct{}, 1)
	store.SetRepair(func(providerID, alias string) { repaired <- struct{}{} })

	_, err := store.EnsureValid(context.Background(), "anthropic", "default")
	var broken *AuthBrokenError
	if !errors.As(err, &broken) {
		t.Fatalf("expected AuthBrokenError, got %v", err)
	}

	select {
	case <-repaired:
	case <-time.After(time.Second):
		t.Fatal("expected repair callback to fire")
	}
}

func TestPOWSolverFindsValidNonce(t *testing.T) {
	solver := NewPOWSolver(time.Minute)
	sig, _, err := solver.Solve(context.Background(), "test-salt", 1, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasLeadingZeroNibbles(sig, 1) {
		t.Fatalf("solution does not satisfy difficulty: %s", sig)
	}
}

func TestPOWSolverCachesBySalt(t *testing.T) {
	solver := NewPOWSolver(time.Minute)
	sig1, _, _ := solver.Solve(context.Background(), "salt", 1, 100000)
	sig2, nonce2, _ := solver.Solve(context.Background(), "salt", 1, 100000)
	if sig1 != sig2 || nonce2 != -1 {
		t.Fatal("expected second solve to hit cache")
	}
}

func TestIsBusinessTokenExpired(t *testing.T) {
	body := []byte(`{"status":"439","message":"token expired, please refresh"}`)
	if !IsBusinessTokenExpired(body) {
		t.Fatal("expected business token-expired detection")
	}
	if IsBusinessTokenExpired([]byte(`{"status":"200","message":"ok"}`)) {
		t.Fatal("expected non-expired body to not match")
	}
}

func TestTokenFileWatcherReadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qwen-default.json")
	body := `{"access_token":"a1","refresh_token":"r1","expires_at_ms":` +
		"99999999999999" + `}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewTokenFileWatcher(path)
	p, err := w.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.AccessToken != "a1" {
		t.Fatalf("unexpected access token: %q", p.AccessToken)
	}
}
