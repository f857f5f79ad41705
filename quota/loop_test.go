package quota

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/novagate/transport"
)

func newTestLoop() *Loop {
	return NewLoop(zerolog.Nop(), 3)
}

func TestOnSuccessKeepsKeyInPool(t *testing.T) {
	l := newTestLoop()
	l.OnSuccess("openai.gpt-4o")
	if !l.InPool("openai.gpt-4o") {
		t.Fatal("expected key to remain in pool after success")
	}
}

func TestOnFailureRateLimitedEntersCooldown(t *testing.T) {
	l := newTestLoop()
	l.OnFailure("openai.gpt-4o", transport.KindRateLimited)
	if l.InPool("openai.gpt-4o") {
		t.Fatal("expected key to be on cooldown immediately after rate limit")
	}
	snap := l.Snapshot("openai.gpt-4o")
	if snap.Kind != KindCooldown {
		t.Fatalf("expected Cooldown state, got %s", snap.Kind)
	}
}

func TestOnFailureAuthInvalidTokenEntersAuthBroken(t *testing.T) {
	l := newTestLoop()
	l.OnFailure("openai.gpt-4o", transport.KindAuthInvalidToken)
	snap := l.Snapshot("openai.gpt-4o")
	if snap.Kind != KindAuthBroken {
		t.Fatalf("expected AuthBroken state, got %s", snap.Kind)
	}
	if l.InPool("openai.gpt-4o") {
		t.Fatal("expected AuthBroken key to be excluded from pool")
	}
}

func TestRepeatedQuotaExhaustedEscalatesToBlacklist(t *testing.T) {
	l := newTestLoop()
	key := ProviderKey("openai.gpt-4o")
	for i := 0; i < 3; i++ {
		l.OnFailure(key, transport.KindQuotaExhausted)
	}
	snap := l.Snapshot(key)
	if snap.Kind != KindBlacklist {
		t.Fatalf("expected escalation to Blacklist after 3 consecutive cooldowns, got %s", snap.Kind)
	}
}

func TestBackoffGrowsExponentiallyUpToCap(t *testing.T) {
	l := newTestLoop()
	l.maxCooldown = 20 * time.Second
	l.baselineCooldown = 2 * time.Second
	key := ProviderKey("openai.gpt-4o")

	l.OnFailure(key, transport.KindUpstreamServerErr)
	first := l.Snapshot(key).UntilMs

	l.OnFailure(key, transport.KindUpstreamServerErr)
	second := l.Snapshot(key).UntilMs

	if second <= first {
		t.Fatalf("expected growing cooldown window, first=%d second=%d", first, second)
	}

	// Attempts 3..5 would be 8s, 16s, 32s; the fifth is capped at 20s.
	for i := 0; i < 3; i++ {
		l.OnFailure(key, transport.KindUpstreamServerErr)
	}
	remaining := l.Snapshot(key).UntilMs - nowMs()
	if remaining > 20000 || remaining < 19000 {
		t.Fatalf("expected cooldown capped at 20s, got %dms remaining", remaining)
	}
}

func TestResetClearsState(t *testing.T) {
	l := newTestLoop()
	key := ProviderKey("openai.gpt-4o")
	l.OnFailure(key, transport.KindAuthInvalidToken)
	l.Reset(key)
	if !l.InPool(key) {
		t.Fatal("expected Reset to restore InPool")
	}
}

func TestResetExpandsAliasPrefix(t *testing.T) {
	l := newTestLoop()
	l.OnFailure(ProviderKey("antigravity.gemini-pro.sessionA"), transport.KindAuthInvalidToken)
	l.OnFailure(ProviderKey("antigravity.gemini-pro.sessionB"), transport.KindAuthInvalidToken)

	l.Reset(ProviderKey("antigravity.gemini-pro.sessionA"))

	if !l.InPool(ProviderKey("antigravity.gemini-pro.sessionB")) {
		t.Fatal("expected alias-scoped reset to clear sibling alias too")
	}
}

func TestDisableForcesBlacklist(t *testing.T) {
	l := newTestLoop()
	key := ProviderKey("openai.gpt-4o")
	l.Disable(key, true, time.Hour)
	snap := l.Snapshot(key)
	if snap.Kind != KindBlacklist {
		t.Fatalf("expected Blacklist after Disable(blacklist=true), got %s", snap.Kind)
	}
}

type fakeFetcher struct {
	fraction  float64
	resetAtMs int64
}

func (f fakeFetcher) FetchQuota(ctx context.Context, key ProviderKey) (float64, int64, error) {
	return f.fraction, f.resetAtMs, nil
}

func TestPeriodicRefreshDemotesOnLowRemainingFraction(t *testing.T) {
	l := newTestLoop()
	l.RegisterFetcher("antigravity", fakeFetcher{fraction: 0.01, resetAtMs: nowMs() + 1000})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	l.PeriodicRefresh(ctx, 10*time.Millisecond, 0.02, map[string][]ProviderKey{
		"antigravity": {"antigravity.gemini-pro.sessionA"},
	})

	snap := l.Snapshot("antigravity.gemini-pro.sessionA")
	if snap.Kind != KindCooldown {
		t.Fatalf("expected demotion to Cooldown on low remaining fraction, got %s", snap.Kind)
	}
}
