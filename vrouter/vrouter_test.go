package vrouter

import "testing"

func TestMatchRouteHintWinsOverPattern(t *testing.T) {
	table, err := NewTable([]Route{
		{ID: "chat", Pattern: Pattern{ModelRegex: "^gpt-"}},
		{ID: "fallback", Default: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := table.MatchRoute(RequestMeta{Model: "claude-3", Hint: "chat"})
	if !ok || r.ID != "chat" {
		t.Fatalf("expected hint to win, got %+v ok=%v", r, ok)
	}
}

func TestMatchRouteFallsBackToDefault(t *testing.T) {
	table, err := NewTable([]Route{
		{ID: "chat", Pattern: Pattern{ModelRegex: "^gpt-"}},
		{ID: "fallback", Default: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := table.MatchRoute(RequestMeta{Model: "claude-3"})
	if !ok || r.ID != "fallback" {
		t.Fatalf("expected fallback route, got %+v ok=%v", r, ok)
	}
}

func TestParseDirectivesExtractsStickyAndDisable(t *testing.T) {
	d := ParseDirectives("please use <**!openai.gpt-4o**> and avoid <**#anthropic.claude-3,gemini.pro**>")
	if d.Sticky != "openai.gpt-4o" {
		t.Fatalf("expected sticky parsed, got %q", d.Sticky)
	}
	if len(d.Disable) != 2 || d.Disable[0] != "anthropic.claude-3" || d.Disable[1] != "gemini.pro" {
		t.Fatalf("expected two disabled providers, got %+v", d.Disable)
	}
}

func TestApplyDirectivesDisableWinsOverSticky(t *testing.T) {
	candidates := []ProviderKey{"a", "b", "c"}
	d := Directives{Sticky: "b", Disable: []ProviderKey{"b"}}
	result := ApplyDirectives(candidates, d)
	for _, c := range result {
		if c == "b" {
			t.Fatal("expected disabled provider to be filtered even though it was sticky")
		}
	}
}

func TestApplyDirectivesStickyPromotedToFront(t *testing.T) {
	candidates := []ProviderKey{"a", "b", "c"}
	d := Directives{Sticky: "c"}
	result := ApplyDirectives(candidates, d)
	if result[0] != "c" {
		t.Fatalf("expected sticky candidate first, got %+v", result)
	}
}

func TestSessionStoreExpiresDirectives(t *testing.T) {
	store := NewSessionStore()
	store.Update("sess-1", Directives{Sticky: "openai.gpt-4o"})
	if got := store.Get("sess-1"); got.Sticky != "openai.gpt-4o" {
		t.Fatalf("expected sticky to be stored, got %+v", got)
	}

	entry := store.entryFor("sess-1")
	entry.mu.Lock()
	entry.expiresAt = entry.expiresAt.Add(-2 * sessionDirectiveTTL)
	entry.mu.Unlock()

	if got := store.Get("sess-1"); got.Sticky != "" {
		t.Fatalf("expected expired directives to read as empty, got %+v", got)
	}
}

func TestRoundRobinCyclesThroughCandidates(t *testing.T) {
	rr := &RoundRobin{}
	candidates := []ProviderKey{"a", "b", "c"}
	seen := map[ProviderKey]int{}
	for i := 0; i < 6; i++ {
		seen[rr.Select(candidates)]++
	}
	for _, c := range candidates {
		if seen[c] != 2 {
			t.Fatalf("expected even distribution over 6 picks, got %+v", seen)
		}
	}
}

func TestFastestEMAPrefersLowerLatency(t *testing.T) {
	f := NewFastestEMA()
	f.RecordLatency("fast", 50)
	f.RecordLatency("slow", 500)
	if got := f.Select([]ProviderKey{"fast", "slow"}); got != "fast" {
		t.Fatalf("expected fast provider selected, got %s", got)
	}
}

func TestFastestEMAPenalizesRecentFailure(t *testing.T) {
	f := NewFastestEMA()
	f.RecordLatency("a", 100)
	f.RecordLatency("b", 100)
	f.RecordFailure("a")
	if got := f.Select([]ProviderKey{"a", "b"}); got != "b" {
		t.Fatalf("expected penalized provider to lose tie, got %s", got)
	}
}

type fakeQuota struct {
	blocked map[ProviderKey]bool
}

func (f fakeQuota) InPool(key ProviderKey) bool { return !f.blocked[key] }

func TestEngineRouteSkipsExhaustedPrimaryPool(t *testing.T) {
	table, err := NewTable([]Route{
		{
			ID: "chat",
			Pools: []Pool{
				{Name: "primary", Targets: []Target{{Key: "openai.gpt-4o"}}, Strategy: "round_robin"},
				{Name: "backup", Targets: []Target{{Key: "anthropic.claude-3-5-sonnet"}}, Strategy: "round_robin"},
			},
			Default: true,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	engine := NewEngine(table, NewSessionStore(), fakeQuota{blocked: map[ProviderKey]bool{"openai.gpt-4o": true}})
	decision, err := engine.Route(RequestMeta{Model: "gpt-4o"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Target != "anthropic.claude-3-5-sonnet" {
		t.Fatalf("expected fallback to backup pool, got %+v", decision)
	}
}

func TestEngineRouteReturnsNoRouteAvailableWhenAllPoolsExhausted(t *testing.T) {
	table, err := NewTable([]Route{
		{ID: "chat", Pools: []Pool{{Name: "primary", Targets: []Target{{Key: "openai.gpt-4o"}}}}, Default: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	engine := NewEngine(table, NewSessionStore(), fakeQuota{blocked: map[ProviderKey]bool{"openai.gpt-4o": true}})
	_, err = engine.Route(RequestMeta{Model: "gpt-4o"}, "")
	if err != ErrNoRouteAvailable {
		t.Fatalf("expected ErrNoRouteAvailable, got %v", err)
	}
}
