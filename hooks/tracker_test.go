package hooks

import (
	"encoding/json"
	"testing"

	"github.com/AlfredDev/novagate/snapshot"
)

func mustSnapshot(phase snapshot.Phase, payload map[string]any) snapshot.Snapshot {
	raw, _ := json.Marshal(payload)
	return snapshot.Snapshot{Phase: phase, RequestID: "req-1", Payload: raw}
}

func TestTraceExtractsModelID(t *testing.T) {
	tr := NewTracker()
	s := mustSnapshot(snapshot.PhaseClientInbound, map[string]any{"model": "gpt-4o"})
	trace := tr.Trace(s)

	found := false
	for _, v := range trace.Values {
		if v.Name == "model-id" && v.Value == "gpt-4o" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected model-id in trace, got %+v", trace.Values)
	}
}

func TestDiffDetectsChangedField(t *testing.T) {
	tr := NewTracker()
	prev := mustSnapshot(snapshot.PhaseClientInbound, map[string]any{"model": "gpt-4o"})
	curr := mustSnapshot(snapshot.PhaseProviderOutbound, map[string]any{"model": "gpt-4o-mini"})

	changes := tr.Diff(prev, curr)
	found := false
	for _, c := range changes {
		if c.SpecID == "model-id" && c.Current == "gpt-4o-mini" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected model-id change detected, got %+v", changes)
	}
}

func TestSelectUsageFallsBackToEstimate(t *testing.T) {
	tr := NewTracker()
	s := mustSnapshot(snapshot.PhaseServerFinal, map[string]any{"model": "anthropic", "text": "hello world, this is a longer sentence"})
	trace := tr.Trace(s)

	found := false
	for _, v := range trace.Values {
		if v.Name == "usage" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected usage estimate when no real usage reported")
	}
}
