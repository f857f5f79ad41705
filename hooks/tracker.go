package hooks

import (
	"encoding/json"
	"fmt"

	"github.com/AlfredDev/novagate/snapshot"
)

// NamedValue is one extracted field a Selector produced from a snapshot.
type NamedValue struct {
	Name  string
	Value any
}

// Selector pulls named fields out of one snapshot's payload. Selectors
// are pure: given the same snapshot they always produce the same
// values, and they never mutate pipeline state — the tracker is purely
// observational.
type Selector func(s snapshot.Snapshot) []NamedValue

// Trace is one snapshot's extracted field set.
type Trace struct {
	Stage  snapshot.Phase
	NodeID string // RequestID
	Values []NamedValue
}

// Change records one field's value differing between two consecutive
// snapshots for the same request.
type Change struct {
	SpecID      string
	Stage       snapshot.Phase
	Previous    any
	Current     any
	Description string
}

// Tracker runs the registered Selectors over a request's accumulated
// snapshots, in arrival order, producing a Trace per snapshot and a
// Change list between consecutive snapshots.
type Tracker struct {
	selectors map[string]Selector
}

// NewTracker builds a tracker with the standard selector set
// (messages-by-role, tool-calls, tools-list, primary-content,
// route-target, model-id, usage) pre-registered.
func NewTracker() *Tracker {
	t := &Tracker{selectors: make(map[string]Selector)}
	t.Register("messages-by-role", selectMessagesByRole)
	t.Register("tool-calls", selectToolCalls)
	t.Register("tools-list", selectToolsList)
	t.Register("primary-content", selectPrimaryContent)
	t.Register("route-target", selectRouteTarget)
	t.Register("model-id", selectModelID)
	t.Register("usage", selectUsage)
	return t
}

// Register installs or replaces a named selector.
func (t *Tracker) Register(name string, sel Selector) {
	t.selectors[name] = sel
}

// Trace extracts every registered selector's values from one snapshot.
func (t *Tracker) Trace(s snapshot.Snapshot) Trace {
	trace := Trace{Stage: s.Phase, NodeID: s.RequestID}
	for _, sel := range t.selectors {
		trace.Values = append(trace.Values, sel(s)...)
	}
	return trace
}

// Diff compares two consecutive snapshots field-by-field (by selector
// output name) and returns every field whose value changed.
func (t *Tracker) Diff(prev, current snapshot.Snapshot) []Change {
	prevTrace := t.Trace(prev)
	currTrace := t.Trace(current)

	prevByName := make(map[string]any, len(prevTrace.Values))
	for _, v := range prevTrace.Values {
		prevByName[v.Name] = v.Value
	}

	var changes []Change
	for _, v := range currTrace.Values {
		old, existed := prevByName[v.Name]
		if !existed || fmt.Sprintf("%v", old) != fmt.Sprintf("%v", v.Value) {
			changes = append(changes, Change{
				SpecID:      v.Name,
				Stage:       current.Phase,
				Previous:    old,
				Current:     v.Value,
				Description: fmt.Sprintf("%s changed at %s", v.Name, current.Phase),
			})
		}
	}
	return changes
}

func decodePayload(s snapshot.Snapshot) map[string]any {
	var m map[string]any
	_ = json.Unmarshal(s.Payload, &m)
	return m
}

func selectMessagesByRole(s snapshot.Snapshot) []NamedValue {
	payload := decodePayload(s)
	messages, ok := payload["messages"].([]any)
	if !ok {
		return nil
	}
	byRole := map[string]int{}
	for _, m := range messages {
		if msg, ok := m.(map[string]any); ok {
			if role, ok := msg["role"].(string); ok {
				byRole[role]++
			}
		}
	}
	return []NamedValue{{Name: "messages-by-role", Value: byRole}}
}

func selectToolCalls(s snapshot.Snapshot) []NamedValue {
	payload := decodePayload(s)
	if calls, ok := payload["tool_calls"]; ok {
		return []NamedValue{{Name: "tool-calls", Value: calls}}
	}
	return nil
}

func selectToolsList(s snapshot.Snapshot) []NamedValue {
	payload := decodePayload(s)
	if tools, ok := payload["tools"]; ok {
		return []NamedValue{{Name: "tools-list", Value: tools}}
	}
	return nil
}

func selectPrimaryContent(s snapshot.Snapshot) []NamedValue {
	payload := decodePayload(s)
	if content, ok := payload["content"]; ok {
		return []NamedValue{{Name: "primary-content", Value: content}}
	}
	if text, ok := payload["text"]; ok {
		return []NamedValue{{Name: "primary-content", Value: text}}
	}
	return nil
}

func selectRouteTarget(s snapshot.Snapshot) []NamedValue {
	payload := decodePayload(s)
	if target, ok := payload["route_target"]; ok {
		return []NamedValue{{Name: "route-target", Value: target}}
	}
	return nil
}

func selectModelID(s snapshot.Snapshot) []NamedValue {
	payload := decodePayload(s)
	if model, ok := payload["model"]; ok {
		return []NamedValue{{Name: "model-id", Value: model}}
	}
	return nil
}

// selectUsage prefers upstream-reported usage when present; otherwise
// it falls back to a best-effort estimate via tokencount.go, since
// mid-stream snapshots (before the terminal usage event) never carry
// real token counts.
func selectUsage(s snapshot.Snapshot) []NamedValue {
	payload := decodePayload(s)
	if usage, ok := payload["usage"]; ok {
		return []NamedValue{{Name: "usage", Value: usage}}
	}

	model, _ := payload["model"].(string)
	text, _ := payload["text"].(string)
	if text == "" {
		return nil
	}
	counter := NewTokenCounter(model)
	return []NamedValue{{Name: "usage", Value: map[string]int{"estimated_tokens": counter.CountText(text)}}}
}
