// Package compat implements the compatibility mapper: a configurable
// validate → filter → map → filter chain applied to requests before
// they leave for a provider, and to responses before they return to
// the client, plus the small set of provider-family hooks (iFlow,
// Qwen, Antigravity, DeepSeek, GLM, Codex) that need bespoke header or
// endpoint treatment beyond generic field mapping.
package compat

import (
	"fmt"
)

// FieldRewrite moves or renames a JSON field path.
type FieldRewrite struct {
	From string
	To   string
}

// FieldMapConfig is the already-decoded shape driving one provider's
// compatibility profile. Decoding the file format itself is out of
// scope here — callers hand in a parsed config.
type FieldMapConfig struct {
	ID            string
	AllowFields   []string // empty = allow all
	DenyFields    []string
	Rewrites      []FieldRewrite
	RequireFields []string
}

// Direction distinguishes the request path from the response path —
// the four-stage chain runs for both, with different configs.
type Direction int

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

// Mapper runs the four-stage chain for a provider's compatibility
// profile. Configs are keyed first by direction, then by profile id —
// a provider's request-shape profile and response-shape profile are
// independent and may list different allow/deny/rewrite rules.
type Mapper struct {
	configs map[Direction]map[string]FieldMapConfig
}

// NewMapper constructs a Mapper over a set of profiles keyed by
// direction and then by id.
func NewMapper(configs map[Direction]map[string]FieldMapConfig) *Mapper {
	return &Mapper{configs: configs}
}

// Apply runs validate → filter → map → filter on payload using the
// profile registered for profileID under direction.
func (m *Mapper) Apply(profileID string, direction Direction, payload map[string]any) (map[string]any, error) {
	cfg, ok := m.configs[direction][profileID]
	if !ok {
		return payload, nil
	}

	if err := validate(cfg, payload); err != nil {
		return nil, fmt.Errorf("compat: validate %s: %w", profileID, err)
	}

	payload = filterDeny(cfg, payload)
	payload = rewrite(cfg, payload)
	payload = filterDeny(cfg, payload) // second pass: rewrites may introduce denied paths

	return payload, nil
}

func validate(cfg FieldMapConfig, payload map[string]any) error {
	for _, field := range cfg.RequireFields {
		if _, ok := payload[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	return nil
}

func filterDeny(cfg FieldMapConfig, payload map[string]any) map[string]any {
	if len(cfg.DenyFields) == 0 && len(cfg.AllowFields) == 0 {
		return payload
	}

	out := make(map[string]any, len(payload))
	allow := toSet(cfg.AllowFields)
	deny := toSet(cfg.DenyFields)

	for k, v := range payload {
		if len(allow) > 0 && !allow[k] {
			continue
		}
		if deny[k] {
			continue
		}
		out[k] = v
	}
	return out
}

func rewrite(cfg FieldMapConfig, payload map[string]any) map[string]any {
	if len(cfg.Rewrites) == 0 {
		return payload
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for _, rw := range cfg.Rewrites {
		if v, ok := out[rw.From]; ok {
			delete(out, rw.From)
			out[rw.To] = v
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

// HookContext is the mutable per-request state a FamilyHook operates
// on. Hooks are pure over this context: no hook retains state outside
// what it's handed here.
type HookContext struct {
	ProviderID string
	Alias      string
	Model      string
	Endpoint   string // mutable: a hook may rewrite this
	Headers    map[string]string
	Body       []byte
	APIKey     string
	SessionID  string
	UserAgent  string
}

// FamilyHook applies one provider family's header/endpoint/body quirks
// in place on ctx.
type FamilyHook interface {
	Finalize(ctx *HookContext) error
}

// Registry dispatches to the registered FamilyHook by provider family id.
type Registry struct {
	hooks map[string]FamilyHook
}

// NewRegistry constructs an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]FamilyHook)}
}

// Register installs a hook under familyID.
func (r *Registry) Register(familyID string, hook FamilyHook) {
	r.hooks[familyID] = hook
}

// Apply runs the hook registered for familyID, if any. Providers with
// no registered hook pass through unchanged.
func (r *Registry) Apply(familyID string, ctx *HookContext) error {
	hook, ok := r.hooks[familyID]
	if !ok {
		return nil
	}
	return hook.Finalize(ctx)
}
