// Package vrouter implements the virtual router engine: route/pool/target
// matching, session stickiness directives, and provider selection
// strategies.
package vrouter

import (
	"fmt"
	"regexp"
)

// ProviderKey identifies a (providerId, modelId, keyAlias) combination.
// Mirrors transport.ProviderKey; kept as a distinct string type here so
// vrouter has no import dependency on transport.
type ProviderKey string

// NewProviderKey returns providerId.modelId[.keyAlias].
func NewProviderKey(providerID, modelID, keyAlias string) ProviderKey {
	if keyAlias == "" {
		return ProviderKey(fmt.Sprintf("%s.%s", providerID, modelID))
	}
	return ProviderKey(fmt.Sprintf("%s.%s.%s", providerID, modelID, keyAlias))
}

// Target is one candidate a Pool can resolve to.
type Target struct {
	Key      ProviderKey
	Weight   int // used by the weighted strategy; 1 if unset
	FamilyID string
}

// Pool is an ordered group of Targets tried together before falling
// through to the next Pool in a Route (primary then backup).
type Pool struct {
	Name     string
	Targets  []Target
	Strategy string // "round_robin" | "weighted" | "least_loaded" | "fastest_ema"
}

// Pattern is the match predicate for a Route, generalized from
// routing/routing.go's flat Condition list into a struct so the
// common "match on model + headers + metadata" shape doesn't need a
// condition-by-condition AND loop at request time.
type Pattern struct {
	ModelRegex string
	Headers    map[string]string
	Metadata   map[string]string

	compiledModel *regexp.Regexp
}

// Compile precompiles ModelRegex. Call once at config load time.
func (p *Pattern) Compile() error {
	if p.ModelRegex == "" {
		return nil
	}
	re, err := regexp.Compile(p.ModelRegex)
	if err != nil {
		return fmt.Errorf("vrouter: invalid model pattern %q: %w", p.ModelRegex, err)
	}
	p.compiledModel = re
	return nil
}

func (p *Pattern) matches(meta RequestMeta) bool {
	if p.compiledModel != nil && !p.compiledModel.MatchString(meta.Model) {
		return false
	}
	for k, v := range p.Headers {
		if meta.Headers[k] != v {
			return false
		}
	}
	for k, v := range p.Metadata {
		if meta.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Route is an ordered sequence of Pools (primary then backup) selected
// by Pattern, or used as the configured default when no Pattern
// matches any candidate route.
type Route struct {
	ID      string
	Pattern Pattern
	Pools   []Pool
	Default bool
}

// RequestMeta carries the fields a Route's Pattern can match against.
type RequestMeta struct {
	Model    string
	Headers  map[string]string
	Metadata map[string]string
	Hint     string // explicit caller-supplied routeHint, wins unconditionally
}

// Table holds the configured routes, compiled once at load time.
type Table struct {
	routes   []Route
	byID     map[string]*Route
	fallback *Route
}

// NewTable builds a route table, compiling every Pattern and indexing
// by ID. The last route with Default=true wins as the fallback.
func NewTable(routes []Route) (*Table, error) {
	t := &Table{byID: make(map[string]*Route)}
	for i := range routes {
		if err := routes[i].Pattern.Compile(); err != nil {
			return nil, err
		}
		t.routes = append(t.routes, routes[i])
		r := &t.routes[len(t.routes)-1]
		t.byID[r.ID] = r
		if r.Default {
			t.fallback = r
		}
	}
	return t, nil
}

// MatchRoute implements spec §4.7 step 1: explicit hint wins, else the
// first route whose Pattern matches, else the configured default.
func (t *Table) MatchRoute(meta RequestMeta) (*Route, bool) {
	if meta.Hint != "" {
		if r, ok := t.byID[meta.Hint]; ok {
			return r, true
		}
	}
	for i := range t.routes {
		if t.routes[i].Pattern.matches(meta) {
			return &t.routes[i], true
		}
	}
	if t.fallback != nil {
		return t.fallback, true
	}
	return nil, false
}
