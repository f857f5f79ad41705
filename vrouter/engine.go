package vrouter

import "fmt"

// ErrNoRouteAvailable is returned when every pool in a matched Route
// was exhausted without yielding an InPool candidate.
var ErrNoRouteAvailable = fmt.Errorf("vrouter: no route available")

// QuotaView is the read side of the quota control loop vrouter needs:
// whether a key is currently eligible for selection. Declared here
// (rather than importing quota) so quota can depend on vrouter's
// ProviderKey type without a cycle; quota.Loop satisfies this.
type QuotaView interface {
	InPool(key ProviderKey) bool
}

// RouteDecision is the outcome of routing one request: the chosen
// target, the route/pool it came from, and the full ordered candidate
// list the strategy picked from (useful for logging and for a caller
// that wants to retry the next candidate on failure).
type RouteDecision struct {
	RouteID   string
	PoolName  string
	Target    ProviderKey
	FamilyID  string
	Fallback  []ProviderKey // remaining InPool candidates, in pool order, after Target
}

// Engine ties the route table, session store, quota view, and
// per-pool strategies together into the single Route(request, meta)
// call the pipeline orchestrator invokes.
type Engine struct {
	table       *Table
	sessions    *SessionStore
	quota       QuotaView
	loadCounter LoadCounter
	cache       map[string]Strategy // one live strategy instance per pool, keyed by route+pool name
}

// NewEngine builds a routing engine. strategyFor resolves a pool's
// configured Strategy name to an instance; the engine caches one
// instance per (route, pool) so stateful strategies (round-robin
// cursor, EMA trackers) persist across requests.
func NewEngine(table *Table, sessions *SessionStore, quota QuotaView) *Engine {
	e := &Engine{
		table:       table,
		sessions:    sessions,
		quota:       quota,
		loadCounter: noopLoadCounter{},
		cache:       make(map[string]Strategy),
	}
	return e
}

// SetLoadCounter wires a live in-flight-request counter (normally
// middleware/concurrency.go) into the least_loaded strategy. Until
// called, every key reports zero load and least_loaded always picks
// the lexicographically smallest candidate.
func (e *Engine) SetLoadCounter(lc LoadCounter) {
	e.loadCounter = lc
}

// Route implements spec §4.7 steps 1-5: match the route, walk its
// pools in order (primary then backup), filter each pool's targets to
// InPool candidates, apply session directives, then hand the survivors
// to the pool's strategy. Pools are walked at most once per request.
func (e *Engine) Route(meta RequestMeta, sessionID string) (*RouteDecision, error) {
	route, ok := e.table.MatchRoute(meta)
	if !ok {
		return nil, ErrNoRouteAvailable
	}

	directives := Directives{}
	if sessionID != "" && e.sessions != nil {
		directives = e.sessions.Get(sessionID)
	}

	for _, pool := range route.Pools {
		candidates := e.inPoolCandidates(pool)
		candidates = ApplyDirectives(candidates, directives)
		if len(candidates) == 0 {
			continue
		}

		strategy := e.strategyFor(route.ID, pool)
		chosen := strategy.Select(candidates)
		if chosen == "" {
			continue
		}

		familyID := familyIDFor(pool, chosen)
		fallback := make([]ProviderKey, 0, len(candidates)-1)
		for _, c := range candidates {
			if c != chosen {
				fallback = append(fallback, c)
			}
		}

		return &RouteDecision{
			RouteID:  route.ID,
			PoolName: pool.Name,
			Target:   chosen,
			FamilyID: familyID,
			Fallback: fallback,
		}, nil
	}

	return nil, ErrNoRouteAvailable
}

func (e *Engine) inPoolCandidates(pool Pool) []ProviderKey {
	candidates := make([]ProviderKey, 0, len(pool.Targets))
	for _, t := range pool.Targets {
		if e.quota == nil || e.quota.InPool(t.Key) {
			candidates = append(candidates, t.Key)
		}
	}
	return candidates
}

func familyIDFor(pool Pool, key ProviderKey) string {
	for _, t := range pool.Targets {
		if t.Key == key {
			return t.FamilyID
		}
	}
	return ""
}

func (e *Engine) strategyFor(routeID string, pool Pool) Strategy {
	cacheKey := routeID + "|" + pool.Name
	if s, ok := e.cache[cacheKey]; ok {
		return s
	}

	var s Strategy
	switch pool.Strategy {
	case "weighted":
		s = NewWeighted(pool.Targets)
	case "fastest_ema":
		s = NewFastestEMA()
	case "least_loaded":
		s = &LeastLoaded{Load: e.loadCounter}
	default:
		s = &RoundRobin{}
	}
	e.cache[cacheKey] = s
	return s
}

// noopLoadCounter is the default LeastLoaded backing when the caller
// hasn't wired middleware/concurrency.go's live counters in; every key
// reports zero load, so LeastLoaded's lexicographic tie-break decides.
type noopLoadCounter struct{}

func (noopLoadCounter) InFlight(ProviderKey) int { return 0 }
