package vrouter

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Strategy selects one ProviderKey from an ordered candidate list.
// Implementations must tolerate an empty slice by returning "".
type Strategy interface {
	Select(candidates []ProviderKey) ProviderKey
}

// RoundRobin cycles through candidates in order, independent of any
// per-candidate weight.
type RoundRobin struct {
	counter uint64
}

func (r *RoundRobin) Select(candidates []ProviderKey) ProviderKey {
	if len(candidates) == 0 {
		return ""
	}
	n := atomic.AddUint64(&r.counter, 1)
	return candidates[(n-1)%uint64(len(candidates))]
}

// Weighted selects proportionally to each Target's configured Weight,
// using deterministic smooth weighted round-robin (per-target credits)
// than randomness, so selection is reproducible across replays.
type Weighted struct {
	mu      sync.Mutex
	weights map[ProviderKey]int
	cursor  map[ProviderKey]int // current credit per key, Nginx-smooth-WRR style
}

// NewWeighted builds a Weighted strategy from a pool's targets.
func NewWeighted(targets []Target) *Weighted {
	weights := make(map[ProviderKey]int, len(targets))
	cursor := make(map[ProviderKey]int, len(targets))
	for _, t := range targets {
		w := t.Weight
		if w <= 0 {
			w = 1
		}
		weights[t.Key] = w
	}
	return &Weighted{weights: weights, cursor: cursor}
}

func (w *Weighted) Select(candidates []ProviderKey) ProviderKey {
	if len(candidates) == 0 {
		return ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var best ProviderKey
	bestCredit := math.MinInt64
	total := 0
	for _, c := range candidates {
		weight := w.weights[c]
		if weight <= 0 {
			weight = 1
		}
		w.cursor[c] += weight
		total += weight
		if w.cursor[c] > bestCredit {
			bestCredit = w.cursor[c]
			best = c
		}
	}
	if best != "" {
		w.cursor[best] -= total
	}
	return best
}

// LoadCounter reports how many requests are currently in flight for a
// given key. middleware/concurrency.go implements this for the live
// gateway; tests can supply a map-backed fake.
type LoadCounter interface {
	InFlight(key ProviderKey) int
}

// LeastLoaded picks the candidate with the fewest in-flight requests,
// breaking ties lexicographically for determinism.
type LeastLoaded struct {
	Load LoadCounter
}

func (l *LeastLoaded) Select(candidates []ProviderKey) ProviderKey {
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	bestLoad := l.Load.InFlight(best)
	for _, c := range candidates[1:] {
		load := l.Load.InFlight(c)
		if load < bestLoad || (load == bestLoad && c < best) {
			best = c
			bestLoad = load
		}
	}
	return best
}

// latencyTracker is one ProviderKey's EWMA latency signal, adapted
// 1:1 from routing/sla_balancer.go's ProviderHealth — same smoothing
// factor and decaying-penalty math — trimmed to latency only, since
// error-rate/availability scoring belongs to the quota control loop,
// not the selection strategy.
type latencyTracker struct {
	mu sync.Mutex

	ewmaLatencyMs float64
	ewmaAlpha     float64

	penalty     float64
	penaltyTime time.Time
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{ewmaAlpha: 0.3}
}

func (t *latencyTracker) recordLatency(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ewmaLatencyMs == 0 {
		t.ewmaLatencyMs = ms
	} else {
		t.ewmaLatencyMs = t.ewmaAlpha*ms + (1-t.ewmaAlpha)*t.ewmaLatencyMs
	}
}

func (t *latencyTracker) addPenalty(amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.penalty = math.Min(1.0, t.penalty+amount)
	t.penaltyTime = time.Now()
}

func (t *latencyTracker) score() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	currentPenalty := t.penalty
	if currentPenalty > 0 && !t.penaltyTime.IsZero() {
		elapsed := time.Since(t.penaltyTime).Minutes()
		currentPenalty = t.penalty * math.Exp(-elapsed/5.0)
		if currentPenalty < 0.01 {
			currentPenalty = 0
		}
	}

	latency := t.ewmaLatencyMs
	if latency == 0 {
		latency = 1 // unseen provider: treat as fastest until proven otherwise
	}
	return (1.0 / latency) * (1.0 - currentPenalty)
}

// FastestEMA selects the candidate with the lowest observed EWMA
// latency, decayed by any recent-failure penalty.
type FastestEMA struct {
	mu       sync.Mutex
	trackers map[ProviderKey]*latencyTracker
}

// NewFastestEMA constructs an empty latency-tracking strategy.
func NewFastestEMA() *FastestEMA {
	return &FastestEMA{trackers: make(map[ProviderKey]*latencyTracker)}
}

// RecordLatency feeds an observed round-trip latency for key into its
// EWMA tracker, creating one on first use.
func (f *FastestEMA) RecordLatency(key ProviderKey, ms float64) {
	f.trackerFor(key).recordLatency(ms)
}

// RecordFailure applies a penalty to key's score, decaying over
// roughly five minutes, so a recently-failing provider is deprioritized
// without being removed from the candidate set outright.
func (f *FastestEMA) RecordFailure(key ProviderKey) {
	f.trackerFor(key).addPenalty(0.3)
}

func (f *FastestEMA) trackerFor(key ProviderKey) *latencyTracker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trackers[key]
	if !ok {
		t = newLatencyTracker()
		f.trackers[key] = t
	}
	return t
}

func (f *FastestEMA) Select(candidates []ProviderKey) ProviderKey {
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	bestScore := f.trackerFor(best).score()
	for _, c := range candidates[1:] {
		score := f.trackerFor(c).score()
		if score > bestScore || (score == bestScore && c < best) {
			best = c
			bestScore = score
		}
	}
	return best
}
