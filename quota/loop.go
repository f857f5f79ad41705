package quota

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/novagate/transport"
)

const (
	defaultBaselineCooldown  = 5 * time.Second
	defaultMaxCooldown       = 10 * time.Minute
	defaultBlacklistDuration = 1 * time.Hour
	defaultBlacklistThreshold = 3
)

// RemoteQuotaFetcher fetches a provider family's live quota snapshot.
// Only families with a fetcher wired through RegisterFetcher get
// periodic remote refresh (main.go registers none); others rely purely
// on OnSuccess/OnFailure transitions.
type RemoteQuotaFetcher interface {
	FetchQuota(ctx context.Context, key ProviderKey) (remainingFraction float64, resetAtMs int64, err error)
}

// Loop holds the process-wide provider state map behind a single
// mutex (per spec §5: "State is a process-wide map guarded by a
// single mutex"), grounded on routing/routing.go's FailoverState
// generalized from binary healthy/unhealthy counting to the full
// four-state machine with exponential backoff and blacklist escalation.
type Loop struct {
	mu    sync.Mutex
	state map[ProviderKey]*ProviderState

	baselineCooldown  time.Duration
	maxCooldown       time.Duration
	blacklistDuration time.Duration
	blacklistThreshold int

	fetchers map[string]RemoteQuotaFetcher // keyed by family id
	logger   zerolog.Logger
}

// NewLoop constructs a quota control loop with defaults matching the
// gateway's resolved Open Question values (blacklist threshold 3,
// overridable via GATEWAY_QUOTA_BLACKLIST_THRESHOLD at config load).
func NewLoop(logger zerolog.Logger, blacklistThreshold int) *Loop {
	if blacklistThreshold <= 0 {
		blacklistThreshold = defaultBlacklistThreshold
	}
	return &Loop{
		state:              make(map[ProviderKey]*ProviderState),
		baselineCooldown:   defaultBaselineCooldown,
		maxCooldown:        defaultMaxCooldown,
		blacklistDuration:  defaultBlacklistDuration,
		blacklistThreshold: blacklistThreshold,
		fetchers:           make(map[string]RemoteQuotaFetcher),
		logger:             logger.With().Str("component", "quota-loop").Logger(),
	}
}

// RegisterFetcher wires a RemoteQuotaFetcher for a provider family so
// PeriodicRefresh can pull live quota snapshots for its keys.
func (l *Loop) RegisterFetcher(familyID string, fetcher RemoteQuotaFetcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetchers[familyID] = fetcher
}

// InPool reports whether key is currently eligible for selection.
// Implements vrouter.QuotaView.
func (l *Loop) InPool(key ProviderKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.state[key]
	if !ok {
		return true // unseen providers start eligible
	}
	return s.inPool(nowMs())
}

// Snapshot returns a copy of the current state for key, or an InPool
// zero-value state if key has never recorded a success or failure.
func (l *Loop) Snapshot(key ProviderKey) ProviderState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.state[key]
	if !ok {
		return ProviderState{Kind: KindInPool}
	}
	return *s
}

// OnSuccess resets a key's consecutive-failure counters and, if it was
// on cooldown, returns it to the pool immediately.
func (l *Loop) OnSuccess(key ProviderKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateForLocked(key)
	s.Kind = KindInPool
	s.consecutiveErrorCount = 0
	s.consecutiveCooldowns = 0
	s.UntilMs = 0
	s.Reason = ""
}

// OnFailure applies the transition table from spec §4.8 for the given
// classified error kind.
func (l *Loop) OnFailure(key ProviderKey, kind transport.ErrorKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateForLocked(key)

	switch kind {
	case transport.KindAuthInvalidToken:
		s.Kind = KindAuthBroken
		s.IssueKind = IssueUnknown
		s.Detail = "upstream returned an authentication error"
		return
	case transport.KindRateLimited:
		s.consecutiveErrorCount++
		delay := backoffDelay(l.baselineCooldown, l.maxCooldown, s.consecutiveErrorCount)
		s.Kind = KindCooldown
		s.UntilMs = nowMs() + delay.Milliseconds()
		s.Reason = "rate_limited"
		s.consecutiveCooldowns++
		l.maybeEscalateLocked(s)
	case transport.KindQuotaExhausted:
		s.consecutiveErrorCount++
		s.consecutiveCooldowns++
		delay := backoffDelay(l.baselineCooldown, l.maxCooldown, s.consecutiveErrorCount)
		s.Kind = KindCooldown
		s.UntilMs = nowMs() + delay.Milliseconds()
		s.Reason = "quota_exhausted"
		l.maybeEscalateLocked(s)
	case transport.KindUpstreamServerErr, transport.KindUpstreamTimeout:
		s.consecutiveErrorCount++
		delay := backoffDelay(l.baselineCooldown, l.maxCooldown, s.consecutiveErrorCount)
		s.Kind = KindCooldown
		s.UntilMs = nowMs() + delay.Milliseconds()
		s.Reason = string(kind)
	default:
		// BadRequest, NoRouteAvailable, ConfigInvalid, Cancelled: caller
		// error or local condition, not a provider-health signal.
	}
}

func (l *Loop) maybeEscalateLocked(s *ProviderState) {
	if s.consecutiveCooldowns >= l.blacklistThreshold {
		s.Kind = KindBlacklist
		s.UntilMs = nowMs() + l.blacklistDuration.Milliseconds()
		s.Reason = "exceeded " + strconv.Itoa(l.blacklistThreshold) + " consecutive cooldowns"
	}
}

// Reset clears all recorded state for key, returning it to InPool.
// For an alias-scoped key (e.g. an Antigravity session signature
// swap), Reset also expands to every ProviderKey sharing the
// "provider.model." prefix, per spec §4.8's alias-scoped reset rule.
func (l *Loop) Reset(key ProviderKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prefix := aliasPrefix(key)
	for k := range l.state {
		if k == key || (prefix != "" && strings.HasPrefix(string(k), prefix)) {
			l.state[k] = newInPoolState()
		}
	}
	if _, ok := l.state[key]; !ok {
		l.state[key] = newInPoolState()
	}
}

// Recover manually lifts a Cooldown/Blacklist/AuthBroken state early,
// e.g. after an operator confirms credentials were repaired out of band.
func (l *Loop) Recover(key ProviderKey) {
	l.Reset(key)
}

// Disable force-places key into Cooldown or Blacklist for duration,
// used by the admin endpoint POST /quota/providers/:key/disable.
func (l *Loop) Disable(key ProviderKey, blacklist bool, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateForLocked(key)
	if blacklist {
		s.Kind = KindBlacklist
	} else {
		s.Kind = KindCooldown
	}
	s.UntilMs = nowMs() + duration.Milliseconds()
	s.Reason = "manually disabled"
}

func (l *Loop) stateForLocked(key ProviderKey) *ProviderState {
	s, ok := l.state[key]
	if !ok {
		s = newInPoolState()
		l.state[key] = s
	}
	return s
}

// PeriodicRefresh runs until ctx is cancelled, polling every
// RemoteQuotaFetcher-registered family on interval and demoting keys
// whose remaining quota fraction drops to or below epsilon. Grounded
// on provider/healthpoller.go's ticker-driven background loop,
// redirected from binary healthy/unhealthy to the richer quota
// snapshot each fetcher returns.
func (l *Loop) PeriodicRefresh(ctx context.Context, interval time.Duration, epsilon float64, keysByFamily map[string][]ProviderKey) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.refreshOnce(ctx, epsilon, keysByFamily)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.refreshOnce(ctx, epsilon, keysByFamily)
		}
	}
}

func (l *Loop) refreshOnce(ctx context.Context, epsilon float64, keysByFamily map[string][]ProviderKey) {
	l.mu.Lock()
	fetchers := make(map[string]RemoteQuotaFetcher, len(l.fetchers))
	for k, v := range l.fetchers {
		fetchers[k] = v
	}
	l.mu.Unlock()

	for familyID, fetcher := range fetchers {
		for _, key := range keysByFamily[familyID] {
			fraction, resetAtMs, err := fetcher.FetchQuota(ctx, key)
			if err != nil {
				l.logger.Warn().Str("key", string(key)).Err(err).Msg("remote quota fetch failed")
				continue
			}

			l.mu.Lock()
			s := l.stateForLocked(key)
			f := fraction
			r := resetAtMs
			s.remainingQuotaFraction = &f
			s.resetAtMs = &r
			s.lastFetchedMs = nowMs()
			if fraction <= epsilon && s.Kind == KindInPool {
				s.Kind = KindCooldown
				s.UntilMs = resetAtMs
				s.Reason = "remote quota near exhaustion"
			}
			l.mu.Unlock()
		}
	}
}

func backoffDelay(baseline, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseline
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func aliasPrefix(key ProviderKey) string {
	parts := strings.Split(string(key), ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[0] + "." + parts[1] + "."
}
