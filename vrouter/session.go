package vrouter

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// sessionDirectiveTTL is how long a parsed sticky/disable directive
// stays in effect after last being seen in a session's messages.
// Decided at 5 minutes per the gateway's stated session-affinity window.
const sessionDirectiveTTL = 5 * time.Minute

var (
	stickyDirectiveRe  = regexp.MustCompile(`<\*\*!([a-zA-Z0-9_\-.]+)\*\*>`)
	disableDirectiveRe = regexp.MustCompile(`<\*\*#([a-zA-Z0-9_\-.,]+)\*\*>`)
)

// Directives is the parsed result of scanning message content for
// session control syntax.
type Directives struct {
	Sticky  ProviderKey
	Disable []ProviderKey
}

// ParseDirectives scans content for `<**!provider**>` (sticky) and
// `<**#a,b**>` (disable) tags. Disable takes precedence over sticky
// when both name the same provider — callers apply disable first.
func ParseDirectives(content string) Directives {
	var d Directives
	if m := stickyDirectiveRe.FindStringSubmatch(content); m != nil {
		d.Sticky = ProviderKey(m[1])
	}
	if m := disableDirectiveRe.FindStringSubmatch(content); m != nil {
		for _, key := range strings.Split(m[1], ",") {
			key = strings.TrimSpace(key)
			if key != "" {
				d.Disable = append(d.Disable, ProviderKey(key))
			}
		}
	}
	return d
}

type sessionEntry struct {
	mu         sync.Mutex
	directives Directives
	expiresAt  time.Time
}

// SessionStore holds per-session sticky/disable state, sharded by a
// map-of-mutexes keyed on session id rather than one global lock, so
// concurrent sessions never contend on each other's directive updates.
type SessionStore struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

// NewSessionStore constructs an empty session directive store.
func NewSessionStore() *SessionStore {
	return &SessionStore{entries: make(map[string]*sessionEntry)}
}

// Update merges newly observed directives into a session's state,
// refreshing its TTL. A directive type not present in this update
// (e.g. a message with no sticky tag) leaves the prior value intact
// until it expires.
func (s *SessionStore) Update(sessionID string, observed Directives) {
	entry := s.entryFor(sessionID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if observed.Sticky != "" {
		entry.directives.Sticky = observed.Sticky
	}
	if len(observed.Disable) > 0 {
		entry.directives.Disable = observed.Disable
	}
	entry.expiresAt = time.Now().Add(sessionDirectiveTTL)
}

// Get returns the active directives for a session, or a zero value if
// the session has no directives or they've expired.
func (s *SessionStore) Get(sessionID string) Directives {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Directives{}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if time.Now().After(entry.expiresAt) {
		return Directives{}
	}
	return entry.directives
}

func (s *SessionStore) entryFor(sessionID string) *sessionEntry {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[sessionID]; ok {
		return entry
	}
	entry = &sessionEntry{}
	s.entries[sessionID] = entry
	return entry
}

// Sweep removes sessions whose directives have expired. Intended to
// run on a periodic ticker so SessionStore doesn't grow unboundedly
// across the lifetime of a long-running gateway process.
func (s *SessionStore) Sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		entry.mu.Lock()
		expired := now.After(entry.expiresAt)
		entry.mu.Unlock()
		if expired {
			delete(s.entries, id)
		}
	}
}

// ApplyDirectives filters candidates by a session's disable set, then
// — if the sticky provider survived filtering — moves it to the
// front. Disable always wins over sticky for the same provider,
// because filtering runs before the sticky promotion.
func ApplyDirectives(candidates []ProviderKey, d Directives) []ProviderKey {
	if len(d.Disable) == 0 && d.Sticky == "" {
		return candidates
	}

	disabled := make(map[ProviderKey]bool, len(d.Disable))
	for _, k := range d.Disable {
		disabled[k] = true
	}

	filtered := make([]ProviderKey, 0, len(candidates))
	for _, c := range candidates {
		if !disabled[c] {
			filtered = append(filtered, c)
		}
	}

	if d.Sticky == "" || disabled[d.Sticky] {
		return filtered
	}

	for i, c := range filtered {
		if c == d.Sticky {
			reordered := make([]ProviderKey, 0, len(filtered))
			reordered = append(reordered, c)
			reordered = append(reordered, filtered[:i]...)
			reordered = append(reordered, filtered[i+1:]...)
			return reordered
		}
	}
	return filtered
}
