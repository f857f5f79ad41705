package compat

import (
	"fmt"
	"sync"
	"time"
)

// AntigravityHook strips Gemini-family headers that Antigravity's
// backend rejects, injects a session id header (a freshly generated
// one when the request carries none), and
// conditionally rewrites the session id using the most recently
// observed 429 signature. The signature cache is process-local and
// intentionally never persisted (spec Open Question resolution: the
// swap-on-429 behavior does not survive a restart).
type AntigravityHook struct {
	mu          sync.Mutex
	lastSigByAlias map[string]string
	newSessionID   func() string
}

// NewAntigravityHook constructs the hook. newSessionID is injected for
// testability; pass nil to use a timestamp-based default.
func NewAntigravityHook(newSessionID func() string) *AntigravityHook {
	if newSessionID == nil {
		newSessionID = func() string { return fmt.Sprintf("ag-%d", time.Now().UnixNano()) }
	}
	return &AntigravityHook{
		lastSigByAlias: make(map[string]string),
		newSessionID:   newSessionID,
	}
}

func (h *AntigravityHook) Finalize(ctx *HookContext) error {
	delete(ctx.Headers, "x-goog-api-client")
	delete(ctx.Headers, "X-Goog-Api-Client")
	delete(ctx.Headers, "client-metadata")
	delete(ctx.Headers, "originator")

	sessionID := ctx.SessionID
	if sessionID == "" {
		sessionID = h.newSessionID()
	}

	h.mu.Lock()
	if sig, ok := h.lastSigByAlias[ctx.Alias]; ok {
		sessionID = sig
	}
	h.mu.Unlock()

	ctx.Headers["X-Antigravity-Session-Id"] = sessionID
	ctx.SessionID = sessionID
	return nil
}

// OnRateLimited records the session signature seen on a 429 so the
// next request for this alias swaps to it. Process-local only.
func (h *AntigravityHook) OnRateLimited(alias, observedSignature string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSigByAlias[alias] = observedSignature
}
