package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AlfredDev/novagate/config"
	"github.com/AlfredDev/novagate/quota"
	"github.com/AlfredDev/novagate/vrouter"
)

type providerStateView struct {
	Key      string  `json:"key"`
	Kind     string  `json:"kind"`
	UntilMs  int64   `json:"untilMs,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	Remaining *float64 `json:"remainingQuotaFraction,omitempty"`
}

// QuotaHandler exposes the quota control loop's admin surface, gated
// behind middleware.LoopbackOnly at the router layer (per spec §14 —
// these are operator endpoints, never reachable from the public
// dataplane listener).
type QuotaHandler struct {
	loop     *quota.Loop
	profiles func() map[string]config.ProviderProfile
}

// NewQuotaHandler wires the quota loop and live provider profiles into
// the admin handler.
func NewQuotaHandler(loop *quota.Loop, profiles func() map[string]config.ProviderProfile) *QuotaHandler {
	return &QuotaHandler{loop: loop, profiles: profiles}
}

func (h *QuotaHandler) allKeys() []vrouter.ProviderKey {
	var keys []vrouter.ProviderKey
	for _, profile := range h.profiles() {
		aliases := profile.KeyAliases
		if len(aliases) == 0 {
			aliases = []config.KeyAlias{{Alias: ""}}
		}
		for _, model := range profile.Models {
			for _, alias := range aliases {
				keys = append(keys, vrouter.NewProviderKey(profile.ID, model, alias.Alias))
			}
		}
	}
	return keys
}

func toStateView(key vrouter.ProviderKey, s quota.ProviderState) providerStateView {
	v := providerStateView{Key: string(key), Kind: string(s.Kind), UntilMs: s.UntilMs, Reason: s.Reason}
	return v
}

// Summary implements GET /quota/summary: a count of keys per state.
func (h *QuotaHandler) Summary(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	for _, key := range h.allKeys() {
		s := h.loop.Snapshot(key)
		counts[string(s.Kind)]++
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts, "total": len(h.allKeys())})
}

// Providers implements GET /quota/providers: the per-key state table.
func (h *QuotaHandler) Providers(w http.ResponseWriter, r *http.Request) {
	views := make([]providerStateView, 0)
	for _, key := range h.allKeys() {
		views = append(views, toStateView(key, h.loop.Snapshot(key)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": views})
}

// ResetProvider implements POST /quota/providers/{key}/reset.
func (h *QuotaHandler) ResetProvider(w http.ResponseWriter, r *http.Request) {
	key := vrouter.ProviderKey(chi.URLParam(r, "key"))
	h.loop.Reset(key)
	writeJSON(w, http.StatusOK, toStateView(key, h.loop.Snapshot(key)))
}

// RecoverProvider implements POST /quota/providers/{key}/recover.
func (h *QuotaHandler) RecoverProvider(w http.ResponseWriter, r *http.Request) {
	key := vrouter.ProviderKey(chi.URLParam(r, "key"))
	h.loop.Recover(key)
	writeJSON(w, http.StatusOK, toStateView(key, h.loop.Snapshot(key)))
}

// DisableProvider implements POST /quota/providers/{key}/disable. An
// optional JSON body {blacklist: bool, durationSeconds: int} controls
// severity and length; defaults to a cooldown of 5 minutes.
func (h *QuotaHandler) DisableProvider(w http.ResponseWriter, r *http.Request) {
	key := vrouter.ProviderKey(chi.URLParam(r, "key"))

	var body struct {
		Blacklist       bool `json:"blacklist"`
		DurationSeconds int  `json:"durationSeconds"`
	}
	_ = decodeOptionalJSON(r, &body)

	duration := 5 * time.Minute
	if body.DurationSeconds > 0 {
		duration = time.Duration(body.DurationSeconds) * time.Second
	}
	h.loop.Disable(key, body.Blacklist, duration)
	writeJSON(w, http.StatusOK, toStateView(key, h.loop.Snapshot(key)))
}

// Refresh implements POST /quota/refresh: forces an immediate remote
// quota poll is out of scope of Loop's exported surface (PeriodicRefresh
// only runs on its own ticker), so this reports the current snapshot of
// every key instead of triggering a synchronous out-of-band fetch.
func (h *QuotaHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.Providers(w, r)
}

// Runtime implements GET /quota/runtime: a liveness-oriented view of
// in-pool vs not, without the full state detail of Providers.
func (h *QuotaHandler) Runtime(w http.ResponseWriter, r *http.Request) {
	inPool, other := 0, 0
	for _, key := range h.allKeys() {
		if h.loop.InPool(key) {
			inPool++
		} else {
			other++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"inPool": inPool, "unavailable": other})
}

func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}
