package handler

import (
	"net/http"

	"github.com/AlfredDev/novagate/config"
)

// SystemHandler serves the host-level endpoints that aren't part of
// either dataplane dialect surface: health probes and a read-only view
// of the running configuration. Health checks stay unauthenticated
// since orchestrators (k8s, ECS) probe them without a gateway key.
type SystemHandler struct {
	cfg      *config.Config
	profiles func() map[string]config.ProviderProfile
	reload   func() error
}

// NewSystemHandler wires the live config and profile map so /config
// reflects whatever LoadProviderProfiles last returned, not a snapshot
// frozen at startup. reload re-reads the Provider Profile and Route
// Definition files and swaps the live route table/profile map in place.
func NewSystemHandler(cfg *config.Config, profiles func() map[string]config.ProviderProfile, reload func() error) *SystemHandler {
	return &SystemHandler{cfg: cfg, profiles: profiles, reload: reload}
}

// Healthz reports liveness: the process is up and serving.
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "novagate"})
}

// Ready reports readiness: at least one provider profile is loaded.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if len(h.profiles()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "service": "novagate", "reason": "no provider profiles loaded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "novagate"})
}

// configView is the redacted shape of Config exposed over /config —
// no tokens, no gateway API key, nothing Vault-adjacent.
type configView struct {
	Env                     string `json:"env"`
	Addr                    string `json:"addr"`
	AdminAddr               string `json:"adminAddr"`
	RateLimitEnabled        bool   `json:"rateLimitEnabled"`
	RateLimitRPM            int    `json:"rateLimitRpm"`
	RateLimitBurst          int    `json:"rateLimitBurst"`
	DefaultTimeoutMs        int64  `json:"defaultTimeoutMs"`
	MaxBodyBytes            int64  `json:"maxBodyBytes"`
	QuotaBlacklistThreshold int    `json:"quotaBlacklistThreshold"`
	QuotaRefreshIntervalSec int    `json:"quotaRefreshIntervalSec"`
	ProviderCount           int    `json:"providerCount"`
}

// Config returns a redacted snapshot of the running configuration —
// gated by middleware.LoopbackOnly at the router layer, same as the
// quota admin surface.
func (h *SystemHandler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configView{
		Env:                     h.cfg.Env,
		Addr:                    h.cfg.Addr,
		AdminAddr:               h.cfg.AdminAddr,
		RateLimitEnabled:        h.cfg.RateLimitEnabled,
		RateLimitRPM:            h.cfg.RateLimitRPM,
		RateLimitBurst:          h.cfg.RateLimitBurst,
		DefaultTimeoutMs:        h.cfg.DefaultTimeout.Milliseconds(),
		MaxBodyBytes:            h.cfg.MaxBodyBytes,
		QuotaBlacklistThreshold: h.cfg.QuotaBlacklistThreshold,
		QuotaRefreshIntervalSec: h.cfg.QuotaRefreshIntervalSec,
		ProviderCount:           len(h.profiles()),
	})
}

// Reload re-reads the Provider Profile and Route Definition files from
// disk without restarting the process — loopback-only, same gating as
// /config and the quota admin surface.
func (h *SystemHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.reload(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
