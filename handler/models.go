package handler

import (
	"net/http"
	"sort"

	"github.com/AlfredDev/novagate/config"
	"github.com/AlfredDev/novagate/quota"
	"github.com/AlfredDev/novagate/vrouter"
)

// modelEntry is one item of the GET /v1/models listing, in the
// OpenAI-shaped "list" envelope clients already expect.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelsListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// ModelsHandler serves GET /v1/models, unioning the model catalog
// across every provider that currently has at least one in-pool
// credential, adapted from the teacher's provider/modelsync.go
// background syncer — here computed on demand from quota.Loop state
// instead of a cached background snapshot, since Loop.InPool is cheap.
type ModelsHandler struct {
	profiles func() map[string]config.ProviderProfile
	loop     *quota.Loop
}

// NewModelsHandler wires the live profile set and quota loop into the
// models handler. profiles is a func (not a static map) so a config
// reload is picked up on the next request.
func NewModelsHandler(profiles func() map[string]config.ProviderProfile, loop *quota.Loop) *ModelsHandler {
	return &ModelsHandler{profiles: profiles, loop: loop}
}

// ServeHTTP implements GET /v1/models.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]modelEntry)

	for _, profile := range h.profiles() {
		aliases := profile.KeyAliases
		if len(aliases) == 0 {
			aliases = []config.KeyAlias{{Alias: ""}}
		}
		for _, model := range profile.Models {
			if _, ok := seen[model]; ok {
				continue
			}
			for _, alias := range aliases {
				key := vrouter.NewProviderKey(profile.ID, model, alias.Alias)
				if h.loop == nil || h.loop.InPool(key) {
					seen[model] = modelEntry{ID: model, Object: "model", OwnedBy: profile.ID}
					break
				}
			}
		}
	}

	out := make([]modelEntry, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	writeJSON(w, http.StatusOK, modelsListResponse{Object: "list", Data: out})
}
