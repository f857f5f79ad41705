package credential

import (
	"context"
	"fmt"
)

// AuthSource mirrors transport.AuthSource; declared locally so this
// package doesn't import transport (which already imports credential).
type AuthSource interface {
	EnsureValid(ctx context.Context, providerID, alias string) (string, error)
}

// CompositeSource dispatches EnsureValid to the AuthSource registered
// for a provider's configured authMode. apikey-mode providers are the
// common case; oauth-mode providers (anthropic-style refresh-token
// flows) go to a shared OAuthStore. pow/cookie/tokenfile auth modes
// need per-family wiring (a POW challenge endpoint, a raw session
// cookie, a credential file path) that a generic ProviderProfile can't
// carry, so they're registered individually via RegisterCustom rather
// than inferred from AuthMode alone.
type CompositeSource struct {
	modes  map[string]string // providerID -> authMode
	byMode map[string]AuthSource
	custom map[string]AuthSource // providerID -> explicit override
}

// NewCompositeSource builds a dispatcher from a providerID->authMode
// map (taken directly from the loaded Provider Profiles) and the
// concrete sources backing each mode.
func NewCompositeSource(modes map[string]string, apikey AuthSource, oauth AuthSource) *CompositeSource {
	return &CompositeSource{
		modes: modes,
		byMode: map[string]AuthSource{
			"apikey": apikey,
			"oauth":  oauth,
		},
		custom: make(map[string]AuthSource),
	}
}

// RegisterCustom overrides dispatch for one provider, used for the
// pow/cookie/tokenfile auth modes that need family-specific setup.
func (c *CompositeSource) RegisterCustom(providerID string, source AuthSource) {
	c.custom[providerID] = source
}

func (c *CompositeSource) EnsureValid(ctx context.Context, providerID, alias string) (string, error) {
	if src, ok := c.custom[providerID]; ok {
		return src.EnsureValid(ctx, providerID, alias)
	}
	mode := c.modes[providerID]
	src, ok := c.byMode[mode]
	if !ok || src == nil {
		return "", fmt.Errorf("credential: no auth source registered for provider %s (mode %q)", providerID, mode)
	}
	return src.EnsureValid(ctx, providerID, alias)
}
