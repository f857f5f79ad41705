package credential

import (
	"context"
	"fmt"
	"sync"

	"github.com/AlfredDev/novagate/security"
)

// APIKeySource resolves the plain bearer key for providers configured
// with authMode: apikey, backed by a security.SecretStore (Vault or
// env-var fallback). Implements transport.AuthSource.
type APIKeySource struct {
	store *security.SecretStore

	mu      sync.RWMutex
	secrets map[string]string // "providerID.alias" -> resolved key
}

// NewAPIKeySource wraps store for apikey-mode credential resolution.
func NewAPIKeySource(store *security.SecretStore) *APIKeySource {
	return &APIKeySource{store: store, secrets: make(map[string]string)}
}

// LoadAlias resolves and caches the secret for one (providerID, alias)
// pair, trying Vault (if enabled) then falling back to envVar. Called
// once per configured KeyAlias at startup; EnsureValid never re-resolves
// (a cache miss is an error), so a later Vault rotation needs an
// explicit reload.
func (a *APIKeySource) LoadAlias(ctx context.Context, providerID, alias, envVar string) error {
	key, err := a.store.Resolve(ctx, providerID, envVar)
	if err != nil {
		return fmt.Errorf("load api key for %s/%s: %w", providerID, alias, err)
	}
	a.mu.Lock()
	a.secrets[cacheKey(providerID, alias)] = key
	a.mu.Unlock()
	return nil
}

// EnsureValid implements transport.AuthSource.
func (a *APIKeySource) EnsureValid(ctx context.Context, providerID, alias string) (string, error) {
	a.mu.RLock()
	key, ok := a.secrets[cacheKey(providerID, alias)]
	a.mu.RUnlock()
	if ok {
		return key, nil
	}
	return "", fmt.Errorf("no api key loaded for %s/%s", providerID, alias)
}

func cacheKey(providerID, alias string) string {
	if alias == "" {
		alias = "default"
	}
	return providerID + "." + alias
}
