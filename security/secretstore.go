// Package security resolves provider credentials from an optional
// HashiCorp Vault-compatible KV store, falling back to environment
// variables when Vault is disabled or a path is missing.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// VaultConfig configures the optional Vault backend. Enabled=false
// (the default) makes SecretStore a pure env-var resolver.
type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string `json:"-"` // never logged
	MountPath  string
	Namespace  string
	RenewTTL   time.Duration
	MaxRetries int
}

// SecretStore resolves a named secret (by env var or Vault path),
// caching Vault reads for RenewTTL. Wired as the resolver behind
// credential.APIKeySource for providers configured with authMode:
// apikey, per SPEC_FULL.md's credential store section.
type SecretStore struct {
	config VaultConfig
	client *http.Client
	mu     sync.RWMutex
	cache  map[string]*cachedSecret
}

type cachedSecret struct {
	Value     map[string]string
	ExpiresAt time.Time
}

// NewSecretStore constructs a store from config, applying the same
// defaults the gateway has always used for Vault tuning.
func NewSecretStore(config VaultConfig) *SecretStore {
	if config.MountPath == "" {
		config.MountPath = "secret"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RenewTTL == 0 {
		config.RenewTTL = 5 * time.Minute
	}

	return &SecretStore{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  make(map[string]*cachedSecret),
	}
}

// Resolve returns the API key for provider, trying Vault first (if
// enabled) and falling back to the envVar environment variable.
func (v *SecretStore) Resolve(ctx context.Context, provider, envVar string) (string, error) {
	if !v.config.Enabled {
		if key := os.Getenv(envVar); key != "" {
			return key, nil
		}
		return "", fmt.Errorf("vault disabled and no env var %s set for provider %s", envVar, provider)
	}

	path := fmt.Sprintf("providers/%s", provider)

	v.mu.RLock()
	if cached, ok := v.cache[path]; ok && time.Now().Before(cached.ExpiresAt) {
		v.mu.RUnlock()
		return cached.Value["api_key"], nil
	}
	v.mu.RUnlock()

	secret, err := v.readSecret(ctx, path)
	if err != nil {
		if key := os.Getenv(envVar); key != "" {
			return key, nil
		}
		return "", fmt.Errorf("read provider key: %w", err)
	}

	apiKey, ok := secret["api_key"]
	if !ok {
		return "", fmt.Errorf("no api_key field in vault path %s", path)
	}

	v.mu.Lock()
	v.cache[path] = &cachedSecret{Value: secret, ExpiresAt: time.Now().Add(v.config.RenewTTL)}
	v.mu.Unlock()

	return apiKey, nil
}

// WriteProviderKey stores a provider API key in Vault.
func (v *SecretStore) WriteProviderKey(ctx context.Context, provider, apiKey string) error {
	path := fmt.Sprintf("providers/%s", provider)
	return v.writeSecret(ctx, path, map[string]string{"api_key": apiKey})
}

// RotateProviderKey replaces a stored key and drops it from cache so
// the next Resolve re-fetches.
func (v *SecretStore) RotateProviderKey(ctx context.Context, provider, newKey string) error {
	if err := v.WriteProviderKey(ctx, provider, newKey); err != nil {
		return fmt.Errorf("rotate key: %w", err)
	}
	v.mu.Lock()
	delete(v.cache, fmt.Sprintf("providers/%s", provider))
	v.mu.Unlock()
	return nil
}

// InvalidateCache clears all cached secrets, forcing the next Resolve
// to hit Vault (or the env var) again.
func (v *SecretStore) InvalidateCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache = make(map[string]*cachedSecret)
}

func (v *SecretStore) readSecret(ctx context.Context, path string) (map[string]string, error) {
	url := fmt.Sprintf("%s/v1/%s/data/%s", v.config.Address, v.config.MountPath, path)

	var lastErr error
	for attempt := 0; attempt <= v.config.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Vault-Token", v.config.Token)
		if v.config.Namespace != "" {
			req.Header.Set("X-Vault-Namespace", v.config.Namespace)
		}

		resp, err := v.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
			continue
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("secret not found: %s", path)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("vault error (%d): %s", resp.StatusCode, string(body))
		}

		var result struct {
			Data struct {
				Data map[string]string `json:"data"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("decode secret: %w", err)
		}
		return result.Data.Data, nil
	}

	return nil, fmt.Errorf("vault read failed after %d retries: %w", v.config.MaxRetries, lastErr)
}

func (v *SecretStore) writeSecret(ctx context.Context, path string, data map[string]string) error {
	url := fmt.Sprintf("%s/v1/%s/data/%s", v.config.Address, v.config.MountPath, path)

	body, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("X-Vault-Token", v.config.Token)
	req.Header.Set("Content-Type", "application/json")
	if v.config.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", v.config.Namespace)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("vault write: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vault write error (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}
