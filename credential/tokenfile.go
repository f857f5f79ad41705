package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenFilePayload is the on-disk shape written by the qwen/iflow/
// gemini-cli/antigravity CLIs when they log the user in.
type TokenFilePayload struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAtMs  int64    `json:"expires_at_ms"`
	Scopes       []string `json:"scopes,omitempty"`
}

type cachedTokenFile struct {
	payload TokenFilePayload
	modTime time.Time
}

// TokenFileWatcher reads a provider's token file on demand, re-parsing
// only when its mtime changes. Concurrent readers racing on the same
// path collapse onto a single disk read via singleflight.
type TokenFileWatcher struct {
	mu    sync.RWMutex
	path  string
	cache cachedTokenFile
	group singleflight.Group
}

// NewTokenFileWatcher constructs a watcher over a single token file path.
func NewTokenFileWatcher(path string) *TokenFileWatcher {
	return &TokenFileWatcher{path: path}
}

// Read returns the current token file contents, re-parsing from disk
// if the file's mtime has advanced since the last read.
func (w *TokenFileWatcher) Read() (TokenFilePayload, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return TokenFilePayload{}, fmt.Errorf("token file %s: %w", w.path, err)
	}

	w.mu.RLock()
	if w.cache.modTime.Equal(info.ModTime()) {
		cached := w.cache.payload
		w.mu.RUnlock()
		return cached, nil
	}
	w.mu.RUnlock()

	v, err, _ := w.group.Do(w.path, func() (any, error) {
		raw, err := os.ReadFile(w.path)
		if err != nil {
			return TokenFilePayload{}, err
		}
		var payload TokenFilePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return TokenFilePayload{}, fmt.Errorf("token file %s: decode: %w", w.path, err)
		}

		w.mu.Lock()
		w.cache = cachedTokenFile{payload: payload, modTime: info.ModTime()}
		w.mu.Unlock()

		return payload, nil
	})
	if err != nil {
		return TokenFilePayload{}, err
	}
	return v.(TokenFilePayload), nil
}

// AsOAuthRecord converts the file payload into an OAuthRecord usable by
// OAuthStore.Seed.
func (p TokenFilePayload) AsOAuthRecord() *OAuthRecord {
	return &OAuthRecord{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    time.UnixMilli(p.ExpiresAtMs),
		Scopes:       p.Scopes,
	}
}
