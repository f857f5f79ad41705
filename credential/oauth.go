package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// AuthIssueKind classifies why an OAuth-backed credential broke, for
// the AuthBroken quota state (spec §3 Data Model / §7 error taxonomy).
type AuthIssueKind string

const (
	IssueExpiredRefreshToken AuthIssueKind = "expired_refresh_token"
	IssueRevokedGrant        AuthIssueKind = "revoked_grant"
	IssueInvalidClient       AuthIssueKind = "invalid_client"
	IssueUnknown             AuthIssueKind = "unknown"
)

// AuthBrokenError is returned by EnsureValid when a credential cannot
// be refreshed and requires operator intervention. errors.As against
// this type is how callers detect the AuthBroken quota transition.
type AuthBrokenError struct {
	ProviderID string
	Alias      string
	IssueKind  AuthIssueKind
	Detail     string
}

func (e *AuthBrokenError) Error() string {
	return fmt.Sprintf("credential %s/%s broken: %s (%s)", e.ProviderID, e.Alias, e.IssueKind, e.Detail)
}

// OAuthRecord holds the live token state for one (providerID, alias).
type OAuthRecord struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

func (r *OAuthRecord) stillValid(skew time.Duration) bool {
	return r != nil && r.AccessToken != "" && time.Now().Add(skew).Before(r.ExpiresAt)
}

// Refresher performs the provider-specific refresh-token exchange.
// Returning an *AuthBrokenError signals a fatal (non-retryable) failure;
// any other error is treated as transient and retried by the caller's
// own backoff (the store itself does not retry).
type Refresher func(ctx context.Context, providerID, alias string, rec *OAuthRecord) (*OAuthRecord, error)

// InteractiveRepair is invoked best-effort, in its own goroutine, when
// a credential goes fatally broken, to give a provider family a chance
// to open a re-auth flow. The zero value is a no-op.
type InteractiveRepair func(providerID, alias string)

// OAuthStore holds per-(providerID,alias) OAuth records and serializes
// refreshes so concurrent requests never double-refresh the same
// credential.
type OAuthStore struct {
	mu        sync.RWMutex
	records   map[string]*OAuthRecord
	refresher Refresher
	repair    InteractiveRepair
	group     singleflight.Group
	skew      time.Duration
	logger    zerolog.Logger
}

// NewOAuthStore constructs a store. skew is how far ahead of expiry a
// token is treated as already-expired (so refresh happens before the
// upstream actually rejects it).
func NewOAuthStore(refresher Refresher, logger zerolog.Logger, skew time.Duration) *OAuthStore {
	return &OAuthStore{
		records:   make(map[string]*OAuthRecord),
		refresher: refresher,
		skew:      skew,
		logger:    logger.With().Str("component", "oauth-store").Logger(),
	}
}

// SetRepair registers the best-effort interactive-repair callback.
func (s *OAuthStore) SetRepair(fn InteractiveRepair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repair = fn
}

// Seed installs an initial record (e.g. loaded from a token file at
// startup) without triggering a refresh.
func (s *OAuthStore) Seed(providerID, alias string, rec *OAuthRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key(providerID, alias)] = rec
}

// EnsureValid returns a usable access token, refreshing it first if it
// is expired or within the skew window. Concurrent callers for the
// same (providerID, alias) collapse onto a single refresh.
func (s *OAuthStore) EnsureValid(ctx context.Context, providerID, alias string) (string, error) {
	k := key(providerID, alias)

	s.mu.RLock()
	rec := s.records[k]
	s.mu.RUnlock()

	if rec.stillValid(s.skew) {
		return rec.AccessToken, nil
	}

	v, err, _ := s.group.Do(k, func() (any, error) {
		s.mu.RLock()
		current := s.records[k]
		s.mu.RUnlock()

		if current.stillValid(s.skew) {
			return current, nil
		}

		refreshed, rerr := s.refresher(ctx, providerID, alias, current)
		if rerr != nil {
			var broken *AuthBrokenError
			if errors.As(rerr, &broken) {
				s.mu.RLock()
				repair := s.repair
				s.mu.RUnlock()
				if repair != nil {
					go repair(providerID, alias)
				}
			}
			return nil, rerr
		}

		s.mu.Lock()
		s.records[k] = refreshed
		s.mu.Unlock()
		return refreshed, nil
	})
	if err != nil {
		return "", err
	}
	return v.(*OAuthRecord).AccessToken, nil
}

// HandleUpstreamInvalidToken is called by the transport layer at most
// once per request when an upstream response indicates the access
// token was rejected. It forces the next EnsureValid call to refresh
// by clearing ExpiresAt, and reports whether a retry is worth issuing.
func (s *OAuthStore) HandleUpstreamInvalidToken(providerID, alias string) (shouldRetry bool) {
	k := key(providerID, alias)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[k]
	if !ok || rec.RefreshToken == "" {
		return false
	}
	rec.ExpiresAt = time.Time{}
	return true
}

func key(providerID, alias string) string {
	return providerID + "|" + alias
}
