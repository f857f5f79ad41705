// Package quota implements the quota control loop: the per-provider
// state machine (InPool/Cooldown/Blacklist/AuthBroken), transition
// rules, and periodic remote quota refresh.
package quota

import (
	"time"

	"github.com/AlfredDev/novagate/vrouter"
)

// ProviderKey identifies a (providerId, modelId, keyAlias) combination.
// Aliased to vrouter.ProviderKey (not a distinct type) so a *Loop
// satisfies vrouter.QuotaView without a conversion at the call site.
type ProviderKey = vrouter.ProviderKey

// Kind tags which variant of ProviderState is populated.
type Kind string

const (
	KindInPool    Kind = "in_pool"
	KindCooldown  Kind = "cooldown"
	KindBlacklist Kind = "blacklist"
	KindAuthBroken Kind = "auth_broken"
)

// AuthIssueKind mirrors credential.AuthIssueKind without importing
// credential, since quota only needs to carry the tag through.
type AuthIssueKind string

const (
	IssueExpiredRefreshToken AuthIssueKind = "expired_refresh_token"
	IssueRevokedGrant        AuthIssueKind = "revoked_grant"
	IssueInvalidClient       AuthIssueKind = "invalid_client"
	IssueUnknown             AuthIssueKind = "unknown"
)

// ProviderState is the tagged union described in spec §4.8:
// InPool | Cooldown{untilMs,reason} | Blacklist{untilMs,reason} |
// AuthBroken{issueKind,detail}. Only the fields relevant to Kind are
// meaningful; the rest are zero.
type ProviderState struct {
	Kind Kind

	UntilMs  int64  // Cooldown / Blacklist: when this state lifts
	Reason   string // Cooldown / Blacklist: human-readable cause

	IssueKind AuthIssueKind // AuthBroken
	Detail    string        // AuthBroken

	consecutiveErrorCount int
	consecutiveCooldowns  int // for Blacklist escalation after N

	remainingQuotaFraction *float64
	resetAtMs              *int64
	lastFetchedMs          int64

	priorityTier int
}

// InPool reports whether this state currently allows selection.
func (s *ProviderState) inPool(nowMs int64) bool {
	switch s.Kind {
	case KindInPool:
		return true
	case KindCooldown, KindBlacklist:
		return nowMs >= s.UntilMs
	case KindAuthBroken:
		return false
	default:
		return false
	}
}

func newInPoolState() *ProviderState {
	return &ProviderState{Kind: KindInPool}
}

func nowMs() int64 { return time.Now().UnixMilli() }
