// Package reqid implements the request-id fabric: generation of the
// client-facing and provider-facing id pair for an inbound request,
// re-derivation of the provider id when a route decision retargets,
// and resolution back to the components either id was built from.
//
// clientRequestId is whatever the caller supplied (or a minted
// req_<ms>_<hex> when it didn't) and is echoed back verbatim in the
// x-request-id response header for the life of the request.
// providerRequestId is the deterministic
// <entryTag>-<provider>-<model>-<timestamp>-<seq> id used for upstream
// correlation headers and snapshot filenames; it changes shape whenever
// Enhance is called with a newly resolved provider/model, with the old
// id kept resolvable via a short-lived alias.
package reqid

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	defaultTTL      = 10 * time.Minute
	aliasTTL        = 5 * time.Minute
	sweepInterval   = time.Minute
	maxSequenceKeys = 10000
)

// Meta carries the ingress facts Generate and Enhance need to shape a
// providerRequestId. Provider and Model are typically still unknown at
// Generate time — they're filled in once the virtual router has picked
// a target and Enhance is called.
type Meta struct {
	EntryEndpoint string
	Provider      string
	Model         string
}

// Components are the parts an id is built from, recoverable via Resolve.
type Components struct {
	EntryEndpoint   string
	ClientRequestID string
	Candidate       string
	Provider        string
	Model           string
	Sequence        uint32
	CreatedAt       time.Time
}

type seqCounter struct {
	n        uint32
	lastUsed time.Time
}

// aliasEntry points a superseded providerRequestId at the id that
// replaced it, for a bounded window after the retarget.
type aliasEntry struct {
	target    string
	expiresAt time.Time
}

// Fabric is the process-wide request-id registry. It is safe for
// concurrent use and must be closed to stop its sweeper goroutine.
type Fabric struct {
	mu         sync.RWMutex
	components map[string]Components
	aliases    map[string]aliasEntry
	sequences  map[string]*seqCounter

	closeOnce sync.Once
	stopCh    chan struct{}
}

// New constructs a Fabric and starts its background TTL sweeper.
func New() *Fabric {
	f := &Fabric{
		components: make(map[string]Components),
		aliases:    make(map[string]aliasEntry),
		sequences:  make(map[string]*seqCounter),
		stopCh:     make(chan struct{}),
	}
	go f.sweepLoop()
	return f
}

// Generate mints the dual-id pair for an inbound request. candidate is
// an optional caller-supplied id (e.g. a forwarded x-request-id); when
// its trimmed form is empty, clientRequestId is minted as
// req_<ms>_<8hex>. providerRequestId is built from meta and is usually
// provisional at this point — meta.Provider is rarely known before
// routing — and gets re-derived by Enhance once a target is resolved.
func (f *Fabric) Generate(candidate string, meta Meta) (clientRequestID, providerRequestID string) {
	clientRequestID = strings.TrimSpace(candidate)
	if clientRequestID == "" {
		clientRequestID = fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), randomHex(4))
	}

	providerRequestID = f.buildProviderRequestID(meta.EntryEndpoint, meta.Provider, meta.Model)

	now := time.Now()
	f.mu.Lock()
	f.components[clientRequestID] = Components{
		EntryEndpoint:   meta.EntryEndpoint,
		ClientRequestID: clientRequestID,
		Candidate:       candidate,
		CreatedAt:       now,
	}
	f.components[providerRequestID] = Components{
		EntryEndpoint:   meta.EntryEndpoint,
		ClientRequestID: clientRequestID,
		Candidate:       candidate,
		Provider:        meta.Provider,
		Model:           meta.Model,
		CreatedAt:       now,
	}
	f.mu.Unlock()

	return clientRequestID, providerRequestID
}

// Enhance recomputes providerRequestId once the virtual router has
// pinned a concrete provider and model, and records an alias from the
// prior id to the new one (5-minute TTL) so Resolve still reaches the
// terminal components via either id.
func (f *Fabric) Enhance(providerRequestID, entryEndpoint, provider, model string) string {
	next := f.buildProviderRequestID(entryEndpoint, provider, model)

	f.mu.Lock()
	base := f.components[providerRequestID]
	f.components[next] = Components{
		EntryEndpoint:   entryEndpoint,
		ClientRequestID: base.ClientRequestID,
		Candidate:       base.Candidate,
		Provider:        provider,
		Model:           model,
		CreatedAt:       time.Now(),
	}
	if next != providerRequestID {
		f.aliases[providerRequestID] = aliasEntry{target: next, expiresAt: time.Now().Add(aliasTTL)}
	}
	f.mu.Unlock()

	return next
}

// Resolve follows any alias chain from id to its terminal form and
// returns the components registered there. A visited set guards
// against a cycle — a retarget loop must not hang a caller.
func (f *Fabric) Resolve(id string) (Components, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	visited := make(map[string]bool)
	cur := id
	now := time.Now()
	for {
		if visited[cur] {
			break
		}
		visited[cur] = true
		alias, ok := f.aliases[cur]
		if !ok || now.After(alias.expiresAt) {
			break
		}
		cur = alias.target
	}
	c, ok := f.components[cur]
	return c, ok
}

// Close stops the sweeper goroutine. Safe to call more than once.
func (f *Fabric) Close() {
	f.closeOnce.Do(func() { close(f.stopCh) })
}

func (f *Fabric) buildProviderRequestID(entryEndpoint, provider, model string) string {
	entryTag := entryTagFor(entryEndpoint)
	providerTok := sanitizeToken(provider)
	modelTok := sanitizeToken(model)
	seqKey := entryTag + "|" + providerTok + "|" + modelTok
	seq := f.nextSequence(seqKey)
	ts := strings.ReplaceAll(time.Now().Format("20060102T150405.000"), ".", "")
	return fmt.Sprintf("%s-%s-%s-%s-%03d", entryTag, providerTok, modelTok, ts, seq)
}

// entryTagFor maps an inbound HTTP path to the dialect tag baked into
// providerRequestId.
func entryTagFor(entryEndpoint string) string {
	switch entryEndpoint {
	case "/v1/responses":
		return "openai-responses"
	case "/v1/messages":
		return "anthropic-messages"
	default:
		return "openai-chat"
	}
}

var tokenSanitizer = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// sanitizeToken strips everything outside [A-Za-z0-9_.-] and falls
// back to "unknown" when what's left doesn't start with a letter
// (including the empty string), keeping providerRequestId safe to use
// both as a header value and as a snapshot filename component.
func sanitizeToken(s string) string {
	cleaned := tokenSanitizer.ReplaceAllString(s, "")
	if cleaned == "" || !isASCIILetter(cleaned[0]) {
		return "unknown"
	}
	return cleaned
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func (f *Fabric) nextSequence(key string) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.sequences[key]
	if !ok {
		if len(f.sequences) >= maxSequenceKeys {
			f.evictOldestSequenceLocked()
		}
		c = &seqCounter{}
		f.sequences[key] = c
	}
	c.n++
	c.lastUsed = time.Now()
	return c.n
}

// evictOldestSequenceLocked drops the least-recently-used sequence
// counter. Callers must hold f.mu.
func (f *Fabric) evictOldestSequenceLocked() {
	var oldestKey string
	var oldestTime time.Time
	for k, c := range f.sequences {
		if oldestKey == "" || c.lastUsed.Before(oldestTime) {
			oldestKey = k
			oldestTime = c.lastUsed
		}
	}
	if oldestKey != "" {
		delete(f.sequences, oldestKey)
	}
}

func (f *Fabric) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			f.sweep()
		case <-f.stopCh:
			return
		}
	}
}

func (f *Fabric) sweep() {
	now := time.Now()
	cutoff := now.Add(-defaultTTL)
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.components {
		if c.CreatedAt.Before(cutoff) {
			delete(f.components, id)
		}
	}
	for id, a := range f.aliases {
		if now.After(a.expiresAt) {
			delete(f.aliases, id)
		}
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back
		// to a timestamp-derived id rather than panic mid-request.
		return strings.ReplaceAll(fmt.Sprintf("%x", time.Now().UnixNano()), "-", "")
	}
	return hex.EncodeToString(b)
}

// NewConnectionID allocates a connection id for pipeline stage timing.
// Unlike the request-id pair (which needs to stay short for
// header/log/filename readability), a connection id is never
// user-facing; it has the form conn-<ms>-<9hex>, a millisecond
// timestamp plus nine random hex characters.
func (f *Fabric) NewConnectionID() string {
	return fmt.Sprintf("conn-%d-%s", time.Now().UnixMilli(), randomHex(5)[:9])
}

type providerRequestIDKey struct{}

// WithProviderRequestID attaches a providerRequestId to ctx so deeper
// layers (transport, in particular) can stamp it onto the outbound
// upstream request without threading it through every call signature.
func WithProviderRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, providerRequestIDKey{}, id)
}

// ProviderRequestIDFromContext retrieves an id attached by
// WithProviderRequestID.
func ProviderRequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(providerRequestIDKey{}).(string)
	return id, ok
}
