package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AlfredDev/novagate/compat"
	"github.com/AlfredDev/novagate/credential"
	"github.com/AlfredDev/novagate/dialect"
	"github.com/AlfredDev/novagate/reqid"
)

// Target names one (provider, model, keyAlias) the orchestrator has
// already selected; Transport turns it into an actual upstream call.
type Target struct {
	Key                    ProviderKey
	FamilyID               string // compat.Registry lookup key, e.g. "iflow", "qwen"
	CompatibilityProfileID string // compat.Mapper lookup key; empty selects the default profile
	BaseURL                string
	Model                  string
	Alias                  string
	ProviderID             string
	Timeout                time.Duration
}

// Transport executes one provider call for a neutral request, handling
// auth preflight, family-specific header/body finalization, and
// JSON/SSE dispatch. One Transport instance is shared across all
// providers; ProviderKey-scoped pooling happens inside ConnectionPool.
type Transport interface {
	Do(ctx context.Context, target Target, pd dialect.ProviderDialect, req dialect.Request) (dialect.Response, error)
	DoStream(ctx context.Context, target Target, pd dialect.ProviderDialect, req dialect.Request) (dialect.Stream, error)
}

// AuthSource resolves the bearer credential for a target, collapsing
// concurrent refreshes via credential.OAuthStore (or an equivalent).
type AuthSource interface {
	EnsureValid(ctx context.Context, providerID, alias string) (string, error)
}

// httpTransport is the concrete Transport backing production traffic.
type httpTransport struct {
	pool   *ConnectionPool
	hooks  *compat.Registry
	mapper *compat.Mapper
	auth   AuthSource
}

// NewHTTPTransport wires a connection pool, family hook registry,
// compatibility mapper, and credential source into a single Transport.
// mapper may be nil, in which case the compatibility chain is skipped
// entirely and only the family hooks run.
func NewHTTPTransport(pool *ConnectionPool, hooks *compat.Registry, mapper *compat.Mapper, auth AuthSource) Transport {
	return &httpTransport{pool: pool, hooks: hooks, mapper: mapper, auth: auth}
}

// applyMapper runs the compat.Mapper chain over a JSON body for the
// given provider profile and direction. A body that doesn't decode to
// a JSON object (or no mapper being configured) passes through
// unchanged — the mapper is a best-effort compatibility shim, not a
// strict schema gate.
func (t *httpTransport) applyMapper(profileID string, direction compat.Direction, body []byte) ([]byte, error) {
	if t.mapper == nil {
		return body, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, nil
	}

	mapped, err := t.mapper.Apply(profileID, direction, payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(mapped)
}

func (t *httpTransport) Do(ctx context.Context, target Target, pd dialect.ProviderDialect, req dialect.Request) (dialect.Response, error) {
	httpReq, err := t.buildRequest(ctx, target, pd, req)
	if err != nil {
		return dialect.Response{}, err
	}

	client := t.pool.GetClient(target.Key, target.Timeout)
	resp, err := client.Do(httpReq)
	if err != nil {
		return dialect.Response{}, &UpstreamError{Kind: classifyTransportErr(err), Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return dialect.Response{}, &UpstreamError{Kind: KindUpstreamServerErr, Cause: err}
	}

	if resp.StatusCode >= 400 {
		return dialect.Response{}, Classify(resp.StatusCode, body)
	}

	body, err = t.applyMapper(target.CompatibilityProfileID, compat.DirectionResponse, body)
	if err != nil {
		return dialect.Response{}, fmt.Errorf("transport: map response: %w", err)
	}

	sw := dialect.NewSwitch()
	return sw.FromProviderResponse(pd, body)
}

func (t *httpTransport) DoStream(ctx context.Context, target Target, pd dialect.ProviderDialect, req dialect.Request) (dialect.Stream, error) {
	httpReq, err := t.buildRequest(ctx, target, pd, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	client := t.pool.GetClient(target.Key, target.Timeout)
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Kind: classifyTransportErr(err), Cause: err}
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, Classify(resp.StatusCode, body)
	}

	decode := sseDecoderFor(pd)
	return dialect.NewProviderSSEStream(resp.Body, decode), nil
}

func (t *httpTransport) buildRequest(ctx context.Context, target Target, pd dialect.ProviderDialect, req dialect.Request) (*http.Request, error) {
	apiKey, err := t.auth.EnsureValid(ctx, target.ProviderID, target.Alias)
	if err != nil {
		return nil, err
	}

	sw := dialect.NewSwitch()
	body, err := sw.ToProviderRequest(pd, req)
	if err != nil {
		return nil, fmt.Errorf("transport: encode request: %w", err)
	}

	body, err = t.applyMapper(target.CompatibilityProfileID, compat.DirectionRequest, body)
	if err != nil {
		return nil, fmt.Errorf("transport: map request: %w", err)
	}

	hookCtx := &compat.HookContext{
		ProviderID: target.ProviderID,
		Alias:      target.Alias,
		Model:      target.Model,
		Endpoint:   target.BaseURL,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
		APIKey:     apiKey,
	}
	if err := t.hooks.Apply(target.FamilyID, hookCtx); err != nil {
		return nil, fmt.Errorf("transport: family hook %s: %w", target.FamilyID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, hookCtx.Endpoint, bytes.NewReader(hookCtx.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range hookCtx.Headers {
		httpReq.Header.Set(k, v)
	}
	if hookCtx.Headers["Authorization"] == "" && hookCtx.APIKey != "" {
		setDefaultAuthHeader(httpReq, pd, hookCtx.APIKey)
	}
	if id, ok := reqid.ProviderRequestIDFromContext(ctx); ok && id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}
	return httpReq, nil
}

func setDefaultAuthHeader(r *http.Request, pd dialect.ProviderDialect, apiKey string) {
	if pd == dialect.ProviderAnthropic {
		r.Header.Set("x-api-key", apiKey)
		r.Header.Set("anthropic-version", "2023-06-01")
		return
	}
	r.Header.Set("Authorization", "Bearer "+apiKey)
}

func sseDecoderFor(pd dialect.ProviderDialect) func([]byte) (dialect.Delta, error) {
	switch pd {
	case dialect.ProviderAnthropic:
		return decodeAnthropicDelta
	case dialect.ProviderGemini:
		return decodeGeminiDelta
	default:
		return decodeOpenAIDelta
	}
}

// Compile-time check that credential.OAuthStore satisfies AuthSource,
// documenting the expected wiring.
var _ AuthSource = (*credential.OAuthStore)(nil)
