package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/novagate/config"
	"github.com/AlfredDev/novagate/dialect"
	"github.com/AlfredDev/novagate/handler"
	"github.com/AlfredDev/novagate/hooks"
	"github.com/AlfredDev/novagate/pipeline"
	"github.com/AlfredDev/novagate/quota"
	"github.com/AlfredDev/novagate/reqid"
	"github.com/AlfredDev/novagate/snapshot"
	"github.com/AlfredDev/novagate/transport"
	"github.com/AlfredDev/novagate/vrouter"
)

type stubTransport struct{}

func (stubTransport) Do(ctx context.Context, target transport.Target, pd dialect.ProviderDialect, req dialect.Request) (dialect.Response, error) {
	return dialect.Response{Text: "ok"}, nil
}

func (stubTransport) DoStream(ctx context.Context, target transport.Target, pd dialect.ProviderDialect, req dialect.Request) (dialect.Stream, error) {
	return nil, nil
}

func testRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()

	table, err := vrouter.NewTable([]vrouter.Route{{
		ID:      "default",
		Default: true,
		Pools: []vrouter.Pool{{
			Name:     "default",
			Strategy: "round_robin",
			Targets:  []vrouter.Target{{Key: vrouter.NewProviderKey("openai", "gpt-4o", "")}},
		}},
	}})
	if err != nil {
		t.Fatalf("failed to build route table: %v", err)
	}

	sessions := vrouter.NewSessionStore()
	quotaLoop := quota.NewLoop(zerolog.Nop(), 3)
	engine := vrouter.NewEngine(table, sessions, quotaLoop)

	resolveTarget := func(key vrouter.ProviderKey) transport.Target {
		return transport.Target{Key: transport.ProviderKey(key)}
	}
	providerDialectFor := func(vrouter.ProviderKey) dialect.ProviderDialect {
		return dialect.ProviderOpenAI
	}

	reqids := reqid.New()
	orchestrator := pipeline.NewOrchestrator(
		reqids, snapshot.NewWriter(t.TempDir(), zerolog.Nop()), engine, quotaLoop,
		stubTransport{}, hooks.NewRegistry(), resolveTarget, providerDialectFor, zerolog.Nop(),
	)

	profiles := func() map[string]config.ProviderProfile {
		return map[string]config.ProviderProfile{"openai": {ID: "openai"}}
	}

	handlers := Handlers{
		Chat:      handler.NewChatHandler(orchestrator, sessions, snapshot.NewWriter(t.TempDir(), zerolog.Nop()), reqids, zerolog.Nop()),
		Messages:  handler.NewMessagesHandler(orchestrator, sessions, snapshot.NewWriter(t.TempDir(), zerolog.Nop()), reqids, zerolog.Nop()),
		Responses: handler.NewResponsesHandler(orchestrator, sessions, snapshot.NewWriter(t.TempDir(), zerolog.Nop()), reqids, zerolog.Nop()),
		Models:    handler.NewModelsHandler(profiles, quotaLoop),
		Quota:     handler.NewQuotaHandler(quotaLoop, profiles),
		System:    handler.NewSystemHandler(cfg, profiles, func() error { return nil }),
	}

	return NewRouter(cfg, zerolog.Nop(), handlers)
}

func TestRouterHealthzIsUnauthenticated(t *testing.T) {
	cfg := &config.Config{GatewayAPIKey: "secret", APIKeyHeader: "x-api-key", MaxBodyBytes: 1 << 20}
	r := testRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /healthz to be reachable without auth, got %d", rec.Code)
	}
}

func TestRouterDataplaneRequiresGatewayKey(t *testing.T) {
	cfg := &config.Config{GatewayAPIKey: "secret", APIKeyHeader: "x-api-key", MaxBodyBytes: 1 << 20}
	r := testRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatal("expected /v1/models to reject requests without a gateway key")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req2.Header.Set("x-api-key", "secret")
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Fatalf("expected /v1/models to succeed with a valid gateway key, got %d", rec2.Code)
	}
}

func TestRouterAdminSurfaceIsLoopbackOnly(t *testing.T) {
	cfg := &config.Config{GatewayAPIKey: "secret", APIKeyHeader: "x-api-key", MaxBodyBytes: 1 << 20}
	r := testRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/quota/summary", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatal("expected /quota/summary to reject non-loopback remote addresses")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/config", nil)
	req2.RemoteAddr = "127.0.0.1:5555"
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Fatalf("expected /config to succeed from loopback, got %d", rec2.Code)
	}
}
