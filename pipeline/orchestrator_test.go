package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/novagate/dialect"
	"github.com/AlfredDev/novagate/hooks"
	"github.com/AlfredDev/novagate/quota"
	"github.com/AlfredDev/novagate/reqid"
	"github.com/AlfredDev/novagate/transport"
	"github.com/AlfredDev/novagate/vrouter"
)

type fakeTransport struct {
	resp dialect.Response
	err  error
}

func (f *fakeTransport) Do(ctx context.Context, target transport.Target, pd dialect.ProviderDialect, req dialect.Request) (dialect.Response, error) {
	return f.resp, f.err
}

func (f *fakeTransport) DoStream(ctx context.Context, target transport.Target, pd dialect.ProviderDialect, req dialect.Request) (dialect.Stream, error) {
	return nil, f.err
}

func newTestOrchestrator(t *testing.T, tr transport.Transport) *Orchestrator {
	t.Helper()
	table, err := vrouter.NewTable([]vrouter.Route{
		{ID: "default", Default: true, Pools: []vrouter.Pool{
			{Name: "primary", Targets: []vrouter.Target{{Key: "openai.gpt-4o", FamilyID: "openai"}}, Strategy: "round_robin"},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error building table: %v", err)
	}
	quotaLoop := quota.NewLoop(zerolog.Nop(), 3)
	engine := vrouter.NewEngine(table, vrouter.NewSessionStore(), quotaLoop)

	return NewOrchestrator(
		reqid.New(),
		nil,
		engine,
		quotaLoop,
		tr,
		hooks.NewRegistry(),
		func(key vrouter.ProviderKey) transport.Target {
			return transport.Target{Key: transport.ProviderKey(key), FamilyID: "openai", ProviderID: "openai"}
		},
		func(key vrouter.ProviderKey) dialect.ProviderDialect { return dialect.ProviderOpenAI },
		zerolog.Nop(),
	)
}

func TestExecuteSuccessPath(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeTransport{resp: dialect.Response{Text: "hello"}})
	result, err := orch.Execute(context.Background(), RequestContext{
		ClientDialect: dialect.ClientOpenAIChat,
		Meta:          vrouter.RequestMeta{Model: "gpt-4o"},
		Request:       dialect.Request{Model: "gpt-4o", Messages: []dialect.Message{{Role: "user", Text: "hi"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Response.Text != "hello" {
		t.Fatalf("expected response text to round-trip, got %+v", result.Response)
	}
	if result.ConnectionID == "" {
		t.Fatal("expected a connection id to be assigned")
	}
}

func TestExecuteTransportFailureReturnsConnectionError(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeTransport{err: &transport.UpstreamError{Kind: transport.KindUpstreamServerErr, StatusCode: 502}})
	_, err := orch.Execute(context.Background(), RequestContext{
		ClientDialect: dialect.ClientOpenAIChat,
		Meta:          vrouter.RequestMeta{Model: "gpt-4o"},
		Request:       dialect.Request{Model: "gpt-4o", Messages: []dialect.Message{{Role: "user", Text: "hi"}}},
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	var cerr *V2ConnectionError
	if !asConnErr(err, &cerr) {
		t.Fatalf("expected V2ConnectionError, got %T: %v", err, err)
	}
	if cerr.ModuleType != "transport" {
		t.Fatalf("expected ModuleType transport, got %s", cerr.ModuleType)
	}
}

func asConnErr(err error, target **V2ConnectionError) bool {
	if ce, ok := err.(*V2ConnectionError); ok {
		*target = ce
		return true
	}
	return false
}
