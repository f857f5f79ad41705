package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetClientReusesSameClientForSameKey(t *testing.T) {
	pool := NewConnectionPool(DefaultPoolConfig())
	defer pool.Close()

	c1 := pool.GetClient(ProviderKey("openai.gpt-4o"), 5*time.Second)
	c2 := pool.GetClient(ProviderKey("openai.gpt-4o"), 5*time.Second)
	if c1 != c2 {
		t.Fatal("expected same client instance for repeated GetClient with same key")
	}
}

func TestGetClientDistinctKeysGetDistinctClients(t *testing.T) {
	pool := NewConnectionPool(DefaultPoolConfig())
	defer pool.Close()

	c1 := pool.GetClient(ProviderKey("openai.gpt-4o"), 5*time.Second)
	c2 := pool.GetClient(ProviderKey("anthropic.claude-3-5-sonnet"), 5*time.Second)
	if c1 == c2 {
		t.Fatal("expected distinct clients for distinct ProviderKeys")
	}
}

func TestConfigureInvalidatesCachedClient(t *testing.T) {
	pool := NewConnectionPool(DefaultPoolConfig())
	defer pool.Close()

	key := ProviderKey("openai.gpt-4o")
	c1 := pool.GetClient(key, 5*time.Second)
	pool.Configure(key, PoolConfig{MaxIdleConns: 1})
	c2 := pool.GetClient(key, 5*time.Second)
	if c1 == c2 {
		t.Fatal("expected Configure to invalidate cached client")
	}
}

func TestMetricsTracksRequestsAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := NewConnectionPool(DefaultPoolConfig())
	defer pool.Close()

	key := ProviderKey("openai.gpt-4o")
	client := pool.GetClient(key, 5*time.Second)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	metrics := pool.Metrics()
	if metrics[key]["total_requests"] != 1 {
		t.Fatalf("expected 1 total request, got %+v", metrics[key])
	}
}
