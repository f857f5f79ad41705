package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AlfredDev/novagate/config"
)

func TestSystemHandlerHealthzAlwaysOK(t *testing.T) {
	h := NewSystemHandler(&config.Config{}, func() map[string]config.ProviderProfile { return nil }, func() error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSystemHandlerReadyReflectsProviderCount(t *testing.T) {
	h := NewSystemHandler(&config.Config{}, func() map[string]config.ProviderProfile { return nil }, func() error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	h.Ready(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no provider profiles loaded, got %d", rec.Code)
	}

	loaded := map[string]config.ProviderProfile{"openai": {ID: "openai"}}
	h2 := NewSystemHandler(&config.Config{}, func() map[string]config.ProviderProfile { return loaded }, func() error { return nil })
	rec2 := httptest.NewRecorder()
	h2.Ready(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with provider profiles loaded, got %d", rec2.Code)
	}
}

func TestSystemHandlerConfigRedactsGatewayKey(t *testing.T) {
	cfg := &config.Config{
		Env:            "production",
		GatewayAPIKey:  "super-secret-value",
		RateLimitRPM:   120,
		RateLimitBurst: 10,
	}
	h := NewSystemHandler(cfg, func() map[string]config.ProviderProfile {
		return map[string]config.ProviderProfile{"openai": {ID: "openai"}}
	}, func() error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	h.Config(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "super-secret-value") {
		t.Fatal("expected gateway API key to be redacted from /config response")
	}

	var view configView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.ProviderCount != 1 {
		t.Fatalf("expected providerCount 1, got %d", view.ProviderCount)
	}
	if view.RateLimitRPM != 120 {
		t.Fatalf("expected rateLimitRpm 120, got %d", view.RateLimitRPM)
	}
}

func TestSystemHandlerReloadPropagatesError(t *testing.T) {
	h := NewSystemHandler(&config.Config{}, func() map[string]config.ProviderProfile { return nil }, func() error {
		return errReloadFailed
	})

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	rec := httptest.NewRecorder()
	h.Reload(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on reload failure, got %d", rec.Code)
	}
}

func TestSystemHandlerReloadSucceeds(t *testing.T) {
	h := NewSystemHandler(&config.Config{}, func() map[string]config.ProviderProfile { return nil }, func() error { return nil })

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	rec := httptest.NewRecorder()
	h.Reload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on successful reload, got %d", rec.Code)
	}
}

var errReloadFailed = &reloadError{"routes file not found"}

type reloadError struct{ msg string }

func (e *reloadError) Error() string { return e.msg }
