package transport

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestClassifyMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   ErrorKind
	}{
		{http.StatusBadRequest, "", KindBadRequest},
		{http.StatusUnauthorized, "", KindAuthInvalidToken},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, KindRateLimited},
		{http.StatusTooManyRequests, `{"error":{"code":"insufficient_quota"}}`, KindQuotaExhausted},
		{http.StatusGatewayTimeout, "", KindUpstreamTimeout},
		{http.StatusServiceUnavailable, "", KindNoRouteAvailable},
		{http.StatusBadGateway, "", KindUpstreamServerErr},
	}
	for _, c := range cases {
		err := Classify(c.status, []byte(c.body))
		var upstreamErr *UpstreamError
		if !errors.As(err, &upstreamErr) {
			t.Fatalf("status %d: expected *UpstreamError, got %T", c.status, err)
		}
		if upstreamErr.Kind != c.want {
			t.Fatalf("status %d: expected kind %s, got %s", c.status, c.want, upstreamErr.Kind)
		}
	}
}

func TestIsQuotaExhaustionDetectsMessageMarker(t *testing.T) {
	if !isQuotaExhaustion([]byte(`{"error":"You exceeded your current quota, please check your plan"}`)) {
		t.Fatal("expected quota exhaustion marker to be detected in free-form message")
	}
}

func TestDoWithRecoveryReplaysOnceAfterAuthInvalid(t *testing.T) {
	attempts := 0
	call := func(ctx context.Context) (any, error) {
		attempts++
		if attempts == 1 {
			return nil, &UpstreamError{Kind: KindAuthInvalidToken, StatusCode: 401}
		}
		return "ok", nil
	}

	repaired := false
	onAuthInvalid := func(ctx context.Context, providerID, alias string) error {
		repaired = true
		return nil
	}

	result, err := DoWithRecovery(context.Background(), "openai", "default", onAuthInvalid, call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repaired {
		t.Fatal("expected onAuthInvalid to be invoked")
	}
	if result != "ok" {
		t.Fatalf("expected replay to succeed, got %v", result)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly one replay (2 attempts), got %d", attempts)
	}
}

func TestDoWithRecoveryDoesNotReplayNonAuthErrors(t *testing.T) {
	attempts := 0
	call := func(ctx context.Context) (any, error) {
		attempts++
		return nil, &UpstreamError{Kind: KindUpstreamServerErr, StatusCode: 502}
	}
	_, err := DoWithRecovery(context.Background(), "openai", "default", func(ctx context.Context, p, a string) error { return nil }, call)
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if attempts != 1 {
		t.Fatalf("expected no replay for non-auth error, got %d attempts", attempts)
	}
}
