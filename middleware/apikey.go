package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	// APIKeyContextKey stores the presented gateway key in request context.
	APIKeyContextKey contextKey = "api_key"
)

// APIKeyOrBearer validates dataplane requests against the single
// configured gateway API key — per-tenant user validation against a
// backend is out of scope, so this is "is this the configured key",
// not a call out to an identity provider.
type APIKeyOrBearer struct {
	logger    zerolog.Logger
	headerKey string
	gatewayKey string
}

// NewAPIKeyOrBearer creates the dataplane auth middleware. An empty
// gatewayKey disables enforcement entirely (useful for local dev).
func NewAPIKeyOrBearer(logger zerolog.Logger, headerKey, gatewayKey string) *APIKeyOrBearer {
	if headerKey == "" {
		headerKey = "Authorization"
	}
	return &APIKeyOrBearer{logger: logger, headerKey: headerKey, gatewayKey: gatewayKey}
}

// Handler returns the middleware handler function.
func (am *APIKeyOrBearer) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if am.gatewayKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get(am.headerKey)
		if authHeader == "" {
			http.Error(w, `{"error":"missing authentication","message":"Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		presented := authHeader
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			presented = authHeader[len("bearer "):]
		}

		if presented != am.gatewayKey {
			http.Error(w, `{"error":"invalid authentication","message":"API key is not recognized"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), APIKeyContextKey, presented)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAPIKey extracts the presented API key from the request context.
func GetAPIKey(ctx context.Context) string {
	if v, ok := ctx.Value(APIKeyContextKey).(string); ok {
		return v
	}
	return ""
}
