package middleware

import (
	"net"
	"net/http"

	"github.com/rs/zerolog"
)

// LoopbackOnly rejects any request whose remote address isn't the
// loopback interface. The admin surface (quota overrides, reload,
// config introspection) is gated this way instead of by API key —
// multi-tenant access control beyond loopback-admin gating is out of
// scope, so "is this even reachable from outside the host" is the
// only boundary that needs enforcing here.
func LoopbackOnly(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip == nil || !ip.IsLoopback() {
				logger.Warn().Str("remote", r.RemoteAddr).Str("path", r.URL.Path).Msg("rejected non-loopback admin request")
				http.Error(w, `{"error":"forbidden","message":"admin surface is loopback-only"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
