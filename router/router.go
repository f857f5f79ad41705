package router

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/AlfredDev/novagate/config"
	"github.com/AlfredDev/novagate/handler"
	gwmw "github.com/AlfredDev/novagate/middleware"
	"github.com/AlfredDev/novagate/observability"
)

// Handlers bundles every dataplane and admin handler the router mounts.
// Built by main.go once all ten components are wired; kept as a single
// struct so NewRouter's signature doesn't grow with every new endpoint.
type Handlers struct {
	Chat      *handler.ChatHandler
	Messages  *handler.MessagesHandler
	Responses *handler.ResponsesHandler
	Models    *handler.ModelsHandler
	Quota     *handler.QuotaHandler
	System    *handler.SystemHandler
}

// NewRouter returns a configured chi Router with the full middleware
// chain and all routes mounted. Optional variadic args:
// metrics *observability.Metrics, tracer *observability.Tracer.
func NewRouter(cfg *config.Config, appLogger zerolog.Logger, h Handlers, opts ...interface{}) http.Handler {
	r := chi.NewRouter()

	var metrics *observability.Metrics
	var tracer *observability.Tracer
	for _, opt := range opts {
		switch v := opt.(type) {
		case *observability.Metrics:
			metrics = v
		case *observability.Tracer:
			tracer = v
		}
	}

	// --- Middleware Chain (order matters) ---
	r.Use(gwmw.CORSMiddleware([]string{"*"}))
	r.Use(gwmw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	if tracer != nil {
		r.Use(observability.TracingMiddleware(tracer))
	}
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	// --- Health endpoints (no auth required) ---
	r.Get("/healthz", h.System.Healthz)
	r.Get("/ready", h.System.Ready)

	if metrics != nil {
		r.Get("/metrics", metrics.Handler())
	}

	r.Get("/openapi.json", handler.OpenAPIHandler())
	r.Get("/docs", handler.SwaggerUIHandler())

	// --- Dataplane routes (gateway key/bearer + rate limit required) ---
	authMW := gwmw.NewAPIKeyOrBearer(appLogger, cfg.APIKeyHeader, cfg.GatewayAPIKey)
	rateLimiter := gwmw.NewRateLimiter(appLogger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)
	headerNorm := gwmw.NewHeaderNormalization(appLogger)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(headerNorm.Handler)

		r.Post("/chat/completions", h.Chat.ServeHTTP)
		r.Post("/messages", h.Messages.ServeHTTP)
		r.Post("/responses", h.Responses.ServeHTTP)
		r.Post("/responses/{id}/submit_tool_outputs", h.Responses.SubmitToolOutputs)
		r.Get("/models", h.Models.ServeHTTP)
	})

	// --- Admin routes (loopback-only, no dataplane auth) ---
	r.Route("/quota", func(r chi.Router) {
		r.Use(gwmw.LoopbackOnly(appLogger))

		r.Get("/summary", h.Quota.Summary)
		r.Get("/providers", h.Quota.Providers)
		r.Post("/providers/{key}/reset", h.Quota.ResetProvider)
		r.Post("/providers/{key}/recover", h.Quota.RecoverProvider)
		r.Post("/providers/{key}/disable", h.Quota.DisableProvider)
		r.Post("/refresh", h.Quota.Refresh)
		r.Get("/runtime", h.Quota.Runtime)
	})

	r.Group(func(r chi.Router) {
		r.Use(gwmw.LoopbackOnly(appLogger))
		r.Get("/config", h.System.Config)
		r.Post("/reload", h.System.Reload)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024 // default 1MB
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			max := maxBytes
			if v := os.Getenv("GATEWAY_MAX_BODY_BYTES"); v != "" {
				if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
					max = parsed
				}
			}

			if r.ContentLength > 0 && r.ContentLength > max {
				http.Error(w, `{"error":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
