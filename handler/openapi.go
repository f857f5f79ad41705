package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the NovaGate Gateway.
func OpenAPISpec() map[string]interface{} {
	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "NovaGate AI Gateway",
			"description": "Enterprise AI Control & Economy Platform — Gateway API",
			"version":     "1.0.0",
			"contact": map[string]interface{}{
				"name": "NovaGate Engineering",
			},
			"license": map[string]interface{}{
				"name": "Proprietary",
			},
		},
		"servers": []map[string]interface{}{
			{"url": "http://localhost:8080", "description": "Local development"},
			{"url": "https://api.novagate.ai", "description": "Production"},
		},
		"paths": openAPIPaths(),
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"BearerAuth": map[string]interface{}{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "API Key",
					"description":  "NovaGate API key (ng_...)",
				},
			},
			"schemas": openAPISchemas(),
		},
		"security": []map[string]interface{}{
			{"BearerAuth": []string{}},
		},
		"tags": []map[string]interface{}{
			{"name": "Chat", "description": "OpenAI Chat Completions dialect"},
			{"name": "Responses", "description": "OpenAI Responses dialect"},
			{"name": "Messages", "description": "Anthropic Messages dialect"},
			{"name": "Models", "description": "Available model listing"},
			{"name": "Quota", "description": "Provider quota control (loopback-only admin surface)"},
			{"name": "Health", "description": "Service health checks"},
		},
	}
}

func openAPIPaths() map[string]interface{} {
	return map[string]interface{}{
		"/v1/chat/completions": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Chat"},
				"summary":     "Create chat completion",
				"description": "Send a chat completion request through the NovaGate gateway. Supports streaming via SSE.",
				"operationId": "createChatCompletion",
				"requestBody": map[string]interface{}{
					"required": true,
					"content": map[string]interface{}{
						"application/json": map[string]interface{}{
							"schema": map[string]interface{}{"$ref": "#/components/schemas/ChatRequest"},
						},
					},
				},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{
						"description": "Successful completion",
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{"$ref": "#/components/schemas/ChatResponse"},
							},
						},
					},
					"400": map[string]interface{}{"description": "Invalid request"},
					"401": map[string]interface{}{"description": "Unauthorized — invalid API key"},
					"429": map[string]interface{}{"description": "Rate limit exceeded or quota exhausted"},
					"502": map[string]interface{}{"description": "Upstream provider error"},
				},
			},
		},
		"/v1/models": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Models"},
				"summary":     "List available models",
				"operationId": "listModels",
				"responses": map[string]interface{}{
					"200": map[string]interface{}{
						"description": "List of models from all registered providers",
					},
				},
			},
		},
		"/v1/messages": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Messages"},
				"summary":     "Create a message (Anthropic dialect)",
				"operationId": "createMessage",
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Successful message"},
					"400": map[string]interface{}{"description": "Invalid request"},
					"502": map[string]interface{}{"description": "Upstream provider error"},
				},
			},
		},
		"/v1/responses": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Responses"},
				"summary":     "Create a response (OpenAI Responses dialect)",
				"operationId": "createResponse",
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Successful response"},
					"400": map[string]interface{}{"description": "Invalid request"},
					"502": map[string]interface{}{"description": "Upstream provider error"},
				},
			},
		},
		"/v1/responses/{id}/submit_tool_outputs": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Responses"},
				"summary":     "Submit tool outputs for a pending response",
				"operationId": "submitToolOutputs",
				"parameters": []map[string]interface{}{
					{"name": "id", "in": "path", "required": true, "schema": map[string]interface{}{"type": "string"}},
				},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Resumed response"},
					"404": map[string]interface{}{"description": "No pending run for that id"},
				},
			},
		},
		"/quota/summary": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Quota"},
				"summary":     "Quota state counts by kind",
				"operationId": "getQuotaSummary",
				"security":    []map[string]interface{}{},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "In-pool / cooldown / blacklist / auth-broken counts"},
				},
			},
		},
		"/quota/providers": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Quota"},
				"summary":     "Per-provider-key quota state",
				"operationId": "listQuotaProviders",
				"security":    []map[string]interface{}{},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Quota state table"},
				},
			},
		},
		"/quota/providers/{key}/reset": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Quota"},
				"summary":     "Reset a provider key to in-pool",
				"operationId": "resetQuotaProvider",
				"security":    []map[string]interface{}{},
				"parameters": []map[string]interface{}{
					{"name": "key", "in": "path", "required": true, "schema": map[string]interface{}{"type": "string"}},
				},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Updated state"},
				},
			},
		},
		"/quota/providers/{key}/recover": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Quota"},
				"summary":     "Manually recover a provider key early",
				"operationId": "recoverQuotaProvider",
				"security":    []map[string]interface{}{},
				"parameters": []map[string]interface{}{
					{"name": "key", "in": "path", "required": true, "schema": map[string]interface{}{"type": "string"}},
				},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Updated state"},
				},
			},
		},
		"/quota/providers/{key}/disable": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Quota"},
				"summary":     "Force a provider key into cooldown or blacklist",
				"operationId": "disableQuotaProvider",
				"security":    []map[string]interface{}{},
				"parameters": []map[string]interface{}{
					{"name": "key", "in": "path", "required": true, "schema": map[string]interface{}{"type": "string"}},
				},
				"requestBody": map[string]interface{}{
					"content": map[string]interface{}{
						"application/json": map[string]interface{}{
							"schema": map[string]interface{}{"type": "object", "properties": map[string]interface{}{"blacklist": map[string]interface{}{"type": "boolean"}, "durationSeconds": map[string]interface{}{"type": "integer"}}},
						},
					},
				},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Updated state"},
				},
			},
		},
		"/quota/refresh": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Quota"},
				"summary":     "Report current quota snapshot for all keys",
				"operationId": "refreshQuota",
				"security":    []map[string]interface{}{},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Quota state table"},
				},
			},
		},
		"/quota/runtime": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Quota"},
				"summary":     "In-pool vs unavailable counts",
				"operationId": "getQuotaRuntime",
				"security":    []map[string]interface{}{},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Liveness-oriented quota view"},
				},
			},
		},
		"/healthz": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Health"},
				"summary":     "Liveness probe",
				"operationId": "healthz",
				"security":    []map[string]interface{}{},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Service is alive"},
				},
			},
		},
		"/ready": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Health"},
				"summary":     "Readiness probe",
				"operationId": "ready",
				"security":    []map[string]interface{}{},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Service is ready"},
				},
			},
		},
		"/metrics": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Health"},
				"summary":     "Prometheus metrics",
				"operationId": "metrics",
				"security":    []map[string]interface{}{},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Prometheus text exposition format"},
				},
			},
		},
	}
}

func openAPISchemas() map[string]interface{} {
	return map[string]interface{}{
		"ChatRequest": map[string]interface{}{
			"type":     "object",
			"required": []string{"model", "messages"},
			"properties": map[string]interface{}{
				"model":       map[string]interface{}{"type": "string", "description": "Model ID (e.g. gpt-4o, claude-3.5-sonnet)"},
				"messages":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"$ref": "#/components/schemas/ChatMessage"}},
				"max_tokens":  map[string]interface{}{"type": "integer", "description": "Maximum completion tokens"},
				"temperature": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 2},
				"stream":      map[string]interface{}{"type": "boolean", "default": false},
				"tools":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"$ref": "#/components/schemas/Tool"}},
				"user":        map[string]interface{}{"type": "string"},
			},
		},
		"ChatMessage": map[string]interface{}{
			"type":     "object",
			"required": []string{"role", "content"},
			"properties": map[string]interface{}{
				"role":         map[string]interface{}{"type": "string", "enum": []string{"system", "user", "assistant", "tool"}},
				"content":      map[string]interface{}{"description": "String or array of content parts"},
				"name":         map[string]interface{}{"type": "string"},
				"tool_calls":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"$ref": "#/components/schemas/ToolCall"}},
				"tool_call_id": map[string]interface{}{"type": "string"},
			},
		},
		"ChatResponse": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":      map[string]interface{}{"type": "string"},
				"object":  map[string]interface{}{"type": "string"},
				"created": map[string]interface{}{"type": "integer"},
				"model":   map[string]interface{}{"type": "string"},
				"choices": map[string]interface{}{"type": "array", "items": map[string]interface{}{"$ref": "#/components/schemas/Choice"}},
				"usage":   map[string]interface{}{"$ref": "#/components/schemas/Usage"},
			},
		},
		"Choice": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"index":         map[string]interface{}{"type": "integer"},
				"message":       map[string]interface{}{"$ref": "#/components/schemas/ChatMessage"},
				"finish_reason": map[string]interface{}{"type": "string", "enum": []string{"stop", "length", "tool_calls", "content_filter"}},
			},
		},
		"Usage": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"prompt_tokens":     map[string]interface{}{"type": "integer"},
				"completion_tokens": map[string]interface{}{"type": "integer"},
				"total_tokens":      map[string]interface{}{"type": "integer"},
			},
		},
		"Tool": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type":     map[string]interface{}{"type": "string", "enum": []string{"function"}},
				"function": map[string]interface{}{"$ref": "#/components/schemas/Function"},
			},
		},
		"Function": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name":        map[string]interface{}{"type": "string"},
				"description": map[string]interface{}{"type": "string"},
				"parameters":  map[string]interface{}{"type": "object"},
			},
		},
		"ToolCall": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":       map[string]interface{}{"type": "string"},
				"type":     map[string]interface{}{"type": "string"},
				"function": map[string]interface{}{"type": "object", "properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}, "arguments": map[string]interface{}{"type": "string"}}},
			},
		},
		"Error": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"type":    map[string]interface{}{"type": "string"},
						"message": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
	}
}

// OpenAPIHandler serves the OpenAPI spec at /openapi.json.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := OpenAPISpec()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(spec)
	}
}

// SwaggerUIHandler serves a minimal Swagger UI page.
func SwaggerUIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>NovaGate Gateway API</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
    SwaggerUI({
        url: '/openapi.json',
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
        layout: "BaseLayout"
    });
    </script>
</body>
</html>`
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}
}
