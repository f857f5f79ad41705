package handler

import (
	"encoding/json"
	"net/http"

	"github.com/AlfredDev/novagate/pipeline"
)

// errorBody is the client-facing error envelope: {error: {message, type,
// code?, param?}}.
type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

func writeError(w http.ResponseWriter, requestID string, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-request-id", requestID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]errorBody{
		"error": {Message: message, Type: errType},
	})
}

// writePipelineError maps a *pipeline.V2ConnectionError (or any other
// orchestrator failure) onto the client error envelope and an HTTP
// status drawn from the module it failed in.
func writePipelineError(w http.ResponseWriter, requestID string, err error) {
	cerr, ok := err.(*pipeline.V2ConnectionError)
	if !ok {
		writeError(w, requestID, http.StatusBadGateway, "internal_error", err.Error())
		return
	}

	status := http.StatusBadGateway
	errType := "upstream_error"
	switch cerr.ModuleType {
	case "route":
		status = http.StatusServiceUnavailable
		errType = "no_route_available"
	case "hooks":
		status = http.StatusUnprocessableEntity
		errType = "hook_rejected"
	case "transport":
		status = http.StatusBadGateway
		errType = "upstream_error"
	case "pipeline":
		status = http.StatusInternalServerError
		errType = "internal_error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-request-id", requestID)
	w.Header().Set("x-connection-id", cerr.ConnectionID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]errorBody{
		"error": {Message: cerr.Error(), Type: errType, Code: cerr.ModuleType},
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
