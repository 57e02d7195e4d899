// Package httputil provides the coordinator's HTTP response envelope and
// request-parsing helpers shared across internal/coordinator handlers.
package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON error envelope every failed coordinator
// endpoint returns: spec.md §6 "Error responses are JSON
// {"error": "<message>"}".
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes the {"error": "..."} envelope with the given status.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// BadRequest writes a 400 response (malformed / invalid-parameters).
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// Unauthorized writes a 401 response with the mandatory
// WWW-Authenticate challenge (spec.md §6).
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unauthorized"
	}
	w.Header().Set("WWW-Authenticate", `SECCHIWARE-HMAC-256 realm="Access to C2"`)
	WriteError(w, http.StatusUnauthorized, message)
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "not found"
	}
	WriteError(w, http.StatusNotFound, message)
}

// UnsupportedMediaType writes a 415 response.
func UnsupportedMediaType(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unsupported media type"
	}
	WriteError(w, http.StatusUnsupportedMediaType, message)
}

// InternalError writes a 500 response (coordinator-attributable).
func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "internal server error"
	}
	WriteError(w, http.StatusInternalServerError, message)
}

// BadGateway writes a 502 response (upstream-unexpected).
func BadGateway(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unexpected response from node"
	}
	WriteError(w, http.StatusBadGateway, message)
}

// GatewayTimeout writes a 504 response (upstream-unreachable).
func GatewayTimeout(w http.ResponseWriter, message string) {
	if message == "" {
		message = "the requested environment could not be reached"
	}
	WriteError(w, http.StatusGatewayTimeout, message)
}

// NoContent writes a bare 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
