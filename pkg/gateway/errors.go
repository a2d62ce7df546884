package gateway

import (
	"encoding/json"
	"net/http"
)

// Stable machine-readable error codes. Clients key retry behavior off these
// and the HTTP status, never off the human-readable message.
const (
	CodeDisabled        = "wmcp_disabled"
	CodeAuthRequired    = "wmcp_auth_required"
	CodeRateLimited     = "wmcp_rate_limited"
	CodeNotFound        = "wmcp_not_found"
	CodeForbidden       = "wmcp_forbidden"
	CodeInvalidNonce    = "wmcp_invalid_nonce"
	CodeInvalidJSON     = "wmcp_invalid_json"
	CodePayloadTooLarge = "wmcp_payload_too_large"
	CodeExecutionError  = "wmcp_execution_error"
)

// ErrorEnvelope is the JSON body of every error response.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorEnvelope{Code: code, Message: message})
}
