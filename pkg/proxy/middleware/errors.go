package middleware

import (
	"encoding/json"
	"net/http"
)

// Error types written in JSON error bodies.
const (
	ErrorTypeRateLimit = "rate_limit_exceeded"
	ErrorTypeServer    = "server_error"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a rejected or failed request.
type ErrorDetail struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	RetryAfter int64  `json:"retry_after,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, detail ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: detail})
}
