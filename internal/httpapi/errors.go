package httpapi

import (
	"encoding/json"
	"net/http"
)

// APIError is the failure contract of the trigger surface: an error summary
// plus details, with a non-2xx status.
type APIError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, summary, details string) {
	WriteJSON(w, status, APIError{Error: summary, Details: details})
}
