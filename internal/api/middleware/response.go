package middleware

import (
	"encoding/json"
	"net/http"
)

// errEnvelope matches the api package's envelope format for error
// responses emitted from middleware.
type errEnvelope struct {
	Error string `json:"error,omitempty"`
}

// writeError writes a JSON error matching the API envelope format.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errEnvelope{Error: msg}) //nolint:errcheck
}
