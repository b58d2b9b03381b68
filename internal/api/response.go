package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope wraps every JSON response as { "data": ..., "error": ... }.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeJSON writes a success envelope with the given status and payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Data: data})
}

// writeError writes an error envelope with the given status and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Error: msg})
}
