package api

import (
	"encoding/json"
	"net/http"
)

// respondJSON writes a JSON response with the given status code and data.
// If data is nil, only the status code and Content-Type header are written.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes {"error": message} with the given status code.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondMessage writes the {"message": ..., key: detail} shape used by the
// send endpoint.
func respondMessage(w http.ResponseWriter, status int, message, key string, detail any) {
	respondJSON(w, status, map[string]any{
		"message": message,
		key:       detail,
	})
}
