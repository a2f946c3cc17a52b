package server

import (
	"encoding/json"
	"net/http"

	"posterm/internal/posapi"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the {ok:false, error} body every client expects.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, posapi.ErrorResponse{OK: false, Error: msg})
}
