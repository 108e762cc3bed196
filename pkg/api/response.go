package api

import (
	"net/http"

	"telemetry/pkg/codec"
)

var json = codec.JSON

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// sendJSON encodes before writing the status so an encoding failure still
// reaches the client as a 500.
func sendJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(response{Success: true, Data: data})
	if err != nil {
		sendError(w, http.StatusInternalServerError, "encode response: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Success: false, Error: message})
}
