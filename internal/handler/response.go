package handler

import (
	"encoding/json"
	"net/http"

	"restaurant-sync/internal/apperr"
)

// envelope is the body of every API response except the webhook ack.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

// writeError maps err onto its HTTP status. Internal errors keep their
// detail out of the response.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusGatewayTimeout {
		msg = "internal server error"
	}
	writeJSON(w, status, envelope{Success: false, Error: apperr.Kind(err), Message: msg})
}
