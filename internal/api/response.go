package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"discord-router/internal/registry"
)

type errorResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
	AppID   string   `json:"appId,omitempty"`
}

type internalErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Message: message})
}

func writeInternalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, internalErrorResponse{
		Error:     "Internal server error",
		Timestamp: time.Now().UTC(),
	})
}

// writeRegistryError maps registry failures onto admin API responses.
func writeRegistryError(w http.ResponseWriter, err error, appID string) {
	var ve *registry.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Success: false, Message: ve.Error(), Fields: ve.Fields()})
	case errors.Is(err, registry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Success: false, Message: "App not registered", AppID: appID})
	default:
		writeInternalError(w)
	}
}
