package bridge

import (
	"encoding/json"
	"net/http"
)

// Error bodies carry a short category string and never internal detail.
const (
	errUnauthorized     = "Unauthorized"
	errBadRequest       = "Bad Request"
	errForbidden        = "Forbidden"
	errNotFound         = "Not Found"
	errMethodNotAllowed = "Method not allowed"
	errServerError      = "Internal Server Error"
	errQueueFull        = "Server Busy"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type okBody struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeErrorReason(w http.ResponseWriter, status int, message, reason string) {
	writeJSON(w, status, errorBody{Error: message, Reason: reason})
}

func writeOK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, okBody{OK: true, Message: message})
}
