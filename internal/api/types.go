package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/office-parking-reservations/internal/remote"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  []ValidationError `json:"fields"`
}

type ReconcileResponse struct {
	UserEmail  string              `json:"userEmail"`
	Bookings   []remote.BookingDTO `json:"bookings"`
	CacheStale bool                `json:"cacheStale,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, remote.ErrorResponse{Error: code, Message: message})
}
