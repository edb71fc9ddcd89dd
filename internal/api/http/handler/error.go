package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/contactlink/identity-server/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrTxConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporary conflict, retry the request")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "contact not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
