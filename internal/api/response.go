package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"shortsq/internal/domain"
	"shortsq/internal/usecase"
)

// envelope is the body of every JSON response.
type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Status: status, Message: message, Data: data})
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, "", data)
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, message, nil)
}

// writeError maps domain and infrastructure errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		fail(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, domain.ErrTaskNotFound):
		fail(w, http.StatusNotFound, "task not found")
	case errors.Is(err, usecase.ErrInfrastructure):
		log.Ctx(r.Context()).Error().Err(err).Msg("backend failure")
		fail(w, http.StatusServiceUnavailable, "task backend unavailable, try again later")
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("internal error")
		fail(w, http.StatusInternalServerError, "internal server error")
	}
}
