package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/provider"
	"github.com/NordCoder/Pulsewatch/internal/repository/postgres"
)

type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrInvalid), errors.Is(err, provider.ErrUnknownType):
		return http.StatusBadRequest
	case errors.Is(err, monitor.ErrNotFound), errors.Is(err, monitor.ErrRunnerNotFound),
		errors.Is(err, postgres.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, monitor.ErrInactive), errors.Is(err, postgres.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, postgres.ErrConstraint):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
