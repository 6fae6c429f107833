package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	engine "github.com/NordCoder/Pulsewatch/internal/services/monitor-engine"
)

type pushResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := engine.PushRequest{
		Token:  chi.URLParam(r, "token"),
		Msg:    q.Get("msg"),
		Status: q.Get("status"),
	}
	if raw := q.Get("value"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(w, "value must be a number")
			return
		}
		req.Value = &v
	}

	if err := s.push.Push(r.Context(), req); err != nil {
		s.log.Debug("push rejected", zap.Error(err))
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pushResponse{OK: true, Message: "Push received successfully"})
}
