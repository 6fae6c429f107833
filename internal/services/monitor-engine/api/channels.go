package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
)

type channelRequest struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	chs, err := s.channels.ListByWorkspace(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if chs == nil {
		chs = []*notification.Channel{}
	}
	writeJSON(w, http.StatusOK, chs)
}

func (s *Server) handleUpsertChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		badRequest(w, "type is required")
		return
	}
	ch := &notification.Channel{
		ID:          chi.URLParam(r, "channelID"),
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		Name:        req.Name,
		Type:        req.Type,
		Payload:     req.Payload,
	}
	if err := s.channels.Upsert(r.Context(), ch); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.channels.Delete(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "channelID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
