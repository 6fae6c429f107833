package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
)

const (
	defaultDataLimit   = 100
	maxDataLimit       = 1000
	defaultSummaryDays = 30
)

type monitorRequest struct {
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	IntervalSec     int             `json:"interval"`
	MaxRetries      int             `json:"max_retries"`
	Active          *bool           `json:"active"`
	Payload         monitor.Payload `json:"payload"`
	NotificationIDs []string        `json:"notification_ids"`
	UpMessage       *string         `json:"up_message"`
	DownMessage     *string         `json:"down_message"`
}

// monitorView reports the interval in seconds, the unit clients send.
type monitorView struct {
	ID            string                 `json:"id"`
	WorkspaceID   string                 `json:"workspace_id"`
	Name          string                 `json:"name"`
	Type          string                 `json:"type"`
	IntervalSec   int                    `json:"interval"`
	MaxRetries    int                    `json:"max_retries"`
	Active        bool                   `json:"active"`
	Payload       monitor.Payload        `json:"payload"`
	Notifications []notification.Channel `json:"notifications"`
	UpMessage     *string                `json:"up_message,omitempty"`
	DownMessage   *string                `json:"down_message,omitempty"`
	RecentError   string                 `json:"recent_error"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func toView(m *monitor.Monitor) monitorView {
	return monitorView{
		ID:            m.ID,
		WorkspaceID:   m.WorkspaceID,
		Name:          m.Name,
		Type:          m.Type,
		IntervalSec:   int(m.Interval / time.Second),
		MaxRetries:    m.MaxRetries,
		Active:        m.Active,
		Payload:       m.Payload,
		Notifications: m.Notifications,
		UpMessage:     m.UpMessage,
		DownMessage:   m.DownMessage,
		RecentError:   m.RecentError,
		UpdatedAt:     m.UpdatedAt,
	}
}

func (s *Server) handleUpsertMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "bad payload")
		return
	}
	m := &monitor.Monitor{
		ID:          chi.URLParam(r, "monitorID"),
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		Name:        req.Name,
		Type:        req.Type,
		Interval:    time.Duration(req.IntervalSec) * time.Second,
		MaxRetries:  req.MaxRetries,
		Active:      req.Active == nil || *req.Active,
		Payload:     req.Payload,
		UpMessage:   req.UpMessage,
		DownMessage: req.DownMessage,
	}

	stored, err := s.engine.Upsert(r.Context(), m, req.NotificationIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if chi.URLParam(r, "monitorID") == "" {
		code = http.StatusCreated
	}
	writeJSON(w, code, toView(stored))
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	m, err := s.monitors.GetByID(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "monitorID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(m))
}

func (s *Server) handleDeleteMonitor(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "monitorID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Trigger(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "monitorID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		badRequest(w, "active is required")
		return
	}
	m, err := s.engine.SetActive(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "monitorID"), *req.Active)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(m))
}

func (s *Server) handleRunnerInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.Info(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "monitorID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// owned checks the monitor belongs to the workspace in the path before
// exposing its history.
func (s *Server) owned(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "monitorID")
	if _, err := s.monitors.GetByID(r.Context(), chi.URLParam(r, "workspaceID"), id); err != nil {
		s.fail(w, r, err)
		return "", false
	}
	return id, true
}

func (s *Server) handleRecentData(w http.ResponseWriter, r *http.Request) {
	id, ok := s.owned(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	since := time.Now().Add(-24 * time.Hour)
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "since must be RFC3339")
			return
		}
		since = t
	}
	limit := intParam(q.Get("limit"), defaultDataLimit)
	if limit > maxDataLimit {
		limit = maxDataLimit
	}

	points, err := s.data.ListRecent(r.Context(), id, since, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	id, ok := s.owned(w, r)
	if !ok {
		return
	}
	days := intParam(r.URL.Query().Get("days"), defaultSummaryDays)
	since := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -days+1)

	sum, err := s.data.DailySummary(r.Context(), id, since)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.owned(w, r)
	if !ok {
		return
	}
	evs, err := s.events.ListByMonitor(r.Context(), id, intParam(r.URL.Query().Get("limit"), defaultDataLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func intParam(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
