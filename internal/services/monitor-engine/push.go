package monitor_engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

type PushRequest struct {
	Token  string
	Msg    string
	Status string
	Value  *float64
}

// PushService records heartbeats sent to /push/{token}.
type PushService struct {
	monitors monitor.Repo
	status   monitor.StatusRepo
	manager  *Manager
	clock    monitor.Clock
}

func NewPushService(monitors monitor.Repo, status monitor.StatusRepo, manager *Manager, clock monitor.Clock) *PushService {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	return &PushService{monitors: monitors, status: status, manager: manager, clock: clock}
}

// Push stores the heartbeat and feeds its value to the monitor's runner.
// A "down" status counts as a failure; otherwise the value defaults to 1.
func (s *PushService) Push(ctx context.Context, req PushRequest) error {
	m, err := s.monitors.GetByPushToken(ctx, req.Token)
	if err != nil {
		return fmt.Errorf("monitor not found or not active: %w", err)
	}

	msg := req.Msg
	if msg == "" {
		msg = "OK"
	}
	up := req.Status != "down"
	value := -1.0
	recentError := msg
	if up {
		value, recentError = 1, ""
		if req.Value != nil && *req.Value > 0 {
			value = *req.Value
		}
	}

	b, err := json.Marshal(monitor.LastPush{LastPushTime: s.clock.Now().UTC(), LastMessage: msg})
	if err != nil {
		return err
	}
	if err := s.status.Upsert(ctx, m.ID, monitor.StatusNameLastPush, b); err != nil {
		return fmt.Errorf("save last push: %w", err)
	}
	if err := s.monitors.SetRecentError(ctx, m.ID, recentError); err != nil {
		return fmt.Errorf("save recent error: %w", err)
	}

	r, err := s.manager.EnsureRunner(ctx, m.WorkspaceID, m.ID)
	if err != nil {
		return err
	}
	return r.Observe(ctx, value, recentError)
}
