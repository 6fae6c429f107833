package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

const (
	PayloadPushToken   = "pushToken"
	defaultPushTimeout = 60 * time.Second
	msgNoFirstPush     = "First push has not been received"
)

type pushPayload struct {
	PushToken string `json:"pushToken"`
	Timeout   int    `json:"timeout"`
}

// Push is passive: the target calls the push endpoint and the provider only
// notices when those calls stop arriving.
type Push struct {
	monitors monitor.Repo
	status   monitor.StatusRepo
	clock    monitor.Clock
	log      *zap.Logger
}

func NewPush(monitors monitor.Repo, status monitor.StatusRepo, clock monitor.Clock, log *zap.Logger) *Push {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	return &Push{monitors: monitors, status: status, clock: clock, log: log}
}

func NewPushToken() string {
	return uuid.NewString()
}

func (p *Push) Run(ctx context.Context, m *monitor.Monitor) (float64, error) {
	var pl pushPayload
	if err := m.Payload.Decode(&pl); err != nil {
		return 0, err
	}

	if pl.PushToken == "" {
		next := m.Payload.Clone()
		next[PayloadPushToken] = NewPushToken()
		if err := p.monitors.UpdatePayload(ctx, m.ID, next); err != nil {
			return 0, fmt.Errorf("save push token: %w", err)
		}
		m.Payload = next
		p.log.Info("push token generated", zap.String("monitor_id", m.ID))
		return 0, nil
	}

	rec, err := p.status.Get(ctx, m.ID, monitor.StatusNameLastPush)
	if errors.Is(err, monitor.ErrNoStatus) {
		return 0, p.noFirstPush(ctx, m)
	}
	if err != nil {
		return 0, fmt.Errorf("load last push: %w", err)
	}
	var last monitor.LastPush
	if err := json.Unmarshal(rec.Payload, &last); err != nil || last.LastPushTime.IsZero() {
		return 0, p.noFirstPush(ctx, m)
	}

	timeout := secondsOr(pl.Timeout, defaultPushTimeout)
	if age := p.clock.Now().Sub(last.LastPushTime); age > timeout {
		return -1, fmt.Errorf("no push received for %s", age.Truncate(time.Second))
	}
	return 0, nil
}

func (p *Push) noFirstPush(ctx context.Context, m *monitor.Monitor) error {
	if m.RecentError == msgNoFirstPush {
		return nil
	}
	if err := p.monitors.SetRecentError(ctx, m.ID, msgNoFirstPush); err != nil {
		return fmt.Errorf("save recent error: %w", err)
	}
	m.RecentError = msgNoFirstPush
	return nil
}
