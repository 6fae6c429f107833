package provider

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type memStatus struct {
	mu   sync.Mutex
	recs map[string]*monitor.StatusRecord
}

func newMemStatus() *memStatus { return &memStatus{recs: map[string]*monitor.StatusRecord{}} }

func (s *memStatus) Upsert(_ context.Context, id, name string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[id+"/"+name] = &monitor.StatusRecord{MonitorID: id, Name: name, Payload: payload, UpdatedAt: time.Now()}
	return nil
}

func (s *memStatus) Get(_ context.Context, id, name string) (*monitor.StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id+"/"+name]
	if !ok {
		return nil, monitor.ErrNoStatus
	}
	return r, nil
}

// memMonitors implements only what providers touch.
type memMonitors struct {
	monitor.Repo
	payloads    map[string]monitor.Payload
	recentError map[string]string
}

func newMemMonitors() *memMonitors {
	return &memMonitors{payloads: map[string]monitor.Payload{}, recentError: map[string]string{}}
}

func (r *memMonitors) UpdatePayload(_ context.Context, id string, p monitor.Payload) error {
	r.payloads[id] = p
	return nil
}

func (r *memMonitors) SetRecentError(_ context.Context, id, msg string) error {
	r.recentError[id] = msg
	return nil
}
