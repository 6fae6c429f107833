package monitor_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/cache"
	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
	"github.com/NordCoder/Pulsewatch/internal/domain/outbox"
	"github.com/NordCoder/Pulsewatch/internal/provider"
)

type memMonitors struct {
	mu       sync.Mutex
	items    map[string]*monitor.Monitor
	channels map[string]notification.Channel
	errs     map[string]string
}

func newMemMonitors() *memMonitors {
	return &memMonitors{
		items:    map[string]*monitor.Monitor{},
		channels: map[string]notification.Channel{},
		errs:     map[string]string{},
	}
}

func (r *memMonitors) Upsert(_ context.Context, m *monitor.Monitor, channelIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	} else if old, ok := r.items[m.ID]; !ok || old.WorkspaceID != m.WorkspaceID {
		return monitor.ErrNotFound
	}
	m.Notifications = nil
	for _, id := range channelIDs {
		if ch, ok := r.channels[id]; ok {
			m.Notifications = append(m.Notifications, ch)
		}
	}
	cp := *m
	r.items[m.ID] = &cp
	return nil
}

func (r *memMonitors) GetByID(_ context.Context, ws, id string) (*monitor.Monitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[id]
	if !ok || m.WorkspaceID != ws {
		return nil, monitor.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memMonitors) GetByPushToken(_ context.Context, token string) (*monitor.Monitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.items {
		if m.Active && m.Payload.String(provider.PayloadPushToken) == token {
			cp := *m
			return &cp, nil
		}
	}
	return nil, monitor.ErrNotFound
}

func (r *memMonitors) ListActive(context.Context) ([]*monitor.Monitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*monitor.Monitor
	for _, m := range r.items {
		if m.Active {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memMonitors) Delete(_ context.Context, ws, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.items[id]; !ok || m.WorkspaceID != ws {
		return monitor.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memMonitors) SetActive(_ context.Context, ws, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[id]
	if !ok || m.WorkspaceID != ws {
		return monitor.ErrNotFound
	}
	m.Active = active
	return nil
}

func (r *memMonitors) UpdatePayload(_ context.Context, id string, p monitor.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.items[id]; ok {
		m.Payload = p
	}
	return nil
}

func (r *memMonitors) SetRecentError(_ context.Context, id, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[id] = msg
	if m, ok := r.items[id]; ok {
		m.RecentError = msg
	}
	return nil
}

func (r *memMonitors) recentError(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[id]
}

type memData struct {
	mu     sync.Mutex
	points []monitor.DataPoint
}

func (d *memData) Insert(_ context.Context, dp *monitor.DataPoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dp.ID = int64(len(d.points) + 1)
	d.points = append(d.points, *dp)
	return nil
}

func (d *memData) ListRecent(context.Context, string, time.Time, int) ([]*monitor.DataPoint, error) {
	return nil, nil
}

func (d *memData) DailySummary(context.Context, string, time.Time) ([]*monitor.DailySummary, error) {
	return nil, nil
}

func (d *memData) values() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, 0, len(d.points))
	for _, p := range d.points {
		out = append(out, p.Value)
	}
	return out
}

type memEvents struct {
	mu     sync.Mutex
	events []monitor.Event
}

func (e *memEvents) Insert(_ context.Context, ev *monitor.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev.ID = int64(len(e.events) + 1)
	e.events = append(e.events, *ev)
	return nil
}

func (e *memEvents) ListByMonitor(context.Context, string, int) ([]*monitor.Event, error) {
	return nil, nil
}

func (e *memEvents) types() []monitor.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]monitor.Status, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type memOutbox struct {
	mu    sync.Mutex
	kinds []outbox.Kind
	keys  []string
}

func (o *memOutbox) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid payload for %s", key)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
	o.keys = append(o.keys, key)
	return nil
}

func (o *memOutbox) PickBatch(context.Context, int, time.Duration) ([]outbox.Message, error) {
	return nil, nil
}

func (o *memOutbox) MarkSuccess(context.Context, []string) error { return nil }

type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (n *recordingNotifier) Dispatch(_ context.Context, _ []notification.Channel, msg notification.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// scripted returns the queued results in order, then 0.
type scripted struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	v   float64
	err error
}

func (s *scripted) Run(context.Context, *monitor.Monitor) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.results) == 0 {
		return 0, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.v, r.err
}

func values(vs ...float64) []result {
	out := make([]result, len(vs))
	for i, v := range vs {
		out[i] = result{v: v}
	}
	return out
}

type fixture struct {
	deps     *Deps
	monitors *memMonitors
	data     *memData
	events   *memEvents
	outbox   *memOutbox
	notifier *recordingNotifier
	state    *cache.State
	store    *cache.Memory
	registry *provider.Registry
	provider *scripted
}

func newFixture() *fixture {
	store := cache.NewMemory()
	f := &fixture{
		monitors: newMemMonitors(),
		data:     &memData{},
		events:   &memEvents{},
		outbox:   &memOutbox{},
		notifier: &recordingNotifier{},
		state:    cache.NewState(store, cache.DefaultStateTTL),
		store:    store,
		provider: &scripted{},
	}
	f.registry = provider.NewRegistry().Register("scripted", f.provider)
	f.deps = (&Deps{
		Monitors:  f.monitors,
		Data:      f.data,
		Events:    f.events,
		Outbox:    f.outbox,
		Tx:        passTx{},
		State:     f.state,
		Locker:    cache.NewLocker(store, "test", zap.NewNop()),
		Notifier:  f.notifier,
		Providers: f.registry,
		Log:       zap.NewNop(),
	}).withDefaults()
	return f
}

func (f *fixture) monitor(maxRetries int) *monitor.Monitor {
	return &monitor.Monitor{
		ID:          uuid.NewString(),
		WorkspaceID: "ws",
		Name:        "api",
		Type:        "scripted",
		Interval:    time.Minute,
		MaxRetries:  maxRetries,
		Active:      true,
		Payload:     monitor.Payload{},
	}
}
