//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/cache"
	"github.com/NordCoder/Pulsewatch/internal/domain/bus"
	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
	"github.com/NordCoder/Pulsewatch/internal/obs/retry"
	"github.com/NordCoder/Pulsewatch/internal/outbox"
	"github.com/NordCoder/Pulsewatch/internal/provider"
	pg "github.com/NordCoder/Pulsewatch/internal/repository/postgres"
	engine "github.com/NordCoder/Pulsewatch/internal/services/monitor-engine"
)

type capturedEmit struct {
	name, workspace string
}

type capturePublisher struct {
	mu    sync.Mutex
	emits []capturedEmit
}

func (c *capturePublisher) Emit(_ context.Context, name, workspaceID string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits = append(c.emits, capturedEmit{name, workspaceID})
	return nil
}

type nopNotifier struct{ n int }

func (d *nopNotifier) Dispatch(context.Context, []notification.Channel, notification.Message) { d.n++ }

func TestEngine_PersistsTransitionsThroughOutbox(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	l := zap.NewNop()

	values := []float64{-1, 5}
	var (
		mu    sync.Mutex
		armed bool
	)
	scripted := provider.Func(func(context.Context, *monitor.Monitor) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		if !armed || len(values) == 0 {
			return 0, nil
		}
		v := values[0]
		values = values[1:]
		return v, nil
	})

	store := cache.NewMemory()
	outboxRepo := pg.NewOutboxRepo(db)
	monitors := pg.NewMonitorRepo(db)
	channels := pg.NewChannelRepo(db)
	notifier := &nopNotifier{}

	mg := engine.NewManager(&engine.Deps{
		Monitors:  monitors,
		Data:      pg.NewDataRepo(db),
		Events:    pg.NewEventRepo(db),
		Outbox:    outboxRepo,
		Tx:        pg.NewTransactor(db, l),
		State:     cache.NewState(store, cache.DefaultStateTTL),
		Locker:    cache.NewLocker(store, "it", l),
		Notifier:  notifier,
		Providers: provider.NewRegistry().Register("scripted", scripted),
		Log:       l,
	})
	t.Cleanup(func() { _ = mg.Shutdown(context.Background()) })

	ch := &notification.Channel{WorkspaceID: "ws", Name: "ops", Type: "webhook", Payload: map[string]any{"url": "http://hooks"}}
	require.NoError(t, channels.Upsert(ctx, ch))

	stored, err := mg.Upsert(ctx, &monitor.Monitor{
		WorkspaceID: "ws", Name: "api", Type: "scripted", Interval: time.Minute,
	}, []string{ch.ID})
	require.NoError(t, err)
	require.Len(t, stored.Notifications, 1)
	_, err = mg.SetActive(ctx, "ws", stored.ID, false)
	require.NoError(t, err)
	r, ok := mg.GetRunner(stored.ID)
	require.True(t, ok)
	<-r.Done()
	mu.Lock()
	armed = true
	mu.Unlock()

	require.NoError(t, mg.Trigger(ctx, "ws", stored.ID))
	require.NoError(t, mg.Trigger(ctx, "ws", stored.ID))

	points, err := pg.NewDataRepo(db).ListRecent(ctx, stored.ID, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, points, 2)

	evs, err := pg.NewEventRepo(db).ListByMonitor(ctx, stored.ID, 10)
	require.NoError(t, err)
	var kinds []monitor.Status
	for _, ev := range evs {
		kinds = append(kinds, ev.Type)
	}
	// manual stop, DOWN, UP
	assert.ElementsMatch(t, []monitor.Status{monitor.StatusDown, monitor.StatusDown, monitor.StatusUp}, kinds)
	assert.Equal(t, 2, notifier.n)

	pub := &capturePublisher{}
	runner := outbox.NewOutboxRunner(l, outboxRepo, outbox.MakeGlobalOutboxHandler(bus.Fanout{pub}, retry.DefaultRelayPolicy(l)),
		outbox.Options{BatchSize: 100, Poll: 10 * time.Millisecond})
	assert.Equal(t, 5, runner.Tick(ctx))

	var data, changes int
	for _, e := range pub.emits {
		assert.Equal(t, "ws", e.workspace)
		switch e.name {
		case bus.EventMonitorData:
			data++
		case bus.EventMonitorChange:
			changes++
		}
	}
	assert.Equal(t, 2, data)
	assert.Equal(t, 3, changes)
	assert.Zero(t, runner.Tick(ctx), "delivered rows are not picked again")
}

func TestEngine_PushHeartbeat(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	l := zap.NewNop()
	store := cache.NewMemory()

	monitors := pg.NewMonitorRepo(db)
	status := pg.NewStatusRepo(db)
	mg := engine.NewManager(&engine.Deps{
		Monitors:  monitors,
		Data:      pg.NewDataRepo(db),
		Events:    pg.NewEventRepo(db),
		Outbox:    pg.NewOutboxRepo(db),
		Tx:        pg.NewTransactor(db, l),
		State:     cache.NewState(store, cache.DefaultStateTTL),
		Locker:    cache.NewLocker(store, "it", l),
		Notifier:  &nopNotifier{},
		Providers: provider.NewRegistry().Register(provider.TypePush, provider.NewPush(monitors, status, nil, l)),
		Log:       l,
	})
	t.Cleanup(func() { _ = mg.Shutdown(context.Background()) })

	m := &monitor.Monitor{
		WorkspaceID: "ws", Name: "cron", Type: provider.TypePush, Interval: time.Minute, Active: true,
		Payload: monitor.Payload{provider.PayloadPushToken: "tok-1"},
	}
	require.NoError(t, monitors.Upsert(ctx, m, nil))

	svc := engine.NewPushService(monitors, status, mg, nil)
	require.NoError(t, svc.Push(ctx, engine.PushRequest{Token: "tok-1", Status: "down", Msg: "backup failed"}))

	got, err := monitors.GetByID(ctx, "ws", m.ID)
	require.NoError(t, err)
	assert.Equal(t, "backup failed", got.RecentError)

	rec, err := status.Get(ctx, m.ID, monitor.StatusNameLastPush)
	require.NoError(t, err)
	var last monitor.LastPush
	require.NoError(t, json.Unmarshal(rec.Payload, &last))
	assert.Equal(t, "backup failed", last.LastMessage)

	require.Error(t, svc.Push(ctx, engine.PushRequest{Token: "unknown"}))
}
