package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/bus"
	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/outbox"
	"github.com/NordCoder/Pulsewatch/internal/obs/retry"
)

type emitted struct {
	name, workspace string
	payload         any
}

type fakePublisher struct {
	mu    sync.Mutex
	fail  int
	calls []emitted
}

func (p *fakePublisher) Emit(_ context.Context, name, ws string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errors.New("broker unavailable")
	}
	p.calls = append(p.calls, emitted{name, ws, payload})
	return nil
}

type fakeRepo struct {
	batch  []outbox.Message
	marked []string
}

func (r *fakeRepo) Enqueue(context.Context, string, outbox.Kind, []byte) error { return nil }

func (r *fakeRepo) PickBatch(context.Context, int, time.Duration) ([]outbox.Message, error) {
	b := r.batch
	r.batch = nil
	return b, nil
}

func (r *fakeRepo) MarkSuccess(_ context.Context, keys []string) error {
	r.marked = append(r.marked, keys...)
	return nil
}

var fastPolicy = retry.Policy{Attempts: 3, Backoff: retry.ExpoJitter{Base: time.Millisecond, Max: time.Millisecond}}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHandler_RoutesKindsToBusEvents(t *testing.T) {
	pub := &fakePublisher{fail: 1}
	h := MakeGlobalOutboxHandler(pub, fastPolicy)

	dp, err := h(outbox.KindDataPoint)
	require.NoError(t, err)
	require.NoError(t, dp(context.Background(), mustJSON(t, DataPointPayload{
		WorkspaceID: "ws", Data: monitor.DataPoint{MonitorID: "m1", Value: 12},
	})))

	ev, err := h(outbox.KindMonitorEvent)
	require.NoError(t, err)
	require.NoError(t, ev(context.Background(), mustJSON(t, MonitorEventPayload{
		WorkspaceID: "ws", Event: monitor.Event{MonitorID: "m1", Type: monitor.StatusDown},
	})))

	require.Len(t, pub.calls, 2)
	assert.Equal(t, bus.EventMonitorData, pub.calls[0].name)
	assert.Equal(t, "ws", pub.calls[0].workspace)
	assert.Equal(t, 12.0, pub.calls[0].payload.(monitor.DataPoint).Value)
	assert.Equal(t, bus.EventMonitorChange, pub.calls[1].name)

	_, err = h(outbox.Kind(99))
	require.Error(t, err)
}

func TestRunner_TickMarksDelivered(t *testing.T) {
	pub := &fakePublisher{}
	repo := &fakeRepo{batch: []outbox.Message{
		{IdempotencyKey: "a", Kind: outbox.KindDataPoint, Data: mustJSON(t, DataPointPayload{WorkspaceID: "ws"})},
		{IdempotencyKey: "b", Kind: outbox.Kind(42), Data: []byte(`{}`)},
		{IdempotencyKey: "c", Kind: outbox.KindMonitorEvent, Data: []byte(`not json`)},
	}}
	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(pub, fastPolicy), Options{BatchSize: 10})

	n := r.Tick(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "c"}, repo.marked)
	assert.Len(t, pub.calls, 1)
}

func TestRunner_TickKeepsFailedForRetry(t *testing.T) {
	pub := &fakePublisher{fail: 10}
	repo := &fakeRepo{batch: []outbox.Message{
		{IdempotencyKey: "a", Kind: outbox.KindDataPoint, Data: mustJSON(t, DataPointPayload{WorkspaceID: "ws"})},
	}}
	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(pub, fastPolicy), Options{BatchSize: 10})

	assert.Zero(t, r.Tick(context.Background()))
	assert.Empty(t, repo.marked)
}

func TestFanout_JoinsErrors(t *testing.T) {
	ok := &fakePublisher{}
	bad := &fakePublisher{fail: 1}
	err := bus.Fanout{ok, nil, bad}.Emit(context.Background(), bus.EventMonitorData, "ws", 1)
	require.Error(t, err)
	assert.Len(t, ok.calls, 1)
}

func TestRunner_RunStopsWithContext(t *testing.T) {
	repo := &fakeRepo{}
	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(&fakePublisher{}, fastPolicy),
		Options{Workers: 3, Poll: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
