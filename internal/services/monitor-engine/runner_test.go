package monitor_engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/cache"
	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/outbox"
	"github.com/NordCoder/Pulsewatch/internal/provider"
)

func runCycles(t *testing.T, r *Runner, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, r.RunOnce(context.Background()))
	}
}

func TestRunner_DownAfterRetryBudget(t *testing.T) {
	f := newFixture()
	f.provider.results = values(-1, -1, -1)
	r, err := newRunner(f.deps, f.monitor(2))
	require.NoError(t, err)

	runCycles(t, r, 2)
	assert.Empty(t, f.events.types(), "failures within budget must not transition")
	assert.Zero(t, f.notifier.count())

	runCycles(t, r, 1)
	assert.Equal(t, []float64{-1, -1, -1}, f.data.values())
	assert.Equal(t, []monitor.Status{monitor.StatusDown}, f.events.types())
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "[api] 🔴 Down", f.notifier.msgs[0].Title)

	st, err := f.state.Status(context.Background(), r.Monitor().ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusDown, st)
	n, err := f.state.RetryCount(context.Background(), r.Monitor().ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunner_ZeroRetriesFlipsBothWays(t *testing.T) {
	f := newFixture()
	f.provider.results = values(-1, 5)
	r, err := newRunner(f.deps, f.monitor(0))
	require.NoError(t, err)

	runCycles(t, r, 1)
	assert.Equal(t, []monitor.Status{monitor.StatusDown}, f.events.types())
	runCycles(t, r, 1)
	assert.Equal(t, []monitor.Status{monitor.StatusDown, monitor.StatusUp}, f.events.types())
	assert.Equal(t, 2, f.notifier.count())
	assert.Equal(t, "[api] ✅ Up", f.notifier.msgs[1].Title)
	assert.Equal(t, []float64{-1, 5}, f.data.values())
}

func TestRunner_PositiveResetsRetryCount(t *testing.T) {
	f := newFixture()
	f.provider.results = values(-1, -1, 7, -1, -1)
	m := f.monitor(2)
	r, err := newRunner(f.deps, m)
	require.NoError(t, err)

	runCycles(t, r, 3)
	n, err := f.state.RetryCount(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	runCycles(t, r, 2)
	n, err = f.state.RetryCount(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.events.types())
	assert.Zero(t, f.notifier.count())
	assert.Len(t, f.data.values(), 5)
}

func TestRunner_OneEventPerBoundary(t *testing.T) {
	f := newFixture()
	f.provider.results = values(-1, -1, -1, 3, 4, 5)
	r, err := newRunner(f.deps, f.monitor(0))
	require.NoError(t, err)

	runCycles(t, r, 6)
	assert.Equal(t, []monitor.Status{monitor.StatusDown, monitor.StatusUp}, f.events.types())
	assert.Equal(t, 2, f.notifier.count())
}

func TestRunner_ZeroIsNoSignal(t *testing.T) {
	f := newFixture()
	f.provider.results = values(0, 0)
	m := f.monitor(0)
	r, err := newRunner(f.deps, m)
	require.NoError(t, err)

	runCycles(t, r, 2)
	assert.Empty(t, f.data.values())
	assert.Empty(t, f.outbox.keys)
	assert.Zero(t, f.notifier.count())
	_, err = f.store.Get(context.Background(), "monitor:"+m.ID+":retryCount")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRunner_ProviderErrorCountsAsFailure(t *testing.T) {
	f := newFixture()
	f.provider.results = []result{{err: errors.New("connection refused")}, {v: 12}}
	m := f.monitor(0)
	r, err := newRunner(f.deps, m)
	require.NoError(t, err)

	runCycles(t, r, 1)
	assert.Equal(t, []float64{-1}, f.data.values())
	assert.Equal(t, "connection refused", f.monitors.recentError(m.ID))
	assert.Equal(t, "connection refused", r.Monitor().RecentError)

	runCycles(t, r, 1)
	assert.Empty(t, f.monitors.recentError(m.ID), "recovery clears the recent error")
}

func TestRunner_EnqueuesOutboxInOrder(t *testing.T) {
	f := newFixture()
	f.provider.results = values(-1)
	r, err := newRunner(f.deps, f.monitor(0))
	require.NoError(t, err)

	runCycles(t, r, 1)
	assert.Equal(t, []outbox.Kind{outbox.KindMonitorEvent, outbox.KindDataPoint}, f.outbox.kinds)
}

func TestRunner_CustomTemplateFallback(t *testing.T) {
	f := newFixture()
	f.provider.results = []result{{err: errors.New("connection refused")}}
	m := f.monitor(0)
	bad := "{{.Nope"
	m.DownMessage = &bad
	r, err := newRunner(f.deps, m)
	require.NoError(t, err)

	runCycles(t, r, 1)
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "[api] 🔴 Down", f.notifier.msgs[0].Title)
	assert.Contains(t, f.notifier.msgs[0].Body, "Time: ")
	assert.Contains(t, f.notifier.msgs[0].Body, "Error: connection refused")
}

type flakyState struct {
	StateStore
	failStatus bool
}

func (s *flakyState) SetStatus(ctx context.Context, id string, st monitor.Status) error {
	if s.failStatus {
		return errors.New("state store unavailable")
	}
	return s.StateStore.SetStatus(ctx, id, st)
}

// undoTx drops rows written by a failed transaction.
type undoTx struct{ f *fixture }

func (tx undoTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.f.events.mu.Lock()
	ne := len(tx.f.events.events)
	tx.f.events.mu.Unlock()
	tx.f.data.mu.Lock()
	nd := len(tx.f.data.points)
	tx.f.data.mu.Unlock()

	err := fn(ctx)
	if err != nil {
		tx.f.events.mu.Lock()
		tx.f.events.events = tx.f.events.events[:ne]
		tx.f.events.mu.Unlock()
		tx.f.data.mu.Lock()
		tx.f.data.points = tx.f.data.points[:nd]
		tx.f.data.mu.Unlock()
	}
	return err
}

func TestRunner_StatusWriteFailureRollsBackEvent(t *testing.T) {
	f := newFixture()
	fs := &flakyState{StateStore: f.state, failStatus: true}
	f.deps.State, f.deps.Tx = fs, undoTx{f}
	f.provider.results = values(-1, -1, -1)
	r, err := newRunner(f.deps, f.monitor(0))
	require.NoError(t, err)

	require.Error(t, r.RunOnce(context.Background()))
	assert.Empty(t, f.events.types())
	assert.Zero(t, f.notifier.count())

	fs.failStatus = false
	runCycles(t, r, 2)
	assert.Equal(t, []monitor.Status{monitor.StatusDown}, f.events.types())
	assert.Equal(t, 1, f.notifier.count())
}

type failingCommitTx struct{}

func (failingCommitTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return errors.New("commit failed")
}

func TestRunner_FailedCommitRestoresStatus(t *testing.T) {
	f := newFixture()
	f.deps.Tx = failingCommitTx{}
	f.provider.results = values(-1)
	m := f.monitor(0)
	r, err := newRunner(f.deps, m)
	require.NoError(t, err)

	require.Error(t, r.RunOnce(context.Background()))
	st, err := f.state.Status(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusUp, st)
	assert.Zero(t, f.notifier.count())
}

type blockingProvider struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
	release  chan struct{}
}

func (p *blockingProvider) Run(context.Context, *monitor.Monitor) (float64, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	p.calls.Add(1)
	for {
		cur := p.maxSeen.Load()
		if n <= cur || p.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	<-p.release
	return 1, nil
}

func TestRunner_LockPreventsConcurrentProviders(t *testing.T) {
	f := newFixture()
	bp := &blockingProvider{release: make(chan struct{})}
	f.registry.Register("blocking", bp)
	m := f.monitor(0)
	m.Type = "blocking"

	// two runners sharing one lock store stand in for two engine instances
	a, err := newRunner(f.deps, m)
	require.NoError(t, err)
	b, err := newRunner(f.deps, m)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.RunOnce(context.Background())
	}()
	require.Eventually(t, func() bool { return bp.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.RunOnce(context.Background()))
	close(bp.release)
	wg.Wait()

	assert.EqualValues(t, 1, bp.calls.Load())
	assert.EqualValues(t, 1, bp.maxSeen.Load())
}

func TestRunner_StopPreventsFurtherCycles(t *testing.T) {
	f := newFixture()
	var calls atomic.Int32
	f.registry.Register("counting", provider.Func(func(context.Context, *monitor.Monitor) (float64, error) {
		calls.Add(1)
		return 1, nil
	}))
	m := f.monitor(0)
	m.Type = "counting"
	m.Interval = 10 * time.Millisecond

	r, err := newRunner(f.deps, m)
	require.NoError(t, err)
	r.Start(context.Background())
	assert.True(t, r.Running())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	r.Stop()
	assert.False(t, r.Running())
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("runner loop did not exit")
	}
	seen := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, calls.Load())
}

func TestRunner_PanicDoesNotKillLoop(t *testing.T) {
	f := newFixture()
	var calls atomic.Int32
	f.registry.Register("flaky", provider.Func(func(context.Context, *monitor.Monitor) (float64, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return 1, nil
	}))
	m := f.monitor(0)
	m.Type = "flaky"
	m.Interval = 10 * time.Millisecond

	r, err := newRunner(f.deps, m)
	require.NoError(t, err)
	r.Start(context.Background())
	defer r.Stop()
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestRunner_ObserveWaitsForLock(t *testing.T) {
	f := newFixture()
	m := f.monitor(0)
	r, err := newRunner(f.deps, m)
	require.NoError(t, err)

	locker := cache.NewLocker(f.store, "other", zap.NewNop())
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = locker.WithLock(context.Background(), lockName(m.ID), func(context.Context) error {
			close(held)
			<-release
			return nil
		}, cache.DefaultLockOptions())
	}()
	<-held
	time.AfterFunc(150*time.Millisecond, func() { close(release) })

	require.NoError(t, r.Observe(context.Background(), -1, "down"))
	assert.Equal(t, []float64{-1}, f.data.values())
	assert.Equal(t, []monitor.Status{monitor.StatusDown}, f.events.types())
}
