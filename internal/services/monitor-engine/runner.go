package monitor_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/outbox"
	"github.com/NordCoder/Pulsewatch/internal/notify"
	"github.com/NordCoder/Pulsewatch/internal/obs"
	"github.com/NordCoder/Pulsewatch/internal/obs/retry"
	intoutbox "github.com/NordCoder/Pulsewatch/internal/outbox"
	"github.com/NordCoder/Pulsewatch/internal/provider"
)

func lockName(monitorID string) string { return "monitor-execution:" + monitorID }

// Runner owns the schedule and status machine of a single monitor.
type Runner struct {
	d        *Deps
	provider provider.Provider
	log      *zap.Logger

	mu      sync.Mutex
	m       monitor.Monitor
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func newRunner(d *Deps, m *monitor.Monitor) (*Runner, error) {
	p, err := d.Providers.Get(m.Type)
	if err != nil {
		return nil, err
	}
	return &Runner{
		d:        d,
		provider: p,
		m:        *m,
		log: d.Log.With(
			zap.String("component", "engine.runner"),
			zap.String("monitor_id", m.ID),
			zap.String("monitor_type", m.Type),
		),
	}, nil
}

// Monitor returns a copy of the definition the runner works with.
func (r *Runner) Monitor() monitor.Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start runs the first cycle right away and then one per interval until Stop
// or until parent is cancelled. Starting a running runner is a no-op.
func (r *Runner) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.loop(ctx, r.done)
	r.log.Info("monitor started", zap.String("name", r.m.Name), zap.Duration("interval", r.m.Interval))
}

// Stop cancels the pending wait. A cycle that already holds the lock finishes
// on its own context.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	r.running = false
	r.log.Info("monitor stopped", zap.String("name", r.m.Name))
}

// Done is closed when the scheduling goroutine has exited. It is nil for a
// runner that was never started.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		if rec := panics.Try(func() { _ = r.RunOnce(ctx) }); rec != nil {
			r.log.Error("monitor cycle panicked", zap.Error(rec.AsError()))
		}
		timer.Reset(r.Monitor().Interval)
	}
}

// RunOnce executes one cycle under the monitor lock. Lock contention is not an
// error: the cycle is skipped.
func (r *Runner) RunOnce(ctx context.Context) error {
	m := r.Monitor()
	ctx, span := otel.Tracer("engine.runner").Start(ctx, "monitor.cycle", trace.WithAttributes(
		attribute.String("monitor.id", m.ID),
		attribute.String("monitor.type", m.Type),
	))
	defer span.End()

	ran, err := r.d.Locker.WithLock(ctx, lockName(m.ID), func(lctx context.Context) error {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(lctx), r.d.CycleLock.Timeout)
		defer cancel()
		return r.cycle(cctx, &m)
	}, r.d.CycleLock)

	switch {
	case err != nil:
		obs.SpanError(ctx, err)
		cyclesTotal.WithLabelValues(m.Type, "error").Inc()
		obs.WithTrace(ctx, r.log).Error("monitor cycle failed", zap.Error(err))
		return err
	case !ran:
		cyclesTotal.WithLabelValues(m.Type, "skipped").Inc()
		r.log.Debug("monitor cycle skipped, lock held elsewhere")
		return nil
	default:
		cyclesTotal.WithLabelValues(m.Type, "ok").Inc()
		return nil
	}
}

// Observe feeds an externally produced value through the same status machine,
// waiting for the lock rather than dropping the value.
func (r *Runner) Observe(ctx context.Context, value float64, recentError string) error {
	m := r.Monitor()
	m.RecentError = recentError
	r.remember(&m)

	_, err := r.d.Locker.WithLock(ctx, lockName(m.ID), func(lctx context.Context) error {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(lctx), r.d.PushLock.Timeout)
		defer cancel()
		return r.observe(cctx, &m, value)
	}, r.d.PushLock)
	return err
}

func (r *Runner) cycle(ctx context.Context, m *monitor.Monitor) error {
	start := time.Now()
	value, err := r.provider.Run(ctx, m)
	providerDuration.WithLabelValues(m.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		obs.WithTrace(ctx, r.log, zap.Duration("took", time.Since(start))).Warn("provider run failed", zap.Error(err))
		value = -1
		r.setRecentError(ctx, m, err.Error())
	}
	r.remember(m)
	return r.observe(ctx, m, value)
}

func (r *Runner) observe(ctx context.Context, m *monitor.Monitor, value float64) error {
	if value == 0 {
		return nil
	}
	st := r.d.State
	pol := retry.StateStorePolicy()

	var (
		retries int
		status  monitor.Status
	)
	if err := retry.Do(ctx, func() (err error) { retries, err = st.RetryCount(ctx, m.ID); return }, pol); err != nil {
		return fmt.Errorf("read retry count: %w", err)
	}
	if err := retry.Do(ctx, func() (err error) { status, err = st.Status(ctx, m.ID); return }, pol); err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	var next monitor.Status
	if value < 0 && retries < m.MaxRetries {
		if err := retry.Do(ctx, func() error { return st.SetRetryCount(ctx, m.ID, retries+1) }, pol); err != nil {
			return fmt.Errorf("save retry count: %w", err)
		}
		r.log.Debug("failure within retry budget", zap.Int("retry", retries+1), zap.Int("max_retries", m.MaxRetries))
	} else {
		if retries != 0 {
			if err := retry.Do(ctx, func() error { return st.SetRetryCount(ctx, m.ID, 0) }, pol); err != nil {
				return fmt.Errorf("reset retry count: %w", err)
			}
		}
		switch {
		case value < 0 && status == monitor.StatusUp:
			next = monitor.StatusDown
		case value > 0 && status == monitor.StatusDown:
			next = monitor.StatusUp
		}
	}

	now := r.d.Clock.Now().UTC()
	dp := &monitor.DataPoint{MonitorID: m.ID, Value: value, CreatedAt: now}
	var ev *monitor.Event
	if next != "" {
		ev = &monitor.Event{
			MonitorID: m.ID,
			Type:      next,
			Message:   fmt.Sprintf("Monitor [%s] has been %s", m.Name, strings.ToLower(string(next))),
			CreatedAt: now,
		}
	}

	// The status flips last inside the transaction: an event row never commits
	// without it, and a failed commit puts the previous status back.
	var flipped bool
	if err := r.d.Tx.WithTx(ctx, func(txCtx context.Context) error {
		if ev != nil {
			if err := writeEvent(txCtx, r.d, m.WorkspaceID, ev); err != nil {
				return err
			}
		}
		if err := writeDataPoint(txCtx, r.d, m.WorkspaceID, dp); err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		if err := retry.Do(ctx, func() error { return st.SetStatus(ctx, m.ID, next) }, pol); err != nil {
			return fmt.Errorf("save status: %w", err)
		}
		flipped = true
		return nil
	}); err != nil {
		if flipped {
			r.restoreStatus(ctx, m.ID, status)
		}
		return fmt.Errorf("persist cycle: %w", err)
	}

	if next == "" {
		return nil
	}
	transitionsTotal.WithLabelValues(m.Type, string(next)).Inc()
	obs.WithTrace(ctx, r.log).Info("monitor status changed", zap.String("status", string(next)), zap.Float64("value", value))

	msg, err := notify.Compose(m, next, now, value)
	if err != nil {
		r.log.Warn("custom message failed, using default", zap.Error(err))
	}
	if next == monitor.StatusUp {
		r.setRecentError(ctx, m, "")
		r.remember(m)
	}
	r.d.Notifier.Dispatch(ctx, m.Notifications, msg)
	return nil
}

func (r *Runner) restoreStatus(ctx context.Context, id string, prev monitor.Status) {
	if err := retry.Do(ctx, func() error { return r.d.State.SetStatus(ctx, id, prev) }, retry.StateStorePolicy()); err != nil {
		obs.WithTrace(ctx, r.log).Error("restore status after failed commit", zap.String("status", string(prev)), zap.Error(err))
	}
}

func (r *Runner) setRecentError(ctx context.Context, m *monitor.Monitor, msg string) {
	if m.RecentError == msg {
		return
	}
	if err := r.d.Monitors.SetRecentError(ctx, m.ID, msg); err != nil {
		r.log.Warn("save recent error", zap.Error(err))
		return
	}
	m.RecentError = msg
}

// remember copies fields a cycle may change back into the runner's definition.
func (r *Runner) remember(m *monitor.Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m.Payload = m.Payload
	r.m.RecentError = m.RecentError
}

func writeDataPoint(ctx context.Context, d *Deps, workspaceID string, dp *monitor.DataPoint) error {
	if err := d.Data.Insert(ctx, dp); err != nil {
		return fmt.Errorf("insert data point: %w", err)
	}
	b, err := json.Marshal(intoutbox.DataPointPayload{WorkspaceID: workspaceID, Data: *dp})
	if err != nil {
		return fmt.Errorf("marshal data point: %w", err)
	}
	if err := d.Outbox.Enqueue(ctx, outbox.DataPointKey(dp.MonitorID, dp.ID), outbox.KindDataPoint, b); err != nil {
		return fmt.Errorf("outbox enqueue: %w", err)
	}
	return nil
}

func writeEvent(ctx context.Context, d *Deps, workspaceID string, ev *monitor.Event) error {
	if err := d.Events.Insert(ctx, ev); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	b, err := json.Marshal(intoutbox.MonitorEventPayload{WorkspaceID: workspaceID, Event: *ev})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := d.Outbox.Enqueue(ctx, outbox.EventKey(ev.MonitorID, ev.ID), outbox.KindMonitorEvent, b); err != nil {
		return fmt.Errorf("outbox enqueue: %w", err)
	}
	return nil
}
