package monitor_engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

// Announcer tells other engine instances that a monitor definition changed.
type Announcer interface {
	Announce(ctx context.Context, cmd Command) error
}

// RunnerInfo is a point-in-time view of a runner and its shared state.
type RunnerInfo struct {
	MonitorID   string         `json:"monitor_id"`
	Running     bool           `json:"running"`
	Status      monitor.Status `json:"status"`
	RetryCount  int            `json:"retry_count"`
	RecentError string         `json:"recent_error"`
}

// Manager keeps exactly one Runner per known monitor in this process.
type Manager struct {
	d         *Deps
	announcer Announcer
	base      context.Context
	cancel    context.CancelFunc
	log       *zap.Logger
	started   atomic.Bool

	mu      sync.RWMutex
	runners map[string]*Runner
}

func NewManager(d *Deps) *Manager {
	d = d.withDefaults()
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		d:       d,
		base:    base,
		cancel:  cancel,
		log:     d.Log.With(zap.String("component", "engine.manager")),
		runners: make(map[string]*Runner),
	}
}

// WithAnnouncer enables cross-instance propagation of local changes.
func (mg *Manager) WithAnnouncer(a Announcer) *Manager {
	mg.announcer = a
	return mg
}

// Upsert stores the definition and replaces its runner with a fresh, started one.
// The row and its notification links are written in one transaction.
func (mg *Manager) Upsert(ctx context.Context, m *monitor.Monitor, channelIDs []string) (*monitor.Monitor, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := mg.d.Providers.Validate(m.Type, m.Interval); err != nil {
		return nil, err
	}

	var stored *monitor.Monitor
	err := mg.d.Tx.WithTx(ctx, func(txCtx context.Context) error {
		if err := mg.d.Monitors.Upsert(txCtx, m, channelIDs); err != nil {
			return fmt.Errorf("upsert monitor: %w", err)
		}
		var err error
		if stored, err = mg.d.Monitors.GetByID(txCtx, m.WorkspaceID, m.ID); err != nil {
			return fmt.Errorf("reload monitor: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mg.stopRunner(stored.ID)
	r, err := mg.CreateRunner(stored)
	if err != nil {
		return nil, err
	}
	r.Start(mg.base)
	mg.announce(ctx, CommandUpsert, stored.WorkspaceID, stored.ID)
	return stored, nil
}

// Delete stops the runner and removes the definition.
func (mg *Manager) Delete(ctx context.Context, workspaceID, id string) error {
	if _, ok := mg.GetRunner(id); !ok {
		return fmt.Errorf("%w: %s", monitor.ErrRunnerNotFound, id)
	}
	mg.removeRunner(id)

	if err := mg.d.Monitors.Delete(ctx, workspaceID, id); err != nil {
		return fmt.Errorf("delete monitor: %w", err)
	}
	if err := mg.d.State.Reset(ctx, id); err != nil {
		mg.log.Warn("reset monitor state", zap.String("monitor_id", id), zap.Error(err))
	}
	mg.announce(ctx, CommandDelete, workspaceID, id)
	return nil
}

// StartAll starts every active monitor once per process.
func (mg *Manager) StartAll(ctx context.Context) error {
	if !mg.started.CompareAndSwap(false, true) {
		mg.log.Warn("StartAll should only be called once, skipped")
		return nil
	}
	ms, err := mg.d.Monitors.ListActive(ctx)
	if err != nil {
		mg.started.Store(false)
		return fmt.Errorf("list active monitors: %w", err)
	}
	started := 0
	for _, m := range ms {
		r, err := mg.CreateRunner(m)
		if err != nil {
			mg.log.Error("start monitor", zap.String("monitor_id", m.ID), zap.Error(err))
			continue
		}
		r.Start(mg.base)
		started++
	}
	mg.log.Info("all monitors started", zap.Int("started", started), zap.Int("total", len(ms)))
	return nil
}

func (mg *Manager) GetRunner(id string) (*Runner, bool) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	r, ok := mg.runners[id]
	return r, ok
}

// CreateRunner builds a runner for m and registers it, stopping any previous
// runner for the same id. The runner is not started.
func (mg *Manager) CreateRunner(m *monitor.Monitor) (*Runner, error) {
	r, err := newRunner(mg.d, m)
	if err != nil {
		return nil, fmt.Errorf("create runner for %s: %w", m.ID, err)
	}
	mg.mu.Lock()
	if old, ok := mg.runners[m.ID]; ok {
		old.Stop()
	}
	mg.runners[m.ID] = r
	runnersActive.Set(float64(len(mg.runners)))
	mg.mu.Unlock()
	return r, nil
}

// EnsureRunner returns the registered runner or builds one for an active monitor.
func (mg *Manager) EnsureRunner(ctx context.Context, workspaceID, id string) (*Runner, error) {
	if r, ok := mg.GetRunner(id); ok {
		return r, nil
	}
	m, err := mg.d.Monitors.GetByID(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, fmt.Errorf("%w: %s", monitor.ErrInactive, id)
	}
	return mg.CreateRunner(m)
}

// Trigger runs one cycle now, outside the schedule.
func (mg *Manager) Trigger(ctx context.Context, workspaceID, id string) error {
	r, err := mg.EnsureRunner(ctx, workspaceID, id)
	if err != nil {
		return err
	}
	return r.RunOnce(ctx)
}

// SetActive persists the flag, starts or stops the runner and records a manual event.
func (mg *Manager) SetActive(ctx context.Context, workspaceID, id string, active bool) (*monitor.Monitor, error) {
	if err := mg.d.Monitors.SetActive(ctx, workspaceID, id, active); err != nil {
		return nil, fmt.Errorf("set active: %w", err)
	}
	m, err := mg.d.Monitors.GetByID(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}

	r, ok := mg.GetRunner(id)
	if !ok {
		if r, err = mg.CreateRunner(m); err != nil {
			return nil, err
		}
	}

	ev := &monitor.Event{MonitorID: id, CreatedAt: mg.d.Clock.Now().UTC()}
	if active {
		r.Start(mg.base)
		ev.Type, ev.Message = monitor.StatusUp, fmt.Sprintf("Monitor [%s] has been manual start", m.Name)
	} else {
		r.Stop()
		ev.Type, ev.Message = monitor.StatusDown, fmt.Sprintf("Monitor [%s] has been manual stop", m.Name)
	}
	if err := mg.d.Tx.WithTx(ctx, func(txCtx context.Context) error {
		return writeEvent(txCtx, mg.d, workspaceID, ev)
	}); err != nil {
		return nil, fmt.Errorf("record manual event: %w", err)
	}
	mg.announce(ctx, CommandActive, workspaceID, id)
	return m, nil
}

// Reload brings the local runner in line with the stored definition. It is
// driven by changes made on other instances.
func (mg *Manager) Reload(ctx context.Context, workspaceID, id string) error {
	m, err := mg.d.Monitors.GetByID(ctx, workspaceID, id)
	if errors.Is(err, monitor.ErrNotFound) {
		mg.removeRunner(id)
		return nil
	}
	if err != nil {
		return err
	}
	if !m.Active {
		mg.stopRunner(id)
		return nil
	}
	r, err := mg.CreateRunner(m)
	if err != nil {
		return err
	}
	r.Start(mg.base)
	return nil
}

func (mg *Manager) Info(ctx context.Context, workspaceID, id string) (*RunnerInfo, error) {
	r, ok := mg.GetRunner(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", monitor.ErrRunnerNotFound, id)
	}
	m := r.Monitor()
	if m.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("%w: %s", monitor.ErrRunnerNotFound, id)
	}
	st, err := mg.d.State.Status(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	retries, err := mg.d.State.RetryCount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read retry count: %w", err)
	}
	return &RunnerInfo{
		MonitorID:   id,
		Running:     r.Running(),
		Status:      st,
		RetryCount:  retries,
		RecentError: m.RecentError,
	}, nil
}

// IDs lists registered monitor ids in a stable order.
func (mg *Manager) IDs() []string {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	out := make([]string, 0, len(mg.runners))
	for id := range mg.runners {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Shutdown stops every runner and waits for their loops to exit or ctx to end.
func (mg *Manager) Shutdown(ctx context.Context) error {
	mg.cancel()
	mg.mu.Lock()
	runners := make([]*Runner, 0, len(mg.runners))
	for _, r := range mg.runners {
		r.Stop()
		runners = append(runners, r)
	}
	mg.mu.Unlock()

	for _, r := range runners {
		done := r.Done()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// stopRunner halts the runner but keeps it registered.
func (mg *Manager) stopRunner(id string) {
	if r, ok := mg.GetRunner(id); ok {
		r.Stop()
	}
}

func (mg *Manager) removeRunner(id string) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if r, ok := mg.runners[id]; ok {
		r.Stop()
		delete(mg.runners, id)
		runnersActive.Set(float64(len(mg.runners)))
	}
}

func (mg *Manager) announce(ctx context.Context, op CommandOp, workspaceID, id string) {
	if mg.announcer == nil {
		return
	}
	if err := mg.announcer.Announce(ctx, Command{Op: op, WorkspaceID: workspaceID, MonitorID: id}); err != nil {
		mg.log.Warn("announce monitor change", zap.String("monitor_id", id), zap.String("op", string(op)), zap.Error(err))
	}
}
