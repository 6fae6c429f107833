package monitor_engine

import (
	"context"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/cache"
	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
	"github.com/NordCoder/Pulsewatch/internal/domain/outbox"
	"github.com/NordCoder/Pulsewatch/internal/provider"
	"github.com/NordCoder/Pulsewatch/internal/repository/postgres"
	"go.uber.org/zap"
)

// StateStore keeps the retry counter and last committed status outside the process.
type StateStore interface {
	RetryCount(ctx context.Context, id string) (int, error)
	SetRetryCount(ctx context.Context, id string, n int) error
	Status(ctx context.Context, id string) (monitor.Status, error)
	SetStatus(ctx context.Context, id string, st monitor.Status) error
	Reset(ctx context.Context, id string) error
}

type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error, opts cache.LockOptions) (bool, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, channels []notification.Channel, msg notification.Message)
}

type Providers interface {
	Get(typ string) (provider.Provider, error)
	Validate(typ string, interval time.Duration) error
}

// Deps is shared by the manager and every runner it builds.
type Deps struct {
	Monitors  monitor.Repo
	Data      monitor.DataRepo
	Events    monitor.EventRepo
	Outbox    outbox.Repository
	Tx        postgres.Transactor
	State     StateStore
	Locker    Locker
	Notifier  Dispatcher
	Providers Providers
	Clock     monitor.Clock
	Log       *zap.Logger

	// CycleLock guards scheduled and manual cycles; PushLock guards pushed results,
	// which wait for the lock instead of being dropped.
	CycleLock cache.LockOptions
	PushLock  cache.LockOptions
}

func (d *Deps) withDefaults() *Deps {
	cp := *d
	if cp.Clock == nil {
		cp.Clock = monitor.SystemClock{}
	}
	if cp.Log == nil {
		cp.Log = zap.NewNop()
	}
	if cp.CycleLock.Timeout <= 0 {
		cp.CycleLock = cache.DefaultLockOptions()
	}
	if cp.PushLock.Timeout <= 0 {
		cp.PushLock = cache.DefaultLockOptions()
		cp.PushLock.SkipOnFailure = false
	}
	return &cp
}
