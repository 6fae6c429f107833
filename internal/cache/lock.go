package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var ErrLockNotAcquired = errors.New("cache: lock not acquired")

const DefaultLockPrefix = "pulsewatch-lock"

var lockAcquire = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lock_acquire_total",
	Help: "Distributed lock acquisition attempts by result.",
}, []string{"result"})

type LockOptions struct {
	// Timeout bounds how long the key lives; a crashed holder frees it on expiry.
	Timeout time.Duration
	// SkipOnFailure returns immediately when the lock is held elsewhere.
	SkipOnFailure bool
	RetryInterval time.Duration
	MaxRetries    int
}

func DefaultLockOptions() LockOptions {
	return LockOptions{
		Timeout:       30 * time.Second,
		SkipOnFailure: true,
		RetryInterval: 100 * time.Millisecond,
		MaxRetries:    30,
	}
}

type lockValue struct {
	ID         string    `json:"id"`
	AcquiredAt time.Time `json:"acquiredAt"`
	Owner      string    `json:"owner"`
}

type Locker struct {
	store  Store
	prefix string
	owner  string
	log    *zap.Logger
}

func NewLocker(store Store, owner string, log *zap.Logger) *Locker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{
		store:  store,
		prefix: DefaultLockPrefix,
		owner:  owner,
		log:    log.With(zap.String("component", "cache.lock")),
	}
}

func (l *Locker) WithPrefix(prefix string) *Locker {
	cp := *l
	cp.prefix = prefix
	return &cp
}

// WithLock runs fn while holding name. It reports false without error when the
// lock is held elsewhere and opts.SkipOnFailure is set. Release only deletes the
// key if it still carries this acquisition's id.
func (l *Locker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error, opts LockOptions) (bool, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLockOptions().Timeout
	}
	key := l.prefix + ":" + name
	val, err := json.Marshal(lockValue{ID: uuid.NewString(), AcquiredAt: time.Now().UTC(), Owner: l.owner})
	if err != nil {
		return false, fmt.Errorf("marshal lock value: %w", err)
	}

	ok, err := l.acquire(ctx, key, val, opts)
	if err != nil {
		lockAcquire.WithLabelValues("error").Inc()
		return false, err
	}
	if !ok {
		lockAcquire.WithLabelValues("busy").Inc()
		if opts.SkipOnFailure {
			l.log.Debug("lock busy, skipping", zap.String("key", key))
			return false, nil
		}
		return false, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
	}
	lockAcquire.WithLabelValues("acquired").Inc()

	defer func() {
		// release must outlive a cancelled caller
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		released, err := l.store.CompareAndDelete(rctx, key, val)
		if err != nil {
			l.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
			return
		}
		if !released {
			l.log.Warn("lock expired before release", zap.String("key", key))
		}
	}()

	return true, fn(ctx)
}

func (l *Locker) acquire(ctx context.Context, key string, val []byte, opts LockOptions) (bool, error) {
	ok, err := l.store.SetNX(ctx, key, val, opts.Timeout)
	if err != nil || ok || opts.SkipOnFailure {
		return ok, err
	}

	interval := opts.RetryInterval
	if interval <= 0 {
		interval = DefaultLockOptions().RetryInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for i := 0; i < opts.MaxRetries; i++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
		}
		ok, err = l.store.SetNX(ctx, key, val, opts.Timeout)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
