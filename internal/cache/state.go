package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

const DefaultStateTTL = 30 * 24 * time.Hour

// State keeps per-monitor retry counters and the last committed status in the
// shared store so every instance sees the same values.
type State struct {
	store Store
	ttl   time.Duration
}

func NewState(store Store, ttl time.Duration) *State {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &State{store: store, ttl: ttl}
}

func retryKey(id string) string  { return "monitor:" + id + ":retryCount" }
func statusKey(id string) string { return "monitor:" + id + ":currentStatus" }

func (s *State) RetryCount(ctx context.Context, id string) (int, error) {
	b, err := s.store.Get(ctx, retryKey(id))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get retry count: %w", err)
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s *State) SetRetryCount(ctx context.Context, id string, n int) error {
	if err := s.store.Set(ctx, retryKey(id), []byte(strconv.Itoa(n)), s.ttl); err != nil {
		return fmt.Errorf("set retry count: %w", err)
	}
	return nil
}

func (s *State) Status(ctx context.Context, id string) (monitor.Status, error) {
	b, err := s.store.Get(ctx, statusKey(id))
	if errors.Is(err, ErrNotFound) {
		return monitor.StatusUp, nil
	}
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	if monitor.Status(b) == monitor.StatusDown {
		return monitor.StatusDown, nil
	}
	return monitor.StatusUp, nil
}

func (s *State) SetStatus(ctx context.Context, id string, st monitor.Status) error {
	if err := s.store.Set(ctx, statusKey(id), []byte(st), s.ttl); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// Reset drops both keys; used when a monitor is deleted.
func (s *State) Reset(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, retryKey(id)); err != nil {
		return err
	}
	return s.store.Delete(ctx, statusKey(id))
}
