package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalid  = errors.New("invalid monitor")
	ErrNotFound = errors.New("monitor not found")
	ErrNoStatus = errors.New("monitor status not recorded")

	ErrRunnerNotFound = errors.New("monitor runner not found")
	ErrInactive       = errors.New("monitor is not active")
)

type Repo interface {
	// Upsert creates the monitor when ID is empty, otherwise updates it inside its workspace.
	// The notification list is replaced by channelIDs, keeping their order.
	Upsert(ctx context.Context, m *Monitor, channelIDs []string) error
	GetByID(ctx context.Context, workspaceID, id string) (*Monitor, error)
	GetByPushToken(ctx context.Context, token string) (*Monitor, error)
	ListActive(ctx context.Context) ([]*Monitor, error)
	Delete(ctx context.Context, workspaceID, id string) error
	SetActive(ctx context.Context, workspaceID, id string, active bool) error
	UpdatePayload(ctx context.Context, id string, p Payload) error
	SetRecentError(ctx context.Context, id, msg string) error
}

type DataRepo interface {
	Insert(ctx context.Context, dp *DataPoint) error
	ListRecent(ctx context.Context, monitorID string, since time.Time, limit int) ([]*DataPoint, error)
	DailySummary(ctx context.Context, monitorID string, since time.Time) ([]*DailySummary, error)
}

type EventRepo interface {
	Insert(ctx context.Context, ev *Event) error
	ListByMonitor(ctx context.Context, monitorID string, limit int) ([]*Event, error)
}

type StatusRepo interface {
	Upsert(ctx context.Context, monitorID, name string, payload json.RawMessage) error
	Get(ctx context.Context, monitorID, name string) (*StatusRecord, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
