package outbox

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/propagation"
)

// Kind selects the relay handler. Values are persisted, never renumber them.
type Kind int

const (
	KindDataPoint    Kind = 1
	KindMonitorEvent Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindDataPoint:
		return "data_point"
	case KindMonitorEvent:
		return "monitor_event"
	default:
		return "unknown"
	}
}

// Status is the delivery state of a row: CREATED, then IN_PROGRESS while a
// relay holds it, then SUCCESS. A stale IN_PROGRESS row is picked again.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
)

// DataPointKey and EventKey make enqueueing the same record twice a no-op.
func DataPointKey(monitorID string, id int64) string {
	return fmt.Sprintf("data:%s:%d", monitorID, id)
}

func EventKey(monitorID string, id int64) string {
	return fmt.Sprintf("event:%s:%d", monitorID, id)
}

type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// trace context of the transaction that wrote the row
	Traceparent string
	Tracestate  string
	Baggage     string
}

// Carrier exposes the stored trace context to a propagator.
func (m Message) Carrier() propagation.MapCarrier {
	return propagation.MapCarrier{
		"traceparent": m.Traceparent,
		"tracestate":  m.Tracestate,
		"baggage":     m.Baggage,
	}
}

type Repository interface {
	// Enqueue joins the caller's transaction when the context carries one.
	Enqueue(ctx context.Context, key string, kind Kind, data []byte) error
	// PickBatch claims up to batch rows, oldest first.
	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)
	MarkSuccess(ctx context.Context, keys []string) error
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)
