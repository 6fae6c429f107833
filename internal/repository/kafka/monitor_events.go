package kafka

import (
	"context"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/domain/bus"
)

var _ bus.Publisher = (*MonitorEventsKafka)(nil)

// MonitorEventsKafka streams data points and transitions to downstream consumers,
// keyed by workspace so a tenant's events stay ordered.
type MonitorEventsKafka struct {
	p *Producer
}

func NewMonitorEventsKafka(p *Producer) *MonitorEventsKafka { return &MonitorEventsKafka{p: p} }

func (e *MonitorEventsKafka) Emit(ctx context.Context, name, workspaceID string, payload any) error {
	return e.p.PublishJSON(ctx, []byte(workspaceID), bus.Envelope{
		Name:        name,
		WorkspaceID: workspaceID,
		Payload:     payload,
		EmittedAt:   time.Now().UTC(),
	})
}
