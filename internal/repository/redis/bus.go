package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/domain/bus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ bus.Publisher = (*Bus)(nil)

var busPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "redis_bus_published_total",
	Help: "Live events published to redis channels by result.",
}, []string{"event", "result"})

// Bus publishes live events for dashboards on "<prefix><workspace>:<event>".
type Bus struct {
	c      goredis.UniversalClient
	prefix string
	log    *zap.Logger
}

func NewBus(c goredis.UniversalClient, prefix string, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{c: c, prefix: prefix, log: log.With(zap.String("component", "redis.bus"))}
}

func (b *Bus) Channel(workspaceID, name string) string {
	return b.prefix + workspaceID + ":" + name
}

func (b *Bus) Emit(ctx context.Context, name, workspaceID string, payload any) error {
	body, err := json.Marshal(bus.Envelope{
		Name:        name,
		WorkspaceID: workspaceID,
		Payload:     payload,
		EmittedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.c.Publish(ctx, b.Channel(workspaceID, name), body).Err(); err != nil {
		busPublished.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("redis publish: %w", err)
	}
	busPublished.WithLabelValues(name, "ok").Inc()
	b.log.Debug("event published", zap.String("event", name), zap.String("workspace_id", workspaceID))
	return nil
}
