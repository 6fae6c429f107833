package monitor_engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	kafkax "github.com/NordCoder/Pulsewatch/internal/repository/kafka"
)

type CommandOp string

const (
	CommandUpsert CommandOp = "upsert"
	CommandDelete CommandOp = "delete"
	CommandActive CommandOp = "active"
)

type Command struct {
	Op          CommandOp `json:"op"`
	WorkspaceID string    `json:"workspace_id"`
	MonitorID   string    `json:"monitor_id"`
	Origin      string    `json:"origin"`
}

type commandPublisher interface {
	PublishJSON(ctx context.Context, key []byte, v any) error
}

// KafkaAnnouncer publishes local changes stamped with this instance's id.
type KafkaAnnouncer struct {
	p        commandPublisher
	instance string
}

func NewKafkaAnnouncer(p *kafkax.Producer, instance string) *KafkaAnnouncer {
	return &KafkaAnnouncer{p: p, instance: instance}
}

func (a *KafkaAnnouncer) Announce(ctx context.Context, cmd Command) error {
	cmd.Origin = a.instance
	return a.p.PublishJSON(ctx, []byte(cmd.MonitorID), cmd)
}

// ErrConsumerStopped is returned when the command stream ends while the
// engine is still running.
var ErrConsumerStopped = errors.New("command consumer stopped")

type commandSource interface {
	Consume(ctx context.Context, h kafkax.Handler) error
}

type reloader interface {
	Reload(ctx context.Context, workspaceID, id string) error
}

// Controller applies monitor changes announced by other instances.
type Controller struct {
	Log      *zap.Logger
	Sub      commandSource
	Manager  reloader
	Instance string
}

func (c *Controller) Handle(ctx context.Context, _ []byte, cmd Command) error {
	if cmd.Origin == c.Instance || cmd.MonitorID == "" {
		return nil
	}
	c.Log.Debug("monitor command",
		zap.String("op", string(cmd.Op)),
		zap.String("monitor_id", cmd.MonitorID),
		zap.String("origin", cmd.Origin))
	return c.Manager.Reload(ctx, cmd.WorkspaceID, cmd.MonitorID)
}

func (c *Controller) Run(ctx context.Context) error {
	err := c.Sub.Consume(ctx, kafkax.JSONHandler(c.Handle))
	switch {
	case ctx.Err() != nil:
		return nil
	case err == nil:
		return ErrConsumerStopped
	default:
		return err
	}
}
