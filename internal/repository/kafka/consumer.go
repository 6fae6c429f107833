package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, key, value []byte) error

const (
	minFetchBackoff = 200 * time.Millisecond
	maxFetchBackoff = 5 * time.Second
)

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// FromBeginning replays the topic for a group without committed offsets.
	// Command consumers leave it off: a fresh instance loads state from the database.
	FromBeginning bool
	Logger        *zap.Logger
}

// Consumer reads a topic in a consumer group. Messages are committed after the
// handler returns, including when it fails: a bad message is logged and skipped.
type Consumer struct {
	reader *kafka.Reader
	topic  string
	group  string
	log    *zap.Logger
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}
	c := &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:               cfg.Brokers,
			GroupID:               cfg.GroupID,
			Topic:                 cfg.Topic,
			StartOffset:           start,
			WatchPartitionChanges: true,
			MinBytes:              1,
			MaxBytes:              1 << 20,
			MaxWait:               time.Second,
			SessionTimeout:        10 * time.Second,
			RebalanceTimeout:      15 * time.Second,
			HeartbeatInterval:     3 * time.Second,
		}),
		topic: cfg.Topic,
		group: cfg.GroupID,
	}
	return c.WithLogger(cfg.Logger)
}

func (c *Consumer) WithLogger(l *zap.Logger) *Consumer {
	if l == nil {
		l = zap.L()
	}
	cp := *c
	cp.log = l.With(
		zap.String("component", "kafka.consumer"),
		zap.String("topic", c.topic),
		zap.String("group", c.group),
	)
	return &cp
}

// Consume blocks until ctx is done. Fetch errors are retried with backoff.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	c.log.Info("consumer started")
	backoff := minFetchBackoff

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopped")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				c.log.Debug("fetch EOF, retrying", zap.Duration("backoff", backoff))
			} else {
				c.log.Warn("fetch failed, retrying", zap.Duration("backoff", backoff), zap.Error(err))
			}
			select {
			case <-ctx.Done():
				c.log.Info("consumer stopped")
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxFetchBackoff)
			continue
		}
		backoff = minFetchBackoff

		c.handle(ctx, h, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, msg kafka.Message) {
	mctx, span := otel.Tracer("kafka.consumer").Start(
		contextFromHeaders(ctx, msg.Headers),
		"kafka.consume "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.group),
		),
	)
	defer span.End()

	if err := h(mctx, msg.Key, msg.Value); err != nil {
		span.RecordError(err)
		messagesConsumed.WithLabelValues(c.topic, "error").Inc()
		c.log.Error("handler failed, message skipped",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}
	messagesConsumed.WithLabelValues(c.topic, "ok").Inc()
}

func (c *Consumer) Close() error { return c.reader.Close() }
