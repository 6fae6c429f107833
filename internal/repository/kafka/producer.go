package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Producer writes to a single topic. Messages with the same key land on the
// same partition, so per-workspace order holds.
type Producer struct {
	w     *kafka.Writer
	topic string
	log   *zap.Logger
}

func NewProducer(brokers []string, topic string) *Producer {
	p := &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}
	return p.WithLogger(nil)
}

func (p *Producer) WithLogger(l *zap.Logger) *Producer {
	if l == nil {
		l = zap.L()
	}
	cp := *p
	cp.log = l.With(zap.String("component", "kafka.producer"), zap.String("topic", p.topic))
	return &cp
}

func (p *Producer) PublishJSON(ctx context.Context, key []byte, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", p.topic, err)
	}
	return p.Publish(ctx, key, value)
}

// Publish writes one message carrying the caller's trace context in its headers.
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	ctx, span := otel.Tracer("kafka.producer").Start(ctx, "kafka.produce "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingOperationPublish,
			semconv.MessagingKafkaMessageKey(string(key)),
		),
	)
	defer span.End()

	msg := kafka.Message{Key: key, Value: value, Headers: traceHeaders(ctx)}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		messagesPublished.WithLabelValues(p.topic, "error").Inc()
		p.log.Warn("kafka write failed", zap.ByteString("key", key), zap.Error(err))
		return fmt.Errorf("write %s: %w", p.topic, err)
	}
	messagesPublished.WithLabelValues(p.topic, "ok").Inc()
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
