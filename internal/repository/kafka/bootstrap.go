package kafka

import (
	"context"

	"go.uber.org/zap"
)

// BootstrapConsumer makes sure the topic exists before joining the group.
// A missing topic is logged, not fatal: the reader retries on its own.
func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, logger *zap.Logger) *Consumer {
	if err := EnsureTopic(ctx, cfg.Brokers, TopicSpec{Name: cfg.Topic}, logger); err != nil {
		logger.Warn("consumer topic bootstrap", zap.String("topic", cfg.Topic), zap.Error(err))
	}
	return NewConsumer(cfg).WithLogger(logger)
}

func BootstrapProducer(ctx context.Context, brokers []string, spec TopicSpec, logger *zap.Logger) *Producer {
	if err := EnsureTopic(ctx, brokers, spec, logger); err != nil {
		logger.Warn("producer topic bootstrap", zap.String("topic", spec.Name), zap.Error(err))
	}
	return NewProducer(brokers, spec.Name).WithLogger(logger)
}
