package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_messages_consumed_total",
		Help: "Messages read from kafka by topic and handler result.",
	}, []string{"topic", "result"})

	messagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_messages_published_total",
		Help: "Messages written to kafka by topic and result.",
	}, []string{"topic", "result"})
)
