package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	kafkax "github.com/NordCoder/Pulsewatch/internal/repository/kafka"
)

func main() {
	brokers := strings.Split(env("KAFKA_BROKERS", "kafka:9092"), ",")
	eventsTopic := env("KAFKA_EVENTS_TOPIC", "pulsewatch.monitor.events")
	commandsTopic := env("KAFKA_COMMANDS_TOPIC", "pulsewatch.monitor.commands")
	partitions := envInt("KAFKA_PARTITIONS", 3)
	rf := envInt("KAFKA_RF", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	specs := []kafkax.TopicSpec{
		{Name: eventsTopic, NumPartitions: partitions, ReplicationFactor: rf, MaxWait: 30 * time.Second},
		// commands must stay ordered per monitor across every instance group
		{Name: commandsTopic, NumPartitions: 1, ReplicationFactor: rf, MaxWait: 30 * time.Second},
	}
	for _, spec := range specs {
		if err := kafkax.EnsureTopic(ctx, brokers, spec, logger); err != nil {
			log.Fatalf("ensure topic %q: %v", spec.Name, err)
		}
		log.Printf("topic %q ready", spec.Name)
	}
	log.Println("kafka-init ok")
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, _ := strconv.Atoi(v); n > 0 {
			return n
		}
	}
	return def
}
