package kafka

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	// MaxWait bounds how long EnsureTopic waits for every partition to get a leader.
	MaxWait time.Duration
}

func (s TopicSpec) withDefaults() TopicSpec {
	if s.NumPartitions <= 0 {
		s.NumPartitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
	if s.MaxWait <= 0 {
		s.MaxWait = 5 * time.Second
	}
	return s
}

// EnsureTopic creates the topic through the controller when missing and waits
// until all of its partitions have a leader.
func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if len(brokers) == 0 {
		return fmt.Errorf("ensure topic %s: no brokers", spec.Name)
	}
	spec = spec.withDefaults()
	log = log.With(zap.String("topic", spec.Name))

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		log.Warn("kafka dial failed", zap.Error(err))
		return err
	}
	defer conn.Close()

	ctrl, err := conn.Controller()
	if err != nil {
		log.Warn("kafka controller lookup failed", zap.Error(err))
		return err
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		log.Warn("kafka controller dial failed", zap.Error(err))
		return err
	}
	defer cc.Close()

	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create topic %s: %w", spec.Name, err)
	}

	wctx, cancel := context.WithTimeout(ctx, spec.MaxWait)
	defer cancel()
	backoff := 200 * time.Millisecond
	for {
		ps, err := conn.ReadPartitions(spec.Name)
		if err == nil && len(ps) > 0 && allHaveLeader(ps) {
			log.Info("topic ready", zap.Int("partitions", len(ps)))
			return nil
		}
		select {
		case <-wctx.Done():
			log.Warn("topic not confirmed ready in time")
			return fmt.Errorf("topic %s not ready: %w", spec.Name, wctx.Err())
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func allHaveLeader(ps []kafka.Partition) bool {
	for _, p := range ps {
		if p.Leader.ID == -1 {
			return false
		}
	}
	return true
}
