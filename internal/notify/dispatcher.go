package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
	"github.com/NordCoder/Pulsewatch/internal/obs"
)

var (
	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Notification deliveries by channel type and result.",
	}, []string{"type", "result"})
	notificationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notification_send_duration_seconds",
		Help:    "Time spent delivering a single notification.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"type"})
)

// Dispatcher delivers one message to many channels at once. A failing or
// panicking sender only affects its own channel.
type Dispatcher struct {
	senders map[string]notification.Sender
	timeout time.Duration
	log     *zap.Logger
}

func NewDispatcher(log *zap.Logger, timeout time.Duration, senders ...notification.Sender) *Dispatcher {
	d := &Dispatcher{
		senders: make(map[string]notification.Sender, len(senders)),
		timeout: timeout,
		log:     log.With(zap.String("component", "notify.dispatcher")),
	}
	for _, s := range senders {
		d.senders[s.Type()] = s
	}
	return d
}

// Dispatch returns once every channel has been attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []notification.Channel, msg notification.Message) {
	if len(channels) == 0 {
		return
	}
	var wg conc.WaitGroup
	for _, ch := range channels {
		ch := ch
		wg.Go(func() {
			var err error
			if r := panics.Try(func() { err = d.send(ctx, ch, msg) }); r != nil {
				err = r.AsError()
			}
			if err != nil {
				notificationsSent.WithLabelValues(ch.Type, "error").Inc()
				obs.WithTrace(ctx, d.log).Warn("notification failed",
					zap.String("channel_id", ch.ID),
					zap.String("channel_type", ch.Type),
					zap.Error(err))
				return
			}
			notificationsSent.WithLabelValues(ch.Type, "ok").Inc()
		})
	}
	wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, ch notification.Channel, msg notification.Message) error {
	s, ok := d.senders[ch.Type]
	if !ok {
		return fmt.Errorf("no sender for channel type %q", ch.Type)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() { notificationLatency.WithLabelValues(ch.Type).Observe(time.Since(start).Seconds()) }()
	return s.Send(ctx, ch, msg)
}
