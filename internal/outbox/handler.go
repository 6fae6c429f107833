package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/NordCoder/Pulsewatch/internal/domain/bus"
	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/outbox"
	"github.com/NordCoder/Pulsewatch/internal/obs"
	"github.com/NordCoder/Pulsewatch/internal/obs/retry"
)

type DataPointPayload struct {
	WorkspaceID string            `json:"workspace_id"`
	Data        monitor.DataPoint `json:"data"`
}

type MonitorEventPayload struct {
	WorkspaceID string        `json:"workspace_id"`
	Event       monitor.Event `json:"event"`
}

var (
	outboxHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outboxHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

// instrument retries h under pol and traces each delivery, retries included.
func instrument(kind outbox.Kind, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind.String()
	}
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle."+kind.String())
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		outboxHandlerLatency.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
		if err != nil {
			obs.SpanError(ctx, err)
			outboxHandlerErrors.WithLabelValues(kind.String()).Inc()
		}
		return err
	}
}

// MakeGlobalOutboxHandler relays stored data points and transition events to pub.
func MakeGlobalOutboxHandler(pub bus.Publisher, pol retry.Policy) outbox.GlobalHandler {
	dataPoint := func(ctx context.Context, data []byte) error {
		var p DataPointPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal data point payload: %w", err))
		}
		return pub.Emit(ctx, bus.EventMonitorData, p.WorkspaceID, p.Data)
	}
	event := func(ctx context.Context, data []byte) error {
		var p MonitorEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal monitor event payload: %w", err))
		}
		return pub.Emit(ctx, bus.EventMonitorChange, p.WorkspaceID, p.Event)
	}

	handlers := map[outbox.Kind]outbox.KindHandler{
		outbox.KindDataPoint:    instrument(outbox.KindDataPoint, dataPoint, pol),
		outbox.KindMonitorEvent: instrument(outbox.KindMonitorEvent, event, pol),
	}
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		h, ok := handlers[kind]
		if !ok {
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
		return h, nil
	}
}
