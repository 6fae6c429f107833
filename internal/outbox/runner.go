package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/outbox"
	"github.com/NordCoder/Pulsewatch/internal/obs"
	"github.com/NordCoder/Pulsewatch/internal/obs/retry"
)

var (
	outboxPicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_picked_total", Help: "Rows claimed by the relay.",
	})
	outboxResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_messages_total", Help: "Relayed rows by kind and result.",
	}, []string{"kind", "result"})
	outboxTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "outbox_tick_duration_seconds", Help: "Time to relay one batch.",
		Buckets: prometheus.DefBuckets,
	})
)

type Options struct {
	Workers   int
	BatchSize int
	// Poll is the pause between batches of one worker.
	Poll time.Duration
	// InProgressTTL is how long a claimed row stays hidden from other relays.
	InProgressTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Poll <= 0 {
		o.Poll = time.Second
	}
	if o.InProgressTTL <= 0 {
		o.InProgressTTL = 30 * time.Second
	}
	return o
}

// Runner relays committed outbox rows to the bus. Several runners, in one
// process or many, may share a table.
type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler
	opts     Options
}

func NewOutboxRunner(log *zap.Logger, repo outbox.Repository, dispatch outbox.GlobalHandler, opts Options) *Runner {
	return &Runner{
		log:      log.With(zap.String("component", "outbox.runner")),
		repo:     repo,
		dispatch: dispatch,
		opts:     opts.withDefaults(),
	}
}

// Run polls until ctx is done and returns after every worker has stopped.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info("outbox relay started",
		zap.Int("workers", r.opts.Workers),
		zap.Duration("poll", r.opts.Poll),
	)
	var wg conc.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Go(func() { r.poll(ctx) })
	}
	wg.Wait()
	r.log.Info("outbox relay stopped")
}

func (r *Runner) poll(ctx context.Context) {
	t := time.NewTicker(r.opts.Poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// drain a backlog without waiting for the next tick
			for r.Tick(ctx) == r.opts.BatchSize && ctx.Err() == nil {
			}
		}
	}
}

// Tick claims one batch, relays it and marks the settled keys. Rows whose
// payload can never be delivered are settled too. It returns the number of
// settled rows.
func (r *Runner) Tick(ctx context.Context) int {
	start := time.Now()
	defer func() { outboxTickDur.Observe(time.Since(start).Seconds()) }()

	tr := otel.Tracer("outbox.runner")
	ctx, span := tr.Start(ctx, "outbox.tick", trace.WithAttributes(
		attribute.Int("outbox.batch_limit", r.opts.BatchSize),
	))
	defer span.End()

	batch, err := r.repo.PickBatch(ctx, r.opts.BatchSize, r.opts.InProgressTTL)
	if err != nil {
		obs.SpanError(ctx, err)
		obs.WithTrace(ctx, r.log).Error("outbox pick failed", zap.Error(err))
		return 0
	}
	outboxPicked.Add(float64(len(batch)))
	if len(batch) == 0 {
		return 0
	}

	settled := make([]string, 0, len(batch))
	for _, m := range batch {
		if r.relay(ctx, tr, m) {
			settled = append(settled, m.IdempotencyKey)
		}
	}
	if len(settled) == 0 {
		return 0
	}
	if err := r.repo.MarkSuccess(ctx, settled); err != nil {
		// rows come back after InProgressTTL and are relayed again
		obs.SpanError(ctx, err)
		obs.WithTrace(ctx, r.log).Error("outbox mark failed", zap.Int("keys", len(settled)), zap.Error(err))
	}
	return len(settled)
}

// relay reports whether m is settled.
func (r *Runner) relay(ctx context.Context, tr trace.Tracer, m outbox.Message) bool {
	// parent is the transaction that wrote the row, or the tick when none was stored
	ctx, span := tr.Start(otel.GetTextMapPropagator().Extract(ctx, m.Carrier()), "outbox.relay", trace.WithAttributes(
		attribute.String("outbox.key", m.IdempotencyKey),
		attribute.String("outbox.kind", m.Kind.String()),
	))
	defer span.End()
	log := obs.WithTrace(ctx, r.log, zap.Stringer("kind", m.Kind), zap.String("key", m.IdempotencyKey))

	handle, err := r.dispatch(m.Kind)
	if err != nil {
		obs.SpanError(ctx, err)
		outboxResults.WithLabelValues(m.Kind.String(), "unroutable").Inc()
		log.Error("no handler for outbox kind", zap.Error(err))
		return false
	}

	switch err := handle(ctx, m.Data); {
	case err == nil:
		outboxResults.WithLabelValues(m.Kind.String(), "ok").Inc()
		return true
	case errors.Is(err, retry.ErrPermanent):
		outboxResults.WithLabelValues(m.Kind.String(), "dropped").Inc()
		log.Error("dropping undeliverable outbox row", zap.Error(err))
		return true
	default:
		obs.SpanError(ctx, err)
		outboxResults.WithLabelValues(m.Kind.String(), "error").Inc()
		log.Warn("outbox relay failed, will retry", zap.Error(err))
		return false
	}
}
