package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Backoff interface {
	Next(attempt int) time.Duration
}

// ExpoJitter doubles Base per attempt up to Max, then spreads the delay by
// +/- Jitter (a fraction of the delay).
type ExpoJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b ExpoJitter) Next(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*b.Jitter))
	}
	return d
}

// ErrPermanent marks errors that must not be retried.
var ErrPermanent = errors.New("permanent error")

type permanentError struct{ err error }

func (e permanentError) Error() string        { return "permanent: " + e.err.Error() }
func (e permanentError) Unwrap() error        { return e.err }
func (e permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent wraps err so Do gives up on it at once. errors.Is still sees both
// ErrPermanent and err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type Policy struct {
	// Name labels the metrics. Empty means "default".
	Name      string
	Attempts  int
	Backoff   Backoff
	Retryable func(error) bool
	OnAttempt func(attempt int, err error)
	OnExhaust func(lastErr error)
}

var (
	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Calls made under a retry policy, including the first.",
	}, []string{"name"})
	retryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_exhausted_total",
		Help: "Operations that failed after their last allowed attempt.",
	}, []string{"name"})
	retryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retry_duration_seconds",
		Help:    "Wall time spent in retry.Do, backoff included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})
)

func (p Policy) withDefaults() Policy {
	if p.Name == "" {
		p.Name = "default"
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = func(err error) bool { return !errors.Is(err, ErrPermanent) }
	}
	if p.Backoff == nil {
		p.Backoff = ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second}
	}
	return p
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. Each failed attempt is added to the active span.
func Do(ctx context.Context, fn func() error, p Policy) error {
	p = p.withDefaults()
	start := time.Now()
	defer func() { retryDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds()) }()
	span := trace.SpanFromContext(ctx)

	for attempt := 0; ; attempt++ {
		retryAttempts.WithLabelValues(p.Name).Inc()
		err := fn()
		if err == nil {
			return nil
		}
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, err)
		}
		span.AddEvent("retry.attempt", trace.WithAttributes(
			attribute.String("retry.policy", p.Name),
			attribute.Int("retry.attempt", attempt+1),
			attribute.String("error", err.Error()),
		))

		if !p.Retryable(err) || attempt+1 >= p.Attempts {
			retryExhausted.WithLabelValues(p.Name).Inc()
			if p.OnExhaust != nil {
				p.OnExhaust(err)
			}
			return err
		}
		if werr := sleep(ctx, p.Backoff.Next(attempt)); werr != nil {
			return werr
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
