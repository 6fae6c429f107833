package monitor_engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_cycles_total",
		Help: "Monitor cycles by type and result (ok, skipped, error).",
	}, []string{"type", "result"})
	providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "monitor_provider_duration_seconds",
		Help:    "Time spent inside a provider run.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"type"})
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_transitions_total",
		Help: "Committed status transitions by type and new status.",
	}, []string{"type", "status"})
	runnersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_runners_active",
		Help: "Runners registered in this instance.",
	})
)
