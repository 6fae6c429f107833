package obs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type HealthFunc func(context.Context) error

// Health runs named dependency checks concurrently under one deadline.
type Health struct {
	timeout time.Duration
	names   []string
	checks  map[string]HealthFunc
}

func NewHealth(timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Health{timeout: timeout, checks: map[string]HealthFunc{}}
}

// Add registers fn under name. A nil fn is ignored.
func (h *Health) Add(name string, fn HealthFunc) *Health {
	if fn == nil {
		return h
	}
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = fn
	return h
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *Health) run(ctx context.Context) (healthReport, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		rep = healthReport{Status: "ok", Checks: make(map[string]string, len(h.names))}
	)
	for _, name := range h.names {
		wg.Add(1)
		go func(name string, fn HealthFunc) {
			defer wg.Done()
			res := "ok"
			if err := fn(ctx); err != nil {
				res = err.Error()
			}
			mu.Lock()
			rep.Checks[name] = res
			if res != "ok" {
				rep.Status = "unhealthy"
			}
			mu.Unlock()
		}(name, h.checks[name])
	}
	wg.Wait()
	return rep, rep.Status == "ok"
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.run(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(rep)
}

// BootstrapMetricsServer serves /metrics and /healthz on addr in the background.
func BootstrapMetricsServer(addr string, health *Health, l *zap.Logger) *http.Server {
	ms := &http.Server{
		Addr:         addr,
		Handler:      metricsRouter(health),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	go func() {
		l.Info("metrics listening", zap.String("addr", addr))
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server error", zap.Error(err))
		}
	}()
	return ms
}

func metricsRouter(health *Health) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/healthz", health)
	return r
}
