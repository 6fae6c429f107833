// Package provider holds the check implementations the engine runs, keyed by
// monitor type.
//
// A provider returns 0 when it has no usable signal, a positive measurement
// when the target is healthy and a negative value or an error when it is not.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

var ErrUnknownType = errors.New("unknown monitor type")

const (
	TypeHTTP   = "http"
	TypeTCP    = "tcp"
	TypeDNS    = "dns"
	TypePush   = "push"
	TypeScript = "script"
	TypeCredit = "credit"
)

type Provider interface {
	Run(ctx context.Context, m *monitor.Monitor) (float64, error)
}

// MinIntervaler is implemented by providers that must not be polled faster
// than a fixed floor, usually because of upstream rate limits.
type MinIntervaler interface {
	MinInterval() time.Duration
}

type Func func(ctx context.Context, m *monitor.Monitor) (float64, error)

func (f Func) Run(ctx context.Context, m *monitor.Monitor) (float64, error) { return f(ctx, m) }

type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds typ to p, replacing any previous binding.
func (r *Registry) Register(typ string, p Provider) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[typ] = p
	return r
}

func (r *Registry) Get(typ string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return p, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for t := range r.providers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate checks that typ is registered and interval honours its floor.
func (r *Registry) Validate(typ string, interval time.Duration) error {
	p, err := r.Get(typ)
	if err != nil {
		return err
	}
	if mi, ok := p.(MinIntervaler); ok && interval < mi.MinInterval() {
		return fmt.Errorf("%w: %s monitors need an interval of at least %s", monitor.ErrInvalid, typ, mi.MinInterval())
	}
	return nil
}

// latencyValue converts a round-trip into a healthy value; it never rounds down to 0.
func latencyValue(d time.Duration) float64 {
	return math.Max(1, math.Round(float64(d)/float64(time.Millisecond)))
}

func secondsOr(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}
