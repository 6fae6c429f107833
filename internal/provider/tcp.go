package provider

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

type tcpPayload struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Timeout  int    `json:"timeout"`
}

// TCP reports the time it takes to open a connection.
type TCP struct {
	clock monitor.Clock
}

func NewTCP(clock monitor.Clock) *TCP {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	return &TCP{clock: clock}
}

func (t *TCP) Run(ctx context.Context, m *monitor.Monitor) (float64, error) {
	var p tcpPayload
	if err := m.Payload.Decode(&p); err != nil {
		return 0, err
	}
	if p.Hostname == "" || p.Port <= 0 || p.Port > 65535 {
		return 0, errors.New("hostname and a valid port are required")
	}

	d := net.Dialer{Timeout: secondsOr(p.Timeout, 10*time.Second)}
	start := t.clock.Now()
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(p.Hostname, strconv.Itoa(p.Port)))
	if err != nil {
		return 0, err
	}
	elapsed := t.clock.Now().Sub(start)
	_ = conn.Close()
	return latencyValue(elapsed), nil
}
