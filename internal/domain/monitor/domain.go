package monitor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
)

type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

const (
	MinInterval     = 5 * time.Second
	MaxInterval     = 10000 * time.Second
	DefaultInterval = 20 * time.Second
	MaxRetriesLimit = 10
)

// Payload is the type-specific configuration of a monitor, stored as JSON.
type Payload map[string]any

// Decode copies the payload into a typed struct.
func (p Payload) Decode(v any) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Clone returns a shallow copy safe to mutate at the top level.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

type Monitor struct {
	ID            string                 `json:"id"`
	WorkspaceID   string                 `json:"workspace_id"`
	Name          string                 `json:"name"`
	Type          string                 `json:"type"`
	Interval      time.Duration          `json:"interval"`
	MaxRetries    int                    `json:"max_retries"`
	Active        bool                   `json:"active"`
	Payload       Payload                `json:"payload"`
	Notifications []notification.Channel `json:"notifications"`
	UpMessage     *string                `json:"up_message,omitempty"`
	DownMessage   *string                `json:"down_message,omitempty"`
	RecentError   string                 `json:"recent_error"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Validate applies the interval default and checks the bounds the engine relies on.
func (m *Monitor) Validate() error {
	if m.WorkspaceID == "" {
		return fmt.Errorf("%w: workspace id is required", ErrInvalid)
	}
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if m.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalid)
	}
	if m.Interval == 0 {
		m.Interval = DefaultInterval
	}
	if m.Interval < MinInterval || m.Interval > MaxInterval {
		return fmt.Errorf("%w: interval must be between %s and %s", ErrInvalid, MinInterval, MaxInterval)
	}
	if m.MaxRetries < 0 || m.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("%w: max retries must be between 0 and %d", ErrInvalid, MaxRetriesLimit)
	}
	if m.Payload == nil {
		m.Payload = Payload{}
	}
	return nil
}

// DataPoint value semantics: 0 is never stored, positive is healthy, negative is a failure.
type DataPoint struct {
	ID        int64     `json:"id"`
	MonitorID string    `json:"monitor_id"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

type Event struct {
	ID        int64     `json:"id"`
	MonitorID string    `json:"monitor_id"`
	Type      Status    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusRecord is a named, provider-owned blob attached to a monitor (lastPush, tls).
type StatusRecord struct {
	MonitorID string          `json:"monitor_id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

const (
	StatusNameLastPush = "lastPush"
	StatusNameTLS      = "tls"
)

type LastPush struct {
	LastPushTime time.Time `json:"lastPushTime"`
	LastMessage  string    `json:"lastMessage"`
}

type TLSInfo struct {
	Valid         bool      `json:"valid"`
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	NotBefore     time.Time `json:"notBefore"`
	NotAfter      time.Time `json:"notAfter"`
	DaysRemaining int       `json:"daysRemaining"`
}

// DailySummary is the per-day aggregate over stored data points.
type DailySummary struct {
	Day       time.Time `json:"day"`
	Total     int       `json:"total"`
	Up        int       `json:"up"`
	UptimePct float64   `json:"uptime_pct"`
	AvgValue  float64   `json:"avg_value"`
}
