package bus

import (
	"context"
	"time"
)

const (
	EventMonitorData   = "onMonitorReceiveNewData"
	EventMonitorChange = "onMonitorStatusChange"
)

// Envelope is the wire shape shared by every bus transport.
type Envelope struct {
	Name        string    `json:"name"`
	WorkspaceID string    `json:"workspace_id"`
	Payload     any       `json:"payload"`
	EmittedAt   time.Time `json:"emitted_at"`
}

type Publisher interface {
	Emit(ctx context.Context, name, workspaceID string, payload any) error
}
