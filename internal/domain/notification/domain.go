package notification

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel is a delivery target. Payload is opaque to the engine and read only by the sender of Type.
type Channel struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (c Channel) Decode(v any) error {
	b, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("marshal channel payload: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s channel payload: %w", c.Type, err)
	}
	return nil
}

// Message is a rendered transition notice.
type Message struct {
	Title string
	Body  string
}
