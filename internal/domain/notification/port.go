package notification

import "context"

type Repo interface {
	Upsert(ctx context.Context, c *Channel) error
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*Channel, error)
	Delete(ctx context.Context, workspaceID, id string) error
}

type Sender interface {
	Type() string
	Send(ctx context.Context, ch Channel, msg Message) error
}
