package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ notification.Repo = (*ChannelRepoImpl)(nil)

type ChannelRepoImpl struct{ db *DB }

func NewChannelRepo(db *DB) *ChannelRepoImpl { return &ChannelRepoImpl{db: db} }

const (
	qChannelUpsert = `
INSERT INTO notifications (id, workspace_id, name, type, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, type = EXCLUDED.type, payload = EXCLUDED.payload
WHERE notifications.workspace_id = EXCLUDED.workspace_id
RETURNING created_at;`

	qChannelsByWorkspace = `
SELECT id, workspace_id, name, type, payload, created_at
FROM notifications
WHERE workspace_id = $1
ORDER BY created_at;`

	qChannelDelete = `DELETE FROM notifications WHERE id = $1 AND workspace_id = $2;`
)

func (r *ChannelRepoImpl) Upsert(ctx context.Context, c *notification.Channel) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Payload == nil {
		c.Payload = map[string]any{}
	}
	err := r.db.execQueryer(ctx).QueryRow(ctx, qChannelUpsert, c.ID, c.WorkspaceID, c.Name, c.Type, c.Payload).
		Scan(&c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// id exists in another workspace
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("upsert channel: %w", mapErr(err))
	}
	return nil
}

func (r *ChannelRepoImpl) ListByWorkspace(ctx context.Context, workspaceID string) ([]*notification.Channel, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qChannelsByWorkspace, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []*notification.Channel
	for rows.Next() {
		var c notification.Channel
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Type, &c.Payload, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *ChannelRepoImpl) Delete(ctx context.Context, workspaceID, id string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qChannelDelete, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
