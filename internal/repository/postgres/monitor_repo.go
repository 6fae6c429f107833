package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ monitor.Repo = (*MonitorRepoImpl)(nil)

type MonitorRepoImpl struct {
	db *DB
}

func NewMonitorRepo(db *DB) *MonitorRepoImpl { return &MonitorRepoImpl{db: db} }

const monitorColumns = `id, workspace_id, name, type, interval_sec, max_retries, active, payload,
       up_message, down_message, recent_error, created_at, updated_at`

const (
	qMonitorInsert = `
INSERT INTO monitors (id, workspace_id, name, type, interval_sec, max_retries, active, payload, up_message, down_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + monitorColumns + `;`

	qMonitorUpdate = `
UPDATE monitors
SET name = $3, type = $4, interval_sec = $5, max_retries = $6, active = $7, payload = $8,
    up_message = $9, down_message = $10, updated_at = now()
WHERE id = $1 AND workspace_id = $2
RETURNING ` + monitorColumns + `;`

	qMonitorClearChannels = `DELETE FROM monitor_notifications WHERE monitor_id = $1;`

	qMonitorAttachChannels = `
INSERT INTO monitor_notifications (monitor_id, notification_id, position)
SELECT $1, n.id, t.ord
FROM unnest($2::text[]) WITH ORDINALITY AS t(id, ord)
JOIN notifications n ON n.id = t.id AND n.workspace_id = $3;`

	qMonitorGet = `
SELECT ` + monitorColumns + `
FROM monitors
WHERE id = $1 AND workspace_id = $2;`

	qMonitorByPushToken = `
SELECT ` + monitorColumns + `
FROM monitors
WHERE type = 'push' AND active = TRUE AND payload ->> 'pushToken' = $1;`

	qMonitorListActive = `
SELECT ` + monitorColumns + `
FROM monitors
WHERE active = TRUE
ORDER BY created_at;`

	qMonitorChannels = `
SELECT mn.monitor_id, n.id, n.workspace_id, n.name, n.type, n.payload, n.created_at
FROM monitor_notifications mn
JOIN notifications n ON n.id = mn.notification_id
WHERE mn.monitor_id = ANY($1)
ORDER BY mn.monitor_id, mn.position;`

	qMonitorDelete       = `DELETE FROM monitors WHERE id = $1 AND workspace_id = $2;`
	qMonitorSetActive    = `UPDATE monitors SET active = $3, updated_at = now() WHERE id = $1 AND workspace_id = $2;`
	qMonitorSetPayload   = `UPDATE monitors SET payload = $2, updated_at = now() WHERE id = $1;`
	qMonitorSetRecentErr = `UPDATE monitors SET recent_error = $2 WHERE id = $1;`
)

func scanMonitor(row pgx.Row, m *monitor.Monitor) error {
	var intervalSec int
	if err := row.Scan(
		&m.ID,
		&m.WorkspaceID,
		&m.Name,
		&m.Type,
		&intervalSec,
		&m.MaxRetries,
		&m.Active,
		&m.Payload,
		&m.UpMessage,
		&m.DownMessage,
		&m.RecentError,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.ErrNotFound
		}
		return fmt.Errorf("scan monitor: %w", err)
	}
	m.Interval = time.Duration(intervalSec) * time.Second
	if m.Payload == nil {
		m.Payload = monitor.Payload{}
	}
	return nil
}

func (r *MonitorRepoImpl) Upsert(ctx context.Context, m *monitor.Monitor, channelIDs []string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	intervalSec := int(m.Interval / time.Second)

	var row pgx.Row
	if m.ID == "" {
		m.ID = uuid.NewString()
		row = eq.QueryRow(ctx, qMonitorInsert, m.ID, m.WorkspaceID, m.Name, m.Type, intervalSec,
			m.MaxRetries, m.Active, m.Payload, m.UpMessage, m.DownMessage)
	} else {
		row = eq.QueryRow(ctx, qMonitorUpdate, m.ID, m.WorkspaceID, m.Name, m.Type, intervalSec,
			m.MaxRetries, m.Active, m.Payload, m.UpMessage, m.DownMessage)
	}
	if err := scanMonitor(row, m); err != nil {
		return mapErr(err)
	}

	if _, err := eq.Exec(ctx, qMonitorClearChannels, m.ID); err != nil {
		return fmt.Errorf("clear monitor channels: %w", err)
	}
	if len(channelIDs) > 0 {
		if _, err := eq.Exec(ctx, qMonitorAttachChannels, m.ID, channelIDs, m.WorkspaceID); err != nil {
			return fmt.Errorf("attach monitor channels: %w", mapErr(err))
		}
	}
	return r.loadChannels(ctx, eq, []*monitor.Monitor{m})
}

func (r *MonitorRepoImpl) GetByID(ctx context.Context, workspaceID, id string) (*monitor.Monitor, error) {
	return r.getOne(ctx, qMonitorGet, id, workspaceID)
}

func (r *MonitorRepoImpl) GetByPushToken(ctx context.Context, token string) (*monitor.Monitor, error) {
	return r.getOne(ctx, qMonitorByPushToken, token)
}

func (r *MonitorRepoImpl) getOne(ctx context.Context, q string, args ...any) (*monitor.Monitor, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	var m monitor.Monitor
	if err := scanMonitor(eq.QueryRow(ctx, q, args...), &m); err != nil {
		return nil, err
	}
	if err := r.loadChannels(ctx, eq, []*monitor.Monitor{&m}); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MonitorRepoImpl) ListActive(ctx context.Context) ([]*monitor.Monitor, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	rows, err := eq.Query(ctx, qMonitorListActive)
	if err != nil {
		return nil, fmt.Errorf("query active monitors: %w", err)
	}
	defer rows.Close()

	var out []*monitor.Monitor
	for rows.Next() {
		var m monitor.Monitor
		if err := scanMonitor(rows, &m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if err := r.loadChannels(ctx, eq, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadChannels fills Notifications in attachment order with one query.
func (r *MonitorRepoImpl) loadChannels(ctx context.Context, eq execQueryer, ms []*monitor.Monitor) error {
	if len(ms) == 0 {
		return nil
	}
	byID := make(map[string]*monitor.Monitor, len(ms))
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		m.Notifications = nil
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	rows, err := eq.Query(ctx, qMonitorChannels, ids)
	if err != nil {
		return fmt.Errorf("query monitor channels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			monitorID string
			ch        notification.Channel
		)
		if err := rows.Scan(&monitorID, &ch.ID, &ch.WorkspaceID, &ch.Name, &ch.Type, &ch.Payload, &ch.CreatedAt); err != nil {
			return fmt.Errorf("scan monitor channel: %w", err)
		}
		if m, ok := byID[monitorID]; ok {
			m.Notifications = append(m.Notifications, ch)
		}
	}
	return rows.Err()
}

func (r *MonitorRepoImpl) Delete(ctx context.Context, workspaceID, id string) error {
	return r.execOne(ctx, "delete monitor", qMonitorDelete, id, workspaceID)
}

func (r *MonitorRepoImpl) SetActive(ctx context.Context, workspaceID, id string, active bool) error {
	return r.execOne(ctx, "set monitor active", qMonitorSetActive, id, workspaceID, active)
}

func (r *MonitorRepoImpl) UpdatePayload(ctx context.Context, id string, p monitor.Payload) error {
	return r.execOne(ctx, "update monitor payload", qMonitorSetPayload, id, p)
}

func (r *MonitorRepoImpl) SetRecentError(ctx context.Context, id, msg string) error {
	return r.execOne(ctx, "set recent error", qMonitorSetRecentErr, id, msg)
}

func (r *MonitorRepoImpl) execOne(ctx context.Context, op, q string, args ...any) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	if cmd.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}
