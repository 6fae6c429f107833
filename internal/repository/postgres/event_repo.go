package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

var _ monitor.EventRepo = (*EventRepoImpl)(nil)

type EventRepoImpl struct{ db *DB }

func NewEventRepo(db *DB) *EventRepoImpl { return &EventRepoImpl{db: db} }

const (
	qEventInsert = `
INSERT INTO monitor_events (monitor_id, type, message, created_at)
VALUES ($1, $2, $3, COALESCE($4, now()))
RETURNING id, created_at;`

	qEventsByMonitor = `
SELECT id, monitor_id, type, message, created_at
FROM monitor_events
WHERE monitor_id = $1
ORDER BY created_at DESC
LIMIT $2;`
)

func (r *EventRepoImpl) Insert(ctx context.Context, ev *monitor.Event) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qEventInsert, ev.MonitorID, string(ev.Type), ev.Message, nullTime(ev.CreatedAt)).
		Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return fmt.Errorf("insert event: %w", mapErr(err))
	}
	return nil
}

func (r *EventRepoImpl) ListByMonitor(ctx context.Context, monitorID string, limit int) ([]*monitor.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qEventsByMonitor, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]*monitor.Event, 0, limit)
	for rows.Next() {
		var (
			ev  monitor.Event
			typ string
		)
		if err := rows.Scan(&ev.ID, &ev.MonitorID, &typ, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = monitor.Status(typ)
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
