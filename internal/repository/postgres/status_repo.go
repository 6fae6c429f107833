package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/jackc/pgx/v5"
)

var _ monitor.StatusRepo = (*StatusRepoImpl)(nil)

type StatusRepoImpl struct{ db *DB }

func NewStatusRepo(db *DB) *StatusRepoImpl { return &StatusRepoImpl{db: db} }

const (
	qStatusUpsert = `
INSERT INTO monitor_status (monitor_id, status_name, payload, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (monitor_id, status_name)
DO UPDATE SET payload = EXCLUDED.payload, updated_at = now();`

	qStatusGet = `
SELECT monitor_id, status_name, payload, updated_at
FROM monitor_status
WHERE monitor_id = $1 AND status_name = $2;`
)

func (r *StatusRepoImpl) Upsert(ctx context.Context, monitorID, name string, payload json.RawMessage) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qStatusUpsert, monitorID, name, []byte(payload)); err != nil {
		return fmt.Errorf("upsert monitor status %s: %w", name, mapErr(err))
	}
	return nil
}

// Get returns monitor.ErrNoStatus when the provider has not written name yet.
func (r *StatusRepoImpl) Get(ctx context.Context, monitorID, name string) (*monitor.StatusRecord, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		rec     monitor.StatusRecord
		payload []byte
	)
	err := r.db.execQueryer(ctx).QueryRow(ctx, qStatusGet, monitorID, name).
		Scan(&rec.MonitorID, &rec.Name, &payload, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, monitor.ErrNoStatus
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor status %s: %w", name, err)
	}
	rec.Payload = payload
	return &rec, nil
}
