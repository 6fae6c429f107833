package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

var _ monitor.DataRepo = (*DataRepoImpl)(nil)

type DataRepoImpl struct{ db *DB }

func NewDataRepo(db *DB) *DataRepoImpl { return &DataRepoImpl{db: db} }

const (
	qDataInsert = `
INSERT INTO monitor_data (monitor_id, value, created_at)
VALUES ($1, $2, COALESCE($3, now()))
RETURNING id, created_at;`

	qDataRecent = `
SELECT id, monitor_id, value, created_at
FROM monitor_data
WHERE monitor_id = $1 AND created_at >= $2
ORDER BY created_at DESC
LIMIT $3;`

	qDataDaily = `
SELECT date_trunc('day', created_at) AS day,
       count(*) AS total,
       count(*) FILTER (WHERE value > 0) AS up,
       COALESCE(avg(value) FILTER (WHERE value > 0), 0) AS avg_value
FROM monitor_data
WHERE monitor_id = $1 AND created_at >= $2
GROUP BY 1
ORDER BY 1;`
)

func (r *DataRepoImpl) Insert(ctx context.Context, dp *monitor.DataPoint) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qDataInsert, dp.MonitorID, dp.Value, nullTime(dp.CreatedAt)).
		Scan(&dp.ID, &dp.CreatedAt); err != nil {
		return fmt.Errorf("insert data point: %w", mapErr(err))
	}
	return nil
}

func (r *DataRepoImpl) ListRecent(ctx context.Context, monitorID string, since time.Time, limit int) ([]*monitor.DataPoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qDataRecent, monitorID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query data points: %w", err)
	}
	defer rows.Close()

	out := make([]*monitor.DataPoint, 0, limit)
	for rows.Next() {
		var dp monitor.DataPoint
		if err := rows.Scan(&dp.ID, &dp.MonitorID, &dp.Value, &dp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan data point: %w", err)
		}
		out = append(out, &dp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *DataRepoImpl) DailySummary(ctx context.Context, monitorID string, since time.Time) ([]*monitor.DailySummary, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qDataDaily, monitorID, since)
	if err != nil {
		return nil, fmt.Errorf("query daily summary: %w", err)
	}
	defer rows.Close()

	var out []*monitor.DailySummary
	for rows.Next() {
		var s monitor.DailySummary
		if err := rows.Scan(&s.Day, &s.Total, &s.Up, &s.AvgValue); err != nil {
			return nil, fmt.Errorf("scan daily summary: %w", err)
		}
		if s.Total > 0 {
			s.UptimePct = float64(s.Up) * 100 / float64(s.Total)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
