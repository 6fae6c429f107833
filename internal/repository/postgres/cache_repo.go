package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/cache"
	"github.com/jackc/pgx/v5"
)

var _ cache.Store = (*CacheRepo)(nil)

// CacheRepo is the SQL-backed cache.Store for deployments without redis.
// Expired rows are ignored on read and replaced on write.
type CacheRepo struct{ db *DB }

func NewCacheRepo(db *DB) *CacheRepo { return &CacheRepo{db: db} }

const (
	qCacheGet = `
SELECT value FROM cache
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now());`

	qCacheSet = `
INSERT INTO cache (key, value, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at;`

	qCacheSetNX = `
INSERT INTO cache (key, value, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
WHERE cache.expires_at IS NOT NULL AND cache.expires_at <= now()
RETURNING key;`

	qCacheCompareAndDelete = `DELETE FROM cache WHERE key = $1 AND value = $2;`

	qCacheDelete = `DELETE FROM cache WHERE key = $1;`

	qCachePurge = `DELETE FROM cache WHERE expires_at IS NOT NULL AND expires_at <= now();`
)

func expiresAt(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}

func (r *CacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var v []byte
	err := r.db.Pool.QueryRow(ctx, qCacheGet, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return v, nil
}

func (r *CacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qCacheSet, key, value, expiresAt(ttl)); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (r *CacheRepo) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var k string
	err := r.db.Pool.QueryRow(ctx, qCacheSetNX, key, value, expiresAt(ttl)).Scan(&k)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache setnx: %w", err)
	}
	return true, nil
}

func (r *CacheRepo) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qCacheCompareAndDelete, key, value)
	if err != nil {
		return false, fmt.Errorf("cache compare-and-delete: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *CacheRepo) Delete(ctx context.Context, key string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qCacheDelete, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Purge removes expired rows; the engine calls it on a slow ticker.
func (r *CacheRepo) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qCachePurge)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return cmd.RowsAffected(), nil
}
