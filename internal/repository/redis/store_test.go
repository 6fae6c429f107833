package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "pw:"), mr
}

func TestStore_GetSetTTL(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("pw:k"), "prefix applied")

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	mr.FastForward(time.Minute + time.Second)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStore_SetNXAndCompareAndDelete(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", []byte("a"), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", []byte("b"), 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := s.CompareAndDelete(ctx, "lock", []byte("b"))
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, mr.Exists("pw:lock"))

	deleted, err = s.CompareAndDelete(ctx, "lock", []byte("a"))
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("pw:lock"))
}

func TestStore_LockExpiresForCrashedHolder(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", []byte("crashed"), 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	ok, err = s.SetNX(ctx, "lock", []byte("next"), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_BacksLocker(t *testing.T) {
	s, _ := setupStore(t)
	a := cache.NewLocker(s, "node-a", nil)
	b := cache.NewLocker(s, "node-b", nil)
	ctx := context.Background()

	ran, err := a.WithLock(ctx, "monitor-execution:m1", func(ctx context.Context) error {
		inner, err := b.WithLock(ctx, "monitor-execution:m1", func(context.Context) error { return nil }, cache.DefaultLockOptions())
		require.NoError(t, err)
		assert.False(t, inner, "second instance skips while held")
		return nil
	}, cache.DefaultLockOptions())
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestStore_Errors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewStore(client, "")
	ctx := context.Background()

	mock.ExpectGet("k").SetErr(errors.New("connection refused"))
	_, err := s.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cache.ErrNotFound)

	mock.ExpectSetNX("k", []byte("v"), time.Second).SetErr(errors.New("readonly"))
	_, err = s.SetNX(ctx, "k", []byte("v"), time.Second)
	assert.ErrorContains(t, err, "redis setnx")

	assert.NoError(t, mock.ExpectationsWereMet())
}
