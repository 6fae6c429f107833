package cache

import (
	"context"
	"testing"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Defaults(t *testing.T) {
	s := NewState(NewMemory(), 0)
	ctx := context.Background()

	n, err := s.RetryCount(ctx, "m1")
	require.NoError(t, err)
	assert.Zero(t, n)

	st, err := s.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusUp, st)
}

func TestState_RoundTripAndReset(t *testing.T) {
	store := NewMemory()
	s := NewState(store, DefaultStateTTL)
	ctx := context.Background()

	require.NoError(t, s.SetRetryCount(ctx, "m1", 2))
	require.NoError(t, s.SetStatus(ctx, "m1", monitor.StatusDown))

	n, err := s.RetryCount(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := s.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusDown, st)

	shared := NewState(store, DefaultStateTTL)
	n, err = shared.RetryCount(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "state lives in the store, not the instance")

	require.NoError(t, s.Reset(ctx, "m1"))
	st, err = s.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusUp, st)
}
