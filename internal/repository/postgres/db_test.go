package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSQLVerb(t *testing.T) {
	tests := map[string]string{
		"SELECT 1":                              "SELECT",
		"\n  insert into outbox values ($1)":    "INSERT",
		"WITH c AS (SELECT 1) UPDATE t SET x=1": "UPDATE",
		qPick:                                   "SELECT",
		"":                                      "unknown",
	}
	for sql, want := range tests {
		assert.Equal(t, want, sqlVerb(sql), sql)
	}
}

func TestQueryTracer_LogsSlowQueries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tr := newQueryTracer(zap.New(core), time.Nanosecond)

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "DELETE FROM cache"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "DELETE", logs.All()[0].ContextMap()["verb"])
}

func TestQueryTracer_QuietWhenDisabled(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tr := newQueryTracer(zap.New(core), 0)

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	assert.Zero(t, logs.Len())
}
