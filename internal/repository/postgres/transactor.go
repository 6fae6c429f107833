package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Transactor runs fn in one database transaction. Repositories called with
// the context passed to fn take part in it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var (
	txTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "db_tx_total",
		Help: "Database transactions by outcome.",
	}, []string{"outcome"})
	txDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "db_tx_duration_seconds",
		Help:    "Time from begin to commit or rollback.",
		Buckets: prometheus.DefBuckets,
	})
)

var _ Transactor = (*txRunner)(nil)

type txRunner struct {
	db  *DB
	log *zap.Logger
}

func NewTransactor(db *DB, log *zap.Logger) Transactor {
	if log == nil {
		log = zap.NewNop()
	}
	return &txRunner{db: db, log: log.With(zap.String("component", "postgres.tx"))}
}

// WithTx commits when fn returns nil and rolls back otherwise, including on
// panic. A nested call joins the outer transaction.
func (t *txRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := t.db.Pool.Begin(ctx)
	if err != nil {
		txTotal.WithLabelValues("begin_error").Inc()
		return fmt.Errorf("begin tx: %w", err)
	}
	start := time.Now()
	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		defer func() { txDuration.Observe(time.Since(start).Seconds()) }()
		if p := recover(); p != nil {
			t.rollback(ctx, tx)
			txTotal.WithLabelValues("panic").Inc()
			panic(p)
		}
		if err != nil {
			t.rollback(ctx, tx)
			txTotal.WithLabelValues("rollback").Inc()
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			txTotal.WithLabelValues("commit_error").Inc()
			t.log.Error("commit failed", zap.Error(cerr))
			err = fmt.Errorf("commit tx: %w", cerr)
			return
		}
		txTotal.WithLabelValues("commit").Inc()
	}()

	return fn(txCtx)
}

func (t *txRunner) rollback(ctx context.Context, tx pgx.Tx) {
	// the caller's context may already be done
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := tx.Rollback(rctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		t.log.Error("rollback failed", zap.Error(err))
	}
}

type txKey struct{}

func txFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// execQueryer returns the transaction carried by ctx, or the pool.
func (db *DB) execQueryer(ctx context.Context) execQueryer {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return db.Pool
}
