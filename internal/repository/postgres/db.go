package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type Config struct {
	DSN               string        `mapstructure:"dsn"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout"`
	// SlowQuery logs statements that take longer. Zero disables the log.
	SlowQuery time.Duration `mapstructure:"slow_query"`
}

// Pool is the subset of *pgxpool.Pool the repositories use.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type DB struct {
	Pool         Pool
	QueryTimeout time.Duration
}

func NewWithPool(p Pool, queryTimeout time.Duration) *DB {
	return &DB{Pool: p, QueryTimeout: queryTimeout}
}

// New opens a pool and pings it once before returning.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	applyPoolLimits(pcfg, cfg)
	pcfg.ConnConfig.Tracer = newQueryTracer(log, cfg.SlowQuery)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", pcfg.ConnConfig.Host, err)
	}
	return &DB{Pool: pool, QueryTimeout: cfg.QueryTimeout}, nil
}

func applyPoolLimits(pcfg *pgxpool.Config, cfg Config) {
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
}

func (db *DB) Close() { db.Pool.Close() }

func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, db.QueryTimeout)
}

var queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "db_query_duration_seconds",
	Help:    "Statement latency by leading SQL verb and result.",
	Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
}, []string{"verb", "result"})

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// queryTracer times every statement and logs the slow ones.
type queryTracer struct {
	log  *zap.Logger
	slow time.Duration
}

func newQueryTracer(log *zap.Logger, slow time.Duration) *queryTracer {
	if log == nil {
		log = zap.NewNop()
	}
	return &queryTracer{log: log.With(zap.String("component", "postgres")), slow: slow}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), sql: data.SQL})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	st, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	took := time.Since(st.at)
	result := "ok"
	if data.Err != nil {
		result = "error"
	}
	queryDuration.WithLabelValues(sqlVerb(st.sql), result).Observe(took.Seconds())
	if t.slow > 0 && took >= t.slow {
		t.log.Warn("slow query", zap.Duration("took", took), zap.String("verb", sqlVerb(st.sql)))
	}
}

// sqlVerb returns the leading keyword of a statement. For a CTE it is the
// last verb seen, which is the main statement.
func sqlVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	verb := strings.ToUpper(fields[0])
	if verb == "WITH" {
		for _, f := range fields[1:] {
			switch u := strings.ToUpper(f); u {
			case "SELECT", "INSERT", "UPDATE", "DELETE":
				verb = u
			}
		}
	}
	return verb
}
