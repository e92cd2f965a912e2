package quota

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gatekeeper/internal/common/errors"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	caller_id TEXT NOT NULL,
	model_class TEXT NOT NULL,
	units BIGINT NOT NULL,
	cost DOUBLE PRECISION NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_caller_ts ON usage_records(caller_id, ts);
CREATE INDEX IF NOT EXISTS idx_usage_records_ts ON usage_records(ts);
`

// PostgresLedger stores usage records in PostgreSQL through a pgx pool so
// that several gateway instances share one ledger
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger connects to dsn (a postgres:// URL) and migrates it
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.LedgerError("parse_dsn", err)
	}
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.LedgerError("connect", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.LedgerError("ping", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.LedgerError("migrate", err)
	}

	return &PostgresLedger{pool: pool}, nil
}

func (l *PostgresLedger) Append(ctx context.Context, record UsageRecord) error {
	if err := record.validate(); err != nil {
		return err
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO usage_records (id, caller_id, model_class, units, cost, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		record.ID, record.CallerID, record.ModelClass, record.Units, record.Cost, record.Timestamp,
	)
	if err != nil {
		return errors.LedgerError("append", err)
	}
	return nil
}

func (l *PostgresLedger) CallerTotal(ctx context.Context, callerID string, since time.Time) (Totals, error) {
	var totals Totals
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(units), 0)::BIGINT, COALESCE(SUM(cost), 0)::DOUBLE PRECISION
		 FROM usage_records WHERE caller_id = $1 AND ts >= $2`,
		callerID, since,
	).Scan(&totals.Units, &totals.Cost)
	if err != nil {
		return Totals{}, errors.LedgerError("caller_total", err)
	}
	return totals, nil
}

func (l *PostgresLedger) GlobalTotal(ctx context.Context, since time.Time) (Totals, error) {
	var totals Totals
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(units), 0)::BIGINT, COALESCE(SUM(cost), 0)::DOUBLE PRECISION
		 FROM usage_records WHERE ts >= $1`,
		since,
	).Scan(&totals.Units, &totals.Cost)
	if err != nil {
		return Totals{}, errors.LedgerError("global_total", err)
	}
	return totals, nil
}

func (l *PostgresLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM usage_records WHERE ts < $1`, before)
	if err != nil {
		return 0, errors.LedgerError("prune", err)
	}
	return tag.RowsAffected(), nil
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
