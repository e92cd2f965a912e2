package quota

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"gatekeeper/internal/common/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	caller_id TEXT NOT NULL,
	model_class TEXT NOT NULL,
	units INTEGER NOT NULL,
	cost REAL NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_caller_ts ON usage_records(caller_id, ts);
CREATE INDEX IF NOT EXISTS idx_usage_records_ts ON usage_records(ts);
`

// SQLiteLedger stores usage records in SQLite. Timestamps are kept as Unix
// milliseconds so range filters use the integer index.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens dsn (a file path or ":memory:") and migrates it
func NewSQLiteLedger(ctx context.Context, dsn string) (*SQLiteLedger, error) {
	inMemory := strings.Contains(dsn, ":memory:")
	if !inMemory && !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.LedgerError("open", err)
	}

	// every connection to :memory: is a separate database
	if inMemory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.LedgerError("ping", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, errors.LedgerError("migrate", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Append(ctx context.Context, record UsageRecord) error {
	if err := record.validate(); err != nil {
		return err
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO usage_records (id, caller_id, model_class, units, cost, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.CallerID, record.ModelClass, record.Units, record.Cost, record.Timestamp.UnixMilli(),
	)
	if err != nil {
		return errors.LedgerError("append", err)
	}
	return nil
}

func (l *SQLiteLedger) CallerTotal(ctx context.Context, callerID string, since time.Time) (Totals, error) {
	var totals Totals
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(units), 0), COALESCE(SUM(cost), 0) FROM usage_records WHERE caller_id = ? AND ts >= ?`,
		callerID, since.UnixMilli(),
	).Scan(&totals.Units, &totals.Cost)
	if err != nil {
		return Totals{}, errors.LedgerError("caller_total", err)
	}
	return totals, nil
}

func (l *SQLiteLedger) GlobalTotal(ctx context.Context, since time.Time) (Totals, error) {
	var totals Totals
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(units), 0), COALESCE(SUM(cost), 0) FROM usage_records WHERE ts >= ?`,
		since.UnixMilli(),
	).Scan(&totals.Units, &totals.Cost)
	if err != nil {
		return Totals{}, errors.LedgerError("global_total", err)
	}
	return totals, nil
}

func (l *SQLiteLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM usage_records WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, errors.LedgerError("prune", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, errors.LedgerError("prune", fmt.Errorf("rows affected: %w", err))
	}
	return removed, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
