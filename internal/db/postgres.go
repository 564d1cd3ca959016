package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"backsim/internal/market"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Postgres implements Storage on top of a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

var _ Storage = (*Postgres)(nil)

// NewPostgres opens a connection with the given DSN and verifies it.
func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("NewPostgres | open: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("NewPostgres | ping: %w", err)
	}
	return &Postgres{db: sqlDB}, nil
}

// NewPostgresFromDB wraps an existing handle, for tests and callers
// that manage the pool themselves.
func NewPostgresFromDB(sqlDB *sql.DB) *Postgres {
	return &Postgres{db: sqlDB}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// executeWithTransaction runs fn inside the context's transaction if
// one is present, otherwise inside a new one with rollback on error.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Postgres) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

// SaveBars upserts bars keyed by (ticker, timeframe, timestamp).
func (p *Postgres) SaveBars(ctx context.Context, bars []market.Bar, timeframe string) error {
	if len(bars) == 0 {
		return nil
	}

	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid bar at index %d for %s at %s: %w", i, b.Ticker, b.Timestamp, err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO bars (ticker, timeframe, timestamp, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (ticker, timeframe, timestamp) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, b := range bars {
			if _, err := stmt.ExecContext(ctx,
				b.Ticker, timeframe, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
				return fmt.Errorf("failed to save bar at index %d (%s at %s): %w", i, b.Ticker, b.Timestamp, err)
			}
		}
		return nil
	})
}

// GetBars retrieves bars in [start, end) ordered by timestamp.
func (p *Postgres) GetBars(ctx context.Context, ticker, timeframe string, start, end time.Time) ([]market.Bar, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT timestamp, open, high, low, close, volume, ticker
		FROM bars
		WHERE ticker=$1 AND timeframe=$2 AND timestamp >= $3 AND timestamp < $4
		ORDER BY timestamp ASC`,
		ticker, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		var b market.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Ticker); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bar rows: %w", err)
	}
	return bars, nil
}

// GetLatestBar retrieves the most recent bar for a ticker and timeframe.
func (p *Postgres) GetLatestBar(ctx context.Context, ticker, timeframe string) (*market.Bar, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT timestamp, open, high, low, close, volume, ticker
		FROM bars
		WHERE ticker=$1 AND timeframe=$2
		ORDER BY timestamp DESC LIMIT 1`,
		ticker, timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest bar: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var b market.Bar
	if rows.Next() {
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Ticker); err != nil {
			return nil, fmt.Errorf("failed to scan latest bar: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		return &b, nil
	}
	return nil, nil
}

// SaveSignals upserts signals keyed by (ticker, timestamp, strategy).
func (p *Postgres) SaveSignals(ctx context.Context, signals []market.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	for i, s := range signals {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("invalid signal at index %d for %s at %s: %w", i, s.Ticker, s.Timestamp, err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO signals (ticker, timestamp, side, price, strategy, mode)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (ticker, timestamp, strategy) DO UPDATE SET
				side=EXCLUDED.side, price=EXCLUDED.price, mode=EXCLUDED.mode`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, s := range signals {
			if _, err := stmt.ExecContext(ctx,
				s.Ticker, s.Timestamp, s.Side, s.Price, s.Strategy, s.Mode); err != nil {
				return fmt.Errorf("failed to save signal at index %d (%s at %s): %w", i, s.Ticker, s.Timestamp, err)
			}
		}
		return nil
	})
}

// GetSignals retrieves signals in [start, end) ordered by timestamp.
func (p *Postgres) GetSignals(ctx context.Context, ticker string, start, end time.Time) ([]market.Signal, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT timestamp, ticker, side, price, strategy, mode
		FROM signals
		WHERE ticker=$1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC`,
		ticker, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var signals []market.Signal
	for rows.Next() {
		var s market.Signal
		if err := rows.Scan(&s.Timestamp, &s.Ticker, &s.Side, &s.Price, &s.Strategy, &s.Mode); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		s.Timestamp = s.Timestamp.UTC()
		signals = append(signals, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal rows: %w", err)
	}
	return signals, nil
}

// SaveRun inserts a run summary and returns the generated ID.
func (p *Postgres) SaveRun(ctx context.Context, run RunSummary) (int64, error) {
	var id int64
	err := p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO runs (
				ticker, timeframe, started_at, finished_at, initial_capital, final_equity,
				total_trades, win_rate, max_drawdown_pct, sharpe_ratio, config_yaml
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			RETURNING id`,
			run.Ticker, run.Timeframe, run.StartedAt, run.FinishedAt, run.InitialCapital,
			run.FinalEquity, run.TotalTrades, run.WinRate, run.MaxDrawdownPct,
			run.SharpeRatio, run.ConfigYAML).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to save run for %s: %w", run.Ticker, err)
		}
		return nil
	})
	return id, err
}

// GetRuns retrieves the most recent run summaries for a ticker.
func (p *Postgres) GetRuns(ctx context.Context, ticker string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := p.queryWithTransaction(ctx, `
		SELECT id, ticker, timeframe, started_at, finished_at, initial_capital, final_equity,
			total_trades, win_rate, max_drawdown_pct, sharpe_ratio, config_yaml
		FROM runs
		WHERE ticker=$1
		ORDER BY finished_at DESC LIMIT $2`,
		ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Ticker, &r.Timeframe, &r.StartedAt, &r.FinishedAt,
			&r.InitialCapital, &r.FinalEquity, &r.TotalTrades, &r.WinRate,
			&r.MaxDrawdownPct, &r.SharpeRatio, &r.ConfigYAML); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = r.StartedAt.UTC()
		r.FinishedAt = r.FinishedAt.UTC()
		runs = append(runs, r)
	}
	return runs, nil
}

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			ticker TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (ticker, timeframe, timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			ticker TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			side TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			strategy TEXT NOT NULL,
			mode TEXT NOT NULL,
			PRIMARY KEY (ticker, timestamp, strategy)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id BIGSERIAL PRIMARY KEY,
			ticker TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			initial_capital DOUBLE PRECISION NOT NULL,
			final_equity DOUBLE PRECISION NOT NULL,
			total_trades INT NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			max_drawdown_pct DOUBLE PRECISION NOT NULL,
			sharpe_ratio DOUBLE PRECISION NOT NULL,
			config_yaml TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_ticker_finished ON runs (ticker, finished_at DESC)`,
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to run migration: %w", err)
			}
		}
		return nil
	})
}
