package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

var errClosed = errors.New("database connection is closed")

// RunRecord is the outcome of one timeframe of a pipeline run.
type RunRecord struct {
	RunID      string
	Symbol     string
	Timeframe  models.Interval
	Existing   int
	Fetched    int
	Added      int
	Total      int
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// DuckDBMirror mirrors merged datasets into a DuckDB database so they can be
// queried with SQL. Bulk loads use the DuckDB Appender API. Prices are stored
// as DOUBLE; the flat files stay the exact source of truth.
type DuckDBMirror struct {
	db         *sql.DB
	dbPath     string
	logger     *slog.Logger
	mu         sync.RWMutex
	migrations *MigrationManager
}

// NewDuckDBMirror opens the database at dbPath. The path can be ":memory:"
// for an in-memory database. Initialize must be called before use.
func NewDuckDBMirror(dbPath string, logger *slog.Logger) (*DuckDBMirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "duckdb_mirror")

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", dbPath, fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// DuckDB allows a single writer; one pooled connection also keeps
	// in-memory databases from being split across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBMirror{
		db:         db,
		dbPath:     dbPath,
		logger:     logger,
		migrations: NewMigrationManager(db, logger),
	}, nil
}

// Initialize applies all pending schema migrations.
func (d *DuckDBMirror) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.migrations.MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", d.dbPath, err)
	}
	d.logger.Info("DuckDB mirror initialized", "db_path", d.dbPath)
	return nil
}

// Migrations exposes the schema migration manager.
func (d *DuckDBMirror) Migrations() *MigrationManager {
	return d.migrations
}

// Replace implements Mirror. The delete and the bulk append run in one
// transaction on a single connection.
func (d *DuckDBMirror) Replace(ctx context.Context, symbol string, interval models.Interval, ds models.Dataset) (err error) {
	start := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return NewStorageError("replace", "klines", errClosed)
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return NewStorageError("replace", "klines", fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return NewStorageError("replace", "klines", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
				d.logger.Warn("failed to roll back replace", "error", rbErr)
			}
		}
	}()

	if _, err := conn.ExecContext(ctx,
		"DELETE FROM klines WHERE symbol = $1 AND timeframe = $2", symbol, string(interval)); err != nil {
		return NewStorageError("replace", "klines", fmt.Errorf("failed to delete previous rows: %w", err))
	}

	if len(ds) > 0 {
		if err := d.appendDataset(conn, symbol, interval, ds); err != nil {
			return NewStorageError("replace", "klines", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return NewStorageError("replace", "klines", fmt.Errorf("failed to commit: %w", err))
	}

	d.logger.Debug("mirrored dataset",
		"symbol", symbol,
		"timeframe", interval,
		"records", len(ds),
		"duration", time.Since(start))
	return nil
}

func (d *DuckDBMirror) appendDataset(conn *sql.Conn, symbol string, interval models.Interval, ds models.Dataset) error {
	var driverConn *duckdb.Conn
	err := conn.Raw(func(dc any) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to get DuckDB connection: %w", err)
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", "klines")
	if err != nil {
		return fmt.Errorf("failed to create appender: %w", err)
	}

	for i := range ds {
		k := &ds[i]
		if err := appender.AppendRow(
			symbol,
			string(interval),
			k.OpenTime.UTC(),
			floatValue(k.Open),
			floatValue(k.High),
			floatValue(k.Low),
			floatValue(k.Close),
			floatValue(k.Volume),
			timeValue(k.CloseTime),
			floatValue(k.QuoteVolume),
			countValue(k.TradeCount),
			floatValue(k.TakerBuyBase),
			floatValue(k.TakerBuyQuote),
		); err != nil {
			appender.Close()
			return fmt.Errorf("failed to append kline %s: %w", models.FormatTimestamp(k.OpenTime), err)
		}
	}

	if err := appender.Close(); err != nil {
		return fmt.Errorf("failed to flush appender: %w", err)
	}
	return nil
}

// RecordRun implements Mirror.
func (d *DuckDBMirror) RecordRun(ctx context.Context, run RunRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return NewStorageError("record_run", "sync_runs", errClosed)
	}

	var errMsg any
	if run.Error != "" {
		errMsg = run.Error
	}

	query := `
		INSERT INTO sync_runs (run_id, symbol, timeframe, existing_records, fetched_records,
			added_records, total_records, started_at, finished_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := d.db.ExecContext(ctx, query,
		run.RunID, run.Symbol, string(run.Timeframe),
		run.Existing, run.Fetched, run.Added, run.Total,
		run.StartedAt.UTC(), run.FinishedAt.UTC(), errMsg); err != nil {
		return NewStorageError("record_run", "sync_runs", err)
	}
	return nil
}

// Runs returns the recorded timeframes of runID ordered by timeframe.
func (d *DuckDBMirror) Runs(ctx context.Context, runID string) ([]RunRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, NewStorageError("query", "sync_runs", errClosed)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT run_id, symbol, timeframe, existing_records, fetched_records, added_records,
			total_records, started_at, finished_at, error_message
		FROM sync_runs WHERE run_id = $1 ORDER BY timeframe`, runID)
	if err != nil {
		return nil, NewStorageError("query", "sync_runs", err)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0)
	for rows.Next() {
		var r RunRecord
		var timeframe string
		var errMsg sql.NullString
		if err := rows.Scan(&r.RunID, &r.Symbol, &timeframe, &r.Existing, &r.Fetched, &r.Added,
			&r.Total, &r.StartedAt, &r.FinishedAt, &errMsg); err != nil {
			return nil, NewStorageError("query", "sync_runs", err)
		}
		r.Timeframe = models.Interval(timeframe)
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("query", "sync_runs", err)
	}
	return runs, nil
}

// Count returns the number of mirrored klines of symbol/interval.
func (d *DuckDBMirror) Count(ctx context.Context, symbol string, interval models.Interval) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return 0, NewStorageError("query", "klines", errClosed)
	}

	var count int64
	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM klines WHERE symbol = $1 AND timeframe = $2",
		symbol, string(interval)).Scan(&count); err != nil {
		return 0, NewStorageError("query", "klines", err)
	}
	return count, nil
}

// Load reads the mirrored klines of symbol/interval in open time order.
// Decimals come back through float64 and are not exact.
func (d *DuckDBMirror) Load(ctx context.Context, symbol string, interval models.Interval) (models.Dataset, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, NewStorageError("query", "klines", errClosed)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume, close_time, quote_volume,
			trade_count, taker_buy_base, taker_buy_quote
		FROM klines WHERE symbol = $1 AND timeframe = $2 ORDER BY open_time`,
		symbol, string(interval))
	if err != nil {
		return nil, NewStorageError("query", "klines", err)
	}
	defer rows.Close()

	ds := make(models.Dataset, 0)
	for rows.Next() {
		var (
			k                                   models.Kline
			open, high, low, closePrice, volume sql.NullFloat64
			quoteVolume, takerBase, takerQuote  sql.NullFloat64
			closeTime                           sql.NullTime
		)
		if err := rows.Scan(&k.OpenTime, &open, &high, &low, &closePrice, &volume, &closeTime,
			&quoteVolume, &k.TradeCount, &takerBase, &takerQuote); err != nil {
			return nil, NewStorageError("query", "klines", err)
		}
		k.OpenTime = k.OpenTime.UTC()
		k.Open = decimalFromFloat(open)
		k.High = decimalFromFloat(high)
		k.Low = decimalFromFloat(low)
		k.Close = decimalFromFloat(closePrice)
		k.Volume = decimalFromFloat(volume)
		if closeTime.Valid {
			k.CloseTime = closeTime.Time.UTC()
		}
		k.QuoteVolume = decimalFromFloat(quoteVolume)
		k.TakerBuyBase = decimalFromFloat(takerBase)
		k.TakerBuyQuote = decimalFromFloat(takerQuote)
		ds = append(ds, k)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("query", "klines", err)
	}
	return ds, nil
}

// HealthCheck implements HealthChecker.
func (d *DuckDBMirror) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()

	if db == nil {
		return NewStorageError("health_check", d.dbPath, errClosed)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", d.dbPath, fmt.Errorf("database health check failed: %w", err))
	}
	if result != 1 {
		return NewStorageError("health_check", d.dbPath, fmt.Errorf("unexpected health check result: %d", result))
	}
	return nil
}

// Close implements Mirror.
func (d *DuckDBMirror) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	d.logger.Info("closing DuckDB mirror")
	if err := d.db.Close(); err != nil {
		return NewStorageError("close", d.dbPath, fmt.Errorf("failed to close database: %w", err))
	}
	d.db = nil
	return nil
}

func floatValue(d decimal.NullDecimal) driver.Value {
	if !d.Valid {
		return nil
	}
	f, _ := d.Decimal.Float64()
	return f
}

func timeValue(t time.Time) driver.Value {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func countValue(n sql.NullInt64) driver.Value {
	if !n.Valid {
		return nil
	}
	return n.Int64
}

func decimalFromFloat(f sql.NullFloat64) decimal.NullDecimal {
	if !f.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(f.Float64))
}

// Compile-time interface compliance check
var (
	_ Mirror        = (*DuckDBMirror)(nil)
	_ HealthChecker = (*DuckDBMirror)(nil)
)
