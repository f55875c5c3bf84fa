package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Migration represents a single database migration with version and implementation
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
	Down        func(ctx context.Context, tx *sql.Tx) error
}

// MigrationManager handles schema migrations for the DuckDB mirror
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrationManager creates a new migration manager instance
func NewMigrationManager(db *sql.DB, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &MigrationManager{
		db:         db,
		logger:     logger,
		migrations: allMigrations(),
	}
}

// Initialize creates the migrations table if it doesn't exist
func (m *MigrationManager) Initialize(ctx context.Context) error {
	createMigrationsTable := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			execution_time BIGINT NOT NULL DEFAULT 0
		)`

	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// Migrate runs all pending migrations up to the target version
func (m *MigrationManager) Migrate(ctx context.Context, targetVersion int) error {
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize migration manager: %w", err)
	}

	currentVersion, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}

	if currentVersion >= targetVersion {
		m.logger.Debug("no migrations to run", "current_version", currentVersion)
		return nil
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= currentVersion || migration.Version > targetVersion {
			continue
		}
		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
		applied++
	}

	m.logger.Info("migrations completed",
		"from_version", currentVersion,
		"to_version", targetVersion,
		"migrations_run", applied)
	return nil
}

// MigrateToLatest runs all available migrations
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	if len(m.migrations) == 0 {
		return nil
	}
	return m.Migrate(ctx, m.LatestVersion())
}

// LatestVersion returns the highest known migration version.
func (m *MigrationManager) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// Rollback rolls back migrations down to, but not including, targetVersion
func (m *MigrationManager) Rollback(ctx context.Context, targetVersion int) error {
	currentVersion, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}
	if targetVersion >= currentVersion {
		return nil
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version > currentVersion || migration.Version <= targetVersion {
			continue
		}
		if err := m.rollbackMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to roll back migration %d: %w", migration.Version, err)
		}
	}
	return nil
}

// Status reports the applied and pending migrations
func (m *MigrationManager) Status(ctx context.Context) (*MigrationStatus, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx,
		"SELECT version, description, applied_at, execution_time FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make([]AppliedMigration, 0)
	for rows.Next() {
		var am AppliedMigration
		var nanos int64
		if err := rows.Scan(&am.Version, &am.Description, &am.AppliedAt, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		am.ExecutionTime = time.Duration(nanos)
		applied = append(applied, am)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migration rows: %w", err)
	}

	pending := 0
	for _, migration := range m.migrations {
		if migration.Version > current {
			pending++
		}
	}

	return &MigrationStatus{
		CurrentVersion:    current,
		LatestVersion:     m.LatestVersion(),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}, nil
}

// runMigration executes a single migration inside a transaction
func (m *MigrationManager) runMigration(ctx context.Context, migration Migration) error {
	start := time.Now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	insertQuery := `
		INSERT INTO schema_migrations (version, description, applied_at, execution_time)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insertQuery,
		migration.Version,
		migration.Description,
		start.UTC(),
		time.Since(start).Nanoseconds()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Info("migration applied",
		"version", migration.Version,
		"description", migration.Description,
		"duration", time.Since(start))
	return nil
}

// rollbackMigration executes a single migration rollback
func (m *MigrationManager) rollbackMigration(ctx context.Context, migration Migration) error {
	if migration.Down == nil {
		return fmt.Errorf("migration %d has no rollback function", migration.Version)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start rollback transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Down(ctx, tx); err != nil {
		return fmt.Errorf("rollback execution failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	m.logger.Info("migration rolled back", "version", migration.Version)
	return nil
}

func (m *MigrationManager) currentVersion(ctx context.Context) (int, error) {
	var version int
	if err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

func allMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Initial schema - klines table",
			Up:          migrationV1Up,
			Down:        migrationV1Down,
		},
		{
			Version:     2,
			Description: "Add sync runs table",
			Up:          migrationV2Up,
			Down:        migrationV2Down,
		},
		{
			Version:     3,
			Description: "Add lookup indexes",
			Up:          migrationV3Up,
			Down:        migrationV3Down,
		},
	}
}

func execAll(ctx context.Context, tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migration V1: klines keyed by symbol, timeframe and open time
func migrationV1Up(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, `CREATE TABLE IF NOT EXISTS klines (
			symbol VARCHAR NOT NULL,
			timeframe VARCHAR NOT NULL,
			open_time TIMESTAMP NOT NULL,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE,
			close_time TIMESTAMP,
			quote_volume DOUBLE,
			trade_count BIGINT,
			taker_buy_base DOUBLE,
			taker_buy_quote DOUBLE,
			PRIMARY KEY (symbol, timeframe, open_time)
		)`)
}

func migrationV1Down(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, "DROP TABLE IF EXISTS klines")
}

// Migration V2: one row per timeframe per pipeline run
func migrationV2Up(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, `CREATE TABLE IF NOT EXISTS sync_runs (
			run_id VARCHAR NOT NULL,
			symbol VARCHAR NOT NULL,
			timeframe VARCHAR NOT NULL,
			existing_records BIGINT NOT NULL,
			fetched_records BIGINT NOT NULL,
			added_records BIGINT NOT NULL,
			total_records BIGINT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			error_message VARCHAR,
			PRIMARY KEY (run_id, timeframe)
		)`)
}

func migrationV2Down(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, "DROP TABLE IF EXISTS sync_runs")
}

// Migration V3: indexes for the range and run history queries
func migrationV3Up(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx,
		"CREATE INDEX IF NOT EXISTS idx_klines_open_time ON klines (open_time)",
		"CREATE INDEX IF NOT EXISTS idx_sync_runs_finished ON sync_runs (finished_at)",
	)
}

func migrationV3Down(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx,
		"DROP INDEX IF EXISTS idx_klines_open_time",
		"DROP INDEX IF EXISTS idx_sync_runs_finished",
	)
}

// MigrationStatus represents the current state of database migrations
type MigrationStatus struct {
	CurrentVersion    int                `json:"current_version"`
	LatestVersion     int                `json:"latest_version"`
	AppliedMigrations []AppliedMigration `json:"applied_migrations"`
	PendingMigrations int                `json:"pending_migrations"`
}

// AppliedMigration represents a migration that has been successfully applied
type AppliedMigration struct {
	Version       int           `json:"version"`
	Description   string        `json:"description"`
	AppliedAt     time.Time     `json:"applied_at"`
	ExecutionTime time.Duration `json:"execution_time"`
}
