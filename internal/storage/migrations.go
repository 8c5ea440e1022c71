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

// MigrationManager handles database schema migrations for DuckDB
type MigrationManager struct {
	db      *sql.DB
	logger  *slog.Logger
	migrate []Migration
}

// NewMigrationManager creates a new migration manager instance
func NewMigrationManager(db *sql.DB, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &MigrationManager{
		db:      db,
		logger:  logger,
		migrate: getAllMigrations(),
	}
}

// Initialize creates the migrations table if it doesn't exist
func (m *MigrationManager) Initialize(ctx context.Context) error {
	createMigrationsTable := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			execution_time BIGINT NOT NULL DEFAULT 0
		)`

	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	m.logger.Debug("migration table ready")
	return nil
}

// Migrate runs all pending migrations up to the target version
func (m *MigrationManager) Migrate(ctx context.Context, targetVersion int) error {
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize migration manager: %w", err)
	}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	m.logger.Info("starting migration",
		"current_version", currentVersion,
		"target_version", targetVersion)

	if currentVersion >= targetVersion {
		m.logger.Info("no migrations to run", "current_version", currentVersion)
		return nil
	}

	// Filter migrations to run
	migrationsToRun := make([]Migration, 0)
	for _, migration := range m.migrate {
		if migration.Version > currentVersion && migration.Version <= targetVersion {
			migrationsToRun = append(migrationsToRun, migration)
		}
	}

	if len(migrationsToRun) == 0 {
		m.logger.Info("no migrations found in range",
			"current", currentVersion,
			"target", targetVersion)
		return nil
	}

	// Run migrations in sequence
	for _, migration := range migrationsToRun {
		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
	}

	m.logger.Info("all migrations completed successfully",
		"final_version", targetVersion,
		"migrations_run", len(migrationsToRun))

	return nil
}

// LatestVersion returns the highest known migration version
func (m *MigrationManager) LatestVersion() int {
	if len(m.migrate) == 0 {
		return 0
	}
	return m.migrate[len(m.migrate)-1].Version
}

// MigrateToLatest runs all available migrations
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	if len(m.migrate) == 0 {
		m.logger.Info("no migrations available")
		return nil
	}

	return m.Migrate(ctx, m.LatestVersion())
}

// Rollback rolls back migrations to the target version
func (m *MigrationManager) Rollback(ctx context.Context, targetVersion int) error {
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize migration manager: %w", err)
	}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	m.logger.Info("starting rollback",
		"current_version", currentVersion,
		"target_version", targetVersion)

	if currentVersion <= targetVersion {
		m.logger.Info("no rollback needed", "current_version", currentVersion)
		return nil
	}

	// Filter migrations to rollback (in reverse order)
	migrationsToRollback := make([]Migration, 0)
	for i := len(m.migrate) - 1; i >= 0; i-- {
		migration := m.migrate[i]
		if migration.Version > targetVersion && migration.Version <= currentVersion {
			migrationsToRollback = append(migrationsToRollback, migration)
		}
	}

	// Run rollbacks in reverse order
	for _, migration := range migrationsToRollback {
		if err := m.rollbackMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
		}
	}

	m.logger.Info("rollback completed successfully",
		"final_version", targetVersion,
		"migrations_rolled_back", len(migrationsToRollback))

	return nil
}

// GetStatus returns the current migration status
func (m *MigrationManager) GetStatus(ctx context.Context) (*MigrationStatus, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize migration manager: %w", err)
	}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}

	appliedMigrations, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	latestVersion := m.LatestVersion()

	pendingCount := 0
	for _, migration := range m.migrate {
		if migration.Version > currentVersion {
			pendingCount++
		}
	}

	return &MigrationStatus{
		CurrentVersion:      currentVersion,
		LatestVersion:       latestVersion,
		AppliedMigrations:   appliedMigrations,
		PendingMigrations:   pendingCount,
		TotalMigrations:     len(m.migrate),
		DatabaseInitialized: currentVersion >= 1,
	}, nil
}

// runMigration executes a single migration with timing and error handling
func (m *MigrationManager) runMigration(ctx context.Context, migration Migration) error {
	start := time.Now()

	m.logger.Info("applying migration",
		"version", migration.Version,
		"description", migration.Description)

	// Execute migration in transaction for atomicity
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// Run migration function
	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	// Record migration
	executionTime := time.Since(start).Nanoseconds()
	insertQuery := `
		INSERT INTO schema_migrations (version, description, applied_at, execution_time)
		VALUES ($1, $2, $3, $4)`

	if _, err := tx.ExecContext(ctx, insertQuery,
		migration.Version,
		migration.Description,
		start,
		executionTime); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	duration := time.Since(start)
	m.logger.Info("migration applied successfully",
		"version", migration.Version,
		"duration", duration)

	return nil
}

// rollbackMigration executes a single migration rollback
func (m *MigrationManager) rollbackMigration(ctx context.Context, migration Migration) error {
	start := time.Now()

	m.logger.Info("rolling back migration",
		"version", migration.Version,
		"description", migration.Description)

	if migration.Down == nil {
		return fmt.Errorf("migration %d has no rollback function", migration.Version)
	}

	// Execute rollback in transaction
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start rollback transaction: %w", err)
	}
	defer tx.Rollback()

	// Run rollback function
	if err := migration.Down(ctx, tx); err != nil {
		return fmt.Errorf("rollback execution failed: %w", err)
	}

	// Remove migration record
	deleteQuery := "DELETE FROM schema_migrations WHERE version = $1"
	if _, err := tx.ExecContext(ctx, deleteQuery, migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	m.logger.Info("migration rolled back successfully",
		"version", migration.Version,
		"duration", time.Since(start))

	return nil
}

// getCurrentVersion returns the highest applied migration version
func (m *MigrationManager) getCurrentVersion(ctx context.Context) (int, error) {
	var version int
	query := "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"

	if err := m.db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	return version, nil
}

// getAppliedMigrations returns list of applied migrations with metadata
func (m *MigrationManager) getAppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	query := `
		SELECT version, description, applied_at, execution_time
		FROM schema_migrations
		ORDER BY version`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var migrations []AppliedMigration
	for rows.Next() {
		var migration AppliedMigration
		var executionTime int64

		err := rows.Scan(
			&migration.Version,
			&migration.Description,
			&migration.AppliedAt,
			&executionTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}

		migration.ExecutionTime = time.Duration(executionTime)
		migrations = append(migrations, migration)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}

	return migrations, nil
}

// getAllMigrations returns the complete list of available migrations
func getAllMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Initial schema - yearly panel and volatility tables",
			Up:          migrationV1Up,
			Down:        migrationV1Down,
		},
		{
			Version:     2,
			Description: "Add build runs table",
			Up:          migrationV2Up,
			Down:        migrationV2Down,
		},
		{
			Version:     3,
			Description: "Add indexes for the query command",
			Up:          migrationV3Up,
			Down:        migrationV3Down,
		},
	}
}

func execAll(ctx context.Context, tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute %q: %w", query, err)
		}
	}
	return nil
}

// Migration V1: yearly panel and volatility summaries
func migrationV1Up(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE TABLE IF NOT EXISTS yearly_panel (
			country VARCHAR NOT NULL,
			year INTEGER NOT NULL,
			rate_per_usd DOUBLE,
			source VARCHAR NOT NULL,
			run_id VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS volatility_stats (
			frequency VARCHAR NOT NULL,
			entity VARCHAR NOT NULL,
			n_obs INTEGER NOT NULL,
			start_key VARCHAR NOT NULL,
			end_key VARCHAR NOT NULL,
			mean DOUBLE,
			volatility DOUBLE,
			annualized_volatility DOUBLE,
			excess_kurtosis DOUBLE,
			skewness DOUBLE,
			max_return DOUBLE,
			min_return DOUBLE,
			tail_events INTEGER NOT NULL,
			expected_normal DOUBLE,
			tail_ratio DOUBLE,
			run_id VARCHAR NOT NULL
		)`,
	})
}

func migrationV1Down(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		"DROP TABLE IF EXISTS volatility_stats",
		"DROP TABLE IF EXISTS yearly_panel",
	})
}

// Migration V2: build history
func migrationV2Up(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id VARCHAR PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			success BOOLEAN NOT NULL,
			table_count INTEGER NOT NULL DEFAULT 0,
			fatal_issues INTEGER NOT NULL DEFAULT 0,
			warnings INTEGER NOT NULL DEFAULT 0
		)`,
	})
}

func migrationV2Down(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{"DROP TABLE IF EXISTS runs"})
}

// Migration V3: query indexes
func migrationV3Up(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_panel_country_year ON yearly_panel (country, year)",
		"CREATE INDEX IF NOT EXISTS idx_volatility_frequency ON volatility_stats (frequency, entity)",
	})
}

func migrationV3Down(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		"DROP INDEX IF EXISTS idx_volatility_frequency",
		"DROP INDEX IF EXISTS idx_panel_country_year",
	})
}

// MigrationStatus represents the current state of database migrations
type MigrationStatus struct {
	CurrentVersion      int                `json:"current_version"`
	LatestVersion       int                `json:"latest_version"`
	AppliedMigrations   []AppliedMigration `json:"applied_migrations"`
	PendingMigrations   int                `json:"pending_migrations"`
	TotalMigrations     int                `json:"total_migrations"`
	DatabaseInitialized bool               `json:"database_initialized"`
}

// AppliedMigration represents a migration that has been successfully applied
type AppliedMigration struct {
	Version       int           `json:"version"`
	Description   string        `json:"description"`
	AppliedAt     time.Time     `json:"applied_at"`
	ExecutionTime time.Duration `json:"execution_time"`
}
