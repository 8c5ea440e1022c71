package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// DuckDBStorage implements FullStorage on DuckDB. Tables are bulk loaded
// through the Appender API inside a transaction that first deletes the
// previous contents.
type DuckDBStorage struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex

	// Performance tracking
	queryTimes map[string][]time.Duration
	queryMu    sync.RWMutex
}

// NewDuckDBStorage creates a new DuckDB storage instance.
// The dbPath can be ":memory:" for an in-memory database or a file path.
func NewDuckDBStorage(dbPath string, logger *slog.Logger) (*DuckDBStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// Single writer; an in-memory database is also private to its connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStorage{
		db:         db,
		dbPath:     dbPath,
		logger:     logger,
		queryTimes: make(map[string][]time.Duration),
	}, nil
}

// Initialize implements StorageManager.Initialize by migrating to the latest schema.
func (d *DuckDBStorage) Initialize(ctx context.Context) error {
	db, err := d.conn("initialize", "")
	if err != nil {
		return err
	}

	d.logger.Info("initializing DuckDB storage", "db_path", d.dbPath)

	for _, setting := range []string{"SET enable_progress_bar = false"} {
		if _, err := db.ExecContext(ctx, setting); err != nil {
			d.logger.Warn("failed to set configuration", "config", setting, "error", err)
		}
	}

	if err := NewMigrationManager(db, d.logger).MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", "", "", fmt.Errorf("failed to migrate schema: %w", err))
	}

	d.logger.Info("DuckDB storage initialized")
	return nil
}

// Migrate implements StorageManager.Migrate, moving the schema up or down to version.
func (d *DuckDBStorage) Migrate(ctx context.Context, version int) error {
	db, err := d.conn("migrate", "")
	if err != nil {
		return err
	}

	mm := NewMigrationManager(db, d.logger)
	status, err := mm.GetStatus(ctx)
	if err != nil {
		return NewStorageError("migrate", "", "", err)
	}
	if version < status.CurrentVersion {
		err = mm.Rollback(ctx, version)
	} else {
		err = mm.Migrate(ctx, version)
	}
	if err != nil {
		return NewStorageError("migrate", "", "", err)
	}
	return nil
}

// StorePanel implements PanelStorer.StorePanel
func (d *DuckDBStorage) StorePanel(ctx context.Context, runID string, rows []models.UnifiedPanelRow) error {
	start := time.Now()
	defer func() {
		d.recordQueryTime("store_panel", time.Since(start))
	}()

	err := d.replace(ctx, PanelTable, "DELETE FROM yearly_panel", nil, func(a *duckdb.Appender) error {
		for _, r := range rows {
			if err := a.AppendRow(r.Entity, int32(r.Time.Year()), nullable(r.RatePerUSD), string(r.Source), runID); err != nil {
				return fmt.Errorf("append %s %d: %w", r.Entity, r.Time.Year(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.logger.Debug("stored yearly panel",
		"rows", len(rows),
		"duration", time.Since(start))
	return nil
}

// StoreVolatility implements VolatilityStorer.StoreVolatility
func (d *DuckDBStorage) StoreVolatility(ctx context.Context, runID string, freq models.Frequency, rows []models.VolatilityStats) error {
	start := time.Now()
	defer func() {
		d.recordQueryTime("store_volatility", time.Since(start))
	}()

	err := d.replace(ctx, VolatilityTable, "DELETE FROM volatility_stats WHERE frequency = $1", []any{string(freq)}, func(a *duckdb.Appender) error {
		for _, s := range rows {
			err := a.AppendRow(
				string(freq),
				s.Entity,
				int32(s.N),
				freq.Format(s.Start),
				freq.Format(s.End),
				nullable(s.Mean),
				nullable(s.Volatility),
				nullable(s.AnnualizedVolatility),
				nullable(s.ExcessKurtosis),
				nullable(s.Skewness),
				nullable(s.Max),
				nullable(s.Min),
				int32(s.TailEvents),
				nullable(s.ExpectedNormal),
				nullable(s.TailRatio),
				runID,
			)
			if err != nil {
				return fmt.Errorf("append %s: %w", s.Entity, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.logger.Debug("stored volatility stats",
		"frequency", freq,
		"rows", len(rows),
		"duration", time.Since(start))
	return nil
}

// replace deletes the current contents selected by deleteQuery and appends
// new rows, all in one transaction on a single connection.
func (d *DuckDBStorage) replace(ctx context.Context, table, deleteQuery string, args []any, fill func(*duckdb.Appender) error) (err error) {
	db, err := d.conn("insert", table)
	if err != nil {
		return err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return NewInsertError(table, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return NewInsertError(table, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
				d.logger.Warn("rollback failed", "table", table, "error", rbErr)
			}
		}
	}()

	if _, err := conn.ExecContext(ctx, deleteQuery, args...); err != nil {
		return NewDeleteError(table, err)
	}

	err = conn.Raw(func(dc any) error {
		driverConn, ok := dc.(*duckdb.Conn)
		if !ok {
			return errors.New("underlying connection is not a DuckDB connection")
		}
		appender, err := duckdb.NewAppenderFromConn(driverConn, "", table)
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		if err := fill(appender); err != nil {
			appender.Close()
			return err
		}
		if err := appender.Close(); err != nil {
			return fmt.Errorf("failed to flush appender: %w", err)
		}
		return nil
	})
	if err != nil {
		return NewInsertError(table, err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return NewInsertError(table, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// QueryPanel implements PanelReader.QueryPanel
func (d *DuckDBStorage) QueryPanel(ctx context.Context, q PanelQuery) ([]models.UnifiedPanelRow, error) {
	start := time.Now()
	defer func() {
		d.recordQueryTime("query_panel", time.Since(start))
	}()

	if err := q.Validate(); err != nil {
		return nil, NewQueryError(PanelTable, "", err)
	}
	db, err := d.conn("query", PanelTable)
	if err != nil {
		return nil, err
	}

	query, args := buildPanelQuery(q)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError(PanelTable, query, err)
	}
	defer rows.Close()

	var out []models.UnifiedPanelRow
	for rows.Next() {
		var (
			country, source string
			year            int
			rate            sql.NullFloat64
		)
		if err := rows.Scan(&country, &year, &rate, &source); err != nil {
			return nil, NewQueryError(PanelTable, query, fmt.Errorf("failed to scan row: %w", err))
		}
		value := math.NaN()
		if rate.Valid {
			value = rate.Float64
		}
		out = append(out, models.UnifiedPanelRow{
			Entity:     country,
			Time:       models.YearTime(year),
			RatePerUSD: value,
			Source:     models.SourceTag(source),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(PanelTable, query, err)
	}
	return out, nil
}

// buildPanelQuery renders q as SQL with positional arguments
func buildPanelQuery(q PanelQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Country != "" {
		add("country = $%d", q.Country)
	}
	if q.From != 0 {
		add("year >= $%d", q.From)
	}
	if q.To != 0 {
		add("year <= $%d", q.To)
	}
	if q.Source != "" {
		add("source = $%d", string(q.Source))
	}

	var sb strings.Builder
	sb.WriteString("SELECT country, year, rate_per_usd, source FROM yearly_panel")
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY country, year")
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	return sb.String(), args
}

// RecordRun implements RunRecorder.RecordRun
func (d *DuckDBStorage) RecordRun(ctx context.Context, run RunRecord) error {
	start := time.Now()
	defer func() {
		d.recordQueryTime("record_run", time.Since(start))
	}()

	db, err := d.conn("insert", RunsTable)
	if err != nil {
		return err
	}
	if run.ID == "" {
		return NewInsertError(RunsTable, errors.New("run ID cannot be empty"))
	}

	query := `INSERT INTO runs (run_id, started_at, finished_at, success, table_count, fatal_issues, warnings)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := db.ExecContext(ctx, query,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Success,
		run.Tables, run.FatalIssues, run.Warnings); err != nil {
		return NewInsertError(RunsTable, err)
	}
	return nil
}

// LastRun implements RunRecorder.LastRun. It returns nil when no build was recorded.
func (d *DuckDBStorage) LastRun(ctx context.Context) (*RunRecord, error) {
	db, err := d.conn("query", RunsTable)
	if err != nil {
		return nil, err
	}

	query := `SELECT run_id, started_at, finished_at, success, table_count, fatal_issues, warnings
		FROM runs ORDER BY started_at DESC LIMIT 1`
	var run RunRecord
	err = db.QueryRowContext(ctx, query).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Success,
		&run.Tables, &run.FatalIssues, &run.Warnings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError(RunsTable, query, err)
	}
	return &run, nil
}

// GetStats implements StorageManager.GetStats
func (d *DuckDBStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	db, err := d.conn("stats", "")
	if err != nil {
		return nil, err
	}

	stats := &StorageStats{}
	panelQuery := `SELECT COUNT(*), COUNT(DISTINCT country), COALESCE(MIN(year), 0), COALESCE(MAX(year), 0)
		FROM yearly_panel`
	if err := db.QueryRowContext(ctx, panelQuery).Scan(
		&stats.PanelRows, &stats.Countries, &stats.EarliestYear, &stats.LatestYear); err != nil {
		return nil, NewQueryError(PanelTable, panelQuery, err)
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM volatility_stats").Scan(&stats.VolatilityRows); err != nil {
		return nil, NewQueryError(VolatilityTable, "", err)
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&stats.Runs); err != nil {
		return nil, NewQueryError(RunsTable, "", err)
	}

	last, err := d.LastRun(ctx)
	if err != nil {
		return nil, err
	}
	if last != nil {
		stats.LastRunID = last.ID
	}

	status, err := NewMigrationManager(db, d.logger).GetStatus(ctx)
	if err != nil {
		return nil, NewStorageError("stats", "", "", err)
	}
	stats.SchemaVersion = status.CurrentVersion
	stats.QueryPerformance = d.averageQueryTimes()
	return stats, nil
}

// HealthCheck implements HealthChecker.HealthCheck
func (d *DuckDBStorage) HealthCheck(ctx context.Context) error {
	start := time.Now()
	defer func() {
		d.recordQueryTime("health_check", time.Since(start))
	}()

	db, err := d.conn("health_check", "")
	if err != nil {
		return err
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("database health check failed: %w", err))
	}
	if result != 1 {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("unexpected health check result: %d", result))
	}
	return nil
}

// Close implements StorageManager.Close
func (d *DuckDBStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		d.logger.Info("closing DuckDB storage")
		if err := d.db.Close(); err != nil {
			return NewStorageError("close", "", "", fmt.Errorf("failed to close database: %w", err))
		}
		d.db = nil
	}
	return nil
}

// conn returns the open database or a StorageError once closed
func (d *DuckDBStorage) conn(operation, table string) (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, NewStorageError(operation, table, "", errors.New("database connection is closed"))
	}
	return d.db, nil
}

// recordQueryTime records query execution time for performance monitoring
func (d *DuckDBStorage) recordQueryTime(operation string, duration time.Duration) {
	d.queryMu.Lock()
	defer d.queryMu.Unlock()

	// Keep only the last 100 measurements
	times := d.queryTimes[operation]
	if len(times) >= 100 {
		times = times[1:]
	}
	d.queryTimes[operation] = append(times, duration)
}

func (d *DuckDBStorage) averageQueryTimes() map[string]time.Duration {
	d.queryMu.RLock()
	defer d.queryMu.RUnlock()

	out := make(map[string]time.Duration, len(d.queryTimes))
	for op, times := range d.queryTimes {
		if len(times) == 0 {
			continue
		}
		var total time.Duration
		for _, t := range times {
			total += t
		}
		out[op] = total / time.Duration(len(times))
	}
	return out
}

// nullable maps NaN and infinities to SQL NULL
func nullable(v float64) driver.Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// Compile-time interface compliance check
var (
	_ FullStorage    = (*DuckDBStorage)(nil)
	_ PanelStorer    = (*DuckDBStorage)(nil)
	_ PanelReader    = (*DuckDBStorage)(nil)
	_ StorageManager = (*DuckDBStorage)(nil)
	_ HealthChecker  = (*DuckDBStorage)(nil)
)
