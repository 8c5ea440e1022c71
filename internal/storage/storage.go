// Package storage provides the analytical mirror of the derived tables.
// The mirror is rebuilt wholesale on every build: each table is dropped and
// reloaded, never updated incrementally. A DuckDB backend serves the query
// command; an in-memory backend serves tests and dry runs.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// Table names of the mirror
const (
	PanelTable      = "yearly_panel"
	VolatilityTable = "volatility_stats"
	RunsTable       = "runs"
)

// PanelStorer replaces the yearly unified panel in the mirror.
type PanelStorer interface {
	// StorePanel drops every panel row and loads rows, tagged with the build's run ID.
	StorePanel(ctx context.Context, runID string, rows []models.UnifiedPanelRow) error
}

// VolatilityStorer replaces the volatility summary of one frequency.
type VolatilityStorer interface {
	StoreVolatility(ctx context.Context, runID string, freq models.Frequency, rows []models.VolatilityStats) error
}

// PanelReader answers the query command.
type PanelReader interface {
	// QueryPanel returns matching panel rows ordered by country, then year.
	QueryPanel(ctx context.Context, q PanelQuery) ([]models.UnifiedPanelRow, error)
}

// RunRecorder keeps the history of builds that loaded the mirror.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
	LastRun(ctx context.Context) (*RunRecord, error)
}

// HealthChecker provides health check functionality for storage backends.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StorageManager handles storage lifecycle and maintenance.
type StorageManager interface {
	// Initialize creates the schema at the latest migration.
	Initialize(ctx context.Context) error

	// Close releases all resources held by the storage backend.
	Close() error

	// Migrate moves the schema to version, up or down.
	Migrate(ctx context.Context, version int) error

	// GetStats returns row counts and query timings.
	GetStats(ctx context.Context) (*StorageStats, error)

	HealthChecker
}

// FullStorage combines every mirror capability.
type FullStorage interface {
	PanelStorer
	VolatilityStorer
	PanelReader
	RunRecorder
	StorageManager
}

// PanelQuery filters the yearly panel. Zero values leave a filter open.
type PanelQuery struct {
	Country string           `json:"country"`
	From    int              `json:"from,omitempty"`
	To      int              `json:"to,omitempty"`
	Source  models.SourceTag `json:"source,omitempty"`
	Limit   int              `json:"limit,omitempty"`
}

// Validate rejects an inverted year range and a negative limit.
func (q PanelQuery) Validate() error {
	if q.From != 0 && q.To != 0 && q.From > q.To {
		return fmt.Errorf("from year %d is after to year %d", q.From, q.To)
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit cannot be negative: %d", q.Limit)
	}
	return nil
}

func (q PanelQuery) matches(r models.UnifiedPanelRow) bool {
	year := r.Time.Year()
	switch {
	case q.Country != "" && r.Entity != q.Country:
		return false
	case q.From != 0 && year < q.From:
		return false
	case q.To != 0 && year > q.To:
		return false
	case q.Source != "" && r.Source != q.Source:
		return false
	}
	return true
}

// RunRecord is one build that loaded the mirror
type RunRecord struct {
	ID          string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Success     bool      `json:"success"`
	Tables      int       `json:"tables"`
	FatalIssues int       `json:"fatal_issues"`
	Warnings    int       `json:"warnings"`
}

// StorageStats summarizes the mirror contents.
type StorageStats struct {
	PanelRows        int64                    `json:"panel_rows"`
	Countries        int64                    `json:"countries"`
	EarliestYear     int                      `json:"earliest_year"`
	LatestYear       int                      `json:"latest_year"`
	VolatilityRows   int64                    `json:"volatility_rows"`
	Runs             int64                    `json:"runs"`
	LastRunID        string                   `json:"last_run_id,omitempty"`
	SchemaVersion    int                      `json:"schema_version"`
	QueryPerformance map[string]time.Duration `json:"query_performance"`
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "insert", "query")
	Operation string

	// Table is the database table involved in the operation
	Table string

	// Query is the SQL query or operation details (may be empty)
	Query string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table, query string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Table:     table,
		Query:     query,
		Err:       err,
	}
}

// NewQueryError creates a StorageError specifically for query operations.
func NewQueryError(table, query string, err error) *StorageError {
	return &StorageError{
		Operation: "query",
		Table:     table,
		Query:     query,
		Err:       err,
	}
}

// NewInsertError creates a StorageError specifically for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{
		Operation: "insert",
		Table:     table,
		Err:       err,
	}
}

// NewDeleteError creates a StorageError specifically for delete operations.
func NewDeleteError(table string, err error) *StorageError {
	return &StorageError{
		Operation: "delete",
		Table:     table,
		Err:       err,
	}
}
