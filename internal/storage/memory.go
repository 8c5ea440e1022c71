package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// MemoryStorage provides an in-memory implementation of all storage interfaces.
// It is safe for concurrent use.
type MemoryStorage struct {
	mu sync.RWMutex

	panel      []models.UnifiedPanelRow
	volatility map[models.Frequency][]models.VolatilityStats
	runs       []RunRecord

	// Lifecycle state
	initialized bool
	closed      bool
	version     int

	// Performance tracking
	queryTimes map[string][]time.Duration
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		volatility: make(map[models.Frequency][]models.VolatilityStats),
		queryTimes: make(map[string][]time.Duration),
	}
}

var errClosed = errors.New("storage is closed")

// StorePanel replaces the stored panel with a copy of rows.
func (m *MemoryStorage) StorePanel(ctx context.Context, runID string, rows []models.UnifiedPanelRow) error {
	start := time.Now()
	defer func() { m.trackQueryTime("store_panel", time.Since(start)) }()

	if ctx.Err() != nil {
		return NewInsertError(PanelTable, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewInsertError(PanelTable, errClosed)
	}
	m.panel = append([]models.UnifiedPanelRow(nil), rows...)
	return nil
}

// StoreVolatility replaces the stored volatility rows of freq.
func (m *MemoryStorage) StoreVolatility(ctx context.Context, runID string, freq models.Frequency, rows []models.VolatilityStats) error {
	if ctx.Err() != nil {
		return NewInsertError(VolatilityTable, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewInsertError(VolatilityTable, errClosed)
	}
	m.volatility[freq] = append([]models.VolatilityStats(nil), rows...)
	return nil
}

// QueryPanel returns the matching rows ordered by country, then year.
func (m *MemoryStorage) QueryPanel(ctx context.Context, q PanelQuery) ([]models.UnifiedPanelRow, error) {
	start := time.Now()
	defer func() { m.trackQueryTime("query_panel", time.Since(start)) }()

	if ctx.Err() != nil {
		return nil, NewQueryError(PanelTable, "", ctx.Err())
	}
	if err := q.Validate(); err != nil {
		return nil, NewQueryError(PanelTable, "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError(PanelTable, "", errClosed)
	}

	var out []models.UnifiedPanelRow
	for _, r := range m.panel {
		if q.matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Time.Before(out[j].Time)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// RecordRun appends run to the build history.
func (m *MemoryStorage) RecordRun(ctx context.Context, run RunRecord) error {
	if ctx.Err() != nil {
		return NewInsertError(RunsTable, ctx.Err())
	}
	if run.ID == "" {
		return NewInsertError(RunsTable, errors.New("run ID cannot be empty"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewInsertError(RunsTable, errClosed)
	}
	for _, r := range m.runs {
		if r.ID == run.ID {
			return NewInsertError(RunsTable, errors.New("run ID already exists"))
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

// LastRun returns the most recently started run, or nil.
func (m *MemoryStorage) LastRun(ctx context.Context) (*RunRecord, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError(RunsTable, "", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError(RunsTable, "", errClosed)
	}

	var last *RunRecord
	for i := range m.runs {
		if last == nil || m.runs[i].StartedAt.After(last.StartedAt) {
			last = &m.runs[i]
		}
	}
	if last == nil {
		return nil, nil
	}
	run := *last
	return &run, nil
}

// Initialize prepares the memory storage for operation.
func (m *MemoryStorage) Initialize(ctx context.Context) error {
	if ctx.Err() != nil {
		return NewStorageError("initialize", "", "", ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError("initialize", "", "", errClosed)
	}

	m.initialized = true
	m.version = len(getAllMigrations())
	return nil
}

// Close gracefully shuts down the memory storage.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Migrate records the schema version; there is no schema to change.
func (m *MemoryStorage) Migrate(ctx context.Context, version int) error {
	if ctx.Err() != nil {
		return NewStorageError("migrate", "", "", ctx.Err())
	}

	if version < 0 || version > len(getAllMigrations()) {
		return NewStorageError("migrate", "", "", errors.New("unknown migration version"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.version = version
	return nil
}

// GetStats returns operational statistics about the memory storage.
func (m *MemoryStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError("stats", "", "", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError("stats", "", "", errClosed)
	}

	stats := &StorageStats{
		PanelRows:        int64(len(m.panel)),
		Runs:             int64(len(m.runs)),
		SchemaVersion:    m.version,
		QueryPerformance: make(map[string]time.Duration),
	}

	countries := make(map[string]struct{})
	for _, r := range m.panel {
		countries[r.Entity] = struct{}{}
		year := r.Time.Year()
		if stats.EarliestYear == 0 || year < stats.EarliestYear {
			stats.EarliestYear = year
		}
		if year > stats.LatestYear {
			stats.LatestYear = year
		}
	}
	stats.Countries = int64(len(countries))

	for _, rows := range m.volatility {
		stats.VolatilityRows += int64(len(rows))
	}

	var last *RunRecord
	for i := range m.runs {
		if last == nil || m.runs[i].StartedAt.After(last.StartedAt) {
			last = &m.runs[i]
		}
	}
	if last != nil {
		stats.LastRunID = last.ID
	}

	for operation, times := range m.queryTimes {
		if len(times) == 0 {
			continue
		}
		var total time.Duration
		for _, t := range times {
			total += t
		}
		stats.QueryPerformance[operation] = total / time.Duration(len(times))
	}
	return stats, nil
}

// HealthCheck verifies that the memory storage is operational.
func (m *MemoryStorage) HealthCheck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return errClosed
	}
	if !m.initialized {
		return errors.New("storage is not initialized")
	}
	return nil
}

// trackQueryTime tracks query performance metrics.
func (m *MemoryStorage) trackQueryTime(operation string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queryTimes[operation] = append(m.queryTimes[operation], duration)

	// Keep only the last 100 measurements to avoid memory growth
	if len(m.queryTimes[operation]) > 100 {
		m.queryTimes[operation] = m.queryTimes[operation][1:]
	}
}

var _ FullStorage = (*MemoryStorage)(nil)
