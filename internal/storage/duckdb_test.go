package storage

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// createTestDuckDBStorage creates an initialized in-memory DuckDB mirror
func createTestDuckDBStorage(t *testing.T) *DuckDBStorage {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	storage, err := NewDuckDBStorage(":memory:", logger)
	require.NoError(t, err, "failed to create test DuckDB storage")
	require.NoError(t, storage.Initialize(context.Background()))
	t.Cleanup(func() { storage.Close() })

	return storage
}

// createTestPanel builds a small panel for two countries
func createTestPanel() []models.UnifiedPanelRow {
	var rows []models.UnifiedPanelRow
	for i := 0; i < 5; i++ {
		rows = append(rows,
			models.UnifiedPanelRow{Entity: "Japan", Time: models.YearTime(1900 + i), RatePerUSD: 2 + float64(i), Source: models.SourceMW},
			models.UnifiedPanelRow{Entity: "Chile", Time: models.YearTime(1900 + i), RatePerUSD: 5 + float64(i), Source: models.SourceCI},
		)
	}
	return rows
}

func TestDuckDBStorage_PanelRoundTrip(t *testing.T) {
	storage := createTestDuckDBStorage(t)
	ctx := context.Background()

	rows := createTestPanel()
	rows[0].RatePerUSD = math.NaN()
	require.NoError(t, storage.StorePanel(ctx, "run-1", rows))

	got, err := storage.QueryPanel(ctx, PanelQuery{Country: "Japan"})
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, 1900, got[0].Time.Year())
	assert.True(t, math.IsNaN(got[0].RatePerUSD), "NULL rate reads back as NaN")
	assert.Equal(t, 3.0, got[1].RatePerUSD)
	assert.Equal(t, models.SourceMW, got[1].Source)
	assert.True(t, got[1].Time.Equal(models.YearTime(1901)))
}

func TestDuckDBStorage_StorePanelReplaces(t *testing.T) {
	storage := createTestDuckDBStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.StorePanel(ctx, "run-1", createTestPanel()))
	require.NoError(t, storage.StorePanel(ctx, "run-2", createTestPanel()[:2]))

	got, err := storage.QueryPanel(ctx, PanelQuery{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDuckDBStorage_QueryFilters(t *testing.T) {
	storage := createTestDuckDBStorage(t)
	ctx := context.Background()
	require.NoError(t, storage.StorePanel(ctx, "run-1", createTestPanel()))

	tests := []struct {
		name      string
		query     PanelQuery
		wantCount int
		wantFirst string
	}{
		{"all", PanelQuery{}, 10, "Chile"},
		{"country", PanelQuery{Country: "Chile"}, 5, "Chile"},
		{"year range", PanelQuery{Country: "Japan", From: 1901, To: 1903}, 3, "Japan"},
		{"open ended", PanelQuery{From: 1904}, 2, "Chile"},
		{"source", PanelQuery{Source: models.SourceMW}, 5, "Japan"},
		{"limit", PanelQuery{Limit: 3}, 3, "Chile"},
		{"no match", PanelQuery{Country: "Peru"}, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.QueryPanel(ctx, tt.query)
			require.NoError(t, err)
			require.Len(t, got, tt.wantCount)
			if tt.wantCount > 0 {
				assert.Equal(t, tt.wantFirst, got[0].Entity)
			}
		})
	}
}

func TestDuckDBStorage_QueryRejectsInvertedRange(t *testing.T) {
	storage := createTestDuckDBStorage(t)

	_, err := storage.QueryPanel(context.Background(), PanelQuery{From: 1950, To: 1900})
	require.Error(t, err)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "query", se.Operation)
}

func TestDuckDBStorage_VolatilityAndStats(t *testing.T) {
	storage := createTestDuckDBStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.StorePanel(ctx, "run-1", createTestPanel()))
	vol := []models.VolatilityStats{{
		Entity:               "Japan",
		Frequency:            models.FrequencyYearly,
		Start:                models.YearTime(1901),
		End:                  models.YearTime(1904),
		AnnualizedVolatility: 0.1,
		TailRatio:            math.NaN(),
		Moments:              models.Moments{N: 4, Mean: 0.01, Volatility: 0.1},
	}}
	require.NoError(t, storage.StoreVolatility(ctx, "run-1", models.FrequencyYearly, vol))
	require.NoError(t, storage.StoreVolatility(ctx, "run-1", models.FrequencyDaily, vol))
	require.NoError(t, storage.StoreVolatility(ctx, "run-2", models.FrequencyYearly, vol))

	started := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, storage.RecordRun(ctx, RunRecord{ID: "run-1", StartedAt: started, FinishedAt: started.Add(time.Minute), Success: true, Tables: 21}))
	require.NoError(t, storage.RecordRun(ctx, RunRecord{ID: "run-2", StartedAt: started.Add(time.Hour), FinishedAt: started.Add(2 * time.Hour), Warnings: 3}))

	stats, err := storage.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.PanelRows)
	assert.Equal(t, int64(2), stats.Countries)
	assert.Equal(t, 1900, stats.EarliestYear)
	assert.Equal(t, 1904, stats.LatestYear)
	assert.Equal(t, int64(2), stats.VolatilityRows, "one row per frequency after replace")
	assert.Equal(t, len(getAllMigrations()), stats.SchemaVersion)
	assert.Equal(t, int64(2), stats.Runs)
	assert.Equal(t, "run-2", stats.LastRunID)
	assert.Contains(t, stats.QueryPerformance, "store_panel")

	last, err := storage.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 3, last.Warnings)
	assert.False(t, last.Success)
}

func TestDuckDBStorage_LastRunEmpty(t *testing.T) {
	storage := createTestDuckDBStorage(t)

	last, err := storage.LastRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestDuckDBStorage_Migrate(t *testing.T) {
	storage := createTestDuckDBStorage(t)
	ctx := context.Background()
	mm := NewMigrationManager(storage.db, storage.logger)

	status, err := mm.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.CurrentVersion)
	assert.Equal(t, 0, status.PendingMigrations)
	assert.Len(t, status.AppliedMigrations, 3)

	require.NoError(t, storage.Migrate(ctx, 1))
	status, err = mm.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentVersion)
	assert.Equal(t, 2, status.PendingMigrations)

	_, err = storage.LastRun(ctx)
	assert.Error(t, err, "runs table dropped by rollback")

	require.NoError(t, storage.Migrate(ctx, 3))
	_, err = storage.LastRun(ctx)
	assert.NoError(t, err)
}

func TestDuckDBStorage_HealthCheckAndClose(t *testing.T) {
	storage := createTestDuckDBStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.HealthCheck(ctx))
	require.NoError(t, storage.Close())
	require.NoError(t, storage.Close(), "close is idempotent")

	err := storage.HealthCheck(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	err = storage.StorePanel(ctx, "run-1", createTestPanel())
	assert.Error(t, err)
}

func TestBuildPanelQuery(t *testing.T) {
	query, args := buildPanelQuery(PanelQuery{Country: "Japan", To: 1950, Source: models.SourceMW, Limit: 10})
	assert.Equal(t,
		"SELECT country, year, rate_per_usd, source FROM yearly_panel WHERE country = $1 AND year <= $2 AND source = $3 ORDER BY country, year LIMIT 10",
		query)
	assert.Equal(t, []any{"Japan", 1950, "MW"}, args)
}
