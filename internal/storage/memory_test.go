package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-forex-centuries/internal/models"
)

func TestMemoryStorage_BasicOperations(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	assert.Error(t, storage.HealthCheck(ctx), "not initialized yet")
	require.NoError(t, storage.Initialize(ctx))
	require.NoError(t, storage.HealthCheck(ctx))

	rows := createTestPanel()
	require.NoError(t, storage.StorePanel(ctx, "run-1", rows))
	rows[0].Entity = "Mutated"

	got, err := storage.QueryPanel(ctx, PanelQuery{Country: "Japan", From: 1902})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1902, got[0].Time.Year())
	assert.Equal(t, 1904, got[2].Time.Year())

	all, err := storage.QueryPanel(ctx, PanelQuery{Limit: 4})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Chile", all[0].Entity)

	require.NoError(t, storage.StorePanel(ctx, "run-2", createTestPanel()[:1]))
	stats, err := storage.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PanelRows)
	assert.Equal(t, 1900, stats.EarliestYear)
	assert.Equal(t, 1900, stats.LatestYear)
	assert.Equal(t, len(getAllMigrations()), stats.SchemaVersion)
}

func TestMemoryStorage_Runs(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, storage.Initialize(ctx))

	last, err := storage.LastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, storage.RecordRun(ctx, RunRecord{ID: "b", StartedAt: base.Add(time.Hour)}))
	require.NoError(t, storage.RecordRun(ctx, RunRecord{ID: "a", StartedAt: base}))

	tests := []struct {
		name string
		run  RunRecord
	}{
		{"empty id", RunRecord{}},
		{"duplicate id", RunRecord{ID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, storage.RecordRun(ctx, tt.run))
		})
	}

	last, err = storage.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", last.ID)
}

func TestMemoryStorage_VolatilityReplacedPerFrequency(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, storage.Initialize(ctx))

	rows := []models.VolatilityStats{{Entity: "EUR"}, {Entity: "JPY"}}
	require.NoError(t, storage.StoreVolatility(ctx, "r", models.FrequencyDaily, rows))
	require.NoError(t, storage.StoreVolatility(ctx, "r", models.FrequencyYearly, rows[:1]))
	require.NoError(t, storage.StoreVolatility(ctx, "r", models.FrequencyDaily, rows[:1]))

	stats, err := storage.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.VolatilityRows)
}

func TestMemoryStorage_Closed(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, storage.Initialize(ctx))
	require.NoError(t, storage.Close())

	assert.Error(t, storage.HealthCheck(ctx))
	assert.Error(t, storage.StorePanel(ctx, "r", nil))
	_, err := storage.QueryPanel(ctx, PanelQuery{})
	assert.Error(t, err)
	_, err = storage.GetStats(ctx)
	assert.Error(t, err)
}

func TestMemoryStorage_Migrate(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	assert.NoError(t, storage.Migrate(ctx, 2))
	assert.Error(t, storage.Migrate(ctx, 99))
	assert.Error(t, storage.Migrate(ctx, -1))
}

func TestPanelQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   PanelQuery
		wantErr bool
	}{
		{"open", PanelQuery{}, false},
		{"single year", PanelQuery{From: 1900, To: 1900}, false},
		{"inverted", PanelQuery{From: 1901, To: 1900}, true},
		{"negative limit", PanelQuery{Limit: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
