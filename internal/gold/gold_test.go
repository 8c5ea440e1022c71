package gold

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
)

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	cfg := config.DefaultConfig()
	lm := logger.NewWriterManager(config.LoggingConfig{Level: "error", Format: "json"}, io.Discard)
	c, err := NewCalculator(cfg.Gold, cfg.Merge.GoldPriority, cfg.Merge.MonthlyPriority, lm)
	require.NoError(t, err)
	return c
}

func monthN(n int) time.Time {
	return models.MonthFromIndex(models.MonthIndex(time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)) + n)
}

func TestSafeChangesGuardNonPositive(t *testing.T) {
	tests := []struct {
		name      string
		cur, prev float64
		pct       float64
	}{
		{"normal", 110, 100, 10},
		{"zero current", 0, 5, math.NaN()},
		{"zero previous", 5, 0, math.NaN()},
		{"negative", -1, 2, math.NaN()},
		{"missing previous", 1, math.NaN(), math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct := SafePctChange(tt.cur, tt.prev)
			lr := SafeLogReturn(tt.cur, tt.prev)
			if math.IsNaN(tt.pct) {
				assert.True(t, math.IsNaN(pct))
				assert.True(t, math.IsNaN(lr))
				return
			}
			assert.InDelta(t, tt.pct, pct, 1e-9)
			assert.InDelta(t, math.Log(tt.cur/tt.prev), lr, 1e-12)
		})
	}
}

func TestYearlyPriorityAndColumns(t *testing.T) {
	c := newTestCalculator(t)
	nan := math.NaN()

	rows, err := c.Yearly(YearlyInputs{
		Prices: []models.GoldYear{
			{Year: 1700, NewYorkUSD: nan, OfficialUSD: nan, BritishGBP: 4.0},
			{Year: 1800, NewYorkUSD: 19.39, OfficialUSD: nan, BritishGBP: 4.25},
			{Year: 1801, NewYorkUSD: nan, OfficialUSD: 20.0, BritishGBP: 4.25},
		},
		GBPRates: []models.RawSeries{{
			Source: models.SourceCI, Entity: "France", Frequency: models.FrequencyYearly,
			Points: []models.RawObservation{
				{Time: models.YearTime(1700), Value: 20, Observed: true},
				{Time: models.YearTime(1800), Value: 24, Observed: true},
			},
		}},
		Panel: []models.UnifiedPanelRow{
			{Entity: "France", Time: models.YearTime(1800), RatePerUSD: 5.0, Source: models.SourceMW},
			{Entity: "France", Time: models.YearTime(1801), RatePerUSD: 5.5, Source: models.SourceMW},
			{Entity: UnitedKingdom, Time: models.YearTime(1800), RatePerUSD: 0.2, Source: models.SourceMW},
		},
		CPI: []models.RawSeries{{
			Source: models.SourceCI, Entity: "France", Frequency: models.FrequencyYearly,
			Points: []models.RawObservation{{Time: models.YearTime(1801), Value: 2.0, Observed: true}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 6)

	order := make([]string, len(rows))
	for i, r := range rows {
		order[i] = r.Country
	}
	assert.Equal(t, []string{"France", UnitedKingdom, "France", UnitedKingdom, "France", UnitedKingdom}, order)

	france1700 := rows[0]
	assert.Equal(t, models.SourceGBPCross, france1700.Source)
	assert.InDelta(t, 80.0, france1700.GoldLocal, 1e-9)
	assert.True(t, math.IsNaN(france1700.InflationPct))
	assert.Equal(t, 1700, france1700.BaseYear)
	assert.InDelta(t, 100.0, france1700.CumulativeRetainedPct, 1e-9)

	france1800 := rows[2]
	assert.Equal(t, models.SourceUSDPanel, france1800.Source)
	assert.InDelta(t, 96.95, france1800.GoldLocal, 1e-9)
	assert.InDelta(t, (96.95/80-1)*100, france1800.InflationPct, 1e-9)
	assert.True(t, math.IsNaN(france1800.GapPct))

	uk1800 := rows[3]
	assert.Equal(t, models.SourceGBPDirect, uk1800.Source)
	assert.InDelta(t, 4.25, uk1800.GoldLocal, 1e-12)

	france1801 := rows[4]
	assert.Equal(t, 1800, france1801.Decade)
	assert.InDelta(t, 110.0, france1801.GoldLocal, 1e-9)
	assert.InDelta(t, 100/110.0*31.1035, france1801.GramsPer100, 1e-9)
	assert.InDelta(t, 2.0, france1801.CPIInflationPct, 1e-12)
	assert.InDelta(t, france1801.InflationPct-2.0, france1801.GapPct, 1e-12)
	assert.InDelta(t, 80/110.0*100, france1801.CumulativeRetainedPct, 1e-9)
	assert.InDelta(t, 100*math.Exp(-(france1800.LogReturn+france1801.LogReturn)), france1801.CumulativeRetainedPct, 1e-9)

	uk1801 := rows[5]
	assert.InDelta(t, 0.0, uk1801.InflationPct, 1e-12)
	assert.InDelta(t, 0.0, uk1801.LogReturn, 1e-12)
}

func TestMonthlyYoYJoinsOnCalendarMonth(t *testing.T) {
	c := newTestCalculator(t)

	goldUSD := models.RawSeries{Source: models.SourceGold, Entity: "gold_usd", Frequency: models.FrequencyMonthly}
	for i := 0; i < 14; i++ {
		if i == 1 {
			continue
		}
		goldUSD.Points = append(goldUSD.Points, models.RawObservation{Time: monthN(i), Value: 100 + float64(i), Observed: true})
	}

	imfEUR := models.NormalizedSeries{Source: models.SourceIMF, Entity: "EUR", Frequency: models.FrequencyMonthly}
	for i := 0; i < 14; i++ {
		imfEUR.Points = append(imfEUR.Points, models.Observation{Time: monthN(i), Value: 0.8})
	}
	imfJPY := models.NormalizedSeries{Source: models.SourceIMF, Entity: "JPY", Frequency: models.FrequencyMonthly,
		Points: []models.Observation{{Time: monthN(0), Value: 100}}}

	fredEUR := models.NormalizedSeries{Source: models.SourceFRED, Entity: "EUR", Frequency: models.FrequencyDaily,
		Points: []models.Observation{
			{Time: time.Date(2020, time.January, 2, 0, 0, 0, 0, time.UTC), Value: 0.9},
			{Time: time.Date(2020, time.January, 3, 0, 0, 0, 0, time.UTC), Value: 0.92},
			{Time: time.Date(2021, time.January, 4, 0, 0, 0, 0, time.UTC), Value: 1.0},
		}}

	rows, err := c.Monthly(MonthlyInputs{
		GoldUSD: goldUSD,
		Daily:   []models.NormalizedSeries{fredEUR},
		IMF:     []models.NormalizedSeries{imfEUR, imfJPY},
	})
	require.NoError(t, err)
	require.Len(t, rows, 14)

	assert.Equal(t, "EUR", rows[0].Currency)
	assert.Equal(t, "JPY", rows[1].Currency)

	find := func(currency string, month int) MonthlyRow {
		for _, r := range rows {
			if r.Currency == currency && r.Time.Equal(monthN(month)) {
				return r
			}
		}
		t.Fatalf("no row for %s month %d", currency, month)
		return MonthlyRow{}
	}

	jan20 := find("EUR", 0)
	assert.Equal(t, models.SourceFRED, jan20.Source)
	assert.InDelta(t, 0.91, jan20.RatePerUSD, 1e-12)
	assert.InDelta(t, 91.0, jan20.GoldLocal, 1e-9)
	assert.True(t, math.IsNaN(jan20.MoMPct))
	assert.InDelta(t, 100.0, jan20.CumulativeRetainedPct, 1e-9)

	mar20 := find("EUR", 2)
	assert.Equal(t, models.SourceIMF, mar20.Source)
	assert.InDelta(t, (102*0.8/91-1)*100, mar20.MoMPct, 1e-9)

	jan21 := find("EUR", 12)
	assert.Equal(t, models.SourceFRED, jan21.Source)
	assert.InDelta(t, (112.0/91-1)*100, jan21.YoYPct, 1e-9)

	feb21 := find("EUR", 13)
	assert.True(t, math.IsNaN(feb21.YoYPct), "February 2020 has no gold price")
	assert.InDelta(t, (113*0.8/112-1)*100, feb21.MoMPct, 1e-9)
	assert.InDelta(t, 91/(113*0.8)*100, feb21.CumulativeRetainedPct, 1e-9)
}
