package stats

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
)

func newTestEngine() *Engine {
	lm := logger.NewWriterManager(config.LoggingConfig{Level: "error", Format: "json"}, io.Discard)
	return NewEngine(config.DefaultConfig().Stats, 4, lm)
}

func dayN(n int) time.Time {
	return time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func dailySeries(entity string, values []float64) models.NormalizedSeries {
	s := models.NormalizedSeries{Source: models.SourceFRED, Entity: entity, Frequency: models.FrequencyDaily}
	for i, v := range values {
		s.Points = append(s.Points, models.Observation{Time: dayN(i), Value: v})
	}
	return s
}

func TestLogReturnIdentity(t *testing.T) {
	s := dailySeries("JPY", []float64{100, 110, 99})
	rs := LogReturns(s, 4)
	require.Len(t, rs, 2)

	assert.InDelta(t, math.Log(110.0/100.0), rs[0].LogReturn, 1e-15)
	assert.InDelta(t, math.Log(99.0/110.0), rs[1].LogReturn, 1e-15)
	assert.InDelta(t, math.Log(99.0/100.0), rs[0].LogReturn+rs[1].LogReturn, 1e-12)
	assert.True(t, rs[0].Time.Equal(dayN(1)))
}

func TestLogReturnsFlagGaps(t *testing.T) {
	tests := []struct {
		name    string
		series  models.NormalizedSeries
		maxStep int
		gaps    []bool
	}{
		{
			name: "daily weekend plus holiday",
			series: models.NormalizedSeries{Entity: "JPY", Frequency: models.FrequencyDaily, Points: []models.Observation{
				{Time: dayN(0), Value: 1}, {Time: dayN(4), Value: 1}, {Time: dayN(9), Value: 1},
			}},
			maxStep: 4,
			gaps:    []bool{false, true},
		},
		{
			name: "yearly missing year",
			series: models.NormalizedSeries{Entity: "Japan", Frequency: models.FrequencyYearly, Points: []models.Observation{
				{Time: models.YearTime(1900), Value: 1}, {Time: models.YearTime(1901), Value: 2}, {Time: models.YearTime(1903), Value: 3},
			}},
			maxStep: 1,
			gaps:    []bool{false, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := LogReturns(tt.series, tt.maxStep)
			require.Len(t, rs, len(tt.gaps))
			for i, g := range tt.gaps {
				assert.Equal(t, g, rs[i].SpansGap)
			}
		})
	}
}

func TestComputeMomentsKurtosis(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		kurtosis float64
		skew     float64
	}{
		{"two point symmetric", []float64{-1, -1, 1, 1}, -2, 0},
		{"spread symmetric", []float64{-2, 0, 0, 2}, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ComputeMoments(tt.values)
			assert.InDelta(t, tt.kurtosis, m.ExcessKurtosis, 1e-12)
			assert.InDelta(t, tt.skew, m.Skewness, 1e-12)
			assert.InDelta(t, 0, m.Mean, 1e-15)
		})
	}
}

func TestComputeMomentsSampleStd(t *testing.T) {
	m := ComputeMoments([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 8, m.N)
	assert.InDelta(t, 5, m.Mean, 1e-12)
	assert.InDelta(t, 2, m.PopulationStd, 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7.0), m.Volatility, 1e-12)
	assert.Equal(t, 2.0, m.Min)
	assert.Equal(t, 9.0, m.Max)

	constant := ComputeMoments([]float64{3, 3, 3})
	assert.True(t, math.IsNaN(constant.ExcessKurtosis))
	assert.Equal(t, 0.0, constant.Volatility)

	empty := ComputeMoments(nil)
	assert.True(t, math.IsNaN(empty.Mean))
}

func TestTailRatioUndefinedBelowOneExpectedEvent(t *testing.T) {
	sample := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Sin(float64(i))
		}
		return out
	}

	_, expected, ratio := TailEvents(sample(369), 3)
	assert.Less(t, expected, 1.0)
	assert.True(t, math.IsNaN(ratio))

	_, expected, ratio = TailEvents(sample(371), 3)
	assert.GreaterOrEqual(t, expected, 1.0)
	assert.False(t, math.IsNaN(ratio))

	assert.InDelta(t, 0.0013498980316301, NormalSF(3), 1e-12)
}

func TestRollingStdWarmUp(t *testing.T) {
	values := make([]float64, 300)
	for i := range values {
		values[i] = math.Cos(float64(i) / 3)
	}
	out := RollingStd(values, 252)

	defined := 0
	for i, v := range out {
		if i < 251 {
			assert.True(t, math.IsNaN(v), "position %d", i)
		}
		if !math.IsNaN(v) {
			defined++
		}
	}
	assert.Equal(t, 49, defined)
	assert.InDelta(t, ComputeMoments(values[48:300]).Volatility, out[299], 1e-12)
}

func TestRollingVolatilityRestartsAfterGap(t *testing.T) {
	e := newTestEngine()
	e.config.RollingWindow = 3

	var rs []models.ReturnRecord
	for i := 0; i < 6; i++ {
		rs = append(rs, models.ReturnRecord{Entity: "JPY", Time: dayN(i), LogReturn: float64(i % 3), SpansGap: i == 3})
	}

	points, err := e.RollingVolatility(context.Background(), rs)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Time.Equal(dayN(2)))
	assert.InDelta(t, 1*math.Sqrt(252), points[0].Volatility, 1e-12)
}

func TestCorrelationMatrixSymmetry(t *testing.T) {
	e := newTestEngine()
	var rs []models.ReturnRecord
	for i := 0; i < 50; i++ {
		x := math.Sin(float64(i))
		rs = append(rs,
			models.ReturnRecord{Entity: "A", Time: models.YearTime(1900 + i), LogReturn: x},
			models.ReturnRecord{Entity: "B", Time: models.YearTime(1900 + i), LogReturn: 2*x + 0.1*math.Cos(float64(i))},
			models.ReturnRecord{Entity: "C", Time: models.YearTime(1900 + i), LogReturn: -x},
		)
	}
	for i := 0; i < 10; i++ {
		rs = append(rs, models.ReturnRecord{Entity: "D", Time: models.YearTime(1900 + i), LogReturn: float64(i)})
	}

	m, warnings := e.CorrelationMatrix(context.Background(), rs, models.FrequencyYearly, 30)
	require.Equal(t, []string{"A", "B", "C", "D"}, m.Entities)

	for i := range m.Entities {
		assert.Equal(t, 1.0, m.Values[i][i])
		for j := range m.Entities {
			if math.IsNaN(m.Values[i][j]) {
				assert.True(t, math.IsNaN(m.Values[j][i]))
				continue
			}
			assert.Equal(t, m.Values[i][j], m.Values[j][i])
		}
	}

	ac, _ := m.Get("A", "C")
	assert.InDelta(t, -1, ac, 1e-12)
	ab, _ := m.Get("A", "B")
	assert.Greater(t, ab, 0.9)
	ad, _ := m.Get("A", "D")
	assert.True(t, math.IsNaN(ad))
	assert.Equal(t, 10, m.Overlap[0][3])

	require.Len(t, warnings, 3)
	for _, w := range warnings {
		assert.Equal(t, apperrors.ErrorTypeInsufficientOverlap, apperrors.GetErrorType(w))
	}
}

func TestVolatilityTable(t *testing.T) {
	e := newTestEngine()
	var rs []models.ReturnRecord
	for i := 0; i < 400; i++ {
		rs = append(rs, models.ReturnRecord{Entity: "CHF", Time: dayN(i), LogReturn: 0.01 * math.Sin(float64(i))})
		heavy := 0.001 * math.Sin(float64(i))
		if i%97 == 0 {
			heavy = 0.05
		}
		rs = append(rs, models.ReturnRecord{Entity: "ARS", Time: dayN(i), LogReturn: heavy})
	}
	rs = append(rs, models.ReturnRecord{Entity: "CHF", Time: dayN(500), LogReturn: 9, SpansGap: true})
	rs = append(rs, models.ReturnRecord{Entity: "XAU", Time: dayN(1), LogReturn: 0.1})

	rows, warnings := e.VolatilityTable(context.Background(), rs, models.FrequencyDaily)
	require.Len(t, rows, 2)
	require.Len(t, warnings, 1)

	assert.Equal(t, "ARS", rows[0].Entity)
	assert.Greater(t, rows[0].ExcessKurtosis, rows[1].ExcessKurtosis)
	assert.Greater(t, rows[0].TailEvents, 0)

	chf := rows[1]
	assert.Equal(t, 400, chf.N)
	assert.Less(t, chf.Max, 1.0)
	assert.InDelta(t, chf.Volatility*math.Sqrt(252), chf.AnnualizedVolatility, 1e-12)
	assert.True(t, chf.TailRatioDefined())

	yearly, _ := e.VolatilityTable(context.Background(), []models.ReturnRecord{
		{Entity: "Japan", Time: models.YearTime(1901), LogReturn: 0.1},
		{Entity: "Japan", Time: models.YearTime(1902), LogReturn: 0.2},
		{Entity: "Japan", Time: models.YearTime(1903), LogReturn: 0.4},
	}, models.FrequencyYearly)
	require.Len(t, yearly, 1)
	assert.Equal(t, yearly[0].Volatility, yearly[0].AnnualizedVolatility)
	assert.False(t, yearly[0].TailRatioDefined())
}

func TestSortByKurtosisTiesAndNaN(t *testing.T) {
	rows := []models.VolatilityStats{
		{Entity: "B", Moments: models.Moments{ExcessKurtosis: 1}},
		{Entity: "C", Moments: models.Moments{ExcessKurtosis: math.NaN()}},
		{Entity: "A", Moments: models.Moments{ExcessKurtosis: 1}},
		{Entity: "D", Moments: models.Moments{ExcessKurtosis: 5}},
	}
	SortByKurtosis(rows)
	got := []string{rows[0].Entity, rows[1].Entity, rows[2].Entity, rows[3].Entity}
	assert.Equal(t, []string{"D", "A", "B", "C"}, got)
}

func TestMomentumAndReversals(t *testing.T) {
	e := newTestEngine()
	values := make([]float64, 260)
	for i := range values {
		values[i] = 100 * math.Exp(0.001*float64(i))
	}
	short := dailySeries("EUR", values[:100])
	long := dailySeries("JPY", values)

	signals, reversals, err := e.Momentum(context.Background(), []models.NormalizedSeries{long, short})
	require.NoError(t, err)

	counts := make(map[string]int)
	for _, s := range signals {
		assert.Equal(t, "JPY", s.Entity)
		counts[s.Label]++
		assert.InDelta(t, 0.001*float64(s.Lookback), s.Momentum, 1e-9)
	}
	assert.Equal(t, map[string]int{"3m": 260 - 63, "6m": 260 - 126, "12m": 260 - 252}, counts)

	require.Len(t, reversals, 8)
	assert.InDelta(t, 0.001*(252-21), reversals[0].Reversal, 1e-9)
	assert.True(t, reversals[0].Time.Equal(dayN(252)))
}

func TestSigmaEvents(t *testing.T) {
	e := newTestEngine()
	var rs []models.ReturnRecord
	for i := 0; i < 1000; i++ {
		v := 0.001 * math.Sin(float64(i))
		if i%100 == 0 {
			v = 0.02
		}
		rs = append(rs, models.ReturnRecord{Entity: "ARS", Time: dayN(i), LogReturn: v})
		rs = append(rs, models.ReturnRecord{Entity: "PEG", Time: dayN(i), LogReturn: 0})
	}

	events, err := e.SigmaEvents(context.Background(), rs)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, ev := range events {
		assert.Equal(t, "ARS", ev.Entity)
		assert.Equal(t, float64(i+2), ev.Level)
		assert.InDelta(t, 1000*2*NormalSF(ev.Level), ev.Expected, 1e-9)
	}
	assert.Equal(t, 10, events[1].Observed)
}
