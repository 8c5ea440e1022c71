package assets

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
	"github.com/johnayoung/go-forex-centuries/internal/stats"
)

func newTestAnalyzer(window int) *Analyzer {
	cfg := config.DefaultConfig().Stats
	cfg.StockBondWindow = window
	lm := logger.NewWriterManager(config.LoggingConfig{Level: "error", Format: "json"}, io.Discard)
	return NewAnalyzer(cfg, 2, lm)
}

func TestAssetReturns(t *testing.T) {
	nan := math.NaN()
	var rows []models.AssetYear
	for i := 0; i < 15; i++ {
		bond := nan
		if i < 9 {
			bond = 0.04
		}
		rows = append(rows, models.AssetYear{
			Country:   "Alpha",
			Year:      1900 + i,
			EquityTR:  0.05 + 0.01*float64(i%3),
			HousingTR: nan,
			BondTR:    bond,
			BillRate:  0.03 + 0.001*float64(i),
			CPI:       100 + float64(i),
		})
	}
	for i := 0; i < 5; i++ {
		rows = append(rows, models.AssetYear{Country: "Beta", Year: 1900 + i, EquityTR: 0.1, HousingTR: nan, BondTR: nan, BillRate: nan, CPI: 100})
	}

	out, err := newTestAnalyzer(20).AssetReturns(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 2)

	bills, equity := out[0], out[1]
	assert.Equal(t, Bills, bills.Class)
	assert.Equal(t, Equity, equity.Class)

	assert.Equal(t, 14, bills.NYears)
	assert.Equal(t, 1901, bills.StartYear)
	assert.Equal(t, 1914, bills.EndYear)

	var nominal, realized []float64
	for i := 1; i < 15; i++ {
		n := 0.05 + 0.01*float64(i%3)
		nominal = append(nominal, n)
		realized = append(realized, n-((100+float64(i))/(99+float64(i))-1))
	}
	nm, rm := stats.ComputeMoments(nominal), stats.ComputeMoments(realized)

	assert.Equal(t, "Alpha", equity.Country)
	assert.Equal(t, 14, equity.NYears)
	assert.Equal(t, 1901, equity.StartYear)
	assert.InDelta(t, nm.Mean, equity.MeanNominalReturn, 1e-12)
	assert.InDelta(t, rm.Mean, equity.MeanRealReturn, 1e-12)
	assert.InDelta(t, nm.Volatility, equity.Volatility, 1e-12)
	assert.InDelta(t, rm.Mean/rm.Volatility, equity.SharpeRatio, 1e-9)
	assert.InDelta(t, 0.07, equity.MaxReturn, 1e-12)
	assert.InDelta(t, 0.05, equity.MinReturn, 1e-12)
}

func TestStockBondCorrelation(t *testing.T) {
	nan := math.NaN()
	var rows []models.AssetYear
	for i := 0; i < 8; i++ {
		rows = append(rows, models.AssetYear{Country: "Alpha", Year: 1900 + i, EquityTR: float64(i), BondTR: -2 * float64(i)})
	}
	rows = append(rows, models.AssetYear{Country: "Alpha", Year: 1950, EquityTR: nan, BondTR: 1})
	for i := 0; i < 4; i++ {
		rows = append(rows, models.AssetYear{Country: "Gamma", Year: 1900 + i, EquityTR: float64(i), BondTR: float64(i)})
	}
	for i := 0; i < 5; i++ {
		rows = append(rows, models.AssetYear{Country: "Delta", Year: 1900 + i, EquityTR: float64(i), BondTR: 0.02})
	}

	out, err := newTestAnalyzer(5).StockBondCorrelation(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 4)

	for i, p := range out {
		assert.Equal(t, "Alpha", p.Country)
		assert.Equal(t, 1904+i, p.Year)
		assert.InDelta(t, -1.0, p.Correlation, 1e-12)
	}
}

func TestStockBondCorrelationCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestAnalyzer(5).StockBondCorrelation(ctx, []models.AssetYear{{Country: "Alpha", Year: 1900}})
	assert.ErrorIs(t, err, context.Canceled)
}
