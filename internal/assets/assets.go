// Package assets computes long-run asset-class returns from the macro-history table.
package assets

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
	"github.com/johnayoung/go-forex-centuries/internal/stats"
)

// Class names an asset class
type Class string

const (
	Equity  Class = "equity"
	Housing Class = "housing"
	Bonds   Class = "bonds"
	Bills   Class = "bills"
)

// Classes lists the asset classes in reporting order
var Classes = []Class{Equity, Housing, Bonds, Bills}

// Value returns the nominal return of the class in row y
func (c Class) Value(y models.AssetYear) float64 {
	switch c {
	case Equity:
		return y.EquityTR
	case Housing:
		return y.HousingTR
	case Bonds:
		return y.BondTR
	case Bills:
		return y.BillRate
	}
	return math.NaN()
}

// ReturnStats summarizes the returns of one asset class in one country
type ReturnStats struct {
	Country           string
	Class             Class
	NYears            int
	StartYear         int
	EndYear           int
	MeanNominalReturn float64
	MeanRealReturn    float64
	Volatility        float64
	SharpeRatio       float64
	ExcessKurtosis    float64
	Skewness          float64
	MaxReturn         float64
	MinReturn         float64
}

// StockBondPoint is the trailing correlation of equity and bond returns ending at Year
type StockBondPoint struct {
	Year        int
	Country     string
	Correlation float64
}

// Analyzer computes the asset tables
type Analyzer struct {
	minYears int
	window   int
	workers  int
	logger   *logger.ComponentLogger
}

// NewAnalyzer creates an asset analyzer
func NewAnalyzer(cfg config.StatsConfig, workers int, loggerMgr *logger.LoggerManager) *Analyzer {
	if workers < 1 {
		workers = 1
	}
	return &Analyzer{
		minYears: cfg.AssetMinYears,
		window:   cfg.StockBondWindow,
		workers:  workers,
		logger:   loggerMgr.GetComponentLogger("assets"),
	}
}

func groupByCountry(rows []models.AssetYear) (map[string][]models.AssetYear, []string) {
	groups := make(map[string][]models.AssetYear)
	for _, r := range rows {
		groups[r.Country] = append(groups[r.Country], r)
	}
	countries := make([]string, 0, len(groups))
	for c, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].Year < g[j].Year })
		countries = append(countries, c)
	}
	sort.Strings(countries)
	return groups, countries
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// classReturns computes the stats of one class in one country, or nil when fewer
// than minYears usable years remain. Inflation is the CPI change between the
// consecutive years holding a return; bills lose their first year.
func (a *Analyzer) classReturns(country string, class Class, years []models.AssetYear) *ReturnStats {
	var present []models.AssetYear
	for _, y := range years {
		if !math.IsNaN(class.Value(y)) {
			present = append(present, y)
		}
	}
	if len(present) < a.minYears {
		return nil
	}

	var (
		nominal, realized []float64
		kept              []int
	)
	for i := range present {
		if class == Bills && i == 0 {
			continue
		}
		inflation := math.NaN()
		if i > 0 {
			inflation = present[i].CPI/present[i-1].CPI - 1
		}
		n := class.Value(present[i])
		r := n - inflation
		if !finite(n) || !finite(r) {
			continue
		}
		nominal = append(nominal, n)
		realized = append(realized, r)
		kept = append(kept, present[i].Year)
	}
	if len(realized) < a.minYears {
		return nil
	}

	nm := stats.ComputeMoments(nominal)
	rm := stats.ComputeMoments(realized)
	sharpe := 0.0
	if rm.Volatility > 0 {
		sharpe = rm.Mean / rm.Volatility
	}
	return &ReturnStats{
		Country:           country,
		Class:             class,
		NYears:            len(realized),
		StartYear:         kept[0],
		EndYear:           kept[len(kept)-1],
		MeanNominalReturn: nm.Mean,
		MeanRealReturn:    rm.Mean,
		Volatility:        nm.Volatility,
		SharpeRatio:       sharpe,
		ExcessKurtosis:    nm.ExcessKurtosis,
		Skewness:          nm.Skewness,
		MaxReturn:         nm.Max,
		MinReturn:         nm.Min,
	}
}

// AssetReturns computes nominal and real return statistics per country and asset
// class. Rows are sorted by asset class, then country.
func (a *Analyzer) AssetReturns(ctx context.Context, rows []models.AssetYear) ([]ReturnStats, error) {
	groups, countries := groupByCountry(rows)
	parts := make([][]ReturnStats, len(countries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, country := range countries {
		i, country := i, country
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, class := range Classes {
				if s := a.classReturns(country, class, groups[country]); s != nil {
					parts[i] = append(parts[i], *s)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ReturnStats
	for _, p := range parts {
		out = append(out, p...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Country < out[j].Country
	})
	a.logger.Info("asset returns computed", "rows", len(out), "countries", len(countries))
	return out, nil
}

// StockBondCorrelation computes the trailing Pearson correlation of equity and
// bond total returns over the configured window of joint years. Countries with
// fewer joint years than the window are skipped and undefined windows dropped.
// Rows are sorted by year, then country.
func (a *Analyzer) StockBondCorrelation(ctx context.Context, rows []models.AssetYear) ([]StockBondPoint, error) {
	groups, countries := groupByCountry(rows)
	var out []StockBondPoint
	negative := 0

	for _, country := range countries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var (
			years     []int
			eq, bonds []float64
		)
		for _, y := range groups[country] {
			if math.IsNaN(y.EquityTR) || math.IsNaN(y.BondTR) {
				continue
			}
			years = append(years, y.Year)
			eq = append(eq, y.EquityTR)
			bonds = append(bonds, y.BondTR)
		}
		if len(years) < a.window {
			continue
		}
		for end := a.window; end <= len(years); end++ {
			corr := stats.Pearson(eq[end-a.window:end], bonds[end-a.window:end])
			if !finite(corr) {
				continue
			}
			if corr < 0 {
				negative++
			}
			out = append(out, StockBondPoint{Year: years[end-1], Country: country, Correlation: corr})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Country < out[j].Country
	})
	a.logger.Info("stock-bond correlation computed", "rows", len(out), "negative", negative)
	return out, nil
}
