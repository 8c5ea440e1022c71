// Package gold measures currency debasement against gold in local currency.
//
// Yearly local gold prices come from three derivations merged by source
// priority: the British official GBP price for the United Kingdom, the GBP price
// crossed with Clio Infra per-GBP rates before the cross cutoff year, and the USD
// price multiplied by the unified panel rate. Monthly prices multiply the USD
// monthly gold price by the FRED monthly mean rate, falling back to IMF.
package gold

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/merge"
	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// UnitedKingdom is the panel entity priced directly in GBP
const UnitedKingdom = "United Kingdom"

// YearlyRow is one country-year of the yearly gold inflation table
type YearlyRow struct {
	Year                  int
	Decade                int
	Country               string
	Source                models.SourceTag
	GoldLocal             float64
	GramsPer100           float64
	InflationPct          float64
	LogReturn             float64
	CPIInflationPct       float64
	GapPct                float64
	CumulativeRetainedPct float64
	BaseYear              int
}

// MonthlyRow is one currency-month of the monthly gold inflation table
type MonthlyRow struct {
	Time                  time.Time
	Currency              string
	Source                models.SourceTag
	RatePerUSD            float64
	GoldUSD               float64
	GoldLocal             float64
	GramsPer100           float64
	MoMPct                float64
	LogReturn             float64
	YoYPct                float64
	CumulativeRetainedPct float64
}

// YearlyInputs are the sources of the yearly table
type YearlyInputs struct {
	Prices   []models.GoldYear
	GBPRates []models.RawSeries // local units per GBP
	Panel    []models.UnifiedPanelRow
	CPI      []models.RawSeries // annual CPI inflation in percent
}

// MonthlyInputs are the sources of the monthly table
type MonthlyInputs struct {
	GoldUSD models.RawSeries
	Daily   []models.NormalizedSeries
	IMF     []models.NormalizedSeries
}

// SafePctChange returns (cur/prev - 1) * 100, NaN unless both sides are positive
func SafePctChange(cur, prev float64) float64 {
	if !(cur > 0) || !(prev > 0) {
		return math.NaN()
	}
	return (cur/prev - 1) * 100
}

// SafeLogReturn returns ln(cur/prev), NaN unless both sides are positive
func SafeLogReturn(cur, prev float64) float64 {
	if !(cur > 0) || !(prev > 0) {
		return math.NaN()
	}
	return math.Log(cur / prev)
}

// Calculator builds the gold tables
type Calculator struct {
	config  config.GoldConfig
	yearly  *merge.Merger
	monthly *merge.Merger
	logger  *logger.ComponentLogger
}

// NewCalculator creates a calculator merging yearly derivations by goldPriority
// and monthly rates by monthlyPriority
func NewCalculator(cfg config.GoldConfig, goldPriority, monthlyPriority []string, loggerMgr *logger.LoggerManager) (*Calculator, error) {
	yearly, err := merge.NewMerger(goldPriority, loggerMgr)
	if err != nil {
		return nil, fmt.Errorf("gold priority: %w", err)
	}
	monthly, err := merge.NewMerger(monthlyPriority, loggerMgr)
	if err != nil {
		return nil, fmt.Errorf("monthly priority: %w", err)
	}
	return &Calculator{
		config:  cfg,
		yearly:  yearly,
		monthly: monthly,
		logger:  loggerMgr.GetComponentLogger("gold"),
	}, nil
}

func (c *Calculator) gramsPer100(local float64) float64 {
	if !(local > 0) {
		return math.NaN()
	}
	return 100 / local * c.config.GramsPerOunce
}

func retained(base, local float64) float64 {
	if !(local > 0) {
		return math.NaN()
	}
	return base / local * 100
}

type seriesKey struct {
	source models.SourceTag
	entity string
}

// candidates collects derived local prices as series keyed by derivation and country
type candidates map[seriesKey]*models.NormalizedSeries

func (c candidates) add(src models.SourceTag, entity string, t time.Time, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	k := seriesKey{src, entity}
	s, ok := c[k]
	if !ok {
		s = &models.NormalizedSeries{Source: src, Entity: entity, Frequency: models.FrequencyYearly}
		c[k] = s
	}
	s.Points = append(s.Points, models.Observation{Time: t, Value: v})
}

func (c candidates) list() []models.NormalizedSeries {
	out := make([]models.NormalizedSeries, 0, len(c))
	for _, s := range c {
		out = append(out, *s)
	}
	return out
}

// Yearly builds the yearly gold inflation table sorted by year, then country
func (c *Calculator) Yearly(in YearlyInputs) ([]YearlyRow, error) {
	usd := make(map[int]float64)
	gbp := make(map[int]float64)
	for _, p := range in.Prices {
		if v := p.USD(); !math.IsNaN(v) {
			usd[p.Year] = v
		}
		if !math.IsNaN(p.BritishGBP) {
			gbp[p.Year] = p.BritishGBP
		}
	}

	cand := make(candidates)
	for y, price := range gbp {
		cand.add(models.SourceGBPDirect, UnitedKingdom, models.YearTime(y), price)
	}
	for _, s := range in.GBPRates {
		for _, p := range s.Points {
			y := p.Time.Year()
			price, ok := gbp[y]
			if !p.Observed || y >= c.config.CrossBeforeYear || !ok {
				continue
			}
			cand.add(models.SourceGBPCross, s.Entity, models.YearTime(y), price*p.Value)
		}
	}
	for _, r := range in.Panel {
		price, ok := usd[r.Time.Year()]
		if !ok {
			continue
		}
		cand.add(models.SourceUSDPanel, r.Entity, models.YearTime(r.Time.Year()), price*r.RatePerUSD)
	}

	rows, err := c.yearly.Merge(cand.list())
	if err != nil {
		return nil, fmt.Errorf("merge gold derivations: %w", err)
	}

	cpi := make(map[yearKey]float64)
	for _, s := range in.CPI {
		for _, p := range s.Points {
			if p.Observed {
				cpi[yearKey{s.Entity, p.Time.Year()}] = p.Value
			}
		}
	}
	cpiAt := func(country string, year int) float64 {
		if v, ok := cpi[yearKey{country, year}]; ok {
			return v
		}
		return math.NaN()
	}

	byCountry := make(map[string][]models.UnifiedPanelRow)
	for _, r := range rows {
		byCountry[r.Entity] = append(byCountry[r.Entity], r)
	}

	var out []YearlyRow
	for country, rs := range byCountry {
		sort.Slice(rs, func(i, j int) bool { return rs[i].Time.Before(rs[j].Time) })
		base, baseYear := rs[0].RatePerUSD, rs[0].Time.Year()
		for i, r := range rs {
			year := r.Time.Year()
			prev := math.NaN()
			if i > 0 {
				prev = rs[i-1].RatePerUSD
			}
			row := YearlyRow{
				Year:                  year,
				Decade:                year / 10 * 10,
				Country:               country,
				Source:                r.Source,
				GoldLocal:             r.RatePerUSD,
				GramsPer100:           c.gramsPer100(r.RatePerUSD),
				InflationPct:          SafePctChange(r.RatePerUSD, prev),
				LogReturn:             SafeLogReturn(r.RatePerUSD, prev),
				CPIInflationPct:       cpiAt(country, year),
				CumulativeRetainedPct: retained(base, r.RatePerUSD),
				BaseYear:              baseYear,
			}
			row.GapPct = row.InflationPct - row.CPIInflationPct
			out = append(out, row)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Country < out[j].Country
	})
	c.logger.Info("yearly gold inflation computed", "rows", len(out), "countries", len(byCountry))
	return out, nil
}

type yearKey struct {
	country string
	year    int
}

type monthKey struct {
	entity string
	month  int
}

// Monthly builds the monthly gold inflation table sorted by month, then currency.
// Year-over-year changes join on the month twelve months earlier.
func (c *Calculator) Monthly(in MonthlyInputs) ([]MonthlyRow, error) {
	goldUSD := make(map[int]float64)
	for _, p := range in.GoldUSD.Points {
		if p.Observed && p.Value > 0 {
			goldUSD[models.MonthIndex(p.Time)] = p.Value
		}
	}

	fx := make([]models.NormalizedSeries, 0, len(in.Daily)+len(in.IMF))
	for _, s := range in.Daily {
		fx = append(fx, s.MonthlyMean())
	}
	fx = append(fx, in.IMF...)
	rates, err := c.monthly.Merge(fx)
	if err != nil {
		return nil, fmt.Errorf("merge monthly rates: %w", err)
	}

	byCurrency := make(map[string][]MonthlyRow)
	for _, r := range rates {
		price, ok := goldUSD[models.MonthIndex(r.Time)]
		if !ok {
			continue
		}
		local := price * r.RatePerUSD
		byCurrency[r.Entity] = append(byCurrency[r.Entity], MonthlyRow{
			Time:        r.Time,
			Currency:    r.Entity,
			Source:      r.Source,
			RatePerUSD:  r.RatePerUSD,
			GoldUSD:     price,
			GoldLocal:   local,
			GramsPer100: c.gramsPer100(local),
		})
	}

	var out []MonthlyRow
	for _, rs := range byCurrency {
		sort.Slice(rs, func(i, j int) bool { return rs[i].Time.Before(rs[j].Time) })
		byMonth := make(map[monthKey]float64, len(rs))
		for _, r := range rs {
			byMonth[monthKey{r.Currency, models.MonthIndex(r.Time)}] = r.GoldLocal
		}
		base := rs[0].GoldLocal
		for i := range rs {
			prev := math.NaN()
			if i > 0 {
				prev = rs[i-1].GoldLocal
			}
			yearAgo, ok := byMonth[monthKey{rs[i].Currency, models.MonthIndex(rs[i].Time) - 12}]
			if !ok {
				yearAgo = math.NaN()
			}
			rs[i].MoMPct = SafePctChange(rs[i].GoldLocal, prev)
			rs[i].LogReturn = SafeLogReturn(rs[i].GoldLocal, prev)
			rs[i].YoYPct = SafePctChange(rs[i].GoldLocal, yearAgo)
			rs[i].CumulativeRetainedPct = retained(base, rs[i].GoldLocal)
		}
		out = append(out, rs...)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].Currency < out[j].Currency
	})
	c.logger.Info("monthly gold inflation computed", "rows", len(out), "currencies", len(byCurrency))
	return out, nil
}
