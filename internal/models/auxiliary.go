package models

import (
	"math"
	"sort"
	"time"
)

// SourceGold tags the monthly USD gold price series.
const SourceGold SourceTag = "GOLD"

// GoldYear is one row of the yearly gold price table. Missing prices are NaN.
type GoldYear struct {
	Year        int
	NewYorkUSD  float64
	OfficialUSD float64
	BritishGBP  float64
}

// USD returns the New York market price, falling back to the US official price.
func (g GoldYear) USD() float64 {
	if !math.IsNaN(g.NewYorkUSD) {
		return g.NewYorkUSD
	}
	return g.OfficialUSD
}

// AssetYear is one country-year of the macro-history asset table.
// Returns are fractions; missing cells are NaN.
type AssetYear struct {
	Country   string
	Year      int
	EquityTR  float64
	HousingTR float64
	BondTR    float64
	BillRate  float64
	CPI       float64
}

// MonthlyMean averages the series per calendar month. The result is a
// monthly series with one point per month that holds data.
func (s NormalizedSeries) MonthlyMean() NormalizedSeries {
	type acc struct {
		sum float64
		n   int
	}
	byMonth := make(map[int]*acc)
	for _, p := range s.Points {
		k := MonthIndex(p.Time)
		a, ok := byMonth[k]
		if !ok {
			a = &acc{}
			byMonth[k] = a
		}
		a.sum += p.Value
		a.n++
	}

	keys := make([]int, 0, len(byMonth))
	for k := range byMonth {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := NormalizedSeries{Source: s.Source, Entity: s.Entity, Frequency: FrequencyMonthly}
	out.Points = make([]Observation, len(keys))
	for i, k := range keys {
		a := byMonth[k]
		out.Points[i] = Observation{Time: MonthFromIndex(k), Value: a.sum / float64(a.n)}
	}
	return out
}

// Lookup returns the value at t and whether the series holds it.
// Points must be sorted by time.
func (s NormalizedSeries) Lookup(t time.Time) (float64, bool) {
	i := sort.Search(len(s.Points), func(i int) bool { return !s.Points[i].Time.Before(t) })
	if i < len(s.Points) && s.Points[i].Time.Equal(t) {
		return s.Points[i].Value, true
	}
	return 0, false
}
