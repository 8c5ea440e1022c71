package models

import (
	"math"
	"time"
)

// Moments are the full-sample descriptive statistics of a return sample.
// Volatility is the sample standard deviation (n-1); Skewness and
// ExcessKurtosis use biased (1/n) central moments.
type Moments struct {
	N              int     `json:"n"`
	Mean           float64 `json:"mean"`
	Volatility     float64 `json:"volatility"`
	PopulationStd  float64 `json:"population_std"`
	Skewness       float64 `json:"skewness"`
	ExcessKurtosis float64 `json:"excess_kurtosis"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
}

// VolatilityStats is the per-entity, per-frequency summary of log returns.
// TailRatio is NaN when the Gaussian-expected tail count is below one.
type VolatilityStats struct {
	Entity               string    `json:"entity"`
	Frequency            Frequency `json:"frequency"`
	Start                time.Time `json:"start"`
	End                  time.Time `json:"end"`
	AnnualizedVolatility float64   `json:"annualized_volatility"`
	TailEvents           int       `json:"tail_events"`
	ExpectedNormal       float64   `json:"expected_normal"`
	TailRatio            float64   `json:"tail_ratio"`
	Moments
}

// TailRatioDefined reports whether the tail ratio carries a value.
func (v VolatilityStats) TailRatioDefined() bool {
	return !math.IsNaN(v.TailRatio)
}

// CorrelationMatrix is a square, symmetric matrix of pairwise Pearson
// correlations. Cells below the overlap minimum hold NaN.
type CorrelationMatrix struct {
	Frequency Frequency   `json:"frequency"`
	Entities  []string    `json:"entities"`
	Values    [][]float64 `json:"values"`
	Overlap   [][]int     `json:"overlap"`
}

// Index returns the row of entity, or -1.
func (m CorrelationMatrix) Index(entity string) int {
	for i, e := range m.Entities {
		if e == entity {
			return i
		}
	}
	return -1
}

// Get returns corr(a, b) and whether both entities exist.
func (m CorrelationMatrix) Get(a, b string) (float64, bool) {
	i, j := m.Index(a), m.Index(b)
	if i < 0 || j < 0 {
		return math.NaN(), false
	}
	return m.Values[i][j], true
}

// RegimeLabel is a monthly exchange-rate regime classification.
type RegimeLabel struct {
	Entity string    `json:"country"`
	Time   time.Time `json:"month"`
	Fine   int       `json:"fine_regime"`
	Coarse int       `json:"coarse_regime"`
	Label  string    `json:"regime_label"`
}
