// Package models provides the data structures shared by every stage of the
// forex-centuries build: raw and normalized series, the unified panel, return
// records and the per-entity statistics tables.
package models

import (
	"fmt"
	"math"
	"time"
)

// UnitConvention is the quoting direction of an exchange-rate value.
type UnitConvention string

const (
	ConventionForeignPerUSD UnitConvention = "foreign_per_usd"
	ConventionUSDPerForeign UnitConvention = "usd_per_foreign"
	ConventionIndex         UnitConvention = "index"
)

// Valid reports whether the convention is one of the known values.
func (c UnitConvention) Valid() bool {
	switch c {
	case ConventionForeignPerUSD, ConventionUSDPerForeign, ConventionIndex:
		return true
	}
	return false
}

// SourceTag identifies the provenance of an observation.
type SourceTag string

const (
	SourceMW   SourceTag = "MW"   // MeasuringWorth
	SourceCI   SourceTag = "CI"   // Clio Infra
	SourceGMD  SourceTag = "GMD"  // Global Macro Database
	SourceFRED SourceTag = "FRED" // FRED H.10 daily
	SourceIMF  SourceTag = "IMF"
	SourceIRR  SourceTag = "IRR" // Ilzetzki-Reinhart-Rogoff regimes
	SourceJST  SourceTag = "JST" // Jorda-Schularick-Taylor macro-history

	// Gold local-price derivations, in merge priority order.
	SourceGBPDirect SourceTag = "GBP_DIRECT"
	SourceGBPCross  SourceTag = "GBP_CROSS"
	SourceUSDPanel  SourceTag = "USD_PANEL"
)

// TimeSeriesPoint is the atomic unit every reader produces once a convention
// has been attached to it.
type TimeSeriesPoint struct {
	Entity     string         `json:"entity"`
	Time       time.Time      `json:"time"`
	Value      float64        `json:"value"`
	Convention UnitConvention `json:"unit_convention"`
	Source     SourceTag      `json:"source_tag"`
}

// RawObservation is a single cell read from a canonical source file.
// Observed is false for sentinel cells such as "." or an empty string.
type RawObservation struct {
	Time     time.Time
	Value    float64
	Observed bool
}

// RawSeries is the reader output for one entity of one source, before any
// quoting convention has been applied.
type RawSeries struct {
	Source    SourceTag
	Entity    string
	Frequency Frequency
	File      string
	Points    []RawObservation
}

// ObservedCount returns the number of non-sentinel observations.
func (s RawSeries) ObservedCount() int {
	n := 0
	for _, p := range s.Points {
		if p.Observed {
			n++
		}
	}
	return n
}

// Observation is a (time, value) pair of a normalized series.
type Observation struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// NormalizedSeries holds foreign-currency units per 1 USD for a single entity.
// Timestamps are strictly increasing and every value is finite and positive.
type NormalizedSeries struct {
	Source    SourceTag     `json:"source"`
	Entity    string        `json:"entity"`
	Frequency Frequency     `json:"frequency"`
	Points    []Observation `json:"points"`
}

// Validate checks the ordering and value invariants of the series.
func (s NormalizedSeries) Validate() error {
	if s.Entity == "" {
		return &ValidationError{Field: "entity", Message: "entity cannot be empty"}
	}
	if !s.Frequency.Valid() {
		return &ValidationError{Field: "frequency", Message: fmt.Sprintf("unknown frequency %q", s.Frequency)}
	}
	for i, p := range s.Points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) || p.Value <= 0 {
			return &ValidationError{Field: "value", Message: fmt.Sprintf("point %d (%s) is not a positive finite rate", i, s.Frequency.Format(p.Time))}
		}
		if i > 0 && !p.Time.After(s.Points[i-1].Time) {
			return &ValidationError{Field: "time", Message: fmt.Sprintf("point %d (%s) is not after its predecessor", i, s.Frequency.Format(p.Time))}
		}
	}
	return nil
}

// TimeSeriesPoints expands the series into convention-tagged points.
func (s NormalizedSeries) TimeSeriesPoints() []TimeSeriesPoint {
	out := make([]TimeSeriesPoint, len(s.Points))
	for i, p := range s.Points {
		out[i] = TimeSeriesPoint{
			Entity:     s.Entity,
			Time:       p.Time,
			Value:      p.Value,
			Convention: ConventionForeignPerUSD,
			Source:     s.Source,
		}
	}
	return out
}

// Values returns the rate values in time order.
func (s NormalizedSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// UnifiedPanelRow is one merged (entity, time) cell with the winning source.
type UnifiedPanelRow struct {
	Entity     string    `json:"country" db:"country"`
	Time       time.Time `json:"time" db:"time"`
	RatePerUSD float64   `json:"rate_per_usd" db:"rate_per_usd"`
	Source     SourceTag `json:"source" db:"source"`
}

// ReturnRecord is a log return between two adjacent observations of an entity.
// SpansGap marks returns covering more than one nominal period.
type ReturnRecord struct {
	Entity    string    `json:"entity"`
	Time      time.Time `json:"time"`
	LogReturn float64   `json:"log_return"`
	SpansGap  bool      `json:"spans_gap"`
}

// ValidationError reports a model invariant violation for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}
