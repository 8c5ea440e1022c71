package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// RollingPoint is the annualized trailing volatility of an entity at a date
type RollingPoint struct {
	Entity     string
	Time       time.Time
	Volatility float64
}

// MomentumSignal is a trailing log return over Lookback observations
type MomentumSignal struct {
	Entity   string
	Time     time.Time
	Lookback int
	Label    string
	Momentum float64
}

// Reversal compares long and short momentum at one date
type Reversal struct {
	Entity   string
	Time     time.Time
	Reversal float64
	MomLong  float64
	MomShort float64
}

// SigmaEvent counts |r - mean| > k sigma events of one entity at one level
type SigmaEvent struct {
	Entity    string
	N         int
	Level     float64
	Threshold float64
	Observed  int
	Expected  float64
	Ratio     float64
}

// LookbackLabel names a lookback in months of 21 trading days when it divides evenly
func LookbackLabel(k int) string {
	if k%21 == 0 {
		return fmt.Sprintf("%dm", k/21)
	}
	return fmt.Sprintf("%dd", k)
}

// RollingVolatility computes the trailing window volatility of each entity,
// annualized by the trading-day count. A gap-spanning return restarts the
// window, and no value is emitted until the window is full.
func (e *Engine) RollingVolatility(ctx context.Context, returns []models.ReturnRecord) ([]RollingPoint, error) {
	groups, entities := GroupReturns(returns)
	parts := make([][]RollingPoint, len(entities))
	window := e.config.RollingWindow
	scale := math.Sqrt(float64(e.config.TradingDays))

	err := e.forEach(ctx, len(entities), func(_ context.Context, i int) error {
		entity := entities[i]
		for _, run := range contiguousRuns(groups[entity]) {
			std := RollingStd(returnValues(run), window)
			for k, sd := range std {
				if math.IsNaN(sd) {
					continue
				}
				parts[i] = append(parts[i], RollingPoint{Entity: entity, Time: run[k].Time, Volatility: sd * scale})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []RollingPoint
	for _, p := range parts {
		out = append(out, p...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].Entity < out[j].Entity
	})
	return out, nil
}

// contiguousRuns splits a time-ordered return slice at gap-spanning returns.
// The gap-spanning return itself belongs to no run.
func contiguousRuns(rs []models.ReturnRecord) [][]models.ReturnRecord {
	var (
		runs [][]models.ReturnRecord
		cur  []models.ReturnRecord
	)
	for _, r := range rs {
		if r.SpansGap {
			if len(cur) > 0 {
				runs = append(runs, cur)
			}
			cur = nil
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// minMomentumPrices is the longest configured lookback; shorter series are skipped
func (e *Engine) minMomentumPrices() int {
	n := e.config.ReversalLookback
	for _, k := range e.config.MomentumLookbacks {
		if k > n {
			n = k
		}
	}
	return n
}

// trailing returns ln(p_t / p_{t-k}) for every index t >= k, NaN before
func trailing(values []float64, k int) []float64 {
	out := make([]float64, len(values))
	for t := range values {
		if t < k {
			out[t] = math.NaN()
			continue
		}
		out[t] = math.Log(values[t] / values[t-k])
	}
	return out
}

// Momentum computes trailing log returns over each configured lookback, counted
// in observations, and the reversal of the longest lookback against the short
// one. Series with fewer prices than the longest lookback are skipped.
func (e *Engine) Momentum(ctx context.Context, series []models.NormalizedSeries) ([]MomentumSignal, []Reversal, error) {
	sorted := append([]models.NormalizedSeries(nil), series...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Entity < sorted[j].Entity })

	signals := make([][]MomentumSignal, len(sorted))
	reversals := make([][]Reversal, len(sorted))
	minPrices := e.minMomentumPrices()
	long := 0
	for _, k := range e.config.MomentumLookbacks {
		if k > long {
			long = k
		}
	}
	short := e.config.ReversalLookback

	err := e.forEach(ctx, len(sorted), func(_ context.Context, i int) error {
		s := sorted[i]
		if len(s.Points) < minPrices {
			return nil
		}
		values := s.Values()
		for _, k := range e.config.MomentumLookbacks {
			label := LookbackLabel(k)
			for t, m := range trailing(values, k) {
				if math.IsNaN(m) {
					continue
				}
				signals[i] = append(signals[i], MomentumSignal{Entity: s.Entity, Time: s.Points[t].Time, Lookback: k, Label: label, Momentum: m})
			}
		}

		longMom, shortMom := trailing(values, long), trailing(values, short)
		for t := range values {
			if math.IsNaN(longMom[t]) || math.IsNaN(shortMom[t]) {
				continue
			}
			reversals[i] = append(reversals[i], Reversal{
				Entity:   s.Entity,
				Time:     s.Points[t].Time,
				Reversal: longMom[t] - shortMom[t],
				MomLong:  longMom[t],
				MomShort: shortMom[t],
			})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		outSignals   []MomentumSignal
		outReversals []Reversal
	)
	for i := range sorted {
		outSignals = append(outSignals, signals[i]...)
		outReversals = append(outReversals, reversals[i]...)
	}
	sort.SliceStable(outSignals, func(i, j int) bool {
		a, b := outSignals[i], outSignals[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Label < b.Label
	})
	sort.SliceStable(outReversals, func(i, j int) bool {
		a, b := outReversals[i], outReversals[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.Entity < b.Entity
	})
	return outSignals, outReversals, nil
}

// SigmaEvents counts, per entity and configured level k, the returns further than
// k standard deviations from the mean against the Gaussian expectation.
// Entities with near-zero volatility are skipped. Rows are sorted by level, then
// ratio descending, then entity.
func (e *Engine) SigmaEvents(ctx context.Context, returns []models.ReturnRecord) ([]SigmaEvent, error) {
	groups, entities := GroupReturns(returns)
	parts := make([][]SigmaEvent, len(entities))

	err := e.forEach(ctx, len(entities), func(_ context.Context, i int) error {
		entity := entities[i]
		values := returnValues(usableReturns(groups[entity], e.config.ExcludeGapReturns))
		m := ComputeMoments(values)
		if math.IsNaN(m.Volatility) || m.Volatility < e.config.MinVolatility {
			return nil
		}
		for _, k := range e.config.SigmaLevels {
			observed := CountBeyond(values, m.Mean, m.Volatility, k)
			expected := ExpectedTailCount(m.N, k)
			ratio := 0.0
			if expected > 0 {
				ratio = float64(observed) / expected
			}
			parts[i] = append(parts[i], SigmaEvent{
				Entity:    entity,
				N:         m.N,
				Level:     k,
				Threshold: k * m.Volatility,
				Observed:  observed,
				Expected:  expected,
				Ratio:     ratio,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []SigmaEvent
	for _, p := range parts {
		out = append(out, p...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Ratio != b.Ratio {
			return a.Ratio > b.Ratio
		}
		return a.Entity < b.Entity
	})
	return out, nil
}
