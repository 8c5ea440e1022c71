// Package stats is the return and statistics engine of the forex-centuries build.
// It turns normalized series into log returns and derives volatility tables,
// correlation matrices, rolling volatility, momentum signals and n-sigma event
// frequencies. Per-entity work fans out on a bounded errgroup and every table is
// sorted before it is returned, so results never depend on completion order.
package stats

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// Engine computes the statistics tables
type Engine struct {
	config  config.StatsConfig
	workers int
	logger  *logger.ComponentLogger
}

// NewEngine creates an engine running at most workers tasks at a time
func NewEngine(cfg config.StatsConfig, workers int, loggerMgr *logger.LoggerManager) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		config:  cfg,
		workers: workers,
		logger:  loggerMgr.GetComponentLogger("stats"),
	}
}

// Config returns the statistics configuration
func (e *Engine) Config() config.StatsConfig {
	return e.config
}

// forEach runs fn for 0..n-1 on the bounded worker group
func (e *Engine) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// Returns computes the log returns of every series, sorted by (time, entity)
func (e *Engine) Returns(ctx context.Context, series []models.NormalizedSeries) ([]models.ReturnRecord, error) {
	parts := make([][]models.ReturnRecord, len(series))
	err := e.forEach(ctx, len(series), func(_ context.Context, i int) error {
		s := series[i]
		parts[i] = LogReturns(s, MaxNominalStep(s.Frequency, e.config.DailyMaxStepDays))
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []models.ReturnRecord
	gaps := 0
	for _, p := range parts {
		for _, r := range p {
			if r.SpansGap {
				gaps++
			}
		}
		out = append(out, p...)
	}
	SortReturns(out)

	e.logger.Debug("computed log returns", "returns", len(out), "gap_spanning", gaps)
	return out, nil
}

// minReturns is the smallest sample a volatility row needs
func (e *Engine) minReturns(freq models.Frequency) int {
	if freq == models.FrequencyDaily {
		return 2
	}
	return e.config.MinYearlyReturns
}

// VolatilityTable summarizes returns per entity. Daily volatility is annualized
// by the square root of the trading-day count; other frequencies are not.
// Entities with too few returns are left out and reported as warnings.
// Rows are sorted by excess kurtosis descending, then entity.
func (e *Engine) VolatilityTable(ctx context.Context, returns []models.ReturnRecord, freq models.Frequency) ([]models.VolatilityStats, []error) {
	groups, entities := GroupReturns(returns)
	rows := make([]*models.VolatilityStats, len(entities))
	warnings := make([]error, len(entities))
	minN := e.minReturns(freq)

	err := e.forEach(ctx, len(entities), func(_ context.Context, i int) error {
		entity := entities[i]
		rs := usableReturns(groups[entity], e.config.ExcludeGapReturns)
		if len(rs) < minN {
			warnings[i] = &apperrors.InsufficientOverlapWarning{
				Context: string(freq) + " volatility", Left: entity, Overlap: len(rs), Required: minN,
			}
			return nil
		}
		rows[i] = e.volatilityRow(entity, rs, freq)
		return nil
	})
	if err != nil {
		return nil, []error{err}
	}

	var (
		out  []models.VolatilityStats
		errs []error
	)
	for i := range entities {
		if rows[i] != nil {
			out = append(out, *rows[i])
		}
		if warnings[i] != nil {
			errs = append(errs, warnings[i])
		}
	}
	SortByKurtosis(out)
	return out, errs
}

func (e *Engine) volatilityRow(entity string, rs []models.ReturnRecord, freq models.Frequency) *models.VolatilityStats {
	values := returnValues(rs)
	m := ComputeMoments(values)

	row := &models.VolatilityStats{
		Entity:               entity,
		Frequency:            freq,
		Start:                rs[0].Time,
		End:                  rs[len(rs)-1].Time,
		AnnualizedVolatility: m.Volatility,
		Moments:              m,
	}
	if freq == models.FrequencyDaily {
		row.AnnualizedVolatility = m.Volatility * math.Sqrt(float64(e.config.TradingDays))
	}
	row.TailEvents, row.ExpectedNormal, row.TailRatio = TailEvents(values, e.config.TailSigma)
	return row
}

// SortByKurtosis orders rows by excess kurtosis descending with undefined values
// last, then by entity.
func SortByKurtosis(rows []models.VolatilityStats) {
	sort.SliceStable(rows, func(i, j int) bool {
		ki, kj := rows[i].ExcessKurtosis, rows[j].ExcessKurtosis
		ni, nj := math.IsNaN(ki), math.IsNaN(kj)
		switch {
		case ni != nj:
			return nj
		case !ni && ki != kj:
			return ki > kj
		}
		return rows[i].Entity < rows[j].Entity
	})
}

// CorrelationMatrix computes pairwise Pearson correlations on the shared
// timestamps of each pair. Pairs sharing fewer than minOverlap returns hold NaN
// and are reported as warnings. The matrix is symmetric with a unit diagonal.
func (e *Engine) CorrelationMatrix(ctx context.Context, returns []models.ReturnRecord, freq models.Frequency, minOverlap int) (models.CorrelationMatrix, []error) {
	groups, entities := GroupReturns(returns)
	n := len(entities)

	m := models.CorrelationMatrix{
		Frequency: freq,
		Entities:  entities,
		Values:    make([][]float64, n),
		Overlap:   make([][]int, n),
	}
	indexes := make([]map[int64]float64, n)
	for i, entity := range entities {
		m.Values[i] = make([]float64, n)
		m.Overlap[i] = make([]int, n)
		rs := usableReturns(groups[entity], e.config.ExcludeGapReturns)
		idx := make(map[int64]float64, len(rs))
		for _, r := range rs {
			idx[r.Time.Unix()] = r.LogReturn
		}
		indexes[i] = idx
	}

	rowWarnings := make([][]error, n)
	err := e.forEach(ctx, n, func(_ context.Context, i int) error {
		m.Values[i][i] = 1
		m.Overlap[i][i] = len(indexes[i])
		for j := i + 1; j < n; j++ {
			x, y := alignPair(indexes[i], indexes[j])
			corr := math.NaN()
			if len(x) >= minOverlap {
				corr = Pearson(x, y)
			} else {
				rowWarnings[i] = append(rowWarnings[i], &apperrors.InsufficientOverlapWarning{
					Context:  string(freq) + " correlation",
					Left:     entities[i],
					Right:    entities[j],
					Overlap:  len(x),
					Required: minOverlap,
				})
			}
			m.Values[i][j], m.Values[j][i] = corr, corr
			m.Overlap[i][j], m.Overlap[j][i] = len(x), len(x)
		}
		return nil
	})
	if err != nil {
		return m, []error{err}
	}

	var warnings []error
	for _, w := range rowWarnings {
		warnings = append(warnings, w...)
	}
	return m, warnings
}

// alignPair returns the values of both indexes at their shared keys, in key order
func alignPair(a, b map[int64]float64) ([]float64, []float64) {
	if len(b) < len(a) {
		ys, xs := alignPair(b, a)
		return xs, ys
	}
	keys := make([]int64, 0, len(a))
	for k := range a {
		if _, ok := b[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	x := make([]float64, len(keys))
	y := make([]float64, len(keys))
	for i, k := range keys {
		x[i], y[i] = a[k], b[k]
	}
	return x, y
}
