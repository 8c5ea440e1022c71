// Package regime classifies exchange-rate regimes and joins them onto returns.
// Monthly fine codes are mapped onto six coarse regimes, reduced to one regime per
// country-year by majority vote and used to condition return statistics.
package regime

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
	"github.com/johnayoung/go-forex-centuries/internal/stats"
)

// Coarse regime codes
const (
	Peg           = 1
	CrawlingPeg   = 2
	ManagedFloat  = 3
	FreeFloat     = 4
	FreelyFalling = 5
	DualMarket    = 6
)

var coarseLabels = map[int]string{
	Peg:           "peg",
	CrawlingPeg:   "crawling_peg",
	ManagedFloat:  "managed_float",
	FreeFloat:     "free_float",
	FreelyFalling: "freely_falling",
	DualMarket:    "dual_market",
}

// FineToCoarse maps a fine code (1-15) to its coarse regime
func FineToCoarse(fine int) (int, bool) {
	switch {
	case fine >= 1 && fine <= 4:
		return Peg, true
	case fine >= 5 && fine <= 8:
		return CrawlingPeg, true
	case fine >= 9 && fine <= 12:
		return ManagedFloat, true
	case fine == 13:
		return FreeFloat, true
	case fine == 14:
		return FreelyFalling, true
	case fine == 15:
		return DualMarket, true
	}
	return 0, false
}

// CoarseLabel names a coarse regime
func CoarseLabel(coarse int) string {
	return coarseLabels[coarse]
}

// YearlyRegime is the modal coarse regime of a country-year. Changes counts
// month-to-month transitions within the year.
type YearlyRegime struct {
	Entity  string
	Year    int
	Coarse  int
	Label   string
	Changes int
}

// JoinedReturn is a return carrying the regime it was earned under
type JoinedReturn struct {
	Entity    string
	Time      time.Time
	LogReturn float64
	Coarse    int
	Label     string
}

// ConditionalStat summarizes the returns observed under one regime
type ConditionalStat struct {
	Label      string
	Coarse     int
	NCountries int
	models.Moments
}

// Analyzer runs the regime stage
type Analyzer struct {
	config  config.RegimeConfig
	minObs  int
	workers int
	logger  *logger.ComponentLogger
}

// NewAnalyzer creates an analyzer. minObs is the smallest regime sample reported.
func NewAnalyzer(cfg config.RegimeConfig, minObs, workers int, loggerMgr *logger.LoggerManager) *Analyzer {
	if workers < 1 {
		workers = 1
	}
	return &Analyzer{
		config:  cfg,
		minObs:  minObs,
		workers: workers,
		logger:  loggerMgr.GetComponentLogger("regime"),
	}
}

// Classify fills the coarse code and label of each fine label. Labels with an
// unmapped fine code are dropped; the second result counts them.
func (a *Analyzer) Classify(labels []models.RegimeLabel) ([]models.RegimeLabel, int) {
	out := make([]models.RegimeLabel, 0, len(labels))
	unmapped := make(map[int]int)
	for _, l := range labels {
		coarse, ok := FineToCoarse(l.Fine)
		if !ok {
			unmapped[l.Fine]++
			continue
		}
		l.Coarse = coarse
		l.Label = CoarseLabel(coarse)
		out = append(out, l)
	}

	skipped := 0
	for code, n := range unmapped {
		a.logger.Warn("unmapped fine regime code", "code", code, "cells", n)
		skipped += n
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out, skipped
}

// YearlyModal reduces classified monthly labels to one regime per country-year
// by majority vote; ties go to the smallest coarse code. Rows are sorted by
// year, then country.
func (a *Analyzer) YearlyModal(ctx context.Context, labels []models.RegimeLabel) ([]YearlyRegime, error) {
	byEntity := make(map[string][]models.RegimeLabel)
	for _, l := range labels {
		byEntity[l.Entity] = append(byEntity[l.Entity], l)
	}
	entities := make([]string, 0, len(byEntity))
	for e := range byEntity {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	parts := make([][]YearlyRegime, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, entity := range entities {
		i, entity := i, entity
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parts[i] = modalYears(entity, byEntity[entity])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []YearlyRegime
	changed := 0
	for _, p := range parts {
		for _, y := range p {
			if y.Changes > 0 {
				changed++
			}
		}
		out = append(out, p...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Entity < out[j].Entity
	})

	if changed > 0 {
		a.logger.Info("mid-year regime changes", "country_years", changed)
	}
	return out, nil
}

// modalYears computes the yearly regimes of one entity
func modalYears(entity string, labels []models.RegimeLabel) []YearlyRegime {
	sort.Slice(labels, func(i, j int) bool { return labels[i].Time.Before(labels[j].Time) })

	var out []YearlyRegime
	for start := 0; start < len(labels); {
		year := labels[start].Time.Year()
		end := start
		counts := make(map[int]int)
		changes := 0
		for end < len(labels) && labels[end].Time.Year() == year {
			counts[labels[end].Coarse]++
			if end > start && labels[end].Coarse != labels[end-1].Coarse {
				changes++
			}
			end++
		}

		best, bestN := 0, -1
		for code, n := range counts {
			if n > bestN || (n == bestN && code < best) {
				best, bestN = code, n
			}
		}
		out = append(out, YearlyRegime{
			Entity:  entity,
			Year:    year,
			Coarse:  best,
			Label:   CoarseLabel(best),
			Changes: changes,
		})
		start = end
	}
	return out
}

type yearKey struct {
	entity string
	year   int
}

// JoinYearly attaches the regime of each return's country-year by exact match.
// Returns without a regime are dropped.
func JoinYearly(returns []models.ReturnRecord, yearly []YearlyRegime) []JoinedReturn {
	idx := make(map[yearKey]YearlyRegime, len(yearly))
	for _, y := range yearly {
		idx[yearKey{y.Entity, y.Year}] = y
	}

	var out []JoinedReturn
	for _, r := range returns {
		y, ok := idx[yearKey{r.Entity, r.Time.Year()}]
		if !ok {
			continue
		}
		out = append(out, JoinedReturn{Entity: r.Entity, Time: r.Time, LogReturn: r.LogReturn, Coarse: y.Coarse, Label: y.Label})
	}
	return out
}

// MonthlyReturns sums daily log returns into calendar-month returns for the
// currencies mapped to a regime country. The returned records carry the
// country as entity and the first of the month as time. Unmapped currencies
// are dropped.
func MonthlyReturns(daily []models.ReturnRecord, countries map[string]string) []models.ReturnRecord {
	type monthKey struct {
		entity string
		month  int
	}
	sums := make(map[monthKey]float64)
	for _, r := range daily {
		country, ok := countries[r.Entity]
		if !ok {
			continue
		}
		sums[monthKey{country, models.MonthIndex(r.Time)}] += r.LogReturn
	}

	out := make([]models.ReturnRecord, 0, len(sums))
	for k, v := range sums {
		out = append(out, models.ReturnRecord{Entity: k.entity, Time: models.MonthFromIndex(k.month), LogReturn: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// MonthlyIndex looks up monthly labels by country, exact month first and then
// the nearest labeled month within a maximum distance.
type MonthlyIndex struct {
	byEntity map[string][]models.RegimeLabel
	maxDist  int
}

// NewMonthlyIndex indexes classified labels. maxDist 0 means exact matches only.
func NewMonthlyIndex(labels []models.RegimeLabel, maxDist int) *MonthlyIndex {
	idx := &MonthlyIndex{byEntity: make(map[string][]models.RegimeLabel), maxDist: maxDist}
	for _, l := range labels {
		idx.byEntity[l.Entity] = append(idx.byEntity[l.Entity], l)
	}
	for _, ls := range idx.byEntity {
		sort.Slice(ls, func(i, j int) bool { return ls[i].Time.Before(ls[j].Time) })
	}
	return idx
}

// Lookup returns the label of entity at month t. On equal distance the earlier
// month wins.
func (m *MonthlyIndex) Lookup(entity string, t time.Time) (models.RegimeLabel, bool) {
	ls := m.byEntity[entity]
	if len(ls) == 0 {
		return models.RegimeLabel{}, false
	}
	target := models.MonthIndex(t)
	i := sort.Search(len(ls), func(i int) bool { return models.MonthIndex(ls[i].Time) >= target })
	if i < len(ls) && models.MonthIndex(ls[i].Time) == target {
		return ls[i], true
	}
	if m.maxDist == 0 {
		return models.RegimeLabel{}, false
	}

	best, bestDist := -1, m.maxDist+1
	if i > 0 {
		if d := target - models.MonthIndex(ls[i-1].Time); d < bestDist {
			best, bestDist = i-1, d
		}
	}
	if i < len(ls) {
		if d := models.MonthIndex(ls[i].Time) - target; d < bestDist {
			best = i
		}
	}
	if best < 0 {
		return models.RegimeLabel{}, false
	}
	return ls[best], true
}

// JoinMonthly attaches monthly regimes to monthly returns
func (a *Analyzer) JoinMonthly(returns []models.ReturnRecord, labels []models.RegimeLabel) []JoinedReturn {
	idx := NewMonthlyIndex(labels, a.config.MaxJoinDistanceMonths)
	var out []JoinedReturn
	for _, r := range returns {
		l, ok := idx.Lookup(r.Entity, r.Time)
		if !ok {
			continue
		}
		out = append(out, JoinedReturn{Entity: r.Entity, Time: r.Time, LogReturn: r.LogReturn, Coarse: l.Coarse, Label: l.Label})
	}
	return out
}

// ConditionalStats computes return moments per regime. Regimes with fewer than
// the minimum observations are omitted and reported. Rows are sorted by
// volatility descending.
func (a *Analyzer) ConditionalStats(joined []JoinedReturn) ([]ConditionalStat, []error) {
	type group struct {
		coarse    int
		values    []float64
		countries map[string]struct{}
	}
	groups := make(map[string]*group)
	for _, j := range joined {
		g, ok := groups[j.Label]
		if !ok {
			g = &group{coarse: j.Coarse, countries: make(map[string]struct{})}
			groups[j.Label] = g
		}
		g.values = append(g.values, j.LogReturn)
		g.countries[j.Entity] = struct{}{}
	}

	labels := make([]string, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var (
		out      []ConditionalStat
		warnings []error
	)
	for _, label := range labels {
		g := groups[label]
		if len(g.values) < a.minObs {
			warnings = append(warnings, &apperrors.InsufficientOverlapWarning{
				Context: "regime conditional stats", Left: label, Overlap: len(g.values), Required: a.minObs,
			})
			continue
		}
		out = append(out, ConditionalStat{
			Label:      label,
			Coarse:     g.coarse,
			NCountries: len(g.countries),
			Moments:    stats.ComputeMoments(g.values),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Volatility != out[j].Volatility {
			return out[i].Volatility > out[j].Volatility
		}
		return out[i].Label < out[j].Label
	})
	return out, warnings
}
