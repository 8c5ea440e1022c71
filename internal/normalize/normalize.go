// Package normalize maps raw source series onto the single foreign-per-USD quoting
// convention. The convention of every (source, entity) pair comes from a data table
// loaded from configuration; nothing is inferred from the values themselves.
package normalize

import (
	"context"
	"math"
	"sort"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
)

type sourceConventions struct {
	fallback models.UnitConvention
	entities map[string]models.UnitConvention
}

// ConventionTable holds the native quoting convention of each source and entity
type ConventionTable struct {
	sources map[models.SourceTag]sourceConventions
}

// NewConventionTable builds the table from the quoting configuration
func NewConventionTable(cfg config.QuotingConfig) *ConventionTable {
	t := &ConventionTable{sources: make(map[models.SourceTag]sourceConventions, len(cfg.Sources))}
	for src, sq := range cfg.Sources {
		sc := sourceConventions{
			fallback: models.UnitConvention(sq.Default),
			entities: make(map[string]models.UnitConvention, len(sq.Entities)),
		}
		for entity, conv := range sq.Entities {
			sc.entities[entity] = models.UnitConvention(conv)
		}
		t.sources[models.SourceTag(src)] = sc
	}
	return t
}

// Lookup returns the native convention of an entity. An entity without an entry
// in a source without a default is an UnmappedConventionError.
func (t *ConventionTable) Lookup(src models.SourceTag, entity string) (models.UnitConvention, error) {
	sc, ok := t.sources[src]
	if ok {
		if conv, found := sc.entities[entity]; found {
			return conv, nil
		}
		if sc.fallback != "" {
			return sc.fallback, nil
		}
	}
	return "", &apperrors.UnmappedConventionError{Source: string(src), Entity: entity}
}

// convert maps a native value to foreign-per-USD. It is its own inverse.
func convert(conv models.UnitConvention, v float64) float64 {
	if conv == models.ConventionUSDPerForeign {
		return 1 / v
	}
	return v
}

// usable reports whether a raw value can become an observation
func usable(p models.RawObservation) bool {
	return p.Observed && !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) && p.Value > 0
}

// Normalize converts a raw series to foreign units per USD. Sentinel, zero,
// negative and non-finite cells produce no point. Points are sorted by time;
// a repeated timestamp fails the series with a SchemaError.
func Normalize(raw models.RawSeries, table *ConventionTable) (models.NormalizedSeries, error) {
	out := models.NormalizedSeries{Source: raw.Source, Entity: raw.Entity, Frequency: raw.Frequency}

	conv, err := table.Lookup(raw.Source, raw.Entity)
	if err != nil {
		return out, err
	}
	if conv == models.ConventionIndex {
		return out, &apperrors.UnmappedConventionError{Source: string(raw.Source), Entity: raw.Entity}
	}

	points := make([]models.Observation, 0, len(raw.Points))
	for _, p := range raw.Points {
		if !usable(p) {
			continue
		}
		points = append(points, models.Observation{
			Time:  raw.Frequency.Truncate(p.Time),
			Value: convert(conv, p.Value),
		})
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	for i := 1; i < len(points); i++ {
		if points[i].Time.Equal(points[i-1].Time) {
			return out, apperrors.NewDuplicateTime(string(raw.Source), raw.Entity, raw.Frequency.Format(points[i].Time))
		}
	}

	out.Points = points
	return out, nil
}

// Denormalize maps a normalized series back to its native convention
func Denormalize(s models.NormalizedSeries, table *ConventionTable) ([]models.Observation, error) {
	conv, err := table.Lookup(s.Source, s.Entity)
	if err != nil {
		return nil, err
	}
	out := make([]models.Observation, len(s.Points))
	for i, p := range s.Points {
		out[i] = models.Observation{Time: p.Time, Value: convert(conv, p.Value)}
	}
	return out, nil
}

// Normalizer normalizes batches of series, isolating failures per series
type Normalizer struct {
	table  *ConventionTable
	logger *logger.ComponentLogger
}

// NewNormalizer creates a normalizer over table
func NewNormalizer(table *ConventionTable, loggerMgr *logger.LoggerManager) *Normalizer {
	return &Normalizer{table: table, logger: loggerMgr.GetComponentLogger("normalize")}
}

// Table returns the convention table in use
func (n *Normalizer) Table() *ConventionTable {
	return n.table
}

// NormalizeAll normalizes every series. Failed series are returned as errors and
// left out; empty results are dropped silently.
func (n *Normalizer) NormalizeAll(ctx context.Context, raws []models.RawSeries) ([]models.NormalizedSeries, []error) {
	var (
		out  []models.NormalizedSeries
		errs []error
	)
	for _, raw := range raws {
		s, err := Normalize(raw, n.table)
		if err != nil {
			n.logger.WarnWithContext(logger.WithEntity(logger.WithSource(ctx, string(raw.Source)), raw.Entity),
				"series skipped", "error", err)
			errs = append(errs, err)
			continue
		}
		if len(s.Points) == 0 {
			continue
		}
		out = append(out, s)
	}
	return out, errs
}
