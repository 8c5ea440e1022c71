// Package merge combines normalized series from several sources into one panel
// using a strict, configured source priority. For every (entity, period) the
// highest-priority source holding a finite value wins; values are never averaged
// or interpolated.
package merge

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// Merger merges series by source priority
type Merger struct {
	priority []models.SourceTag
	rank     map[models.SourceTag]int
	logger   *logger.ComponentLogger
}

// NewMerger creates a merger. Earlier sources in priority win.
func NewMerger(priority []string, loggerMgr *logger.LoggerManager) (*Merger, error) {
	if len(priority) == 0 {
		return nil, &apperrors.ConfigError{Field: "merge priority", Message: "at least one source is required"}
	}
	m := &Merger{
		rank:   make(map[models.SourceTag]int, len(priority)),
		logger: loggerMgr.GetComponentLogger("merge"),
	}
	for i, p := range priority {
		tag := models.SourceTag(p)
		if _, dup := m.rank[tag]; dup {
			return nil, &apperrors.ConfigError{Field: "merge priority", Message: fmt.Sprintf("source %s listed twice", p)}
		}
		m.rank[tag] = i
		m.priority = append(m.priority, tag)
	}
	return m, nil
}

// Priority returns the configured source order
func (m *Merger) Priority() []models.SourceTag {
	return append([]models.SourceTag(nil), m.priority...)
}

type cellKey struct {
	entity string
	time   time.Time
}

// Merge resolves every (entity, period) to its winning observation. The result
// is sorted by time, then entity, and does not depend on the order of series.
func (m *Merger) Merge(series []models.NormalizedSeries) ([]models.UnifiedPanelRow, error) {
	for _, s := range series {
		if _, ok := m.rank[s.Source]; !ok {
			return nil, &apperrors.ConfigError{
				Field:   "merge priority",
				Message: fmt.Sprintf("source %s is not listed in %v", s.Source, m.priority),
			}
		}
	}

	winners := make(map[cellKey]models.UnifiedPanelRow)
	for _, s := range series {
		rank := m.rank[s.Source]
		for _, p := range s.Points {
			if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
				continue
			}
			key := cellKey{entity: s.Entity, time: p.Time}
			row := models.UnifiedPanelRow{Entity: s.Entity, Time: p.Time, RatePerUSD: p.Value, Source: s.Source}
			cur, exists := winners[key]
			if !exists || m.beats(row, cur, rank) {
				winners[key] = row
			}
		}
	}

	rows := make([]models.UnifiedPanelRow, 0, len(winners))
	for _, row := range winners {
		rows = append(rows, row)
	}
	SortRows(rows)

	m.logger.Debug("merged panel", "rows", len(rows), "series", len(series))
	return rows, nil
}

// beats reports whether candidate replaces the current winner. Equal ranks keep
// the smaller value so the choice never depends on input order.
func (m *Merger) beats(candidate, current models.UnifiedPanelRow, candidateRank int) bool {
	currentRank := m.rank[current.Source]
	if candidateRank != currentRank {
		return candidateRank < currentRank
	}
	return candidate.RatePerUSD < current.RatePerUSD
}

// SortRows orders panel rows by time, then entity
func SortRows(rows []models.UnifiedPanelRow) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Time.Equal(rows[j].Time) {
			return rows[i].Time.Before(rows[j].Time)
		}
		return rows[i].Entity < rows[j].Entity
	})
}

// SourceCounts returns how many panel rows each source won
func SourceCounts(rows []models.UnifiedPanelRow) map[models.SourceTag]int {
	counts := make(map[models.SourceTag]int)
	for _, r := range rows {
		counts[r.Source]++
	}
	return counts
}

// Gaps reports, per entity, each run of nominal periods between its first and
// last merged period that no source covers. Daily panels have no nominal grid
// and yield no gaps.
func Gaps(rows []models.UnifiedPanelRow, freq models.Frequency) []*apperrors.MergeGapWarning {
	if freq == models.FrequencyDaily {
		return nil
	}

	byEntity := make(map[string][]time.Time)
	for _, r := range rows {
		byEntity[r.Entity] = append(byEntity[r.Entity], r.Time)
	}
	entities := make([]string, 0, len(byEntity))
	for e := range byEntity {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	var gaps []*apperrors.MergeGapWarning
	for _, e := range entities {
		times := byEntity[e]
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		for i := 1; i < len(times); i++ {
			steps := freq.Steps(times[i-1], times[i])
			if steps <= 1 {
				continue
			}
			first := advance(freq, times[i-1], 1)
			last := advance(freq, times[i-1], steps-1)
			gaps = append(gaps, &apperrors.MergeGapWarning{Entity: e, Period: periodRange(freq, first, last)})
		}
	}
	return gaps
}

func advance(freq models.Frequency, t time.Time, n int) time.Time {
	if freq == models.FrequencyYearly {
		return models.YearTime(t.Year() + n)
	}
	return models.MonthFromIndex(models.MonthIndex(t) + n)
}

func periodRange(freq models.Frequency, first, last time.Time) string {
	if first.Equal(last) {
		return freq.Format(first)
	}
	return strings.Join([]string{freq.Format(first), freq.Format(last)}, "..")
}
