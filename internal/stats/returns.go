package stats

import (
	"math"
	"sort"

	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// MaxNominalStep is the largest step between adjacent observations that still
// counts as one nominal period. Daily steps are calendar days.
func MaxNominalStep(freq models.Frequency, dailyMaxStepDays int) int {
	if freq == models.FrequencyDaily {
		return dailyMaxStepDays
	}
	return 1
}

// LogReturns computes ln(v_t / v_{t-1}) between adjacent observations. The first
// observation has no return; steps longer than maxStep set SpansGap.
func LogReturns(s models.NormalizedSeries, maxStep int) []models.ReturnRecord {
	if len(s.Points) < 2 {
		return nil
	}
	out := make([]models.ReturnRecord, 0, len(s.Points)-1)
	for i := 1; i < len(s.Points); i++ {
		prev, cur := s.Points[i-1], s.Points[i]
		out = append(out, models.ReturnRecord{
			Entity:    s.Entity,
			Time:      cur.Time,
			LogReturn: math.Log(cur.Value / prev.Value),
			SpansGap:  s.Frequency.Steps(prev.Time, cur.Time) > maxStep,
		})
	}
	return out
}

// SortReturns orders returns by time, then entity
func SortReturns(rs []models.ReturnRecord) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].Time.Equal(rs[j].Time) {
			return rs[i].Time.Before(rs[j].Time)
		}
		return rs[i].Entity < rs[j].Entity
	})
}

// GroupReturns splits returns per entity, keeping time order, and returns the
// entity names sorted.
func GroupReturns(rs []models.ReturnRecord) (map[string][]models.ReturnRecord, []string) {
	groups := make(map[string][]models.ReturnRecord)
	for _, r := range rs {
		groups[r.Entity] = append(groups[r.Entity], r)
	}
	entities := make([]string, 0, len(groups))
	for e, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].Time.Before(g[j].Time) })
		entities = append(entities, e)
	}
	sort.Strings(entities)
	return groups, entities
}

// usableReturns drops gap-spanning returns when exclude is set
func usableReturns(rs []models.ReturnRecord, exclude bool) []models.ReturnRecord {
	if !exclude {
		return rs
	}
	out := make([]models.ReturnRecord, 0, len(rs))
	for _, r := range rs {
		if !r.SpansGap {
			out = append(out, r)
		}
	}
	return out
}

func returnValues(rs []models.ReturnRecord) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = r.LogReturn
	}
	return out
}
