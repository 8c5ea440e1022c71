package pipeline

import (
	"github.com/johnayoung/go-forex-centuries/internal/assets"
	"github.com/johnayoung/go-forex-centuries/internal/gold"
	"github.com/johnayoung/go-forex-centuries/internal/models"
	"github.com/johnayoung/go-forex-centuries/internal/output"
	"github.com/johnayoung/go-forex-centuries/internal/regime"
	"github.com/johnayoung/go-forex-centuries/internal/stats"
)

// Table renderers. Each maps a stage result onto the fixed header of its
// published table.

func newTable(name string, rows int) output.Table {
	return output.Table{Name: name, Header: output.Header(name), Rows: make([][]string, 0, rows)}
}

func panelTable(rows []models.UnifiedPanelRow) output.Table {
	t := newTable(output.YearlyPanel, len(rows))
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			models.FrequencyYearly.Format(r.Time),
			r.Entity,
			output.Float(r.RatePerUSD, output.FullPrecision),
			string(r.Source),
		})
	}
	return t
}

func returnsTable(name string, freq models.Frequency, rows []models.ReturnRecord, precision int32) output.Table {
	t := newTable(name, len(rows))
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			freq.Format(r.Time),
			r.Entity,
			output.Float(r.LogReturn, precision),
			output.Bool(r.SpansGap),
		})
	}
	return t
}

func returnsLong(rows []models.ReturnRecord) []output.LongRow {
	out := make([]output.LongRow, len(rows))
	for i, r := range rows {
		out[i] = output.LongRow{Time: r.Time, Entity: r.Entity, Value: r.LogReturn}
	}
	return out
}

func seriesLong(series []models.NormalizedSeries) []output.LongRow {
	var out []output.LongRow
	for _, s := range series {
		for _, p := range s.Points {
			out = append(out, output.LongRow{Time: p.Time, Entity: s.Entity, Value: p.Value})
		}
	}
	return out
}

func panelLong(rows []models.UnifiedPanelRow) []output.LongRow {
	out := make([]output.LongRow, len(rows))
	for i, r := range rows {
		out[i] = output.LongRow{Time: r.Time, Entity: r.Entity, Value: r.RatePerUSD}
	}
	return out
}

func dailyVolatilityTable(rows []models.VolatilityStats, precision int32) output.Table {
	t := newTable(output.DailyVolatility, len(rows))
	f := models.FrequencyDaily
	for _, v := range rows {
		t.Rows = append(t.Rows, []string{
			v.Entity,
			output.Int(v.N),
			f.Format(v.Start),
			f.Format(v.End),
			output.Float(v.Volatility, precision),
			output.Float(v.AnnualizedVolatility, precision),
			output.Float(v.ExcessKurtosis, precision),
			output.Float(v.Skewness, precision),
			output.Float(v.Max, precision),
			output.Float(v.Min, precision),
			output.Int(v.TailEvents),
			output.Float(v.ExpectedNormal, precision),
			output.Float(v.TailRatio, precision),
		})
	}
	return t
}

func yearlyVolatilityTable(rows []models.VolatilityStats, precision int32) output.Table {
	t := newTable(output.YearlyVolatility, len(rows))
	f := models.FrequencyYearly
	for _, v := range rows {
		t.Rows = append(t.Rows, []string{
			v.Entity,
			output.Int(v.N),
			f.Format(v.Start),
			f.Format(v.End),
			output.Float(v.Mean, precision),
			output.Float(v.Volatility, precision),
			output.Float(v.ExcessKurtosis, precision),
			output.Float(v.Skewness, precision),
			output.Float(v.Max, precision),
			output.Float(v.Min, precision),
			output.Int(v.TailEvents),
			output.Float(v.ExpectedNormal, precision),
			output.Float(v.TailRatio, precision),
		})
	}
	return t
}

func rollingTable(points []stats.RollingPoint, precision int32) output.Table {
	t := newTable(output.RollingVolatility, len(points))
	for _, p := range points {
		t.Rows = append(t.Rows, []string{
			models.FrequencyDaily.Format(p.Time),
			p.Entity,
			output.Float(p.Volatility, precision),
		})
	}
	return t
}

func momentumTable(signals []stats.MomentumSignal, precision int32) output.Table {
	t := newTable(output.MomentumSignals, len(signals))
	for _, s := range signals {
		t.Rows = append(t.Rows, []string{
			models.FrequencyDaily.Format(s.Time),
			s.Entity,
			s.Label,
			output.Float(s.Momentum, precision),
		})
	}
	return t
}

func reversalTable(reversals []stats.Reversal, precision int32) output.Table {
	t := newTable(output.MomentumReversals, len(reversals))
	for _, r := range reversals {
		t.Rows = append(t.Rows, []string{
			models.FrequencyDaily.Format(r.Time),
			r.Entity,
			output.Float(r.Reversal, precision),
			output.Float(r.MomLong, precision),
			output.Float(r.MomShort, precision),
		})
	}
	return t
}

func sigmaTable(events []stats.SigmaEvent, precision int32) output.Table {
	t := newTable(output.SigmaEvents, len(events))
	for _, e := range events {
		t.Rows = append(t.Rows, []string{
			e.Entity,
			output.Int(e.N),
			output.Float(e.Level, output.FullPrecision),
			output.Float(e.Threshold, precision),
			output.Int(e.Observed),
			output.Float(e.Expected, precision),
			output.Float(e.Ratio, precision),
		})
	}
	return t
}

func regimeTable(years []regime.YearlyRegime) output.Table {
	t := newTable(output.RegimeClassification, len(years))
	for _, y := range years {
		t.Rows = append(t.Rows, []string{
			output.Int(y.Year),
			y.Entity,
			output.Int(y.Coarse),
			y.Label,
			output.Int(y.Changes),
		})
	}
	return t
}

func conditionalTable(name string, rows []regime.ConditionalStat, precision int32) output.Table {
	t := newTable(name, len(rows))
	for _, c := range rows {
		t.Rows = append(t.Rows, []string{
			c.Label,
			output.Int(c.N),
			output.Int(c.NCountries),
			output.Float(c.Mean, precision),
			output.Float(c.Volatility, precision),
			output.Float(c.ExcessKurtosis, precision),
			output.Float(c.Skewness, precision),
			output.Float(c.Max, precision),
			output.Float(c.Min, precision),
		})
	}
	return t
}

func goldYearlyTable(rows []gold.YearlyRow, precision int32) output.Table {
	t := newTable(output.GoldYearly, len(rows))
	for _, g := range rows {
		t.Rows = append(t.Rows, []string{
			output.Int(g.Year),
			output.Int(g.Decade),
			g.Country,
			output.Float(g.GoldLocal, precision),
			output.Float(g.GramsPer100, precision),
			output.Float(g.InflationPct, precision),
			output.Float(g.LogReturn, precision),
			output.Float(g.CPIInflationPct, precision),
			output.Float(g.GapPct, precision),
			output.Float(g.CumulativeRetainedPct, precision),
			output.Int(g.BaseYear),
		})
	}
	return t
}

func goldMonthlyTable(rows []gold.MonthlyRow, precision int32) output.Table {
	t := newTable(output.GoldMonthly, len(rows))
	for _, g := range rows {
		t.Rows = append(t.Rows, []string{
			models.FrequencyMonthly.Format(g.Time),
			g.Currency,
			string(g.Source),
			output.Float(g.RatePerUSD, precision),
			output.Float(g.GoldUSD, precision),
			output.Float(g.GoldLocal, precision),
			output.Float(g.GramsPer100, precision),
			output.Float(g.MoMPct, precision),
			output.Float(g.LogReturn, precision),
			output.Float(g.YoYPct, precision),
			output.Float(g.CumulativeRetainedPct, precision),
		})
	}
	return t
}

func assetReturnsTable(rows []assets.ReturnStats, precision int32) output.Table {
	t := newTable(output.AssetReturns, len(rows))
	for _, a := range rows {
		t.Rows = append(t.Rows, []string{
			a.Country,
			string(a.Class),
			output.Int(a.NYears),
			output.Int(a.StartYear),
			output.Int(a.EndYear),
			output.Float(a.MeanNominalReturn, precision),
			output.Float(a.MeanRealReturn, precision),
			output.Float(a.Volatility, precision),
			output.Float(a.SharpeRatio, precision),
			output.Float(a.ExcessKurtosis, precision),
			output.Float(a.Skewness, precision),
			output.Float(a.MaxReturn, precision),
			output.Float(a.MinReturn, precision),
		})
	}
	return t
}

func stockBondTable(points []assets.StockBondPoint, precision int32) output.Table {
	t := newTable(output.StockBondCorrelation, len(points))
	for _, p := range points {
		t.Rows = append(t.Rows, []string{
			output.Int(p.Year),
			p.Country,
			output.Float(p.Correlation, precision),
		})
	}
	return t
}

// entityCount counts the distinct values of the entity column of a rendered table
func entityCount(t output.Table, column int) int {
	seen := make(map[string]struct{})
	for _, row := range t.Rows {
		if column < len(row) {
			seen[row[column]] = struct{}{}
		}
	}
	return len(seen)
}
