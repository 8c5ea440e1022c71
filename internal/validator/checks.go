package validator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-forex-centuries/internal/models"
	"github.com/johnayoung/go-forex-centuries/internal/output"
	"github.com/johnayoung/go-forex-centuries/internal/sources"
)

// coreTables must be published by every successful build. The remaining fixed
// tables depend on optional sources and are only warned about when absent.
var coreTables = map[string]bool{
	output.DailyNormalized:  true,
	output.YearlyPanel:      true,
	output.DailyReturns:     true,
	output.DailyVolatility:  true,
	output.YearlyVolatility: true,
}

var wideFrequency = map[string]models.Frequency{
	output.DailyNormalizedWide: models.FrequencyDaily,
	output.YearlyPanelWide:     models.FrequencyYearly,
	output.YearlyReturnsWide:   models.FrequencyYearly,
}

var hundred = decimal.NewFromInt(100)

// columns resolves the positions of named columns
func columns(t output.Table, names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = t.Column(n)
		if idx[i] < 0 {
			return nil, fmt.Errorf("%s: missing column %s", t.Name, n)
		}
	}
	return idx, nil
}

func field(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// parseCell reads a numeric cell; an empty cell is NaN
func parseCell(raw string) (float64, error) {
	if raw == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(raw, 64)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// checkSchema verifies fixed headers and the presence of wide tables and matrices
func (r *Runner) checkSchema(_ context.Context, tables *tableSet, b *models.CheckResultBuilder) error {
	for _, name := range sortedKeys(output.Headers) {
		want := output.Headers[name]
		t, exists, err := tables.get(name)
		switch {
		case !exists:
			severity := models.SeverityWarning
			if coreTables[name] {
				severity = models.SeverityError
			}
			b.AddFinding(models.NewFinding(models.FindingMissingTable, severity, name, "missing file: "+name))
		case err != nil:
			b.AddFinding(models.NewFinding(models.FindingSchema, models.SeverityError, name, err.Error()))
		case !equalStrings(t.Header, want):
			b.AddFinding(models.NewFinding(models.FindingSchema, models.SeverityError, name,
				fmt.Sprintf("%s: expected columns %v, got %v", name, want, t.Header)))
		default:
			b.AddPassed(name)
		}
	}

	for _, name := range sortedKeys(wideFrequency) {
		key := wideFrequency[name].KeyName()
		t, exists, err := tables.get(name)
		switch {
		case !exists:
			b.AddFinding(models.NewFinding(models.FindingMissingTable, models.SeverityError, name, "missing file: "+name))
		case err != nil:
			b.AddFinding(models.NewFinding(models.FindingSchema, models.SeverityError, name, err.Error()))
		case len(t.Header) == 0 || t.Header[0] != key:
			b.AddFinding(models.NewFinding(models.FindingSchema, models.SeverityError, name,
				fmt.Sprintf("%s: first column must be %s", name, key)))
		default:
			b.AddPassed(name)
		}
	}

	for _, name := range output.Matrices {
		if _, exists, _ := tables.get(name); !exists {
			b.AddFinding(models.NewFinding(models.FindingMissingTable, models.SeverityError, name, "missing file: "+name))
			continue
		}
		b.AddPassed(name)
	}
	return nil
}

// checkDuplicates rejects repeated keys in the normalized long tables
func (r *Runner) checkDuplicates(_ context.Context, tables *tableSet, b *models.CheckResultBuilder) error {
	targets := []struct {
		name string
		keys []string
	}{
		{output.DailyNormalized, []string{"date", "currency"}},
		{output.YearlyPanel, []string{"year", "country"}},
	}

	for _, tg := range targets {
		t, exists, err := tables.get(tg.name)
		if !exists {
			continue
		}
		if err != nil {
			return err
		}
		idx, err := columns(t, tg.keys...)
		if err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(t.Rows))
		dupes := 0
		for _, row := range t.Rows {
			parts := make([]string, len(idx))
			for i, c := range idx {
				parts[i] = field(row, c)
			}
			k := strings.Join(parts, "\x00")
			if _, ok := seen[k]; ok {
				dupes++
				continue
			}
			seen[k] = struct{}{}
		}

		if dupes > 0 {
			b.AddFinding(models.NewThresholdFinding(models.FindingDuplicate, models.SeverityError, tg.name,
				float64(dupes), 0, "%s: %d duplicate (%s) pairs", tg.name, dupes, strings.Join(tg.keys, ", ")))
			continue
		}
		b.AddPassed(fmt.Sprintf("%s: no duplicates (%d rows)", tg.name, len(t.Rows)))
	}
	return nil
}

// checkMissing flags sparse daily currencies and null panel rates
func (r *Runner) checkMissing(_ context.Context, tables *tableSet, b *models.CheckResultBuilder) error {
	if t, exists, err := tables.get(output.DailyNormalizedWide); exists {
		if err != nil {
			return err
		}
		total := len(t.Rows)
		flagged := 0
		for j := 1; j < len(t.Header) && total > 0; j++ {
			missing := 0
			for _, row := range t.Rows {
				if field(row, j) == "" {
					missing++
				}
			}
			share := float64(missing) / float64(total)
			if share > r.config.MissingThreshold {
				flagged++
				b.AddFinding(models.NewThresholdFinding(models.FindingMissing, models.SeverityWarning,
					output.DailyNormalizedWide, share, r.config.MissingThreshold,
					"daily %s: %.1f%% missing (%d/%d)", t.Header[j], share*100, missing, total))
			}
		}
		if flagged == 0 {
			b.AddPassed(output.DailyNormalizedWide)
		}
	}

	if t, exists, err := tables.get(output.YearlyPanel); exists {
		if err != nil {
			return err
		}
		idx, err := columns(t, "rate_per_usd")
		if err != nil {
			return err
		}
		nulls := 0
		for _, row := range t.Rows {
			if field(row, idx[0]) == "" {
				nulls++
			}
		}
		if nulls > 0 {
			b.AddFinding(models.NewThresholdFinding(models.FindingMissing, models.SeverityWarning,
				output.YearlyPanel, float64(nulls), 0, "yearly panel: %d null rate_per_usd values", nulls))
		} else {
			b.AddPassed(output.YearlyPanel)
		}
	}
	return nil
}

// checkOutliers flags implausibly large log returns
func (r *Runner) checkOutliers(_ context.Context, tables *tableSet, b *models.CheckResultBuilder) error {
	targets := []struct {
		name      string
		freq      models.Frequency
		entity    string
		threshold float64
	}{
		{output.DailyReturns, models.FrequencyDaily, "currency", r.config.DailyOutlierThreshold},
		{output.YearlyReturns, models.FrequencyYearly, "country", r.config.YearlyOutlierThreshold},
	}

	for _, tg := range targets {
		t, exists, err := tables.get(tg.name)
		if !exists {
			continue
		}
		if err != nil {
			return err
		}
		idx, err := columns(t, tg.freq.KeyName(), tg.entity, "log_return")
		if err != nil {
			return err
		}

		flagged := 0
		for n, row := range t.Rows {
			v, err := parseCell(field(row, idx[2]))
			if err != nil {
				return fmt.Errorf("%s row %d: %w", tg.name, n+2, err)
			}
			if math.Abs(v) > tg.threshold {
				flagged++
				b.AddFinding(models.NewThresholdFinding(models.FindingOutlier, models.SeverityWarning, tg.name,
					v, tg.threshold, "%s %s: log return = %.4f", field(row, idx[0]), field(row, idx[1]), v))
			}
		}
		if flagged == 0 {
			b.AddPassed(fmt.Sprintf("%s: no |return| > %g", tg.name, tg.threshold))
		}
	}
	return nil
}

type divergence struct {
	country string
	year    int
	mw, ci  float64
	share   decimal.Decimal
}

// checkCrossSource compares MeasuringWorth and Clio Infra where both observe a
// (country, year), relative to the Clio Infra value
func (r *Runner) checkCrossSource(ctx context.Context, _ *tableSet, b *models.CheckResultBuilder) error {
	if r.reader == nil || !r.reader.Exists(sources.MWRatesFile) || !r.reader.Exists(sources.CIRatesFile) {
		b.AddFinding(models.NewFinding(models.FindingDivergence, models.SeverityWarning, "",
			"cannot check: source files missing"))
		return nil
	}

	mw, err := r.reader.ReadMW(ctx)
	if err != nil {
		return err
	}
	ci, err := r.reader.ReadCI(ctx)
	if err != nil {
		return err
	}

	type cellKey struct {
		country string
		year    int
	}
	ciValues := make(map[cellKey]float64)
	for _, s := range ci {
		for _, p := range s.Points {
			if p.Observed {
				ciValues[cellKey{s.Entity, p.Time.Year()}] = p.Value
			}
		}
	}

	threshold := decimal.NewFromFloat(r.config.DivergenceThreshold)
	overlap := 0
	var divs []divergence
	for _, s := range mw {
		for _, p := range s.Points {
			if !p.Observed {
				continue
			}
			c, ok := ciValues[cellKey{s.Entity, p.Time.Year()}]
			if !ok {
				continue
			}
			overlap++
			if c == 0 {
				continue
			}
			ciDec := decimal.NewFromFloat(c)
			share := decimal.NewFromFloat(p.Value).Sub(ciDec).Div(ciDec).Abs()
			if share.GreaterThan(threshold) {
				divs = append(divs, divergence{country: s.Entity, year: p.Time.Year(), mw: p.Value, ci: c, share: share})
			}
		}
	}

	switch {
	case overlap == 0:
		b.AddPassed("no overlapping MW/CI data points")
		return nil
	case len(divs) == 0:
		b.AddPassed(fmt.Sprintf("MW vs CI: all %d overlapping values within %s%%", overlap, threshold.Mul(hundred).String()))
		return nil
	}

	b.AddFinding(models.Finding{
		Type:     models.FindingDivergence,
		Table:    sources.MWRatesFile,
		Severity: models.SeverityWarning,
		Description: fmt.Sprintf("MW vs CI: %d pairs diverge >%s%% (out of %d overlap)",
			len(divs), threshold.Mul(hundred).String(), overlap),
		Value:     decimal.NewFromInt(int64(len(divs))),
		Threshold: threshold,
	})

	sort.Slice(divs, func(i, j int) bool {
		if c := divs[i].share.Cmp(divs[j].share); c != 0 {
			return c > 0
		}
		if divs[i].country != divs[j].country {
			return divs[i].country < divs[j].country
		}
		return divs[i].year < divs[j].year
	})
	for _, d := range divs[:min(len(divs), r.config.TopDivergences)] {
		b.AddFinding(models.Finding{
			Type:     models.FindingDivergence,
			Table:    sources.MWRatesFile,
			Severity: models.SeverityWarning,
			Description: fmt.Sprintf("%s %d: MW=%.4f, CI=%.4f (%s%%)",
				d.country, d.year, d.mw, d.ci, d.share.Mul(hundred).StringFixed(1)),
			Value:     d.share,
			Threshold: threshold,
		})
	}
	return nil
}

// checkCompleteness verifies the expected currencies and countries are published
func (r *Runner) checkCompleteness(_ context.Context, tables *tableSet, b *models.CheckResultBuilder) error {
	targets := []struct {
		name     string
		column   string
		expected []string
		severity models.SeverityLevel
		label    string
	}{
		{output.DailyNormalized, "currency", r.config.ExpectedDailyCurrencies, models.SeverityError, "daily data missing currencies"},
		{output.YearlyVolatility, "country", r.config.ExpectedCountries, models.SeverityWarning, "yearly vol stats missing countries"},
	}

	for _, tg := range targets {
		t, exists, err := tables.get(tg.name)
		if !exists {
			continue
		}
		if err != nil {
			return err
		}
		idx, err := columns(t, tg.column)
		if err != nil {
			return err
		}

		present := make(map[string]struct{})
		for _, row := range t.Rows {
			present[field(row, idx[0])] = struct{}{}
		}
		var missing []string
		for _, e := range tg.expected {
			if _, ok := present[e]; !ok {
				missing = append(missing, e)
			}
		}
		sort.Strings(missing)

		if len(missing) > 0 {
			b.AddFinding(models.NewThresholdFinding(models.FindingIncomplete, tg.severity, tg.name,
				float64(len(missing)), 0, "%s: %s", tg.label, strings.Join(missing, ", ")))
			continue
		}
		b.AddPassed(fmt.Sprintf("%s: all %d expected present", tg.name, len(tg.expected)))
	}
	return nil
}

// checkCorrelation verifies the matrices are square, symmetric and have a unit diagonal
func (r *Runner) checkCorrelation(_ context.Context, tables *tableSet, b *models.CheckResultBuilder) error {
	for _, name := range output.Matrices {
		t, exists, err := tables.get(name)
		if !exists {
			continue
		}
		if err != nil {
			b.AddFinding(models.NewFinding(models.FindingCorrelation, models.SeverityError, name, err.Error()))
			continue
		}

		problems := matrixProblems(t, r.config.CorrelationTolerance)
		for _, p := range problems {
			b.AddFinding(models.NewFinding(models.FindingCorrelation, models.SeverityError, name, name+": "+p))
		}
		if len(problems) == 0 {
			b.AddPassed(name)
		}
	}
	return nil
}

func matrixProblems(t output.Table, tol float64) []string {
	if len(t.Header) == 0 {
		return []string{"empty header"}
	}
	entities := t.Header[1:]
	n := len(entities)
	if len(t.Rows) != n {
		return []string{fmt.Sprintf("not square: %d rows, %d columns", len(t.Rows), n)}
	}

	var problems []string
	values := make([][]float64, n)
	for i, row := range t.Rows {
		if field(row, 0) != entities[i] {
			problems = append(problems, fmt.Sprintf("row %d is %q, column is %q", i+1, field(row, 0), entities[i]))
		}
		values[i] = make([]float64, n)
		for j := range values[i] {
			v, err := parseCell(field(row, j+1))
			if err != nil {
				problems = append(problems, fmt.Sprintf("cell (%s, %s): %v", entities[i], entities[j], err))
				v = math.NaN()
			}
			values[i][j] = v
		}
	}
	if len(problems) > 0 {
		return problems
	}

	for i := 0; i < n; i++ {
		if d := values[i][i]; math.IsNaN(d) || math.Abs(d-1) > tol {
			problems = append(problems, fmt.Sprintf("diagonal %s = %v", entities[i], d))
		}
		for j := i + 1; j < n; j++ {
			a, c := values[i][j], values[j][i]
			if math.IsNaN(a) != math.IsNaN(c) || (!math.IsNaN(a) && math.Abs(a-c) > tol) {
				problems = append(problems, fmt.Sprintf("asymmetric at (%s, %s)", entities[i], entities[j]))
			}
		}
	}
	return problems
}

// checkTranspose verifies each normalized long table and its wide pivot hold
// the same (time, entity, value) triples
func (r *Runner) checkTranspose(_ context.Context, tables *tableSet, b *models.CheckResultBuilder) error {
	pairs := []struct {
		long, wide string
		freq       models.Frequency
		entity     string
	}{
		{output.DailyNormalized, output.DailyNormalizedWide, models.FrequencyDaily, "currency"},
		{output.YearlyPanel, output.YearlyPanelWide, models.FrequencyYearly, "country"},
	}

	for _, p := range pairs {
		long, longExists, err := tables.get(p.long)
		if err != nil {
			return err
		}
		wide, wideExists, err := tables.get(p.wide)
		if err != nil {
			return err
		}
		if !longExists || !wideExists {
			continue
		}

		mismatch, err := transposeMismatch(long, wide, p.freq, p.entity)
		if err != nil {
			return err
		}
		if mismatch != "" {
			b.AddFinding(models.NewFinding(models.FindingTranspose, models.SeverityError, p.wide,
				fmt.Sprintf("%s and %s disagree: %s", p.long, p.wide, mismatch)))
			continue
		}
		b.AddPassed(p.wide)
	}
	return nil
}

type tripleKey struct {
	time   string
	entity string
}

func transposeMismatch(long, wide output.Table, freq models.Frequency, entityColumn string) (string, error) {
	idx, err := columns(long, freq.KeyName(), entityColumn, "rate_per_usd")
	if err != nil {
		return "", err
	}

	cells := make(map[tripleKey]float64, len(long.Rows))
	for n, row := range long.Rows {
		v, err := parseCell(field(row, idx[2]))
		if err != nil {
			return "", fmt.Errorf("%s row %d: %w", long.Name, n+2, err)
		}
		if math.IsNaN(v) {
			continue
		}
		t, err := freq.Parse(field(row, idx[0]))
		if err != nil {
			return "", fmt.Errorf("%s row %d: %w", long.Name, n+2, err)
		}
		cells[tripleKey{freq.Format(t), field(row, idx[1])}] = v
	}

	w, err := output.WideFromTable(wide, freq)
	if err != nil {
		return "", err
	}

	onlyWide, different, matched := 0, 0, 0
	for _, lr := range output.WideToLong(w) {
		v, ok := cells[tripleKey{freq.Format(lr.Time), lr.Entity}]
		switch {
		case !ok:
			onlyWide++
		case !closeEnough(v, lr.Value):
			different++
		default:
			matched++
		}
	}
	onlyLong := len(cells) - matched - different

	if onlyWide == 0 && onlyLong == 0 && different == 0 {
		return "", nil
	}
	return fmt.Sprintf("%d cells only in long, %d only in wide, %d different values", onlyLong, onlyWide, different), nil
}

func closeEnough(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= 1e-12*scale
}
