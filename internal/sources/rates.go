package sources

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// fredSkipFiles are broad USD index series, not exchange rates
var fredSkipFiles = map[string]struct{}{
	"fred_usd_broad_index.csv": {},
	"fred_usd_major_index.csv": {},
}

// ReadFREDDaily reads every fred_<ccy>_usd.csv file. Each file is an independent
// series: a broken file is reported and the others are still returned.
// A missing directory yields no series and a single error.
func (r *Reader) ReadFREDDaily(ctx context.Context) ([]models.RawSeries, []error) {
	dir := r.Path(FREDDailyDir)
	if _, err := os.Stat(dir); err != nil {
		return nil, []error{fmt.Errorf("FRED source directory missing: %w", err)}
	}

	files, err := filepath.Glob(filepath.Join(dir, "fred_*.csv"))
	if err != nil {
		return nil, []error{fmt.Errorf("failed to list FRED files: %w", err)}
	}
	sort.Strings(files)

	var (
		series []models.RawSeries
		errs   []error
	)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return series, append(errs, err)
		}

		name := filepath.Base(f)
		if _, skip := fredSkipFiles[name]; skip {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(name, ".csv"), "_")
		if len(parts) < 2 || parts[1] == "" {
			r.logger.Warn("skipping malformed FRED filename", "file", name)
			continue
		}
		currency := strings.ToUpper(parts[1])

		s, err := r.readFREDFile(ctx, path.Join(FREDDailyDir, name), currency)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		series = append(series, s)
	}

	r.logger.Info("read FRED daily files", "series", len(series), "failed", len(errs))
	return series, errs
}

func (r *Reader) readFREDFile(ctx context.Context, rel, currency string) (models.RawSeries, error) {
	source := string(models.SourceFRED)
	file := path.Base(rel)
	s := models.RawSeries{Source: models.SourceFRED, Entity: currency, Frequency: models.FrequencyDaily, File: rel}

	records, err := r.readCSV(ctx, rel)
	if err != nil {
		return s, err
	}
	if len(records) == 0 {
		return s, apperrors.NewMissingColumn(source, file, "observation_date")
	}

	head := records[0]
	if len(head) < 2 {
		return s, apperrors.NewMissingColumn(source, file, "series")
	}
	dateCol := strings.ToLower(strings.TrimSpace(head[0]))
	if dateCol != "observation_date" && dateCol != "date" {
		return s, apperrors.NewMissingColumn(source, file, "observation_date")
	}
	seriesCol := strings.TrimSpace(head[1])

	s.Points = make([]models.RawObservation, 0, len(records)-1)
	for i, row := range records[1:] {
		rowNum := i + 1
		rawDate := cell(row, 0)
		if rawDate == "" {
			continue
		}
		t, err := models.FrequencyDaily.Parse(rawDate)
		if err != nil {
			return s, apperrors.NewBadTime(source, file, head[0], rowNum, rawDate)
		}
		v, observed, err := parseNumber(source, file, seriesCol, rowNum, cell(row, 1))
		if err != nil {
			return s, err
		}
		s.Points = append(s.Points, models.RawObservation{Time: t, Value: v, Observed: observed})
	}
	return s, nil
}

// ReadWideYearly reads a wide yearly table: a year column plus one column per
// entity. Series are returned sorted by entity.
func (r *Reader) ReadWideYearly(ctx context.Context, src models.SourceTag, rel string) ([]models.RawSeries, error) {
	source := string(src)
	file := path.Base(rel)

	records, err := r.readCSV(ctx, rel)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewMissingColumn(source, file, yearColumn)
	}

	head := records[0]
	idx, err := newHeader(head).require(source, file, yearColumn)
	if err != nil {
		return nil, err
	}
	yearIdx := idx[0]

	type column struct {
		pos    int
		series *models.RawSeries
	}
	var cols []column
	for i, name := range head {
		name = strings.TrimSpace(name)
		if i == yearIdx || name == "" {
			continue
		}
		cols = append(cols, column{pos: i, series: &models.RawSeries{
			Source: src, Entity: name, Frequency: models.FrequencyYearly, File: rel,
		}})
	}

	for i, row := range records[1:] {
		rowNum := i + 1
		rawYear := cell(row, yearIdx)
		if rawYear == "" {
			continue
		}
		t, err := models.FrequencyYearly.Parse(rawYear)
		if err != nil {
			return nil, apperrors.NewBadTime(source, file, yearColumn, rowNum, rawYear)
		}
		for _, c := range cols {
			v, observed, err := parseNumber(source, file, c.series.Entity, rowNum, cell(row, c.pos))
			if err != nil {
				return nil, err
			}
			if !observed {
				continue
			}
			c.series.Points = append(c.series.Points, models.RawObservation{Time: t, Value: v, Observed: true})
		}
	}

	out := make([]models.RawSeries, 0, len(cols))
	for _, c := range cols {
		if len(c.series.Points) > 0 {
			out = append(out, *c.series)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })

	r.logger.Debug("read wide yearly table", "source", source, "file", rel, "entities", len(out))
	return out, nil
}

// ReadMW reads the MeasuringWorth exchange rates
func (r *Reader) ReadMW(ctx context.Context) ([]models.RawSeries, error) {
	return r.ReadWideYearly(ctx, models.SourceMW, MWRatesFile)
}

// ReadCI reads the Clio Infra exchange rates per USD
func (r *Reader) ReadCI(ctx context.Context) ([]models.RawSeries, error) {
	return r.ReadWideYearly(ctx, models.SourceCI, CIRatesFile)
}

// ReadCIGBP reads the Clio Infra exchange rates per GBP
func (r *Reader) ReadCIGBP(ctx context.Context) ([]models.RawSeries, error) {
	return r.ReadWideYearly(ctx, models.SourceCI, CIGBPRatesFile)
}

// ReadCIInflation reads the Clio Infra CPI inflation table (percent)
func (r *Reader) ReadCIInflation(ctx context.Context) ([]models.RawSeries, error) {
	return r.ReadWideYearly(ctx, models.SourceCI, CIInflationFile)
}

// ReadGMD reads the long Global Macro Database table. Rows without a year or
// rate are dropped, as are years after now.
func (r *Reader) ReadGMD(ctx context.Context, now time.Time) ([]models.RawSeries, error) {
	source := string(models.SourceGMD)
	file := path.Base(GMDFile)

	records, err := r.readCSV(ctx, GMDFile)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewMissingColumn(source, file, "countryname")
	}
	idx, err := newHeader(records[0]).require(source, file, "countryname", yearColumn, "USDfx")
	if err != nil {
		return nil, err
	}
	countryIdx, yIdx, rateIdx := idx[0], idx[1], idx[2]

	byCountry := make(map[string]*models.RawSeries)
	dropped := 0
	for i, row := range records[1:] {
		rowNum := i + 1
		country := cell(row, countryIdx)
		rawYear := cell(row, yIdx)
		if country == "" {
			continue
		}
		if _, na := naTokens[rawYear]; na {
			continue
		}
		t, err := models.FrequencyYearly.Parse(rawYear)
		if err != nil {
			return nil, apperrors.NewBadTime(source, file, yearColumn, rowNum, rawYear)
		}
		v, observed, err := parseNumber(source, file, "USDfx", rowNum, cell(row, rateIdx))
		if err != nil {
			return nil, err
		}
		if !observed {
			continue
		}
		if t.Year() > now.Year() {
			dropped++
			continue
		}

		s, ok := byCountry[country]
		if !ok {
			s = &models.RawSeries{Source: models.SourceGMD, Entity: country, Frequency: models.FrequencyYearly, File: GMDFile}
			byCountry[country] = s
		}
		s.Points = append(s.Points, models.RawObservation{Time: t, Value: v, Observed: true})
	}

	if dropped > 0 {
		r.logger.Info("dropped GMD projections", "rows", dropped, "after_year", now.Year())
	}
	return collectSeries(byCountry), nil
}

// ReadIMFMonthly reads the IMF exchange rates and averages them per
// (currency, month). Rows may be daily or monthly.
func (r *Reader) ReadIMFMonthly(ctx context.Context) ([]models.RawSeries, error) {
	source := string(models.SourceIMF)
	file := path.Base(IMFFile)

	records, err := r.readCSV(ctx, IMFFile)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewMissingColumn(source, file, "Date")
	}
	idx, err := newHeader(records[0]).require(source, file, "Date", "Currency", "Rate")
	if err != nil {
		return nil, err
	}
	dateIdx, ccyIdx, rateIdx := idx[0], idx[1], idx[2]

	acc := newMonthlyAccumulator()
	for i, row := range records[1:] {
		rowNum := i + 1
		ccy := strings.ToUpper(cell(row, ccyIdx))
		rawDate := cell(row, dateIdx)
		if ccy == "" || rawDate == "" {
			continue
		}
		t, err := parseMonthDate(rawDate)
		if err != nil {
			return nil, apperrors.NewBadTime(source, file, "Date", rowNum, rawDate)
		}
		v, observed, err := parseNumber(source, file, "Rate", rowNum, cell(row, rateIdx))
		if err != nil {
			return nil, err
		}
		if observed {
			acc.add(ccy, t, v)
		}
	}
	return acc.series(models.SourceIMF, IMFFile), nil
}

// ReadGoldMonthly reads the monthly USD gold price, averaged per month
func (r *Reader) ReadGoldMonthly(ctx context.Context) (models.RawSeries, error) {
	source := string(models.SourceGold)
	file := path.Base(GoldMonthlyFile)

	records, err := r.readCSV(ctx, GoldMonthlyFile)
	if err != nil {
		return models.RawSeries{}, err
	}
	if len(records) == 0 {
		return models.RawSeries{}, apperrors.NewMissingColumn(source, file, "Date")
	}
	idx, err := newHeader(records[0]).require(source, file, "Date", "Price")
	if err != nil {
		return models.RawSeries{}, err
	}

	acc := newMonthlyAccumulator()
	for i, row := range records[1:] {
		rowNum := i + 1
		rawDate := cell(row, idx[0])
		if rawDate == "" {
			continue
		}
		t, err := parseMonthDate(rawDate)
		if err != nil {
			return models.RawSeries{}, apperrors.NewBadTime(source, file, "Date", rowNum, rawDate)
		}
		v, observed, err := parseNumber(source, file, "Price", rowNum, cell(row, idx[1]))
		if err != nil {
			return models.RawSeries{}, err
		}
		if observed {
			acc.add("gold_usd", t, v)
		}
	}

	out := acc.series(models.SourceGold, GoldMonthlyFile)
	if len(out) == 0 {
		return models.RawSeries{Source: models.SourceGold, Entity: "gold_usd", Frequency: models.FrequencyMonthly, File: GoldMonthlyFile}, nil
	}
	return out[0], nil
}

// parseMonthDate accepts full dates and bare year-months
func parseMonthDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006-01-02 15:04:05", "01/02/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return models.FrequencyMonthly.Truncate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid month date %q", raw)
}

func collectSeries(m map[string]*models.RawSeries) []models.RawSeries {
	out := make([]models.RawSeries, 0, len(m))
	for _, s := range m {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

// monthlyAccumulator averages observations per (entity, month)
type monthlyAccumulator struct {
	sums map[string]map[int]*monthSum
}

type monthSum struct {
	sum float64
	n   int
}

func newMonthlyAccumulator() *monthlyAccumulator {
	return &monthlyAccumulator{sums: make(map[string]map[int]*monthSum)}
}

func (a *monthlyAccumulator) add(entity string, t time.Time, v float64) {
	months, ok := a.sums[entity]
	if !ok {
		months = make(map[int]*monthSum)
		a.sums[entity] = months
	}
	k := models.MonthIndex(t)
	ms, ok := months[k]
	if !ok {
		ms = &monthSum{}
		months[k] = ms
	}
	ms.sum += v
	ms.n++
}

func (a *monthlyAccumulator) series(src models.SourceTag, file string) []models.RawSeries {
	m := make(map[string]*models.RawSeries, len(a.sums))
	for entity, months := range a.sums {
		keys := make([]int, 0, len(months))
		for k := range months {
			keys = append(keys, k)
		}
		sort.Ints(keys)

		s := &models.RawSeries{Source: src, Entity: entity, Frequency: models.FrequencyMonthly, File: file}
		s.Points = make([]models.RawObservation, len(keys))
		for i, k := range keys {
			ms := months[k]
			s.Points[i] = models.RawObservation{Time: models.MonthFromIndex(k), Value: ms.sum / float64(ms.n), Observed: true}
		}
		m[entity] = s
	}
	return collectSeries(m)
}
