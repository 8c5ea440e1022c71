package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/go-forex-centuries/internal/assets"
	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/gold"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/merge"
	"github.com/johnayoung/go-forex-centuries/internal/metrics"
	"github.com/johnayoung/go-forex-centuries/internal/models"
	"github.com/johnayoung/go-forex-centuries/internal/normalize"
	"github.com/johnayoung/go-forex-centuries/internal/output"
	"github.com/johnayoung/go-forex-centuries/internal/regime"
	"github.com/johnayoung/go-forex-centuries/internal/sources"
	"github.com/johnayoung/go-forex-centuries/internal/stats"
)

// run holds the components and the materialized results of one build
type run struct {
	builder   *Builder
	runID     string
	startedAt time.Time
	logger    *logger.ComponentLogger
	precision int32

	classifier *apperrors.ErrorClassifier
	issues     *apperrors.Report
	recorder   *metrics.Recorder
	reader     *sources.Reader
	writer     *output.Writer
	normalizer *normalize.Normalizer
	panelMerge *merge.Merger
	engine     *stats.Engine
	regimes    *regime.Analyzer
	goldCalc   *gold.Calculator
	assetCalc  *assets.Analyzer

	skipped      []string
	sourceSeries map[models.SourceTag]int

	rawDaily         []models.RawSeries
	rawYearly        []models.RawSeries
	daily            []models.NormalizedSeries
	yearly           []models.NormalizedSeries
	panel            []models.UnifiedPanelRow
	dailyReturns     []models.ReturnRecord
	yearlyReturns    []models.ReturnRecord
	dailyVolatility  []models.VolatilityStats
	yearlyVolatility []models.VolatilityStats
}

func newRun(b *Builder, cl *logger.ComponentLogger, runID string) (*run, error) {
	cfg := b.config
	workers := cfg.Pipeline.Workers

	panelMerge, err := merge.NewMerger(cfg.Merge.YearlyPriority, b.loggerMgr)
	if err != nil {
		return nil, fmt.Errorf("yearly priority: %w", err)
	}
	goldCalc, err := gold.NewCalculator(cfg.Gold, cfg.Merge.GoldPriority, cfg.Merge.MonthlyPriority, b.loggerMgr)
	if err != nil {
		return nil, err
	}

	classifier := apperrors.NewErrorClassifier(cfg.ErrorHandling, cl.With("run_id", runID))

	return &run{
		builder:      b,
		runID:        runID,
		startedAt:    b.now().UTC(),
		logger:       cl,
		precision:    cfg.Output.AnalysisPrecision,
		classifier:   classifier,
		issues:       apperrors.NewReport(classifier),
		recorder:     newRecorder(cfg, b.loggerMgr, runID),
		reader:       sources.NewReader(cfg.Paths.SourceDir, classifier, b.loggerMgr),
		writer:       output.NewWriter(cfg.Paths.DerivedDir, cfg.Output, b.loggerMgr),
		normalizer:   normalize.NewNormalizer(normalize.NewConventionTable(cfg.Quoting), b.loggerMgr),
		panelMerge:   panelMerge,
		engine:       stats.NewEngine(cfg.Stats, workers, b.loggerMgr),
		regimes:      regime.NewAnalyzer(cfg.Regime, cfg.Stats.RegimeMinObservations, workers, b.loggerMgr),
		goldCalc:     goldCalc,
		assetCalc:    assets.NewAnalyzer(cfg.Stats, workers, b.loggerMgr),
		sourceSeries: make(map[models.SourceTag]int),
	}, nil
}

// issue records an isolated failure or warning and keeps the build going
func (r *run) issue(ctx context.Context, err error, component, operation string) {
	ce := r.issues.Add(err, component, operation)
	if ce == nil {
		return
	}
	r.recorder.RecordIssue(component, string(ce.Type))
	if ce.Fatal() {
		r.logger.ErrorWithContext(ctx, "isolated failure", err, "component", component, "operation", operation)
		return
	}
	r.logger.DebugWithContext(ctx, "warning recorded", "component", component, "operation", operation, "error", err.Error())
}

// issueAll records every error of a batch
func (r *run) issueAll(ctx context.Context, errs []error, component, operation string) {
	for _, err := range errs {
		r.issue(ctx, err, component, operation)
	}
}

// skip notes a stage left out because an optional source file is absent
func (r *run) skip(ctx context.Context, stage, file string) {
	r.skipped = append(r.skipped, fmt.Sprintf("%s: %s missing", stage, file))
	r.logger.WarnWithContext(ctx, "optional source missing, stage skipped", "stage", stage, "file", file)
}

func (r *run) write(t output.Table, entityColumn int) error {
	if err := r.writer.Write(t); err != nil {
		return fmt.Errorf("publish %s: %w", t.Name, err)
	}
	r.recorder.RecordRows(t.Name, len(t.Rows))
	if entityColumn >= 0 {
		r.recorder.RecordEntities(t.Name, entityCount(t, entityColumn))
	}
	return nil
}

func (r *run) writeWide(name string, w output.WideTable, precision int32) error {
	if err := r.writer.WriteWide(name, w, precision); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	r.recorder.RecordRows(name, len(w.Times))
	r.recorder.RecordEntities(name, len(w.Entities))
	return nil
}

func (r *run) writeMatrix(name, entityColumn string, m models.CorrelationMatrix) error {
	if err := r.writer.WriteMatrix(name, entityColumn, m, r.precision); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	r.recorder.RecordRows(name, len(m.Entities))
	r.recorder.RecordEntities(name, len(m.Entities))
	return nil
}

// usable drops gap-spanning returns when the statistics exclude them
func (r *run) usable(returns []models.ReturnRecord) []models.ReturnRecord {
	if !r.builder.config.Stats.ExcludeGapReturns {
		return returns
	}
	out := make([]models.ReturnRecord, 0, len(returns))
	for _, rr := range returns {
		if !rr.SpansGap {
			out = append(out, rr)
		}
	}
	return out
}

func (r *run) report() *BuildReport {
	return &BuildReport{
		RunID:        r.runID,
		StartedAt:    r.startedAt,
		Tables:       r.writer.Written(),
		Issues:       r.issues.All(),
		IssueTypes:   r.issues.CountByType(),
		Skipped:      append([]string(nil), r.skipped...),
		SourceSeries: r.sourceSeries,
		PanelSources: merge.SourceCounts(r.panel),
	}
}

// read loads the exchange-rate sources. Each source fails on its own.
func (r *run) read(ctx context.Context) error {
	daily, errs := r.reader.ReadFREDDaily(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	r.issueAll(logger.WithSource(ctx, string(models.SourceFRED)), errs, "sources", "read FRED daily")
	r.rawDaily = daily
	r.sourceSeries[models.SourceFRED] = len(daily)

	yearly := []struct {
		tag  models.SourceTag
		read func(context.Context) ([]models.RawSeries, error)
	}{
		{models.SourceMW, r.reader.ReadMW},
		{models.SourceCI, r.reader.ReadCI},
		{models.SourceGMD, func(ctx context.Context) ([]models.RawSeries, error) {
			return r.reader.ReadGMD(ctx, r.builder.now())
		}},
	}
	for _, src := range yearly {
		srcCtx := logger.WithSource(ctx, string(src.tag))
		series, err := src.read(srcCtx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.issue(srcCtx, err, "sources", "read "+string(src.tag))
			continue
		}
		r.rawYearly = append(r.rawYearly, series...)
		r.sourceSeries[src.tag] = len(series)
	}
	return nil
}

// normalize converts every raw series to foreign units per USD
func (r *run) normalize(ctx context.Context) error {
	daily, errs := r.normalizer.NormalizeAll(ctx, r.rawDaily)
	r.issueAll(ctx, errs, "normalize", "normalize daily")
	yearly, errs := r.normalizer.NormalizeAll(ctx, r.rawYearly)
	r.issueAll(ctx, errs, "normalize", "normalize yearly")

	r.daily, r.yearly = daily, yearly
	r.rawDaily, r.rawYearly = nil, nil
	return nil
}

// merge builds the yearly panel and publishes the normalized tables
func (r *run) merge(ctx context.Context) error {
	panel, err := r.panelMerge.Merge(r.yearly)
	if err != nil {
		return err
	}
	r.panel = panel
	for _, w := range merge.Gaps(panel, models.FrequencyYearly) {
		r.issue(ctx, w, "merge", "yearly panel")
	}

	dailyWide := output.LongToWide(models.FrequencyDaily, seriesLong(r.daily))
	dailyLong := output.LongTable(output.DailyNormalized, models.FrequencyDaily, "currency", "rate_per_usd",
		output.WideToLong(dailyWide), output.FullPrecision)
	if err := r.write(dailyLong, 1); err != nil {
		return err
	}
	if err := r.writeWide(output.DailyNormalizedWide, dailyWide, output.FullPrecision); err != nil {
		return err
	}

	if err := r.write(panelTable(panel), 1); err != nil {
		return err
	}
	return r.writeWide(output.YearlyPanelWide, output.LongToWide(models.FrequencyYearly, panelLong(panel)), output.FullPrecision)
}

// yearlyReturnSeries selects the curated yearly source, minus excluded entities
func (r *run) yearlyReturnSeries() []models.NormalizedSeries {
	cfg := r.builder.config.Stats
	exclude := make(map[string]struct{}, len(cfg.YearlyExclude))
	for _, e := range cfg.YearlyExclude {
		exclude[e] = struct{}{}
	}
	var out []models.NormalizedSeries
	for _, s := range r.yearly {
		if s.Source != models.SourceTag(cfg.YearlySource) {
			continue
		}
		if _, skip := exclude[s.Entity]; skip {
			continue
		}
		out = append(out, s)
	}
	return out
}

// returns computes and publishes the daily and yearly log returns
func (r *run) returns(ctx context.Context) error {
	daily, err := r.engine.Returns(ctx, r.daily)
	if err != nil {
		return err
	}
	yearly, err := r.engine.Returns(ctx, r.yearlyReturnSeries())
	if err != nil {
		return err
	}
	r.dailyReturns, r.yearlyReturns = daily, yearly

	if err := r.write(returnsTable(output.DailyReturns, models.FrequencyDaily, daily, r.precision), 1); err != nil {
		return err
	}
	if err := r.write(returnsTable(output.YearlyReturns, models.FrequencyYearly, yearly, r.precision), 1); err != nil {
		return err
	}
	return r.writeWide(output.YearlyReturnsWide, output.LongToWide(models.FrequencyYearly, returnsLong(yearly)), r.precision)
}

// volatility publishes the per-entity return statistics
func (r *run) volatility(ctx context.Context) error {
	daily, warnings := r.engine.VolatilityTable(ctx, r.dailyReturns, models.FrequencyDaily)
	if err := ctx.Err(); err != nil {
		return err
	}
	r.issueAll(ctx, warnings, "stats", "daily volatility")

	yearly, warnings := r.engine.VolatilityTable(ctx, r.yearlyReturns, models.FrequencyYearly)
	if err := ctx.Err(); err != nil {
		return err
	}
	r.issueAll(ctx, warnings, "stats", "yearly volatility")
	r.dailyVolatility, r.yearlyVolatility = daily, yearly

	if err := r.write(dailyVolatilityTable(daily, r.precision), 0); err != nil {
		return err
	}
	return r.write(yearlyVolatilityTable(yearly, r.precision), 0)
}

// correlation publishes the daily and yearly correlation matrices
func (r *run) correlation(ctx context.Context) error {
	cfg := r.builder.config.Stats

	daily, warnings := r.engine.CorrelationMatrix(ctx, r.dailyReturns, models.FrequencyDaily, cfg.DailyCorrelationOverlap)
	if err := ctx.Err(); err != nil {
		return err
	}
	r.issueAll(ctx, warnings, "stats", "daily correlation")

	yearly, warnings := r.engine.CorrelationMatrix(ctx, r.yearlyReturns, models.FrequencyYearly, cfg.YearlyCorrelationOverlap)
	if err := ctx.Err(); err != nil {
		return err
	}
	r.issueAll(ctx, warnings, "stats", "yearly correlation")

	if err := r.writeMatrix(output.DailyCorrelation, "currency", daily); err != nil {
		return err
	}
	return r.writeMatrix(output.YearlyCorrelation, "country", yearly)
}

// signals publishes rolling volatility, momentum and sigma-event tables
func (r *run) signals(ctx context.Context) error {
	rolling, err := r.engine.RollingVolatility(ctx, r.dailyReturns)
	if err != nil {
		return err
	}
	momentum, reversals, err := r.engine.Momentum(ctx, r.daily)
	if err != nil {
		return err
	}
	sigma, err := r.engine.SigmaEvents(ctx, r.dailyReturns)
	if err != nil {
		return err
	}

	if err := r.write(rollingTable(rolling, r.precision), 1); err != nil {
		return err
	}
	if err := r.write(momentumTable(momentum, r.precision), 1); err != nil {
		return err
	}
	if err := r.write(reversalTable(reversals, r.precision), 1); err != nil {
		return err
	}
	return r.write(sigmaTable(sigma, r.precision), 0)
}

// regime classifies exchange-rate regimes and conditions yearly returns on them,
// and monthly returns of the mapped daily currencies
func (r *run) regime(ctx context.Context) error {
	if !r.reader.Exists(sources.IRRFineFile) {
		r.skip(ctx, StageRegime, sources.IRRFineFile)
		return nil
	}
	srcCtx := logger.WithSource(ctx, string(models.SourceIRR))
	labels, err := r.reader.ReadIRRFine(srcCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.issue(srcCtx, err, "sources", "read IRR")
		return nil
	}
	r.sourceSeries[models.SourceIRR] = len(labels)

	classified, unmapped := r.regimes.Classify(labels)
	if unmapped > 0 {
		r.logger.WarnWithContext(ctx, "unmapped regime cells skipped", "cells", unmapped)
	}
	yearly, err := r.regimes.YearlyModal(ctx, classified)
	if err != nil {
		return err
	}

	conditional, warnings := r.regimes.ConditionalStats(regime.JoinYearly(r.usable(r.yearlyReturns), yearly))
	r.issueAll(ctx, warnings, "regime", "conditional stats")

	if err := r.write(regimeTable(yearly), 1); err != nil {
		return err
	}
	if err := r.write(conditionalTable(output.RegimeConditional, conditional, r.precision), -1); err != nil {
		return err
	}

	currencies := r.builder.config.Regime.Currencies
	if len(currencies) == 0 {
		return nil
	}
	monthly := regime.MonthlyReturns(r.usable(r.dailyReturns), currencies)
	conditional, warnings = r.regimes.ConditionalStats(r.regimes.JoinMonthly(monthly, classified))
	r.issueAll(ctx, warnings, "regime", "monthly conditional stats")
	return r.write(conditionalTable(output.RegimeMonthly, conditional, r.precision), -1)
}

// gold publishes the yearly and monthly gold inflation tables
func (r *run) gold(ctx context.Context) error {
	precision := r.builder.config.Output.AssetPrecision
	if err := r.goldYearly(ctx, precision); err != nil {
		return err
	}
	return r.goldMonthly(ctx, precision)
}

func (r *run) goldYearly(ctx context.Context, precision int32) error {
	if !r.reader.Exists(sources.MWGoldFile) {
		r.skip(ctx, StageGold, sources.MWGoldFile)
		return nil
	}
	prices, err := r.reader.ReadGoldYearly(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.issue(ctx, err, "sources", "read gold yearly")
		return nil
	}

	in := gold.YearlyInputs{Prices: prices, Panel: r.panel}
	optional := []struct {
		file   string
		read   func(context.Context) ([]models.RawSeries, error)
		target *[]models.RawSeries
	}{
		{sources.CIGBPRatesFile, r.reader.ReadCIGBP, &in.GBPRates},
		{sources.CIInflationFile, r.reader.ReadCIInflation, &in.CPI},
	}
	for _, o := range optional {
		if !r.reader.Exists(o.file) {
			r.skip(ctx, StageGold, o.file)
			continue
		}
		series, err := o.read(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.issue(ctx, err, "sources", "read "+o.file)
			continue
		}
		*o.target = series
	}

	rows, err := r.goldCalc.Yearly(in)
	if err != nil {
		return err
	}
	return r.write(goldYearlyTable(rows, precision), 2)
}

func (r *run) goldMonthly(ctx context.Context, precision int32) error {
	if !r.reader.Exists(sources.GoldMonthlyFile) {
		r.skip(ctx, StageGold, sources.GoldMonthlyFile)
		return nil
	}
	goldUSD, err := r.reader.ReadGoldMonthly(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.issue(ctx, err, "sources", "read gold monthly")
		return nil
	}

	in := gold.MonthlyInputs{GoldUSD: goldUSD, Daily: r.daily}
	if r.reader.Exists(sources.IMFFile) {
		srcCtx := logger.WithSource(ctx, string(models.SourceIMF))
		raws, err := r.reader.ReadIMFMonthly(srcCtx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			r.issue(srcCtx, err, "sources", "read IMF")
		default:
			r.sourceSeries[models.SourceIMF] = len(raws)
			imf, errs := r.normalizer.NormalizeAll(srcCtx, raws)
			r.issueAll(srcCtx, errs, "normalize", "normalize IMF")
			in.IMF = imf
		}
	} else {
		r.skip(ctx, StageGold, sources.IMFFile)
	}

	rows, err := r.goldCalc.Monthly(in)
	if err != nil {
		return err
	}
	return r.write(goldMonthlyTable(rows, precision), 1)
}

// assets publishes the macro-history asset returns and stock-bond correlation
func (r *run) assets(ctx context.Context) error {
	if !r.reader.Exists(sources.JSTFile) {
		r.skip(ctx, StageAssets, sources.JSTFile)
		return nil
	}
	srcCtx := logger.WithSource(ctx, string(models.SourceJST))
	rows, err := r.reader.ReadJST(srcCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.issue(srcCtx, err, "sources", "read JST")
		return nil
	}

	returns, err := r.assetCalc.AssetReturns(ctx, rows)
	if err != nil {
		return err
	}
	stockBond, err := r.assetCalc.StockBondCorrelation(ctx, rows)
	if err != nil {
		return err
	}

	precision := r.builder.config.Output.AssetPrecision
	if err := r.write(assetReturnsTable(returns, precision), 0); err != nil {
		return err
	}
	return r.write(stockBondTable(stockBond, precision), 1)
}

// workbook writes the optional xlsx copy of the wide tables
func (r *run) workbook(_ context.Context) error {
	return r.writer.WriteWorkbook()
}
