// Package pipeline runs the forex-centuries build.
//
// A build reads the canonical sources, normalizes quoting, merges the yearly
// panel, derives the statistics tables and publishes every table under the
// derived directory. Stages run in order and fully materialize their results.
// Failures of a single source, series or entity are recorded in the build
// report and the build carries on; only cancellation, configuration errors
// and failures to publish stop it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/metrics"
	"github.com/johnayoung/go-forex-centuries/internal/models"
	"github.com/johnayoung/go-forex-centuries/internal/storage"
)

// Stage names, in run order
const (
	StageRead        = "read"
	StageNormalize   = "normalize"
	StageMerge       = "merge"
	StageReturns     = "returns"
	StageVolatility  = "volatility"
	StageCorrelation = "correlation"
	StageSignals     = "signals"
	StageRegime      = "regime"
	StageGold        = "gold"
	StageAssets      = "assets"
	StageWorkbook    = "workbook"
	StageMirror      = "mirror"
)

// Mirror receives the panel and volatility tables after they are published
type Mirror interface {
	storage.PanelStorer
	storage.VolatilityStorer
	storage.RunRecorder
}

// ErrMirror wraps a failure to load the analytical mirror. The published files
// are complete when it is returned.
var ErrMirror = errors.New("mirror load failed")

// BuildReport summarizes one build
type BuildReport struct {
	RunID        string                       `json:"run_id"`
	StartedAt    time.Time                    `json:"started_at"`
	FinishedAt   time.Time                    `json:"finished_at"`
	Tables       map[string]int               `json:"tables"`
	Issues       []*apperrors.ClassifiedError `json:"issues"`
	IssueTypes   map[apperrors.ErrorType]int  `json:"issue_types"`
	Skipped      []string                     `json:"skipped,omitempty"`
	SourceSeries map[models.SourceTag]int     `json:"source_series"`
	PanelSources map[models.SourceTag]int     `json:"panel_sources"`
	Mirrored     bool                         `json:"mirrored"`
}

// Fatal returns the issues that failed a source, series or entity
func (r *BuildReport) Fatal() []*apperrors.ClassifiedError {
	var out []*apperrors.ClassifiedError
	for _, ce := range r.Issues {
		if ce.Fatal() {
			out = append(out, ce)
		}
	}
	return out
}

// Warnings returns the non-fatal issues
func (r *BuildReport) Warnings() []*apperrors.ClassifiedError {
	var out []*apperrors.ClassifiedError
	for _, ce := range r.Issues {
		if !ce.Fatal() {
			out = append(out, ce)
		}
	}
	return out
}

// Success reports whether the build finished without fatal issues
func (r *BuildReport) Success() bool {
	return len(r.Fatal()) == 0
}

// TableNames returns the published tables, sorted
func (r *BuildReport) TableNames() []string {
	names := make([]string, 0, len(r.Tables))
	for name := range r.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builder runs builds over one configuration
type Builder struct {
	config    *config.AppConfig
	loggerMgr *logger.LoggerManager
	mirror    Mirror
	now       func() time.Time
}

// NewBuilder creates a builder. The configuration is expected to be validated.
func NewBuilder(cfg *config.AppConfig, loggerMgr *logger.LoggerManager) *Builder {
	return &Builder{
		config:    cfg,
		loggerMgr: loggerMgr,
		now:       time.Now,
	}
}

// WithMirror loads the panel and volatility tables into m after publishing
func (b *Builder) WithMirror(m Mirror) *Builder {
	b.mirror = m
	return b
}

// WithClock replaces the clock used for run timestamps and the GMD year cutoff
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

// Run executes one build. A non-nil report is returned whenever the stages
// started, including when the error is ErrMirror.
func (b *Builder) Run(ctx context.Context) (*BuildReport, error) {
	_, ctx, runID := logger.NewRunLogger(ctx, b.loggerMgr, "pipeline")
	cl := b.loggerMgr.GetComponentLogger("pipeline")

	r, err := newRun(b, cl, runID)
	if err != nil {
		return nil, err
	}

	cl.InfoWithContext(ctx, "build started",
		"source_dir", b.config.Paths.SourceDir,
		"derived_dir", b.config.Paths.DerivedDir,
		"workers", b.config.Pipeline.Workers)

	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{StageRead, r.read},
		{StageNormalize, r.normalize},
		{StageMerge, r.merge},
		{StageReturns, r.returns},
		{StageVolatility, r.volatility},
		{StageCorrelation, r.correlation},
		{StageSignals, r.signals},
		{StageRegime, r.regime},
		{StageGold, r.gold},
		{StageAssets, r.assets},
		{StageWorkbook, r.workbook},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stageCtx := logger.WithStage(ctx, s.name)
		err := r.recorder.TimeStage(s.name, func() error {
			return cl.LogOperation(stageCtx, s.name, func() error {
				return s.run(stageCtx)
			})
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%s stage: %w", s.name, err)
		}
	}

	report := r.report()
	mirrorErr := r.loadMirror(ctx, report)
	r.finish(report)

	cl.InfoWithContext(ctx, "build finished",
		"tables", len(report.Tables),
		"fatal_issues", len(report.Fatal()),
		"warnings", len(report.Warnings()),
		"skipped", len(report.Skipped),
		"duration", report.FinishedAt.Sub(report.StartedAt))

	if mirrorErr != nil {
		return report, mirrorErr
	}
	return report, nil
}

// loadMirror replaces the mirror tables and records the run
func (r *run) loadMirror(ctx context.Context, report *BuildReport) error {
	m := r.builder.mirror
	if m == nil {
		return nil
	}

	stageCtx := logger.WithStage(ctx, StageMirror)
	err := r.recorder.TimeStage(StageMirror, func() error {
		return r.logger.LogOperation(stageCtx, StageMirror, func() error {
			if err := m.StorePanel(stageCtx, r.runID, r.panel); err != nil {
				return err
			}
			if err := m.StoreVolatility(stageCtx, r.runID, models.FrequencyDaily, r.dailyVolatility); err != nil {
				return err
			}
			if err := m.StoreVolatility(stageCtx, r.runID, models.FrequencyYearly, r.yearlyVolatility); err != nil {
				return err
			}
			return m.RecordRun(stageCtx, storage.RunRecord{
				ID:          r.runID,
				StartedAt:   report.StartedAt,
				FinishedAt:  r.builder.now().UTC(),
				Success:     report.Success(),
				Tables:      len(report.Tables),
				FatalIssues: len(report.Fatal()),
				Warnings:    len(report.Warnings()),
			})
		})
	})
	if err != nil {
		r.logger.ErrorWithContext(stageCtx, "mirror load failed", err)
		return fmt.Errorf("%w: %w", ErrMirror, err)
	}
	report.Mirrored = true
	return nil
}

// finish stamps the report and writes the metrics textfile
func (r *run) finish(report *BuildReport) {
	var retries int64
	for _, s := range r.classifier.GetStats() {
		retries += s.Retries
	}
	r.recorder.RecordRetries(retries)
	r.recorder.Finish(report.Success())

	if err := r.recorder.WriteTextfile(r.builder.config.MetricsTextfile()); err != nil {
		r.logger.Warn("metrics textfile not written", "error", err)
	}
	report.FinishedAt = r.builder.now().UTC()
}

// newRecorder creates the recorder a build reports to
func newRecorder(cfg *config.AppConfig, loggerMgr *logger.LoggerManager, runID string) *metrics.Recorder {
	rec := metrics.NewRecorder(cfg.Metrics, loggerMgr)
	rec.SetBuildInfo(runID, cfg.Version)
	return rec
}
