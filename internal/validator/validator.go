// Package validator runs the quality checks over the published tables.
//
// Every check runs, none stops the others: a check that cannot read its input
// reports that as a finding. Findings of severity error fail the run, warnings
// are advisory. The exit code of a run is 2 on any error, 1 on warnings only
// and 0 otherwise.
package validator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
	"github.com/johnayoung/go-forex-centuries/internal/output"
	"github.com/johnayoung/go-forex-centuries/internal/sources"
)

// Exit codes of a validation run
const (
	ExitPass     = 0
	ExitWarnings = 1
	ExitErrors   = 2
)

// Check names, in run order
const (
	CheckSchema       = "schema"
	CheckDuplicates   = "duplicates"
	CheckMissing      = "missing"
	CheckOutliers     = "outliers"
	CheckCrossSource  = "cross_source"
	CheckCompleteness = "completeness"
	CheckCorrelation  = "correlation"
	CheckTranspose    = "transpose"
)

// checkFunc inspects the published tables and records findings on b. A
// returned error means the check itself could not run.
type checkFunc func(ctx context.Context, tables *tableSet, b *models.CheckResultBuilder) error

type check struct {
	name string
	run  checkFunc
}

// Report is the outcome of one validation run
type Report struct {
	RunAt   time.Time             `json:"run_at"`
	Results []*models.CheckResult `json:"results"`
	Summary *models.CheckSummary  `json:"summary"`
}

// ExitCode maps the report to the process exit code. Only error findings
// fail the run; warnings are advisory.
func (r *Report) ExitCode() int {
	if r.Summary.Errors() > 0 {
		return ExitErrors
	}
	return ExitPass
}

// StrictExitCode is ExitCode with warnings failing the run as ExitWarnings
func (r *Report) StrictExitCode() int {
	if code := r.ExitCode(); code != ExitPass {
		return code
	}
	if r.Summary.Warnings() > 0 {
		return ExitWarnings
	}
	return ExitPass
}

// Findings returns every finding of the run in check order
func (r *Report) Findings() []models.Finding {
	var out []models.Finding
	for _, res := range r.Results {
		out = append(out, res.Findings...)
	}
	return out
}

// Result returns the result of a named check, or nil
func (r *Report) Result(check string) *models.CheckResult {
	for _, res := range r.Results {
		if res.Check == check {
			return res
		}
	}
	return nil
}

// Status is the progress of the current or last run
type Status struct {
	IsProcessing bool      `json:"is_processing"`
	CurrentCheck string    `json:"current_check,omitempty"`
	Completed    int       `json:"completed"`
	Total        int       `json:"total"`
	StartedAt    time.Time `json:"started_at"`
}

// Runner runs the quality checks against one derived directory
type Runner struct {
	derivedDir string
	config     config.ValidatorConfig
	reader     *sources.Reader
	logger     *logger.ComponentLogger
	checks     []check

	mu     sync.RWMutex
	status Status
}

// NewRunner creates a runner. reader locates the canonical source files for the
// cross-source check; when nil that check reports it cannot run.
func NewRunner(derivedDir string, cfg config.ValidatorConfig, reader *sources.Reader, loggerMgr *logger.LoggerManager) *Runner {
	r := &Runner{
		derivedDir: derivedDir,
		config:     cfg,
		reader:     reader,
		logger:     loggerMgr.GetComponentLogger("validator"),
	}
	r.checks = []check{
		{CheckSchema, r.checkSchema},
		{CheckDuplicates, r.checkDuplicates},
		{CheckMissing, r.checkMissing},
		{CheckOutliers, r.checkOutliers},
		{CheckCrossSource, r.checkCrossSource},
		{CheckCompleteness, r.checkCompleteness},
		{CheckCorrelation, r.checkCorrelation},
		{CheckTranspose, r.checkTranspose},
	}
	return r
}

// Run executes every check and aggregates the findings. It only fails when the
// context is cancelled.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now().UTC()
	r.setStatus(Status{IsProcessing: true, Total: len(r.checks), StartedAt: start})
	defer r.finish()

	tables := newTableSet(r.derivedDir)
	results := make([]*models.CheckResult, 0, len(r.checks))

	for i, c := range r.checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.updateStatus(c.name, i)

		b := models.NewCheckResultBuilder(uuid.NewString(), c.name)
		if err := c.run(ctx, tables, b); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.AddFinding(models.NewFinding(models.FindingSchema, models.SeverityError, "",
				fmt.Sprintf("%s check could not run: %v", c.name, err)))
		}
		res := b.Build()
		results = append(results, res)

		r.logger.Info("check finished",
			"check", c.name,
			"findings", len(res.Findings),
			"passed", len(res.Passed),
			"severity", res.Severity)
	}

	report := &Report{RunAt: start, Results: results, Summary: models.AggregateCheckResults(results)}
	r.logger.Info("validation finished",
		"errors", report.Summary.Errors(),
		"warnings", report.Summary.Warnings(),
		"exit_code", report.ExitCode(),
		"duration", time.Since(start))
	return report, nil
}

// GetStatus returns the progress of the current or last run
func (r *Runner) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Runner) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Runner) updateStatus(current string, completed int) {
	r.mu.Lock()
	r.status.CurrentCheck = current
	r.status.Completed = completed
	r.mu.Unlock()
}

func (r *Runner) finish() {
	r.mu.Lock()
	r.status.IsProcessing = false
	r.status.CurrentCheck = ""
	r.status.Completed = r.status.Total
	r.mu.Unlock()
}

// tableSet reads each published table at most once per run
type tableSet struct {
	root  string
	mu    sync.Mutex
	cache map[string]tableEntry
}

type tableEntry struct {
	table  output.Table
	exists bool
	err    error
}

func newTableSet(root string) *tableSet {
	return &tableSet{root: root, cache: make(map[string]tableEntry)}
}

// get returns the named table. A missing file is reported through exists, not err.
func (s *tableSet) get(name string) (output.Table, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.cache[name]; ok {
		return e.table, e.exists, e.err
	}

	path := filepath.Join(s.root, filepath.FromSlash(name))
	var e tableEntry
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		e = tableEntry{}
	} else {
		t, err := output.ReadTable(path)
		t.Name = name
		e = tableEntry{table: t, exists: true, err: err}
	}
	s.cache[name] = e
	return e.table, e.exists, e.err
}
