package validator

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
	"github.com/johnayoung/go-forex-centuries/internal/output"
	"github.com/johnayoung/go-forex-centuries/internal/sources"
)

type fixture struct {
	derived string
	sources string
	writer  *output.Writer
	lm      *logger.LoggerManager
	cfg     *config.AppConfig
}

func dayTime(n int) time.Time {
	return time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

// newFixture publishes a small, internally consistent derived tree and
// agreeing MW and CI source files
func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Validator.ExpectedDailyCurrencies = []string{"EUR", "JPY"}
	cfg.Validator.ExpectedCountries = []string{"Japan"}

	f := &fixture{
		derived: t.TempDir(),
		sources: t.TempDir(),
		lm:      logger.NewWriterManager(config.LoggingConfig{Level: "error", Format: "json"}, io.Discard),
		cfg:     cfg,
	}
	f.writer = output.NewWriter(f.derived, cfg.Output, f.lm)
	w := f.writer

	daily := []output.LongRow{
		{Time: dayTime(0), Entity: "EUR", Value: 0.9},
		{Time: dayTime(0), Entity: "JPY", Value: 110},
		{Time: dayTime(1), Entity: "EUR", Value: 0.91},
		{Time: dayTime(1), Entity: "JPY", Value: 111.5},
	}
	require.NoError(t, w.WriteLong(output.DailyNormalized, models.FrequencyDaily, "currency", "rate_per_usd", daily, output.FullPrecision))
	require.NoError(t, w.WriteWide(output.DailyNormalizedWide, output.LongToWide(models.FrequencyDaily, daily), output.FullPrecision))

	yearly := []output.LongRow{
		{Time: models.YearTime(1900), Entity: "Japan", Value: 2},
		{Time: models.YearTime(1901), Entity: "Japan", Value: 2.2},
	}
	require.NoError(t, w.Write(output.Table{
		Name:   output.YearlyPanel,
		Header: output.Header(output.YearlyPanel),
		Rows:   [][]string{{"1900", "Japan", "2", "MW"}, {"1901", "Japan", "2.2", "MW"}},
	}))
	require.NoError(t, w.WriteWide(output.YearlyPanelWide, output.LongToWide(models.FrequencyYearly, yearly), output.FullPrecision))
	require.NoError(t, w.WriteWide(output.YearlyReturnsWide, output.LongToWide(models.FrequencyYearly, yearly[1:]), 6))

	require.NoError(t, w.Write(output.Table{
		Name:   output.DailyReturns,
		Header: output.Header(output.DailyReturns),
		Rows:   [][]string{{"2020-01-02", "EUR", "0.011050", "false"}},
	}))
	require.NoError(t, w.Write(output.Table{
		Name:   output.YearlyVolatility,
		Header: output.Header(output.YearlyVolatility),
		Rows:   [][]string{{"Japan", "3", "1901", "1903", "0.01", "0.1", "-1.5", "0", "0.2", "-0.1", "0", "0.008", ""}},
	}))
	for name := range output.Headers {
		if _, ok := w.Written()[name]; !ok {
			require.NoError(t, w.Write(output.Table{Name: name, Header: output.Header(name)}))
		}
	}

	matrix := models.CorrelationMatrix{Entities: []string{"EUR", "JPY"}, Values: [][]float64{{1, 0.5}, {0.5, 1}}}
	require.NoError(t, w.WriteMatrix(output.DailyCorrelation, "currency", matrix, 6))
	single := models.CorrelationMatrix{Entities: []string{"Japan"}, Values: [][]float64{{1}}}
	require.NoError(t, w.WriteMatrix(output.YearlyCorrelation, "country", single, 6))

	writeFile(t, f.sources, sources.MWRatesFile, "year,Japan\n1900,2\n1901,2.2\n")
	writeFile(t, f.sources, sources.CIRatesFile, "year,Japan\n1900,2.1\n1901,2.2\n1902,2.3\n")
	return f
}

func (f *fixture) runner(withSources bool) *Runner {
	var reader *sources.Reader
	if withSources {
		classifier := apperrors.NewErrorClassifier(f.cfg.ErrorHandling, slog.New(slog.NewTextHandler(io.Discard, nil)))
		reader = sources.NewReader(f.sources, classifier, f.lm)
	}
	return NewRunner(f.derived, f.cfg.Validator, reader, f.lm)
}

func (f *fixture) run(t *testing.T, withSources bool) *Report {
	t.Helper()
	report, err := f.runner(withSources).Run(context.Background())
	require.NoError(t, err)
	return report
}

func TestRunCleanTree(t *testing.T) {
	f := newFixture(t)
	runner := f.runner(true)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	for _, res := range report.Results {
		assert.Empty(t, res.Findings, "check %s", res.Check)
	}
	assert.Len(t, report.Results, 8)
	assert.Equal(t, ExitPass, report.ExitCode())
	status := runner.GetStatus()
	assert.False(t, status.IsProcessing)
	assert.Equal(t, 8, status.Completed)
	assert.Equal(t, 8, status.Total)
}

func TestRunWithoutSourcesWarns(t *testing.T) {
	f := newFixture(t)
	report := f.run(t, false)

	res := report.Result(CheckCrossSource)
	require.NotNil(t, res)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, models.SeverityWarning, res.Findings[0].Severity)
	assert.Equal(t, ExitPass, report.ExitCode(), "warnings are advisory")
	assert.Equal(t, ExitWarnings, report.StrictExitCode())
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, f *fixture)
		check  string
		want   int
	}{
		{
			name: "duplicate panel key is an error",
			mutate: func(t *testing.T, f *fixture) {
				require.NoError(t, f.writer.Write(output.Table{
					Name:   output.YearlyPanel,
					Header: output.Header(output.YearlyPanel),
					Rows:   [][]string{{"1900", "Japan", "2", "MW"}, {"1900", "Japan", "2", "CI"}},
				}))
			},
			check: CheckDuplicates,
			want:  ExitErrors,
		},
		{
			name: "daily outlier is a warning",
			mutate: func(t *testing.T, f *fixture) {
				require.NoError(t, f.writer.Write(output.Table{
					Name:   output.DailyReturns,
					Header: output.Header(output.DailyReturns),
					Rows:   [][]string{{"2020-01-02", "EUR", "0.7", "false"}},
				}))
			},
			check: CheckOutliers,
			want:  ExitWarnings,
		},
		{
			name: "wrong header is an error",
			mutate: func(t *testing.T, f *fixture) {
				require.NoError(t, f.writer.Write(output.Table{
					Name:   output.DailyVolatility,
					Header: []string{"currency", "n_days"},
				}))
			},
			check: CheckSchema,
			want:  ExitErrors,
		},
		{
			name: "missing core table is an error",
			mutate: func(t *testing.T, f *fixture) {
				require.NoError(t, os.Remove(f.writer.Path(output.DailyReturns)))
			},
			check: CheckSchema,
			want:  ExitErrors,
		},
		{
			name: "missing optional table is a warning",
			mutate: func(t *testing.T, f *fixture) {
				require.NoError(t, os.Remove(f.writer.Path(output.AssetReturns)))
			},
			check: CheckSchema,
			want:  ExitWarnings,
		},
		{
			name: "missing expected currency is an error",
			mutate: func(t *testing.T, f *fixture) {
				f.cfg.Validator.ExpectedDailyCurrencies = append(f.cfg.Validator.ExpectedDailyCurrencies, "GBP")
			},
			check: CheckCompleteness,
			want:  ExitErrors,
		},
		{
			name: "missing expected country is a warning",
			mutate: func(t *testing.T, f *fixture) {
				f.cfg.Validator.ExpectedCountries = []string{"Japan", "Peru"}
			},
			check: CheckCompleteness,
			want:  ExitWarnings,
		},
		{
			name: "sparse daily currency is a warning",
			mutate: func(t *testing.T, f *fixture) {
				wide := output.LongToWide(models.FrequencyDaily, []output.LongRow{
					{Time: dayTime(0), Entity: "EUR", Value: 0.9},
					{Time: dayTime(1), Entity: "EUR", Value: 0.91},
					{Time: dayTime(1), Entity: "JPY", Value: 111.5},
				})
				require.NoError(t, f.writer.WriteWide(output.DailyNormalizedWide, wide, output.FullPrecision))
				require.NoError(t, f.writer.WriteLong(output.DailyNormalized, models.FrequencyDaily, "currency", "rate_per_usd",
					output.WideToLong(wide), output.FullPrecision))
				f.cfg.Validator.MissingThreshold = 0.4
			},
			check: CheckMissing,
			want:  ExitWarnings,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(t, f)
			report := f.run(t, true)

			res := report.Result(tt.check)
			require.NotNil(t, res)
			assert.NotEmpty(t, res.Findings)
			assert.Equal(t, tt.want, report.StrictExitCode())
			if tt.want == ExitErrors {
				assert.Equal(t, ExitErrors, report.ExitCode())
			} else {
				assert.Equal(t, ExitPass, report.ExitCode())
			}
		})
	}
}

func TestCrossSourceDivergence(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.sources, sources.MWRatesFile, "year,Japan,Chile\n1900,2,10\n1901,3,10\n1902,2.3,13\n")
	writeFile(t, f.sources, sources.CIRatesFile, "year,Japan,Chile\n1900,2,10\n1901,2,10\n1902,2.3,10\n")
	f.cfg.Validator.TopDivergences = 1

	report := f.run(t, true)
	res := report.Result(CheckCrossSource)
	require.NotNil(t, res)
	require.Len(t, res.Findings, 2)

	assert.Contains(t, res.Findings[0].Description, "2 pairs diverge >10%")
	assert.Contains(t, res.Findings[0].Description, "out of 6 overlap")
	assert.Equal(t, "Japan 1901: MW=3.0000, CI=2.0000 (50.0%)", res.Findings[1].Description)
	assert.Equal(t, "0.5", res.Findings[1].Value.String())
	assert.Equal(t, ExitPass, report.ExitCode())
	assert.Equal(t, ExitWarnings, report.StrictExitCode())
}

func TestTransposeMismatch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.writer.Write(output.Table{
		Name:   output.YearlyPanel,
		Header: output.Header(output.YearlyPanel),
		Rows:   [][]string{{"1900", "Japan", "2", "MW"}, {"1901", "Japan", "2.5", "MW"}, {"1902", "Japan", "2.6", "MW"}},
	}))

	report := f.run(t, true)
	res := report.Result(CheckTranspose)
	require.NotNil(t, res)
	require.Len(t, res.Findings, 1)
	assert.Contains(t, res.Findings[0].Description, "1 cells only in long, 0 only in wide, 1 different values")
	assert.Equal(t, ExitErrors, report.ExitCode())
}

func TestMatrixProblems(t *testing.T) {
	tests := []struct {
		name string
		rows [][]string
		want int
	}{
		{"valid", [][]string{{"A", "1", "0.3"}, {"B", "0.3", "1"}}, 0},
		{"empty off-diagonal pair", [][]string{{"A", "1", ""}, {"B", "", "1"}}, 0},
		{"asymmetric", [][]string{{"A", "1", "0.3"}, {"B", "0.4", "1"}}, 1},
		{"half empty", [][]string{{"A", "1", "0.3"}, {"B", "", "1"}}, 1},
		{"bad diagonal", [][]string{{"A", "0.9", "0.3"}, {"B", "0.3", ""}}, 2},
		{"not square", [][]string{{"A", "1", "0.3"}}, 1},
		{"row order", [][]string{{"B", "1", "0.3"}, {"A", "0.3", "1"}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := output.Table{Name: "m.csv", Header: []string{"currency", "A", "B"}, Rows: tt.rows}
			assert.Len(t, matrixProblems(table, 1e-6), tt.want)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner(true).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
