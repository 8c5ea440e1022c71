// Forex Centuries CLI
// This application builds the long-run exchange-rate panel and its derived
// statistics from the canonical source files, checks the published tables and
// queries the analytical mirror.
//
// Usage:
//
//	forex build --sources data/sources --derived data/derived --mirror
//	forex validate --derived data/derived
//	forex query --country Japan --from 1900 --to 1950 --format csv
//	forex status
//
// For detailed help on any command, use: forex <command> --help
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/metrics"
	"github.com/johnayoung/go-forex-centuries/internal/models"
	"github.com/johnayoung/go-forex-centuries/internal/output"
	"github.com/johnayoung/go-forex-centuries/internal/pipeline"
	"github.com/johnayoung/go-forex-centuries/internal/sources"
	"github.com/johnayoung/go-forex-centuries/internal/storage"
	"github.com/johnayoung/go-forex-centuries/internal/validator"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "forex"
	ConfigFile = "forex.yaml"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitUsageError   = 1
	ExitConfigError  = 2
	ExitStorageError = 3
	ExitDataError    = 4
	ExitInterrupt    = 130
)

// validateMetricsFile receives the finding counts of a validate run, next to the build metrics
const validateMetricsFile = "validate_metrics.prom"

// CLI holds the components shared by the commands
type CLI struct {
	config    *config.AppConfig
	loggerMgr *logger.LoggerManager
	logger    *logger.ComponentLogger
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return ExitUsageError
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command, args := args[0], args[1:]

	switch command {
	case "build":
		flags, err := parseBuildFlags(args)
		if err != nil {
			return usageError(command, err)
		}
		if flags.Help {
			printCommandHelp(command)
			return ExitSuccess
		}
		cli, code := setup(ctx, flags.Config, flags.Sources, flags.Derived, flags.Workers)
		if cli == nil {
			return code
		}
		defer cli.close()
		return cli.handleBuild(ctx, flags)
	case "validate":
		flags, err := parseValidateFlags(args)
		if err != nil {
			return usageError(command, err)
		}
		if flags.Help {
			printCommandHelp(command)
			return ExitSuccess
		}
		cli, code := setup(ctx, flags.Config, flags.Sources, flags.Derived, 0)
		if cli == nil {
			return code
		}
		defer cli.close()
		return cli.handleValidate(ctx, flags.Strict)
	case "query":
		flags, err := parseQueryFlags(args)
		if err != nil {
			return usageError(command, err)
		}
		if flags.Help {
			printCommandHelp(command)
			return ExitSuccess
		}
		cli, code := setup(ctx, flags.Config, "", "", 0)
		if cli == nil {
			return code
		}
		defer cli.close()
		return cli.handleQuery(ctx, flags)
	case "status":
		flags, err := parseStatusFlags(args)
		if err != nil {
			return usageError(command, err)
		}
		if flags.Help {
			printCommandHelp(command)
			return ExitSuccess
		}
		cli, code := setup(ctx, flags.Config, "", "", 0)
		if cli == nil {
			return code
		}
		defer cli.close()
		return cli.handleStatus(ctx)
	case "version", "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
		return ExitSuccess
	case "help", "--help", "-h":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		return ExitUsageError
	}
}

func usageError(command string, err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
	printCommandHelp(command)
	return ExitUsageError
}

// setup loads the configuration, applies the path and worker overrides and
// starts logging. A nil CLI comes with the exit code to return.
func setup(ctx context.Context, configPath, sourceDir, derivedDir string, workers int) (*CLI, int) {
	if configPath == "" {
		configPath = ConfigFile
	}
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.NewConfigManager(configPath, bootstrap).LoadConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, ExitConfigError
	}
	if sourceDir != "" {
		cfg.Paths.SourceDir = sourceDir
	}
	if derivedDir != "" {
		cfg.Paths.DerivedDir = derivedDir
	}
	if workers > 0 {
		cfg.Pipeline.Workers = workers
	}

	loggerMgr, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to setup logging: %v\n", err)
		return nil, ExitConfigError
	}

	return &CLI{
		config:    cfg,
		loggerMgr: loggerMgr,
		logger:    loggerMgr.GetComponentLogger("cli"),
	}, ExitSuccess
}

func (cli *CLI) close() {
	_ = cli.loggerMgr.Close()
}

// openStorage opens and migrates the configured mirror
func (cli *CLI) openStorage(ctx context.Context) (storage.FullStorage, error) {
	cfg := cli.config.Storage
	var store storage.FullStorage

	switch cfg.Type {
	case "memory":
		store = storage.NewMemoryStorage()
	case "duckdb":
		if cfg.DatabaseURL != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err := storage.NewDuckDBStorage(cfg.DatabaseURL, cli.loggerMgr.GetComponentLogger("storage").Logger)
		if err != nil {
			return nil, err
		}
		store = db
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}

	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize storage schema: %w", err)
	}
	return store, nil
}

// handleBuild runs the pipeline and maps its outcome to an exit code
func (cli *CLI) handleBuild(ctx context.Context, flags *BuildFlags) int {
	builder := pipeline.NewBuilder(cli.config, cli.loggerMgr)

	if flags.Mirror || cli.config.Storage.Enabled {
		store, err := cli.openStorage(ctx)
		if err != nil {
			cli.logger.Error("storage unavailable", "error", err)
			return ExitStorageError
		}
		defer store.Close()
		builder.WithMirror(store)
	}

	report, err := builder.Run(ctx)
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil):
		cli.logger.Warn("build interrupted")
		return ExitInterrupt
	case errors.Is(err, pipeline.ErrMirror):
		printBuildReport(report)
		cli.logger.Error("build published, mirror not loaded", "error", err)
		return ExitStorageError
	case err != nil:
		cli.logger.Error("build failed", "error", err)
		var cfgErr *apperrors.ConfigError
		if errors.As(err, &cfgErr) {
			return ExitConfigError
		}
		return ExitDataError
	}

	printBuildReport(report)
	if !report.Success() {
		return ExitDataError
	}
	return ExitSuccess
}

// handleValidate checks the published tables and writes the finding counts
func (cli *CLI) handleValidate(ctx context.Context, strict bool) int {
	cfg := cli.config
	classifier := apperrors.NewErrorClassifier(cfg.ErrorHandling, cli.logger.Logger)
	reader := sources.NewReader(cfg.Paths.SourceDir, classifier, cli.loggerMgr)
	runner := validator.NewRunner(cfg.Paths.DerivedDir, cfg.Validator, reader, cli.loggerMgr)

	report, err := runner.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ExitInterrupt
		}
		cli.logger.Error("validation failed", "error", err)
		return ExitDataError
	}

	printValidationReport(report)

	rec := metrics.NewRecorder(cfg.Metrics, cli.loggerMgr)
	rec.SetBuildInfo("validate", cfg.Version)
	counts := make(map[string]int, len(report.Summary.SeverityBreakdown))
	for severity, n := range report.Summary.SeverityBreakdown {
		counts[string(severity)] = n
	}
	rec.RecordFindings(counts)
	if err := rec.WriteTextfile(filepath.Join(cfg.Paths.DerivedDir, validateMetricsFile)); err != nil {
		cli.logger.Warn("validation metrics not written", "error", err)
	}

	if strict {
		return report.StrictExitCode()
	}
	return report.ExitCode()
}

// handleQuery prints panel rows from the mirror
func (cli *CLI) handleQuery(ctx context.Context, flags *QueryFlags) int {
	q := storage.PanelQuery{
		Country: flags.Country,
		From:    flags.From,
		To:      flags.To,
		Source:  models.SourceTag(flags.Source),
		Limit:   flags.Limit,
	}
	if err := q.Validate(); err != nil {
		return usageError("query", err)
	}

	store, err := cli.openStorage(ctx)
	if err != nil {
		cli.logger.Error("storage unavailable", "error", err)
		return ExitStorageError
	}
	defer store.Close()

	cli.logger.Info("querying panel",
		"country", q.Country,
		"from", q.From,
		"to", q.To,
		"source", q.Source,
		"limit", q.Limit)

	rows, err := store.QueryPanel(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return ExitInterrupt
		}
		cli.logger.Error("query failed", "error", err)
		return ExitStorageError
	}

	switch flags.Format {
	case "json":
		err = outputJSON(rows)
	case "csv":
		err = outputCSV(rows)
	default:
		outputTable(rows)
	}
	if err != nil {
		cli.logger.Error("failed to write results", "error", err)
		return ExitDataError
	}
	return ExitSuccess
}

// handleStatus reports the mirror health, contents and last recorded build
func (cli *CLI) handleStatus(ctx context.Context) int {
	store, err := cli.openStorage(ctx)
	if err != nil {
		cli.logger.Error("storage unavailable", "error", err)
		return ExitStorageError
	}
	defer store.Close()

	if err := store.HealthCheck(ctx); err != nil {
		fmt.Printf("Mirror: unhealthy (%v)\n", err)
		return ExitStorageError
	}
	stats, err := store.GetStats(ctx)
	if err != nil {
		cli.logger.Error("failed to read mirror stats", "error", err)
		return ExitStorageError
	}
	last, err := store.LastRun(ctx)
	if err != nil {
		cli.logger.Error("failed to read last run", "error", err)
		return ExitStorageError
	}

	fmt.Printf("Mirror: %s (%s, schema v%d)\n", cli.config.Storage.DatabaseURL, cli.config.Storage.Type, stats.SchemaVersion)
	fmt.Printf("Panel rows: %d across %d countries", stats.PanelRows, stats.Countries)
	if stats.PanelRows > 0 {
		fmt.Printf(" (%d-%d)", stats.EarliestYear, stats.LatestYear)
	}
	fmt.Printf("\nVolatility rows: %d\nRecorded builds: %d\n", stats.VolatilityRows, stats.Runs)
	if last == nil {
		fmt.Println("Last build: none")
		return ExitSuccess
	}
	state := "succeeded"
	if !last.Success {
		state = "had fatal issues"
	}
	fmt.Printf("Last build: %s %s at %s (%d tables, %d fatal, %d warnings)\n",
		last.ID, state, last.FinishedAt.Format("2006-01-02 15:04:05"),
		last.Tables, last.FatalIssues, last.Warnings)
	return ExitSuccess
}

// Flag types

// BuildFlags represents flags for the build command
type BuildFlags struct {
	Config  string
	Sources string
	Derived string
	Workers int
	Mirror  bool
	Help    bool
}

// ValidateFlags represents flags for the validate command
type ValidateFlags struct {
	Config  string
	Sources string
	Derived string
	Strict  bool
	Help    bool
}

// QueryFlags represents flags for the query command
type QueryFlags struct {
	Config  string
	Country string
	From    int
	To      int
	Source  string
	Limit   int
	Format  string
	Help    bool
}

// StatusFlags represents flags for the status command
type StatusFlags struct {
	Config string
	Help   bool
}

// value returns the argument following the flag at position *i
func value(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", args[*i])
	}
	*i++
	return args[*i], nil
}

func intValue(args []string, i *int) (int, error) {
	flag := args[*i]
	v, err := value(args, i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", flag, err)
	}
	return n, nil
}

// parseBuildFlags parses command line arguments for the build command
func parseBuildFlags(args []string) (*BuildFlags, error) {
	flags := &BuildFlags{}
	var err error

	for i := 0; i < len(args) && err == nil; i++ {
		switch args[i] {
		case "--config", "-c":
			flags.Config, err = value(args, &i)
		case "--sources", "-s":
			flags.Sources, err = value(args, &i)
		case "--derived", "-d":
			flags.Derived, err = value(args, &i)
		case "--workers", "-w":
			flags.Workers, err = intValue(args, &i)
			if err == nil && flags.Workers < 1 {
				err = fmt.Errorf("--workers must be at least 1")
			}
		case "--mirror", "-m":
			flags.Mirror = true
		case "--help", "-h":
			flags.Help = true
		default:
			err = fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if err != nil {
		return nil, err
	}
	return flags, nil
}

// parseValidateFlags parses command line arguments for the validate command
func parseValidateFlags(args []string) (*ValidateFlags, error) {
	flags := &ValidateFlags{}
	var err error

	for i := 0; i < len(args) && err == nil; i++ {
		switch args[i] {
		case "--config", "-c":
			flags.Config, err = value(args, &i)
		case "--sources", "-s":
			flags.Sources, err = value(args, &i)
		case "--derived", "-d":
			flags.Derived, err = value(args, &i)
		case "--strict":
			flags.Strict = true
		case "--help", "-h":
			flags.Help = true
		default:
			err = fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if err != nil {
		return nil, err
	}
	return flags, nil
}

// parseQueryFlags parses command line arguments for the query command
func parseQueryFlags(args []string) (*QueryFlags, error) {
	flags := &QueryFlags{
		Format: "table", // Default format
	}
	var err error

	for i := 0; i < len(args) && err == nil; i++ {
		switch args[i] {
		case "--config", "-c":
			flags.Config, err = value(args, &i)
		case "--country":
			flags.Country, err = value(args, &i)
		case "--from":
			flags.From, err = intValue(args, &i)
		case "--to":
			flags.To, err = intValue(args, &i)
		case "--source":
			flags.Source, err = value(args, &i)
			flags.Source = strings.ToUpper(flags.Source)
		case "--limit", "-l":
			flags.Limit, err = intValue(args, &i)
		case "--format", "-f":
			flags.Format, err = value(args, &i)
			if err == nil && flags.Format != "json" && flags.Format != "csv" && flags.Format != "table" {
				err = fmt.Errorf("invalid format, must be: json, csv, or table")
			}
		case "--help", "-h":
			flags.Help = true
		default:
			err = fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if err != nil {
		return nil, err
	}
	if !flags.Help && flags.Country == "" {
		return nil, fmt.Errorf("--country is required")
	}
	return flags, nil
}

// parseStatusFlags parses command line arguments for the status command
func parseStatusFlags(args []string) (*StatusFlags, error) {
	flags := &StatusFlags{}
	var err error

	for i := 0; i < len(args) && err == nil; i++ {
		switch args[i] {
		case "--config", "-c":
			flags.Config, err = value(args, &i)
		case "--help", "-h":
			flags.Help = true
		default:
			err = fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if err != nil {
		return nil, err
	}
	return flags, nil
}

// Output

func printBuildReport(report *pipeline.BuildReport) {
	if report == nil {
		return
	}
	fmt.Printf("Build %s\n", report.RunID)
	fmt.Printf("Duration: %v\n\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	fmt.Printf("%-48s %10s\n", "Table", "Rows")
	fmt.Println(strings.Repeat("-", 59))
	for _, name := range report.TableNames() {
		fmt.Printf("%-48s %10d\n", name, report.Tables[name])
	}

	if len(report.PanelSources) > 0 {
		tags := make([]string, 0, len(report.PanelSources))
		for tag := range report.PanelSources {
			tags = append(tags, string(tag))
		}
		sort.Strings(tags)
		parts := make([]string, len(tags))
		for i, tag := range tags {
			parts[i] = fmt.Sprintf("%s=%d", tag, report.PanelSources[models.SourceTag(tag)])
		}
		fmt.Printf("\nPanel rows by source: %s\n", strings.Join(parts, ", "))
	}

	for _, s := range report.Skipped {
		fmt.Printf("Skipped %s\n", s)
	}

	fatal := report.Fatal()
	fmt.Printf("\nFatal issues: %d, warnings: %d\n", len(fatal), len(report.Warnings()))
	for _, ce := range fatal {
		fmt.Printf("  [%s] %s/%s: %v\n", ce.Type, ce.Component, ce.Operation, ce.Err)
	}
	if report.Mirrored {
		fmt.Println("Mirror loaded")
	}
}

func printValidationReport(report *validator.Report) {
	for _, res := range report.Results {
		status := "PASS"
		switch {
		case res.HasSeverity(models.SeverityError):
			status = "FAIL"
		case len(res.Findings) > 0:
			status = "WARN"
		}
		fmt.Printf("%-6s %s\n", status, res.Check)
		for _, f := range res.Findings {
			fmt.Printf("       [%s] %s\n", f.Severity, f.Description)
		}
	}
	fmt.Printf("\n%d checks, %d errors, %d warnings\n",
		report.Summary.TotalChecks, report.Summary.Errors(), report.Summary.Warnings())
}

type panelView struct {
	Year       int     `json:"year"`
	Country    string  `json:"country"`
	RatePerUSD float64 `json:"rate_per_usd"`
	Source     string  `json:"source"`
}

func views(rows []models.UnifiedPanelRow) []panelView {
	out := make([]panelView, len(rows))
	for i, r := range rows {
		out[i] = panelView{Year: r.Time.Year(), Country: r.Entity, RatePerUSD: r.RatePerUSD, Source: string(r.Source)}
	}
	return out
}

// outputJSON formats rows as JSON
func outputJSON(rows []models.UnifiedPanelRow) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(views(rows))
}

// outputCSV formats rows with the published panel header
func outputCSV(rows []models.UnifiedPanelRow) error {
	w := csv.NewWriter(os.Stdout)
	if err := w.Write(output.Header(output.YearlyPanel)); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			strconv.Itoa(r.Time.Year()),
			r.Entity,
			output.Float(r.RatePerUSD, output.FullPrecision),
			string(r.Source),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// outputTable formats rows as a table
func outputTable(rows []models.UnifiedPanelRow) {
	if len(rows) == 0 {
		fmt.Println("No data found for the specified criteria.")
		return
	}
	fmt.Printf("%-6s %-24s %18s %-6s\n", "Year", "Country", "Rate per USD", "Source")
	fmt.Println(strings.Repeat("-", 57))
	for _, r := range rows {
		fmt.Printf("%-6d %-24s %18s %-6s\n",
			r.Time.Year(), r.Entity, output.Float(r.RatePerUSD, 6), r.Source)
	}
	fmt.Printf("\n%d rows\n", len(rows))
}

func printUsage() {
	fmt.Printf(`%s - Forex Centuries build CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    build       Build the panel and derived tables from the source files
    validate    Run the quality checks over the published tables
    query       Query the yearly panel in the analytical mirror
    status      Show the mirror contents and the last recorded build
    version     Show version information
    help        Show help information

EXAMPLES:
    # Build into data/derived and load the DuckDB mirror
    %s build --sources data/sources --derived data/derived --mirror

    # Check the published tables
    %s validate --derived data/derived

    # Japan's rate against the dollar between the wars, as CSV
    %s query --country Japan --from 1919 --to 1939 --format csv

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (YAML or JSON by extension, --config to override)
    - Environment variables: FOREX_* (e.g., FOREX_DERIVED_DIR), .env honored

EXIT CODES:
    0 success, 1 usage error or strict validation warnings, 2 configuration
    error or validation errors, 3 storage error, 4 build finished with fatal
    issues, 130 interrupted

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, ConfigFile, AppName)
}

func printCommandHelp(command string) {
	switch command {
	case "build":
		fmt.Printf(`Build the panel and derived tables

USAGE:
    %s build [options]

OPTIONS:
    --config, -c   Config file (default: %s)
    --sources, -s  Source directory (overrides paths.source_dir)
    --derived, -d  Derived directory (overrides paths.derived_dir)
    --workers, -w  Per-entity workers (overrides pipeline.workers)
    --mirror, -m   Load the panel and volatility tables into the mirror
    --help, -h     Show this help

Every table is published even when single sources fail; those failures are
listed at the end and make the command exit with 4.
`, AppName, ConfigFile)
	case "validate":
		fmt.Printf(`Run the quality checks over the published tables

USAGE:
    %s validate [options]

OPTIONS:
    --config, -c   Config file (default: %s)
    --sources, -s  Source directory, read by the cross-source check
    --derived, -d  Derived directory to check
    --strict       Exit 1 when only warnings were found
    --help, -h     Show this help

Exits 2 when a check reports errors and 0 otherwise; warnings are advisory
unless --strict is given.
`, AppName, ConfigFile)
	case "query":
		fmt.Printf(`Query the yearly panel in the analytical mirror

USAGE:
    %s query --country NAME [options]

OPTIONS:
    --config, -c   Config file (default: %s)
    --country      Country name as published in the panel (required)
    --from         First year, inclusive
    --to           Last year, inclusive
    --source       Only rows won by this source (MW, CI, GMD)
    --limit, -l    Maximum rows
    --format, -f   Output format: table, csv or json (default: table)
    --help, -h     Show this help
`, AppName, ConfigFile)
	case "status":
		fmt.Printf(`Show the mirror contents and the last recorded build

USAGE:
    %s status [--config PATH]
`, AppName)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command '%s'\n\n", command)
		printUsage()
	}
}
