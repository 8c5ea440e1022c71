// Package config provides centralized configuration management for the forex-centuries build.
// Configuration is layered: struct-tag defaults, then a JSON or YAML file, then a .env file,
// then FOREX_* environment variables. The merged result is validated once and every failure
// is reported together.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "FOREX_"

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name" yaml:"app_name" default:"forex-centuries"`
	Version    string `json:"version" yaml:"version" default:"1.0.0"`
	ConfigPath string `json:"-" yaml:"-"`

	Paths         PathsConfig         `json:"paths" yaml:"paths"`
	Quoting       QuotingConfig       `json:"quoting" yaml:"quoting"`
	Merge         MergeConfig         `json:"merge" yaml:"merge"`
	Stats         StatsConfig         `json:"stats" yaml:"stats"`
	Regime        RegimeConfig        `json:"regime" yaml:"regime"`
	Gold          GoldConfig          `json:"gold" yaml:"gold"`
	Pipeline      PipelineConfig      `json:"pipeline" yaml:"pipeline"`
	Output        OutputConfig        `json:"output" yaml:"output"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Validator     ValidatorConfig     `json:"validator" yaml:"validator"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Metrics       MetricsConfig       `json:"metrics" yaml:"metrics"`
	ErrorHandling ErrorHandlingConfig `json:"error_handling" yaml:"error_handling"`
}

// PathsConfig locates the canonical source tree and the derived output tree
type PathsConfig struct {
	SourceDir  string `json:"source_dir" yaml:"source_dir" default:"data/sources" validate:"required"`
	DerivedDir string `json:"derived_dir" yaml:"derived_dir" default:"data/derived" validate:"required"`
}

// QuotingConfig is the per-source convention table. A source maps to an optional
// default convention plus per-entity overrides.
type QuotingConfig struct {
	Sources map[string]SourceQuoting `json:"sources" yaml:"sources" validate:"required,dive"`
}

// SourceQuoting holds the conventions of one source
type SourceQuoting struct {
	Default  string            `json:"default,omitempty" yaml:"default,omitempty" validate:"omitempty,oneof=foreign_per_usd usd_per_foreign"`
	Entities map[string]string `json:"entities,omitempty" yaml:"entities,omitempty" validate:"omitempty,dive,oneof=foreign_per_usd usd_per_foreign"`
}

// fredInverted are the H.10 series published as USD per foreign unit
var fredInverted = []string{"AUD", "EUR", "GBP", "NZD"}

var fredDirect = []string{
	"BRL", "CAD", "CHF", "CNY", "DKK", "HKD", "INR", "JPY", "KRW", "LKR",
	"MXN", "MYR", "NOK", "SEK", "SGD", "THB", "TWD", "VEF", "ZAR",
}

// SetDefaults fills the shipped convention table when none is configured
func (q *QuotingConfig) SetDefaults() {
	if q.Sources != nil {
		return
	}
	fred := SourceQuoting{Entities: make(map[string]string, len(fredInverted)+len(fredDirect))}
	for _, c := range fredInverted {
		fred.Entities[c] = "usd_per_foreign"
	}
	for _, c := range fredDirect {
		fred.Entities[c] = "foreign_per_usd"
	}
	q.Sources = map[string]SourceQuoting{
		"FRED": fred,
		"MW":   {Default: "foreign_per_usd"},
		"CI":   {Default: "foreign_per_usd"},
		"GMD":  {Default: "foreign_per_usd"},
		"IMF":  {Default: "foreign_per_usd"},
	}
}

// MergeConfig holds the strict source priority of each merged panel
type MergeConfig struct {
	YearlyPriority  []string `json:"yearly_priority" yaml:"yearly_priority" default:"[\"MW\",\"CI\",\"GMD\"]" validate:"min=1,unique"`
	MonthlyPriority []string `json:"monthly_priority" yaml:"monthly_priority" default:"[\"FRED\",\"IMF\"]" validate:"min=1,unique"`
	GoldPriority    []string `json:"gold_priority" yaml:"gold_priority" default:"[\"GBP_DIRECT\",\"GBP_CROSS\",\"USD_PANEL\"]" validate:"min=1,unique"`
}

// StatsConfig configures returns, moments, correlations and the daily signals
type StatsConfig struct {
	DailyMaxStepDays         int       `json:"daily_max_step_days" yaml:"daily_max_step_days" default:"4" validate:"gte=1"`
	ExcludeGapReturns        bool      `json:"exclude_gap_returns" yaml:"exclude_gap_returns" default:"true"`
	TradingDays              int       `json:"trading_days" yaml:"trading_days" default:"252" validate:"gt=0"`
	TailSigma                float64   `json:"tail_sigma" yaml:"tail_sigma" default:"3" validate:"gt=0"`
	MinYearlyReturns         int       `json:"min_yearly_returns" yaml:"min_yearly_returns" default:"3" validate:"gte=2"`
	YearlySource             string    `json:"yearly_source" yaml:"yearly_source" default:"MW" validate:"required"`
	YearlyExclude            []string  `json:"yearly_exclude" yaml:"yearly_exclude" default:"[\"Europe, Eurozone\"]"`
	YearlyCorrelationOverlap int       `json:"yearly_correlation_overlap" yaml:"yearly_correlation_overlap" default:"30" validate:"gte=2"`
	DailyCorrelationOverlap  int       `json:"daily_correlation_overlap" yaml:"daily_correlation_overlap" default:"2" validate:"gte=2"`
	RollingWindow            int       `json:"rolling_window" yaml:"rolling_window" default:"252" validate:"gte=2"`
	MomentumLookbacks        []int     `json:"momentum_lookbacks" yaml:"momentum_lookbacks" default:"[63,126,252]" validate:"min=1,dive,gt=0"`
	ReversalLookback         int       `json:"reversal_lookback" yaml:"reversal_lookback" default:"21" validate:"gt=0"`
	SigmaLevels              []float64 `json:"sigma_levels" yaml:"sigma_levels" default:"[2,3,4,5]" validate:"min=1,dive,gt=0"`
	MinVolatility            float64   `json:"min_volatility" yaml:"min_volatility" default:"1e-10" validate:"gte=0"`
	AssetMinYears            int       `json:"asset_min_years" yaml:"asset_min_years" default:"10" validate:"gte=2"`
	StockBondWindow          int       `json:"stock_bond_window" yaml:"stock_bond_window" default:"20" validate:"gte=2"`
	RegimeMinObservations    int       `json:"regime_min_observations" yaml:"regime_min_observations" default:"10" validate:"gte=2"`
}

// RegimeConfig configures the regime classification join
type RegimeConfig struct {
	MaxJoinDistanceMonths int               `json:"max_join_distance_months" yaml:"max_join_distance_months" validate:"gte=0,lte=24"`
	// daily currency code to regime country; enables the monthly conditional stats
	Currencies            map[string]string `json:"currencies" yaml:"currencies" validate:"omitempty,dive,keys,required,endkeys,required"`
}

// GoldConfig configures the gold inflation tables
type GoldConfig struct {
	CrossBeforeYear int     `json:"cross_before_year" yaml:"cross_before_year" default:"1791"`
	GramsPerOunce   float64 `json:"grams_per_ounce" yaml:"grams_per_ounce" default:"31.1035" validate:"gt=0"`
}

// PipelineConfig configures build concurrency
type PipelineConfig struct {
	Workers int `json:"workers" yaml:"workers" default:"4" validate:"gte=1,lte=256"`
}

// OutputConfig configures the published tables
type OutputConfig struct {
	Workbook          bool   `json:"workbook" yaml:"workbook"`
	WorkbookName      string `json:"workbook_name" yaml:"workbook_name" default:"forex_centuries.xlsx" validate:"required"`
	AnalysisPrecision int32  `json:"analysis_precision" yaml:"analysis_precision" default:"6" validate:"gte=0,lte=16"` // returns and statistics
	AssetPrecision    int32  `json:"asset_precision" yaml:"asset_precision" default:"4" validate:"gte=0,lte=16"`      // gold and asset tables
}

// StorageConfig configures the analytical mirror
type StorageConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Type        string `json:"type" yaml:"type" default:"duckdb" validate:"oneof=duckdb memory"` // "duckdb", "memory"
	DatabaseURL string `json:"database_url" yaml:"database_url" default:"data/derived/forex_centuries.duckdb"`
}

// ValidatorConfig configures the quality checks run against the published tables
type ValidatorConfig struct {
	DailyOutlierThreshold   float64  `json:"daily_outlier_threshold" yaml:"daily_outlier_threshold" default:"0.5" validate:"gt=0"`
	YearlyOutlierThreshold  float64  `json:"yearly_outlier_threshold" yaml:"yearly_outlier_threshold" default:"3.0" validate:"gt=0"`
	MissingThreshold        float64  `json:"missing_threshold" yaml:"missing_threshold" default:"0.5" validate:"gt=0,lte=1"`
	DivergenceThreshold     float64  `json:"divergence_threshold" yaml:"divergence_threshold" default:"0.10" validate:"gt=0"`
	TopDivergences          int      `json:"top_divergences" yaml:"top_divergences" default:"5" validate:"gte=0"`
	ExpectedDailyCurrencies []string `json:"expected_daily_currencies" yaml:"expected_daily_currencies" default:"[\"AUD\",\"BRL\",\"CAD\",\"CHF\",\"CNY\",\"DKK\",\"EUR\",\"GBP\",\"HKD\",\"INR\",\"JPY\",\"KRW\",\"LKR\",\"MXN\",\"MYR\",\"NOK\",\"NZD\",\"SEK\",\"SGD\",\"THB\",\"TWD\",\"VEF\",\"ZAR\"]"`
	ExpectedCountries       []string `json:"expected_countries" yaml:"expected_countries" default:"[\"Argentina\",\"Australia\",\"Austria\",\"Belgium\",\"Brazil\",\"Canada\",\"Chile\",\"China\",\"Colombia\",\"Denmark\",\"Finland\",\"France\",\"Germany\",\"Greece\",\"Hong Kong\",\"India\",\"Indonesia\",\"Ireland\",\"Israel\",\"Italy\",\"Japan\",\"Korea\",\"Malaysia\",\"Mexico\",\"Netherlands\",\"New Zealand\",\"Norway\",\"Peru\",\"Philippines\",\"Portugal\",\"Singapore\",\"South Africa\",\"Spain\",\"Sri Lanka\",\"Sweden\",\"Switzerland\",\"Taiwan\",\"Thailand\",\"United Kingdom\",\"Venezuela\"]"`
	CorrelationTolerance    float64  `json:"correlation_tolerance" yaml:"correlation_tolerance" default:"1e-6" validate:"gt=0"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" default:"info"`          // debug, info, warn, error
	Format        string            `json:"format" yaml:"format" default:"text"`        // json, text
	Output        string            `json:"output" yaml:"output" default:"stderr"`      // stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path"`                 // required when output is file
	MaxSize       int               `json:"max_size" yaml:"max_size" default:"100"`     // megabytes
	MaxBackups    int               `json:"max_backups" yaml:"max_backups" default:"5"` // rotated files kept
	MaxAge        int               `json:"max_age" yaml:"max_age" default:"30"`        // days
	Compress      bool              `json:"compress" yaml:"compress" default:"true"`
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`
}

// MetricsConfig configures the build metrics textfile
type MetricsConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" default:"true"`
	Namespace    string `json:"namespace" yaml:"namespace" default:"forex"`
	TextfilePath string `json:"textfile_path" yaml:"textfile_path" default:"build_metrics.prom"` // relative to derived_dir
}

// ErrorHandlingConfig configures error handling and retry policies
type ErrorHandlingConfig struct {
	GlobalRetryPolicy RetryPolicyConfig            `json:"global_retry_policy" yaml:"global_retry_policy"`
	ComponentPolicies map[string]RetryPolicyConfig `json:"component_policies" yaml:"component_policies"`
	FallbackBehavior  string                       `json:"fallback_behavior" yaml:"fallback_behavior" default:"isolate_and_continue"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int      `json:"max_attempts" yaml:"max_attempts" default:"3"`
	InitialDelay    string   `json:"initial_delay" yaml:"initial_delay" default:"100ms"`
	MaxDelay        string   `json:"max_delay" yaml:"max_delay" default:"2s"`
	BackoffStrategy string   `json:"backoff_strategy" yaml:"backoff_strategy" default:"exponential"` // fixed, exponential, linear
	RetryableErrors []string `json:"retryable_errors" yaml:"retryable_errors" default:"[\"io\"]"`
	Jitter          bool     `json:"jitter" yaml:"jitter" default:"true"`
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envFile    string
	logger     *slog.Logger
	validate   *validator.Validate
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &ConfigManager{
		configPath: configPath,
		envFile:    ".env",
		logger:     logger,
		validate:   v,
	}
}

// WithEnvFile overrides the .env location; an empty path disables it
func (cm *ConfigManager) WithEnvFile(path string) *ConfigManager {
	cm.envFile = path
	return cm
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority, .env values included)
// 2. Configuration file (JSON or YAML by extension)
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()
	config.ConfigPath = cm.configPath

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"source_dir", config.Paths.SourceDir,
		"derived_dir", config.Paths.DerivedDir,
		"workers", config.Pipeline.Workers,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile decodes the config file over the defaults
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadEnvFile exports .env values that are not already set in the environment
func (cm *ConfigManager) loadEnvFile() error {
	if cm.envFile == "" {
		return nil
	}
	if _, err := os.Stat(cm.envFile); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(cm.envFile); err != nil {
		return fmt.Errorf("failed to read %s: %w", cm.envFile, err)
	}
	cm.logger.Debug("loaded environment file", "path", cm.envFile)
	return nil
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

// loadFromEnv loads configuration from FOREX_* environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	var errs []string

	setInt := func(key string, dst *int) {
		if val := getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if val := getenv(key); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	setString := func(key string, dst *string) {
		if val := getenv(key); val != "" {
			*dst = val
		}
	}
	setList := func(key string, dst *[]string) {
		if val := getenv(key); val != "" {
			parts := strings.Split(val, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			*dst = parts
		}
	}

	// Paths
	setString("SOURCE_DIR", &config.Paths.SourceDir)
	setString("DERIVED_DIR", &config.Paths.DerivedDir)

	// Merge priorities
	setList("YEARLY_PRIORITY", &config.Merge.YearlyPriority)
	setList("MONTHLY_PRIORITY", &config.Merge.MonthlyPriority)
	setList("GOLD_PRIORITY", &config.Merge.GoldPriority)

	// Stats
	setInt("DAILY_MAX_STEP_DAYS", &config.Stats.DailyMaxStepDays)
	setBool("EXCLUDE_GAP_RETURNS", &config.Stats.ExcludeGapReturns)
	setList("YEARLY_EXCLUDE", &config.Stats.YearlyExclude)

	// Regime
	setInt("MAX_JOIN_DISTANCE_MONTHS", &config.Regime.MaxJoinDistanceMonths)

	// Pipeline and output
	setInt("WORKERS", &config.Pipeline.Workers)
	setBool("WORKBOOK", &config.Output.Workbook)

	// Storage
	setBool("STORAGE_ENABLED", &config.Storage.Enabled)
	setString("STORAGE_TYPE", &config.Storage.Type)
	setString("DATABASE_URL", &config.Storage.DatabaseURL)

	// Logging
	setString("LOG_LEVEL", &config.Logging.Level)
	setString("LOG_FORMAT", &config.Logging.Format)
	setString("LOG_OUTPUT", &config.Logging.Output)
	setString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics
	setBool("METRICS_ENABLED", &config.Metrics.Enabled)
	setString("METRICS_TEXTFILE", &config.Metrics.TextfilePath)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides:\n- %s", strings.Join(errs, "\n- "))
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

var knownSources = map[string]bool{
	"MW": true, "CI": true, "GMD": true, "FRED": true, "IMF": true,
	"GBP_DIRECT": true, "GBP_CROSS": true, "USD_PANEL": true,
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errs []string

	if err := cm.validate.Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldErrorMessage(fe))
		}
	}

	// Cross-field rules
	for name, list := range map[string][]string{
		"merge.yearly_priority":  config.Merge.YearlyPriority,
		"merge.monthly_priority": config.Merge.MonthlyPriority,
		"merge.gold_priority":    config.Merge.GoldPriority,
	} {
		for _, src := range list {
			if !knownSources[src] {
				errs = append(errs, fmt.Sprintf("%s contains unknown source %q", name, src))
			}
		}
	}
	if !contains(config.Merge.YearlyPriority, config.Stats.YearlySource) {
		errs = append(errs, fmt.Sprintf("stats.yearly_source %q must appear in merge.yearly_priority", config.Stats.YearlySource))
	}

	if config.Storage.Enabled && config.Storage.Type == "duckdb" && config.Storage.DatabaseURL == "" {
		errs = append(errs, "storage.database_url is required for DuckDB storage")
	}
	if !strings.HasSuffix(strings.ToLower(config.Output.WorkbookName), ".xlsx") {
		errs = append(errs, "output.workbook_name must end in .xlsx")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errs = append(errs, "logging.format must be one of: json, text")
	}
	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[config.Logging.Output] {
		errs = append(errs, "logging.output must be one of: stdout, stderr, file")
	}
	if config.Logging.Output == "file" && config.Logging.FilePath == "" {
		errs = append(errs, "logging.file_path is required when logging.output is file")
	}

	if config.Metrics.Enabled && config.Metrics.TextfilePath == "" {
		errs = append(errs, "metrics.textfile_path is required when metrics are enabled")
	}

	errs = append(errs, validateRetryPolicy("error_handling.global_retry_policy", config.ErrorHandling.GlobalRetryPolicy)...)
	for component, policy := range config.ErrorHandling.ComponentPolicies {
		errs = append(errs, validateRetryPolicy("error_handling.component_policies."+component, policy)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}

func validateRetryPolicy(prefix string, p RetryPolicyConfig) []string {
	var errs []string
	if p.MaxAttempts <= 0 {
		errs = append(errs, prefix+".max_attempts must be greater than 0")
	}
	if _, err := time.ParseDuration(p.InitialDelay); err != nil {
		errs = append(errs, fmt.Sprintf("%s.initial_delay is not a valid duration: %v", prefix, err))
	}
	if _, err := time.ParseDuration(p.MaxDelay); err != nil {
		errs = append(errs, fmt.Sprintf("%s.max_delay is not a valid duration: %v", prefix, err))
	}
	switch p.BackoffStrategy {
	case "fixed", "exponential", "linear":
	default:
		errs = append(errs, prefix+".backoff_strategy must be one of: fixed, exponential, linear")
	}
	return errs
}

// fieldErrorMessage renders a validator error using the dotted json path of the field
func fieldErrorMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "unique":
		return fmt.Sprintf("%s must not contain duplicates", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig saves the current configuration to the config file
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	if cm.config == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cm.config)
	default:
		data, err = json.MarshalIndent(cm.config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration populated from the struct-tag defaults
func DefaultConfig() *AppConfig {
	config := &AppConfig{}
	if err := defaults.Set(config); err != nil {
		// tags are static, so this only fails on a malformed tag
		panic(fmt.Sprintf("config: invalid default tag: %v", err))
	}
	if config.ErrorHandling.ComponentPolicies == nil {
		config.ErrorHandling.ComponentPolicies = make(map[string]RetryPolicyConfig)
	}
	return config
}

// GetStorageConfig returns storage-specific configuration
func (c *AppConfig) GetStorageConfig() StorageConfig {
	return c.Storage
}

// GetValidatorConfig returns validator-specific configuration
func (c *AppConfig) GetValidatorConfig() ValidatorConfig {
	return c.Validator
}

// GetLoggingConfig returns logging-specific configuration
func (c *AppConfig) GetLoggingConfig() LoggingConfig {
	return c.Logging
}

// GetMetricsConfig returns metrics-specific configuration
func (c *AppConfig) GetMetricsConfig() MetricsConfig {
	return c.Metrics
}

// GetErrorHandlingConfig returns error handling configuration
func (c *AppConfig) GetErrorHandlingConfig() ErrorHandlingConfig {
	return c.ErrorHandling
}

// MetricsTextfile returns the absolute location of the metrics textfile
func (c *AppConfig) MetricsTextfile() string {
	if filepath.IsAbs(c.Metrics.TextfilePath) {
		return c.Metrics.TextfilePath
	}
	return filepath.Join(c.Paths.DerivedDir, c.Metrics.TextfilePath)
}

// String returns a JSON representation of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
