package output

// Published table paths, relative to the derived directory
const (
	DailyNormalized      = "normalized/fred_daily_normalized.csv"
	DailyNormalizedWide  = "normalized/fred_daily_normalized_wide.csv"
	YearlyPanel          = "normalized/yearly_unified_panel.csv"
	YearlyPanelWide      = "normalized/yearly_unified_wide.csv"
	DailyReturns         = "analysis/daily_log_returns.csv"
	YearlyReturns        = "analysis/yearly_log_returns.csv"
	YearlyReturnsWide    = "analysis/yearly_log_returns_wide.csv"
	DailyVolatility      = "analysis/daily_volatility_stats.csv"
	YearlyVolatility     = "analysis/yearly_volatility_stats.csv"
	DailyCorrelation     = "analysis/daily_correlation_matrix.csv"
	YearlyCorrelation    = "analysis/yearly_correlation_matrix.csv"
	RollingVolatility    = "analysis/daily_rolling_volatility.csv"
	RegimeClassification = "analysis/yearly_regime_classification.csv"
	RegimeConditional    = "analysis/regime_conditional_stats.csv"
	RegimeMonthly        = "analysis/monthly_regime_conditional_stats.csv"
	GoldYearly           = "analysis/yearly_gold_inflation.csv"
	GoldMonthly          = "analysis/monthly_gold_inflation.csv"
	MomentumSignals      = "analysis/daily_momentum_signals.csv"
	MomentumReversals    = "analysis/daily_momentum_reversals.csv"
	SigmaEvents          = "analysis/sigma_event_frequency.csv"
	AssetReturns         = "analysis/jst_asset_returns.csv"
	StockBondCorrelation = "analysis/stock_bond_correlation.csv"
)

// Headers of the fixed-schema tables. Wide tables and matrices have one column
// per entity and are not listed.
var Headers = map[string][]string{
	DailyNormalized: {"date", "currency", "rate_per_usd"},
	YearlyPanel:     {"year", "country", "rate_per_usd", "source"},
	DailyReturns:    {"date", "currency", "log_return", "spans_gap"},
	YearlyReturns:   {"year", "country", "log_return", "spans_gap"},
	DailyVolatility: {
		"currency", "n_days", "start_date", "end_date", "daily_volatility",
		"annualized_volatility", "excess_kurtosis", "skewness", "max_daily_log_return",
		"min_daily_log_return", "tail_events_3sigma", "expected_normal", "tail_ratio",
	},
	YearlyVolatility: {
		"country", "n_years", "start_year", "end_year", "mean_log_return",
		"annual_volatility", "excess_kurtosis", "skewness", "max_annual_log_return",
		"min_annual_log_return", "tail_events_3sigma", "expected_normal", "tail_ratio",
	},
	RollingVolatility:    {"date", "currency", "rolling_volatility_252d"},
	RegimeClassification: {"year", "country", "coarse_regime", "regime_label", "regime_changes"},
	RegimeConditional: {
		"regime", "n_observations", "n_countries", "mean_log_return", "volatility",
		"excess_kurtosis", "skewness", "max_return", "min_return",
	},
	RegimeMonthly: {
		"regime", "n_observations", "n_countries", "mean_log_return", "volatility",
		"excess_kurtosis", "skewness", "max_return", "min_return",
	},
	GoldYearly: {
		"year", "decade", "country", "gold_local", "grams_per_100", "gold_inflation_pct",
		"gold_log_return", "cpi_inflation_pct", "gold_vs_cpi_gap_pct", "cumulative_retained_pct",
		"base_year",
	},
	GoldMonthly: {
		"year_month", "currency", "source", "rate_per_usd", "gold_usd", "gold_local",
		"grams_per_100", "gold_inflation_mom_pct", "gold_log_return", "gold_inflation_yoy_pct",
		"cumulative_retained_pct",
	},
	MomentumSignals:   {"date", "currency", "lookback", "momentum"},
	MomentumReversals: {"date", "currency", "reversal", "mom_12m", "mom_1m"},
	SigmaEvents: {
		"currency", "n_days", "sigma_level", "threshold", "observed",
		"expected_gaussian", "ratio_vs_gaussian",
	},
	AssetReturns: {
		"country", "asset_class", "n_years", "start_year", "end_year", "mean_nominal_return",
		"mean_real_return", "volatility", "sharpe_ratio", "excess_kurtosis", "skewness",
		"max_return", "min_return",
	},
	StockBondCorrelation: {"year", "country", "correlation_20y"},
}

// WideTables are the published wide tables with their time frequency key
var WideTables = []string{DailyNormalizedWide, YearlyPanelWide, YearlyReturnsWide}

// Matrices are the published correlation matrices
var Matrices = []string{DailyCorrelation, YearlyCorrelation}

// Header returns a copy of the fixed header of a published table, or nil
func Header(name string) []string {
	h, ok := Headers[name]
	if !ok {
		return nil
	}
	return append([]string(nil), h...)
}
