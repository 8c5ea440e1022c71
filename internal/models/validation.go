package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SeverityLevel represents the severity of a quality check result or finding
type SeverityLevel string

const (
	SeverityInfo    SeverityLevel = "info"
	SeverityWarning SeverityLevel = "warning"
	SeverityError   SeverityLevel = "error"
)

var severityRank = map[SeverityLevel]int{
	SeverityInfo:    1,
	SeverityWarning: 2,
	SeverityError:   3,
}

// FindingType represents the kind of quality issue detected on a published table
type FindingType string

const (
	FindingSchema       FindingType = "schema"
	FindingDuplicate    FindingType = "duplicate"
	FindingMissing      FindingType = "missing"
	FindingOutlier      FindingType = "outlier"
	FindingDivergence   FindingType = "cross_source_divergence"
	FindingIncomplete   FindingType = "incomplete"
	FindingCorrelation  FindingType = "correlation"
	FindingTranspose    FindingType = "transpose"
	FindingMissingTable FindingType = "missing_table"
)

// Finding represents a single detected data quality issue
type Finding struct {
	Type        FindingType     `json:"type"`
	Table       string          `json:"table"`
	Description string          `json:"description"`
	Value       decimal.Decimal `json:"value"`
	Threshold   decimal.Decimal `json:"threshold"`
	Severity    SeverityLevel   `json:"severity"`
}

// NewFinding creates a finding with an explicit severity
func NewFinding(findingType FindingType, severity SeverityLevel, table, description string) Finding {
	return Finding{
		Type:        findingType,
		Table:       table,
		Description: description,
		Severity:    severity,
	}
}

// NewThresholdFinding creates a finding for a value exceeding a threshold
func NewThresholdFinding(findingType FindingType, severity SeverityLevel, table string, value, threshold float64, format string, args ...any) Finding {
	f := NewFinding(findingType, severity, table, fmt.Sprintf(format, args...))
	f.Value = decimal.NewFromFloat(value)
	f.Threshold = decimal.NewFromFloat(threshold)
	return f
}

// CheckResult tracks the outcome of one quality check
type CheckResult struct {
	ID         string        `json:"id"`
	Check      string        `json:"check"`
	CheckedAt  time.Time     `json:"checked_at"`
	Passed     []string      `json:"passed"`
	Findings   []Finding     `json:"findings"`
	Severity   SeverityLevel `json:"severity"`
	DurationMs int64         `json:"duration_ms"`
}

// HasSeverity reports whether the result reached at least the given level
func (r *CheckResult) HasSeverity(level SeverityLevel) bool {
	return severityRank[r.Severity] >= severityRank[level]
}

// CountBySeverity counts findings at exactly the given level
func (r *CheckResult) CountBySeverity(level SeverityLevel) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == level {
			n++
		}
	}
	return n
}

// CheckResultBuilder helps construct CheckResult instances
type CheckResultBuilder struct {
	result *CheckResult
}

// NewCheckResult creates a new CheckResult with required fields
func NewCheckResult(id, check string) *CheckResult {
	return &CheckResult{
		ID:        id,
		Check:     check,
		CheckedAt: time.Now().UTC(),
		Passed:    make([]string, 0),
		Findings:  make([]Finding, 0),
		Severity:  SeverityInfo,
	}
}

// NewCheckResultBuilder creates a builder for CheckResult
func NewCheckResultBuilder(id, check string) *CheckResultBuilder {
	return &CheckResultBuilder{result: NewCheckResult(id, check)}
}

// AddPassed records a sub-check that found nothing
func (b *CheckResultBuilder) AddPassed(name string) *CheckResultBuilder {
	b.result.Passed = append(b.result.Passed, name)
	return b
}

// AddFinding adds a finding and escalates the overall severity
func (b *CheckResultBuilder) AddFinding(f Finding) *CheckResultBuilder {
	b.result.Findings = append(b.result.Findings, f)
	if severityRank[f.Severity] > severityRank[b.result.Severity] {
		b.result.Severity = f.Severity
	}
	return b
}

// Build returns the constructed CheckResult
func (b *CheckResultBuilder) Build() *CheckResult {
	b.result.DurationMs = time.Since(b.result.CheckedAt).Milliseconds()
	return b.result
}

// CheckSummary provides aggregated check metrics
type CheckSummary struct {
	TotalChecks       int                   `json:"total_checks"`
	TotalFindings     int                   `json:"total_findings"`
	SeverityBreakdown map[SeverityLevel]int `json:"severity_breakdown"`
	FindingBreakdown  map[FindingType]int   `json:"finding_breakdown"`
	ProcessedAt       time.Time             `json:"processed_at"`
}

// AggregateCheckResults combines multiple check results
func AggregateCheckResults(results []*CheckResult) *CheckSummary {
	summary := &CheckSummary{
		TotalChecks:       len(results),
		SeverityBreakdown: make(map[SeverityLevel]int),
		FindingBreakdown:  make(map[FindingType]int),
		ProcessedAt:       time.Now().UTC(),
	}
	for _, r := range results {
		for _, f := range r.Findings {
			summary.SeverityBreakdown[f.Severity]++
			summary.FindingBreakdown[f.Type]++
			summary.TotalFindings++
		}
	}
	return summary
}

// Errors returns the number of error findings
func (s *CheckSummary) Errors() int { return s.SeverityBreakdown[SeverityError] }

// Warnings returns the number of warning findings
func (s *CheckSummary) Warnings() int { return s.SeverityBreakdown[SeverityWarning] }
