// Package errors provides error classification, retry of transient failures and
// per-run issue reporting for the forex-centuries build. Domain errors raised by the
// readers, normalizer, merger and statistics engine are classified into a small set of
// types; only I/O failures are retried, everything else is isolated and reported.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-forex-centuries/internal/config"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	ErrorTypeSchema              ErrorType = "schema"               // Missing column or unparseable cell
	ErrorTypeUnmappedConvention  ErrorType = "unmapped_convention"  // No quoting convention for an entity
	ErrorTypeInsufficientOverlap ErrorType = "insufficient_overlap" // Too few shared observations
	ErrorTypeMergeGap            ErrorType = "merge_gap"            // Period missing from every source
	ErrorTypeIO                  ErrorType = "io"                   // File system failures
	ErrorTypeConfiguration       ErrorType = "configuration"        // Invalid configuration
	ErrorTypeCanceled            ErrorType = "canceled"             // Context canceled
	ErrorTypeInternal            ErrorType = "internal"             // Everything else
)

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err         error          `json:"error"`
	Type        ErrorType      `json:"type"`
	Severity    Severity       `json:"severity"`
	Retryable   bool           `json:"retryable"`
	Component   string         `json:"component"`
	Operation   string         `json:"operation"`
	Context     map[string]any `json:"context"`
	Timestamp   time.Time      `json:"timestamp"`
	Attempts    int            `json:"attempts"`
	LastAttempt time.Time      `json:"last_attempt"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is checks if the error is of the specified type
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

// Fatal reports whether the error fails the unit of work it was raised in.
// Warnings (overlap, merge gaps) never do.
func (ce *ClassifiedError) Fatal() bool {
	return ce.Severity >= SeverityHigh
}

// ErrorClassifier handles error classification and retry logic
type ErrorClassifier struct {
	config config.ErrorHandlingConfig
	logger *slog.Logger
	mu     sync.RWMutex
	stats  map[ErrorType]ErrorStats
}

// ErrorStats tracks error statistics for monitoring
type ErrorStats struct {
	Count     int64     `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
	FirstSeen time.Time `json:"first_seen"`
	Retries   int64     `json:"retries"`
}

// NewErrorClassifier creates a new error classifier with the given configuration
func NewErrorClassifier(config config.ErrorHandlingConfig, logger *slog.Logger) *ErrorClassifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorClassifier{
		config: config,
		logger: logger,
		stats:  make(map[ErrorType]ErrorStats),
	}
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata
func (ec *ErrorClassifier) Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errorType := classifyErrorType(err)
	severity := determineSeverity(errorType)
	retryable := ec.isRetryable(errorType, err)

	classified := &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  severity,
		Retryable: retryable,
		Component: component,
		Operation: operation,
		Context:   make(map[string]any),
		Timestamp: time.Now(),
	}

	ec.updateStats(errorType)

	ec.logger.Debug("error classified",
		"type", errorType,
		"severity", severity.String(),
		"retryable", retryable,
		"component", component,
		"operation", operation,
		"error", err.Error())

	return classified
}

// classifyErrorType determines the error type from the concrete error chain
func classifyErrorType(err error) ErrorType {
	var (
		schemaErr   *SchemaError
		unmapped    *UnmappedConventionError
		overlap     *InsufficientOverlapWarning
		gap         *MergeGapWarning
		configErr   *ConfigError
		pathErr     *fs.PathError
		errnoErr    syscall.Errno
		canceledErr = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	)

	switch {
	case canceledErr:
		return ErrorTypeCanceled
	case errors.As(err, &schemaErr):
		return ErrorTypeSchema
	case errors.As(err, &unmapped):
		return ErrorTypeUnmappedConvention
	case errors.As(err, &overlap):
		return ErrorTypeInsufficientOverlap
	case errors.As(err, &gap):
		return ErrorTypeMergeGap
	case errors.As(err, &configErr):
		return ErrorTypeConfiguration
	case errors.As(err, &pathErr), errors.As(err, &errnoErr),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, fs.ErrNotExist):
		return ErrorTypeIO
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "config") {
		return ErrorTypeConfiguration
	}
	return ErrorTypeInternal
}

// determineSeverity assigns a severity level based on error type
func determineSeverity(errorType ErrorType) Severity {
	switch errorType {
	case ErrorTypeInternal:
		return SeverityCritical
	case ErrorTypeSchema, ErrorTypeUnmappedConvention, ErrorTypeConfiguration, ErrorTypeIO, ErrorTypeCanceled:
		return SeverityHigh
	case ErrorTypeInsufficientOverlap, ErrorTypeMergeGap:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// isRetryable determines if an error should be retried. Missing files and
// permission failures are I/O errors that will not heal on their own.
func (ec *ErrorClassifier) isRetryable(errorType ErrorType, err error) bool {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	for _, retryableType := range ec.config.GlobalRetryPolicy.RetryableErrors {
		if string(errorType) == retryableType {
			return true
		}
	}
	return errorType == ErrorTypeIO
}

// updateStats updates error statistics
func (ec *ErrorClassifier) updateStats(errorType ErrorType) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	stats := ec.stats[errorType]
	stats.Count++
	stats.LastSeen = time.Now()
	if stats.FirstSeen.IsZero() {
		stats.FirstSeen = stats.LastSeen
	}
	ec.stats[errorType] = stats
}

func (ec *ErrorClassifier) recordRetry(errorType ErrorType) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	stats := ec.stats[errorType]
	stats.Retries++
	ec.stats[errorType] = stats
}

// Retry executes a function with retry logic based on classified errors
func (ec *ErrorClassifier) Retry(ctx context.Context, component, operation string, fn func() error) error {
	policy := ec.getRetryPolicy(component)
	backoffStrategy := ec.createBackoffStrategy(policy)

	var lastErr *ClassifiedError
	attempts := 0
	maxAttempts := policy.MaxAttempts

	for {
		attempts++

		err := fn()
		if err == nil {
			if attempts > 1 {
				ec.logger.Debug("operation succeeded after retry",
					"component", component,
					"operation", operation,
					"attempts", attempts)
			}
			return nil
		}

		classified := ec.Classify(err, component, operation)
		classified.Attempts = attempts
		classified.LastAttempt = time.Now()
		lastErr = classified

		if !classified.Retryable || attempts >= maxAttempts {
			break
		}

		ec.logger.Warn("operation failed, retrying",
			"component", component,
			"operation", operation,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"error_type", classified.Type,
			"error", err.Error())

		if ctx.Err() != nil {
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		}

		nextBackoff := backoffStrategy.NextBackOff()
		if nextBackoff == backoff.Stop {
			break
		}
		ec.recordRetry(classified.Type)

		select {
		case <-time.After(nextBackoff):
		case <-ctx.Done():
			return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// getRetryPolicy returns the retry policy for a component
func (ec *ErrorClassifier) getRetryPolicy(component string) config.RetryPolicyConfig {
	if policy, exists := ec.config.ComponentPolicies[component]; exists {
		return policy
	}
	return ec.config.GlobalRetryPolicy
}

// createBackoffStrategy creates a backoff strategy based on configuration
func (ec *ErrorClassifier) createBackoffStrategy(policy config.RetryPolicyConfig) backoff.BackOff {
	initialDelay, _ := time.ParseDuration(policy.InitialDelay)
	maxDelay, _ := time.ParseDuration(policy.MaxDelay)

	var strategy backoff.BackOff

	switch policy.BackoffStrategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(initialDelay)
	case "linear":
		strategy = &LinearBackoff{
			interval: initialDelay,
			max:      maxDelay,
		}
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = initialDelay
		exponential.MaxInterval = maxDelay
		exponential.MaxElapsedTime = 0
		strategy = exponential
	}

	if policy.Jitter {
		strategy = &JitteredBackoff{BackOff: strategy}
	}

	maxRetries := policy.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithMaxRetries(strategy, uint64(maxRetries))
}

// GetStats returns error statistics
func (ec *ErrorClassifier) GetStats() map[ErrorType]ErrorStats {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	stats := make(map[ErrorType]ErrorStats, len(ec.stats))
	for k, v := range ec.stats {
		stats[k] = v
	}
	return stats
}

// LinearBackoff implements a simple linear backoff strategy
type LinearBackoff struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackoff) NextBackOff() time.Duration {
	lb.current += lb.interval
	if lb.current > lb.max {
		lb.current = lb.max
	}
	return lb.current
}

// Reset resets the backoff to its initial state
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// JitteredBackoff adds jitter to another backoff strategy
type JitteredBackoff struct {
	backoff.BackOff
}

// NextBackOff returns the next backoff interval with jitter
func (jb *JitteredBackoff) NextBackOff() time.Duration {
	next := jb.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}

	// ±10%
	jitter := float64(next) * 0.1
	offset := (2.0*float64(time.Now().UnixNano()%1000)/1000.0 - 1.0) * jitter
	return next + time.Duration(offset)
}

// WrapError wraps an error with additional context
func WrapError(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s in %s.%s: %w", message, component, operation, err)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetErrorType extracts the error type from a classified error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return classifyErrorType(err)
}
