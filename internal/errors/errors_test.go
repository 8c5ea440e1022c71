package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-forex-centuries/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier() *ErrorClassifier {
	cfg := config.DefaultConfig().ErrorHandling
	cfg.GlobalRetryPolicy.InitialDelay = "1ms"
	cfg.GlobalRetryPolicy.MaxDelay = "2ms"
	return NewErrorClassifier(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestErrorClassification(t *testing.T) {
	classifier := newTestClassifier()

	tests := []struct {
		name              string
		err               error
		expectedType      ErrorType
		expectedRetryable bool
		expectedFatal     bool
	}{
		{
			name:          "schema error",
			err:           NewMissingColumn("MW", "mw.csv", "year"),
			expectedType:  ErrorTypeSchema,
			expectedFatal: true,
		},
		{
			name:          "wrapped schema error",
			err:           fmt.Errorf("read gmd: %w", NewBadNumber("GMD", "gmd.csv", "USDfx", 3, "abc")),
			expectedType:  ErrorTypeSchema,
			expectedFatal: true,
		},
		{
			name:          "unmapped convention",
			err:           &UnmappedConventionError{Source: "FRED", Entity: "XYZ"},
			expectedType:  ErrorTypeUnmappedConvention,
			expectedFatal: true,
		},
		{
			name:         "insufficient overlap",
			err:          &InsufficientOverlapWarning{Context: "yearly correlation", Left: "A", Right: "B", Overlap: 12, Required: 30},
			expectedType: ErrorTypeInsufficientOverlap,
		},
		{
			name:         "merge gap",
			err:          &MergeGapWarning{Entity: "Japan", Period: "1945"},
			expectedType: ErrorTypeMergeGap,
		},
		{
			name:              "transient io",
			err:               &fs.PathError{Op: "read", Path: "x.csv", Err: errors.New("input/output error")},
			expectedType:      ErrorTypeIO,
			expectedRetryable: true,
			expectedFatal:     true,
		},
		{
			name:          "missing file is not retried",
			err:           &fs.PathError{Op: "open", Path: "x.csv", Err: fs.ErrNotExist},
			expectedType:  ErrorTypeIO,
			expectedFatal: true,
		},
		{
			name:          "configuration",
			err:           &ConfigError{Field: "merge.yearly_priority", Message: "source XX not listed"},
			expectedType:  ErrorTypeConfiguration,
			expectedFatal: true,
		},
		{
			name:          "canceled",
			err:           fmt.Errorf("build: %w", context.Canceled),
			expectedType:  ErrorTypeCanceled,
			expectedFatal: true,
		},
		{
			name:          "unknown",
			err:           errors.New("something went wrong"),
			expectedType:  ErrorTypeInternal,
			expectedFatal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifier.Classify(tt.err, "sources", "read")

			assert.Equal(t, tt.expectedType, classified.Type, "Error type mismatch")
			assert.Equal(t, tt.expectedRetryable, classified.Retryable, "Retryable mismatch")
			assert.Equal(t, tt.expectedFatal, classified.Fatal(), "Fatal mismatch")
			assert.Equal(t, "sources", classified.Component)
			assert.Equal(t, "read", classified.Operation)
			assert.NotZero(t, classified.Timestamp)
			assert.ErrorIs(t, classified, tt.err)
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	classifier := newTestClassifier()
	first := classifier.Classify(errors.New("boom"), "a", "b")
	assert.Same(t, first, classifier.Classify(first, "c", "d"))
	assert.Nil(t, classifier.Classify(nil, "a", "b"))
}

func TestSchemaErrorMessage(t *testing.T) {
	err := NewBadNumber("CI", "clio.csv", "Japan", 12, "n/a")
	assert.Equal(t, `schema error in CI source (clio.csv column "Japan" row 12): unparseable numeric cell: "n/a"`, err.Error())
	assert.ErrorIs(t, err, ErrBadNumber)

	missing := NewMissingColumn("FRED", "fred_jpy_usd.csv", "observation_date")
	assert.ErrorIs(t, missing, ErrMissingColumn)
	assert.NotContains(t, missing.Error(), "row")
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	classifier := newTestClassifier()

	attempts := 0
	err := classifier.Retry(context.Background(), "sources", "open", func() error {
		attempts++
		if attempts < 3 {
			return &fs.PathError{Op: "read", Path: "f.csv", Err: errors.New("resource temporarily unavailable")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, int64(2), classifier.GetStats()[ErrorTypeIO].Retries)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	classifier := newTestClassifier()

	attempts := 0
	err := classifier.Retry(context.Background(), "sources", "open", func() error {
		attempts++
		_, err := os.Open("/definitely/not/here.csv")
		return err
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrorTypeIO, GetErrorType(err))
	assert.False(t, IsRetryable(err))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	classifier := newTestClassifier()

	attempts := 0
	err := classifier.Retry(context.Background(), "sources", "open", func() error {
		attempts++
		return io.ErrUnexpectedEOF
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetryHonorsCancellation(t *testing.T) {
	classifier := newTestClassifier()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := classifier.Retry(ctx, "sources", "open", func() error {
		return io.ErrUnexpectedEOF
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffStrategies(t *testing.T) {
	lb := &LinearBackoff{interval: 10, max: 25}
	assert.EqualValues(t, 10, lb.NextBackOff())
	assert.EqualValues(t, 20, lb.NextBackOff())
	assert.EqualValues(t, 25, lb.NextBackOff())
	lb.Reset()
	assert.EqualValues(t, 10, lb.NextBackOff())

	classifier := newTestClassifier()
	policy := config.RetryPolicyConfig{MaxAttempts: 2, InitialDelay: "1ms", MaxDelay: "1ms", BackoffStrategy: "fixed"}
	b := classifier.createBackoffStrategy(policy)
	assert.Equal(t, time.Millisecond, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestReport(t *testing.T) {
	report := NewReport(newTestClassifier())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				report.Add(&MergeGapWarning{Entity: "E", Period: fmt.Sprint(1900 + i)}, "merge", "gaps")
			} else {
				report.Add(NewMissingColumn("MW", "mw.csv", "year"), "sources", "read")
			}
		}(i)
	}
	wg.Wait()
	report.Add(nil, "x", "y")

	assert.Len(t, report.All(), 20)
	assert.Len(t, report.Fatal(), 10)
	assert.Len(t, report.Warnings(), 10)
	assert.True(t, report.HasFatal())
	assert.Equal(t, map[ErrorType]int{ErrorTypeMergeGap: 10, ErrorTypeSchema: 10}, report.CountByType())
	assert.Equal(t, []ErrorType{ErrorTypeMergeGap, ErrorTypeSchema}, report.Types())
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "a", "b", "c"))
	base := errors.New("root")
	wrapped := WrapError(base, "merge", "run", "merge failed")
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "merge failed in merge.run: root", wrapped.Error())
}
