package normalize

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/johnayoung/go-forex-centuries/internal/models"
)

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func defaultTable() *ConventionTable {
	return NewConventionTable(config.DefaultConfig().Quoting)
}

func TestLookup(t *testing.T) {
	table := defaultTable()

	tests := []struct {
		name     string
		source   models.SourceTag
		entity   string
		expected models.UnitConvention
		unmapped bool
	}{
		{"fred inverted", models.SourceFRED, "GBP", models.ConventionUSDPerForeign, false},
		{"fred direct", models.SourceFRED, "JPY", models.ConventionForeignPerUSD, false},
		{"fred unknown currency", models.SourceFRED, "XYZ", "", true},
		{"source default", models.SourceMW, "Japan", models.ConventionForeignPerUSD, false},
		{"unknown source", models.SourceTag("ZZ"), "Japan", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, err := table.Lookup(tt.source, tt.entity)
			if tt.unmapped {
				var unmapped *apperrors.UnmappedConventionError
				require.True(t, errors.As(err, &unmapped))
				assert.Equal(t, tt.entity, unmapped.Entity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, conv)
		})
	}
}

func TestNormalizeInvertsAndDropsSentinels(t *testing.T) {
	raw := models.RawSeries{
		Source: models.SourceFRED, Entity: "GBP", Frequency: models.FrequencyDaily,
		Points: []models.RawObservation{
			{Time: day(3), Value: 1.25, Observed: true},
			{Time: day(2), Value: 2, Observed: true},
			{Time: day(4), Value: math.NaN(), Observed: false},
			{Time: day(5), Value: 0, Observed: true},
			{Time: day(6), Value: math.Inf(1), Observed: true},
		},
	}

	s, err := Normalize(raw, defaultTable())
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	require.Len(t, s.Points, 2)
	assert.True(t, s.Points[0].Time.Equal(day(2)))
	assert.InDelta(t, 0.5, s.Points[0].Value, 1e-15)
	assert.InDelta(t, 0.8, s.Points[1].Value, 1e-15)
}

func TestNormalizeRoundTrip(t *testing.T) {
	table := defaultTable()
	values := []float64{1.2345, 0.000123, 98765.4321, 1.0, 3.3333333333}

	for _, entity := range []string{"EUR", "JPY"} {
		t.Run(entity, func(t *testing.T) {
			raw := models.RawSeries{Source: models.SourceFRED, Entity: entity, Frequency: models.FrequencyDaily}
			for i, v := range values {
				raw.Points = append(raw.Points, models.RawObservation{Time: day(i + 1), Value: v, Observed: true})
			}

			s, err := Normalize(raw, table)
			require.NoError(t, err)
			back, err := Denormalize(s, table)
			require.NoError(t, err)
			require.Len(t, back, len(values))
			for i, v := range values {
				assert.InEpsilon(t, v, back[i].Value, 1e-12)
			}
		})
	}
}

func TestNormalizeDuplicateTimestamp(t *testing.T) {
	raw := models.RawSeries{
		Source: models.SourceGMD, Entity: "Japan", Frequency: models.FrequencyYearly,
		Points: []models.RawObservation{
			{Time: models.YearTime(1950), Value: 360, Observed: true},
			{Time: models.YearTime(1950), Value: 361, Observed: true},
		},
	}
	_, err := Normalize(raw, defaultTable())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateTime)
	assert.Contains(t, err.Error(), "1950")
}

func TestNormalizeAllIsolatesFailures(t *testing.T) {
	lm := logger.NewWriterManager(config.LoggingConfig{Level: "error", Format: "json"}, io.Discard)
	n := NewNormalizer(defaultTable(), lm)

	raws := []models.RawSeries{
		{Source: models.SourceFRED, Entity: "JPY", Frequency: models.FrequencyDaily,
			Points: []models.RawObservation{{Time: day(2), Value: 141, Observed: true}}},
		{Source: models.SourceFRED, Entity: "XYZ", Frequency: models.FrequencyDaily,
			Points: []models.RawObservation{{Time: day(2), Value: 1, Observed: true}}},
		{Source: models.SourceFRED, Entity: "CHF", Frequency: models.FrequencyDaily,
			Points: []models.RawObservation{{Time: day(2), Observed: false}}},
	}

	out, errs := n.NormalizeAll(context.Background(), raws)
	require.Len(t, out, 1)
	assert.Equal(t, "JPY", out[0].Entity)
	require.Len(t, errs, 1)
	assert.Equal(t, apperrors.ErrorTypeUnmappedConvention, apperrors.GetErrorType(errs[0]))
}
