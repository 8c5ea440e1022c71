package models

import (
	"fmt"
	"strconv"
	"time"
)

// Frequency is the native sampling frequency of a series.
type Frequency string

const (
	FrequencyYearly  Frequency = "yearly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyDaily   Frequency = "daily"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyYearly, FrequencyMonthly, FrequencyDaily:
		return true
	}
	return false
}

// Layout returns the time layout used for the frequency's time key.
func (f Frequency) Layout() string {
	switch f {
	case FrequencyYearly:
		return "2006"
	case FrequencyMonthly:
		return "2006-01"
	default:
		return "2006-01-02"
	}
}

// KeyName is the column name of the time key in published tables.
func (f Frequency) KeyName() string {
	switch f {
	case FrequencyYearly:
		return "year"
	case FrequencyMonthly:
		return "year_month"
	default:
		return "date"
	}
}

// Truncate maps t to the start of its period in UTC.
func (f Frequency) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch f {
	case FrequencyYearly:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	case FrequencyMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Format renders t as the frequency's time key.
func (f Frequency) Format(t time.Time) string {
	if f == FrequencyYearly {
		// years before 1000 would be zero-padded by the layout
		return strconv.Itoa(t.Year())
	}
	return t.UTC().Format(f.Layout())
}

// Parse reads a time key written by Format.
func (f Frequency) Parse(s string) (time.Time, error) {
	if f == FrequencyYearly {
		y, err := parseYear(s)
		if err != nil {
			return time.Time{}, err
		}
		return YearTime(y), nil
	}
	t, err := time.Parse(f.Layout(), s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s key %q: %w", f, s, err)
	}
	return t, nil
}

// Steps returns the number of nominal periods between from and to.
// Daily steps are calendar days.
func (f Frequency) Steps(from, to time.Time) int {
	switch f {
	case FrequencyYearly:
		return to.Year() - from.Year()
	case FrequencyMonthly:
		return MonthIndex(to) - MonthIndex(from)
	default:
		return int(f.Truncate(to).Sub(f.Truncate(from)).Hours() / 24)
	}
}

// YearTime returns January 1st of year y in UTC.
func YearTime(y int) time.Time {
	return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// MonthIndex is a monotonically increasing month counter (year*12 + month-1).
func MonthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

// MonthFromIndex is the inverse of MonthIndex.
func MonthFromIndex(i int) time.Time {
	return time.Date(i/12, time.Month(i%12+1), 1, 0, 0, 0, 0, time.UTC)
}

func parseYear(s string) (int, error) {
	if y, err := strconv.Atoi(s); err == nil {
		return y, nil
	}
	// some providers write years as floats ("1913.0")
	fv, err := strconv.ParseFloat(s, 64)
	if err != nil || fv != float64(int(fv)) {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	return int(fv), nil
}
