package stats

import (
	"math"

	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// ComputeMoments returns the descriptive statistics of values using two passes
// over the sample. Volatility is the n-1 standard deviation and is NaN below two
// observations; skewness and excess kurtosis use 1/n central moments and are NaN
// for a constant sample.
func ComputeMoments(values []float64) models.Moments {
	n := len(values)
	m := models.Moments{
		N:              n,
		Mean:           math.NaN(),
		Volatility:     math.NaN(),
		PopulationStd:  math.NaN(),
		Skewness:       math.NaN(),
		ExcessKurtosis: math.NaN(),
		Min:            math.NaN(),
		Max:            math.NaN(),
	}
	if n == 0 {
		return m
	}

	sum := 0.0
	m.Min, m.Max = values[0], values[0]
	for _, v := range values {
		sum += v
		if v < m.Min {
			m.Min = v
		}
		if v > m.Max {
			m.Max = v
		}
	}
	mean := sum / float64(n)
	m.Mean = mean

	var s2, s3, s4 float64
	for _, v := range values {
		d := v - mean
		d2 := d * d
		s2 += d2
		s3 += d2 * d
		s4 += d2 * d2
	}

	m2 := s2 / float64(n)
	m.PopulationStd = math.Sqrt(m2)
	if n >= 2 {
		m.Volatility = math.Sqrt(s2 / float64(n-1))
	}
	if m2 > 0 {
		m.Skewness = (s3 / float64(n)) / math.Pow(m2, 1.5)
		m.ExcessKurtosis = (s4/float64(n))/(m2*m2) - 3
	}
	return m
}

// NormalSF is the upper tail probability of the standard normal at k
func NormalSF(k float64) float64 {
	return 0.5 * math.Erfc(k/math.Sqrt2)
}

// ExpectedTailCount is the Gaussian-expected number of |z| > k events in n draws
func ExpectedTailCount(n int, k float64) float64 {
	return float64(n) * 2 * NormalSF(k)
}

// CountBeyond counts values further than k standard deviations from the mean
func CountBeyond(values []float64, mean, sd, k float64) int {
	if math.IsNaN(sd) || math.IsNaN(mean) {
		return 0
	}
	threshold := k * sd
	count := 0
	for _, v := range values {
		if math.Abs(v-mean) > threshold {
			count++
		}
	}
	return count
}

// TailEvents returns the observed |r - mean| > k sigma count, the Gaussian
// expectation and their ratio. The ratio is NaN when fewer than one event is
// expected.
func TailEvents(values []float64, k float64) (observed int, expected, ratio float64) {
	m := ComputeMoments(values)
	observed = CountBeyond(values, m.Mean, m.Volatility, k)
	expected = ExpectedTailCount(len(values), k)
	if expected < 1 {
		return observed, expected, math.NaN()
	}
	return observed, expected, float64(observed) / expected
}

// Pearson returns the correlation of two equally long samples, NaN when either
// is constant or shorter than two.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n < 2 || len(y) != n {
		return math.NaN()
	}
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/float64(n), sy/float64(n)

	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	r := sxy / math.Sqrt(sxx*syy)
	return math.Max(-1, math.Min(1, r))
}

// RollingStd returns the trailing sample standard deviation of each full window.
// Position i holds the window ending at i; the first window-1 positions are NaN.
func RollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		out[i] = ComputeMoments(values[i-window+1 : i+1]).Volatility
	}
	return out
}
