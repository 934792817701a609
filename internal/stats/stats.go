// Package stats provides the population statistics used by the scoring
// engine: mean, sample standard deviation, quantiles and z-scores.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation (n-1 denominator).
// Fewer than two values make the deviation undefined; 0 is returned so that
// callers can apply their std>0 guard uniformly.
func StdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// Quantile returns the q-th quantile (0 <= q <= 1) using linear
// interpolation between closest ranks. Returns 0 for an empty slice.
func Quantile(values []float64, q float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}

	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Median returns the 0.5 quantile.
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// ZScore returns |value-mean|/std. The caller must ensure std > 0.
func ZScore(value, mean, std float64) float64 {
	return math.Abs((value - mean) / std)
}

// PercentileRank returns the fraction of values strictly below v.
func PercentileRank(values []float64, v float64) float64 {
	if len(values) == 0 {
		return 0
	}
	below := 0
	for _, x := range values {
		if x < v {
			below++
		}
	}
	return float64(below) / float64(len(values))
}

// Summary bundles the global amount statistics computed once per pass.
type Summary struct {
	Count  int
	Mean   float64
	Std    float64
	Median float64
	Q75    float64
	Q95    float64
	Q99    float64
}

// Summarize computes a Summary over the given values.
func Summarize(values []float64) Summary {
	return Summary{
		Count:  len(values),
		Mean:   Mean(values),
		Std:    StdDev(values),
		Median: Median(values),
		Q75:    Quantile(values, 0.75),
		Q95:    Quantile(values, 0.95),
		Q99:    Quantile(values, 0.99),
	}
}
