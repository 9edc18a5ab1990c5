package forecast

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	ewmaAlpha    = 0.3
	clipIQRScale = 10.0
	minIQR       = 1e-9
)

func allEqual(y []float64) bool {
	for _, v := range y[1:] {
		if v != y[0] {
			return false
		}
	}
	return true
}

func allPositive(y []float64) bool {
	for _, v := range y {
		if v <= 0 {
			return false
		}
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// scaler standardizes a training window and maps forecasts back
type scaler struct {
	mean, std float64
}

func newScaler(y []float64) scaler {
	mean := stat.Mean(y, nil)
	var ss float64
	for _, v := range y {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(y)))
	if !finite(std) || std < 1e-12 {
		std = 1.0
	}
	return scaler{mean: mean, std: std}
}

func (s scaler) apply(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = (v - s.mean) / s.std
	}
	return out
}

func (s scaler) invert(v float64) float64 {
	return v*s.std + s.mean
}

// envelope is the clip range [Q1 - 10*IQR, Q3 + 10*IQR] of a training window
func envelope(y []float64) (lo, hi float64) {
	sorted := append([]float64(nil), y...)
	sort.Float64s(sorted)
	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	iqr := math.Max(minIQR, q3-q1)
	return q1 - clipIQRScale*iqr, q3 + clipIQRScale*iqr
}

func clip(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// ewma is the last value of an exponentially weighted mean without bias adjustment
func ewma(y []float64, alpha float64) float64 {
	s := y[0]
	for _, v := range y[1:] {
		s = alpha*v + (1-alpha)*s
	}
	return s
}

// autocorr is the Pearson correlation between y[lag:] and y[:len-lag]
func autocorr(y []float64, lag int) float64 {
	if lag <= 0 || lag >= len(y)-1 {
		return math.NaN()
	}
	return stat.Correlation(y[lag:], y[:len(y)-lag], nil)
}

// seasonalCandidates are the daily periods probed by detectSeasonality
var seasonalCandidates = []int{7, 30, 365}

// detectSeasonality picks the candidate lag with the strongest autocorrelation,
// or 0 when the series is short or no lag reaches |r| >= 0.2.
func detectSeasonality(y []float64) int {
	if len(y) < 30 {
		return 0
	}
	best, bestR := 0, 0.0
	for _, m := range seasonalCandidates {
		if len(y) <= m+2 {
			continue
		}
		r := autocorr(y, m)
		if !finite(r) {
			continue
		}
		if math.Abs(r) > math.Abs(bestR) && math.Abs(r) >= 0.2 {
			best, bestR = m, r
		}
	}
	return best
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
