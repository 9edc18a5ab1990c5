package forecast

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Order limits of the automatic ARIMA search
const (
	maxP     = 2
	maxQ     = 2
	maxOrder = 5
	// extra observations required on top of p+q+d before a fit is attempted
	minARIMAObs = 6
	// 5% critical value of the level-stationarity KPSS statistic
	kpssCritical = 0.463
)

var errNoARIMAModel = errors.New("no ARIMA order could be fitted")

type arimaOrder struct {
	p, d, q int
}

// arimaFit is a fitted ARMA(p,q) on the d-times differenced series
type arimaFit struct {
	order     arimaOrder
	mean      float64
	ar, ma    []float64
	residuals []float64
	work      []float64
	aicc      float64
}

func difference(y []float64, lag int) []float64 {
	if len(y) <= lag {
		return nil
	}
	out := make([]float64, len(y)-lag)
	for i := lag; i < len(y); i++ {
		out[i-lag] = y[i] - y[i-lag]
	}
	return out
}

// kpssStationary runs the level-stationarity KPSS test with Bartlett weights
func kpssStationary(y []float64) bool {
	n := len(y)
	if n < 10 {
		return true
	}
	nlags := int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	if nlags >= n {
		nlags = n - 1
	}
	mean := stat.Mean(y, nil)
	resid := make([]float64, n)
	for i, v := range y {
		resid[i] = v - mean
	}

	var s2 float64
	for _, r := range resid {
		s2 += r * r
	}
	s2 /= float64(n)
	for l := 1; l <= nlags; l++ {
		var cov float64
		for i := l; i < n; i++ {
			cov += resid[i] * resid[i-l]
		}
		s2 += 2 * (1 - float64(l)/float64(nlags+1)) * cov / float64(n)
	}
	if s2 <= 0 {
		return true
	}

	var cum, eta float64
	for _, r := range resid {
		cum += r
		eta += cum * cum
	}
	return eta/(float64(n)*float64(n)*s2) <= kpssCritical
}

// armaFilter runs the conditional-sum-of-squares recursion and returns the residuals
func armaFilter(w []float64, mean float64, ar, ma []float64) []float64 {
	start := max(len(ar), len(ma))
	resid := make([]float64, len(w))
	for t := start; t < len(w); t++ {
		pred := mean
		for i, phi := range ar {
			pred += phi * (w[t-i-1] - mean)
		}
		for j, theta := range ma {
			pred += theta * resid[t-j-1]
		}
		resid[t] = w[t] - pred
	}
	return resid
}

func fitARMA(y []float64, order arimaOrder) (*arimaFit, error) {
	w := y
	if order.d > 0 {
		w = difference(y, 1)
	}
	if len(w) < order.p+order.q+order.d+minARIMAObs {
		return nil, fmt.Errorf("insufficient data for ARIMA(%d,%d,%d): %d points", order.p, order.d, order.q, len(w))
	}
	fit := &arimaFit{order: order, mean: stat.Mean(w, nil), work: w}
	k := order.p + order.q

	split := func(x []float64) (ar, ma []float64) {
		ar = make([]float64, order.p)
		ma = make([]float64, order.q)
		for i := range ar {
			ar[i] = math.Tanh(x[i])
		}
		for j := range ma {
			ma[j] = math.Tanh(x[order.p+j])
		}
		return ar, ma
	}

	if k > 0 {
		x0 := make([]float64, k)
		for i := range x0 {
			x0[i] = 0.1
		}
		start := max(order.p, order.q)
		problem := optimize.Problem{
			Func: func(x []float64) float64 {
				ar, ma := split(x)
				var sse float64
				for _, r := range armaFilter(w, fit.mean, ar, ma)[start:] {
					sse += r * r
				}
				if !finite(sse) {
					return penalty
				}
				return sse
			},
		}
		res, err := optimize.Minimize(problem, x0, &optimize.Settings{MajorIterations: 300}, &optimize.NelderMead{})
		if res == nil || len(res.X) != k {
			return nil, fmt.Errorf("failed to optimize ARMA coefficients: %w", err)
		}
		fit.ar, fit.ma = split(res.X)
	}

	start := max(order.p, order.q)
	fit.residuals = armaFilter(w, fit.mean, fit.ar, fit.ma)
	used := fit.residuals[start:]
	var sse float64
	for _, r := range used {
		sse += r * r
	}
	n := float64(len(used))
	sigma2 := math.Max(sse/n, 1e-12)
	loglik := -n / 2 * (math.Log(2*math.Pi*sigma2) + 1)
	params := float64(k + 1)
	fit.aicc = -2*loglik + 2*params
	if n-params-1 > 0 {
		fit.aicc += 2 * params * (params + 1) / (n - params - 1)
	} else {
		fit.aicc = math.Inf(1)
	}
	if !finite(fit.aicc) && !math.IsInf(fit.aicc, 1) {
		return nil, fmt.Errorf("non-finite AICc for ARIMA(%d,%d,%d)", order.p, order.d, order.q)
	}
	return fit, nil
}

// next forecasts one step past the end of y, undoing the differencing
func (f *arimaFit) next(y []float64) float64 {
	w, resid := f.work, f.residuals
	n := len(w)
	pred := f.mean
	for i, phi := range f.ar {
		pred += phi * (w[n-i-1] - f.mean)
	}
	for j, theta := range f.ma {
		pred += theta * resid[n-j-1]
	}
	if f.order.d > 0 {
		return y[len(y)-1] + pred
	}
	return pred
}

// autoARIMA selects (p,d,q) stepwise by AICc and returns the one-step forecast.
// When season > 0 the series is seasonally differenced at that lag first.
func autoARIMA(y []float64, season int) (float64, error) {
	series := y
	if season > 0 {
		series = difference(y, season)
		if len(series) < minARIMAObs {
			return 0, fmt.Errorf("series too short for seasonal lag %d", season)
		}
	}

	d := 0
	if !kpssStationary(series) {
		d = 1
	}

	fits := make(map[arimaOrder]*arimaFit)
	try := func(p, q int) *arimaFit {
		o := arimaOrder{p: p, d: d, q: q}
		if p < 0 || q < 0 || p > maxP || q > maxQ || p+q > maxOrder {
			return nil
		}
		if f, seen := fits[o]; seen {
			return f
		}
		f, err := fitARMA(series, o)
		if err != nil {
			f = nil
		}
		fits[o] = f
		return f
	}

	var best *arimaFit
	consider := func(f *arimaFit) bool {
		if f == nil || math.IsInf(f.aicc, 1) {
			return false
		}
		if best == nil || f.aicc < best.aicc {
			best = f
			return true
		}
		return false
	}

	for _, o := range [][2]int{{2, 2}, {0, 0}, {1, 0}, {0, 1}} {
		consider(try(o[0], o[1]))
	}
	for improved := best != nil; improved; {
		improved = false
		p, q := best.order.p, best.order.q
		for _, n := range [][2]int{{p + 1, q}, {p - 1, q}, {p, q + 1}, {p, q - 1}, {p + 1, q + 1}, {p - 1, q - 1}} {
			if consider(try(n[0], n[1])) {
				improved = true
			}
		}
	}
	if best == nil {
		return 0, errNoARIMAModel
	}

	fc := best.next(series)
	if season > 0 {
		fc += y[len(y)-season]
	}
	if !finite(fc) {
		return 0, fmt.Errorf("non-finite ARIMA forecast")
	}
	return fc, nil
}
