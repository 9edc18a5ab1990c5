package forecast

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

type trendKind int

const (
	additiveTrend trendKind = iota
	multiplicativeTrend
	dampedTrend
)

// penalty replaces non-finite objective values so the simplex can keep moving.
const penalty = 1e300

var errNonPositive = errors.New("multiplicative trend requires strictly positive values")

// smoothingParams are the constrained parameters of a trend smoothing model
type smoothingParams struct {
	alpha, beta, phi float64
}

// decode maps unconstrained optimizer coordinates into the admissible region:
// alpha in (0,1), beta in (0,alpha), phi in (0.8,0.98).
func decode(kind trendKind, x []float64) smoothingParams {
	p := smoothingParams{alpha: logistic(x[0]), phi: 1}
	p.beta = p.alpha * logistic(x[1])
	if kind == dampedTrend {
		p.phi = 0.8 + 0.18*logistic(x[2])
	}
	return p
}

// runSmoothing filters y through the model and returns the in-sample one-step SSE
// together with the forecast for the step after the last observation.
func runSmoothing(y []float64, kind trendKind, p smoothingParams) (sse, next float64) {
	level := y[0]
	var trend float64
	if kind == multiplicativeTrend {
		trend = y[1] / y[0]
	} else {
		trend = y[1] - y[0]
	}

	predict := func() float64 {
		if kind == multiplicativeTrend {
			return level * trend
		}
		return level + p.phi*trend
	}

	for t := 1; t < len(y); t++ {
		pred := predict()
		e := y[t] - pred
		sse += e * e

		prev := level
		level = p.alpha*y[t] + (1-p.alpha)*pred
		if kind == multiplicativeTrend {
			if level <= 0 || prev <= 0 {
				return math.Inf(1), math.NaN()
			}
			trend = p.beta*(level/prev) + (1-p.beta)*trend
		} else {
			trend = p.beta*(level-prev) + (1-p.beta)*p.phi*trend
		}
	}
	return sse, predict()
}

// fitSmoothing estimates the smoothing parameters by Nelder-Mead on the one-step SSE
// and returns the next-step forecast.
func fitSmoothing(y []float64, kind trendKind) (float64, error) {
	if len(y) < 2 {
		return 0, fmt.Errorf("need at least 2 observations, got %d", len(y))
	}
	if kind == multiplicativeTrend && !allPositive(y) {
		return 0, errNonPositive
	}

	x0 := []float64{0, -1.386}
	if kind == dampedTrend {
		x0 = append(x0, 1.386)
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			sse, _ := runSmoothing(y, kind, decode(kind, x))
			if !finite(sse) {
				return penalty
			}
			return sse
		},
	}
	res, err := optimize.Minimize(problem, x0, &optimize.Settings{MajorIterations: 400}, &optimize.NelderMead{})
	// limit statuses still carry the best point found
	if res == nil || len(res.X) != len(x0) {
		return 0, fmt.Errorf("failed to optimize smoothing parameters: %w", err)
	}

	_, next := runSmoothing(y, kind, decode(kind, res.X))
	if !finite(next) {
		return 0, fmt.Errorf("non-finite smoothing forecast")
	}
	return next, nil
}
