package forecast

import (
	"fmt"

	"github.com/Dan9191/tsf-backend/internal/models"
)

// Model is a forecasting model family
type Model int

const (
	SES Model = iota
	Holt
	ARIMA
)

// Models lists the families in table column order
var Models = []Model{SES, Holt, ARIMA}

func (m Model) String() string {
	switch m {
	case SES:
		return "SES"
	case Holt:
		return "HOLT"
	default:
		return "ARIMA"
	}
}

// column maps a (model, granularity) pair to its forecast table column
func column(m Model, g Granularity) int {
	base := models.ColSESMonthly
	if g == Quarterly {
		base = models.ColSESQuarterly
	}
	return base + int(m)
}

// fitter produces a one-step forecast from a standardized window.
// raw is the unscaled window for models that must see original magnitudes.
type fitter func(raw, scaled []float64, s scaler) (float64, error)

var fitters = map[Model]fitter{
	SES:   fitSES,
	Holt:  fitHolt,
	ARIMA: fitARIMA,
}

// fitSES prefers a multiplicative trend on positive raw values and falls back
// to an additive trend on the standardized window.
func fitSES(raw, scaled []float64, s scaler) (float64, error) {
	if len(raw) >= 2 && allPositive(raw) {
		if fc, err := fitSmoothing(raw, multiplicativeTrend); err == nil {
			return fc, nil
		}
	}
	fc, err := fitSmoothing(scaled, additiveTrend)
	if err != nil {
		return 0, err
	}
	return s.invert(fc), nil
}

func fitHolt(_, scaled []float64, s scaler) (float64, error) {
	fc, err := fitSmoothing(scaled, dampedTrend)
	if err != nil {
		return 0, err
	}
	return s.invert(fc), nil
}

func fitARIMA(_, scaled []float64, s scaler) (float64, error) {
	fc, err := autoARIMA(scaled, detectSeasonality(scaled))
	if err != nil {
		return 0, err
	}
	return s.invert(fc), nil
}

// stepResult is one walk-forward forecast
type stepResult struct {
	value    float64
	fallback bool
	err      error
}

// forecastStep forecasts the period after window with model m. It never fails:
// a fit error yields the EWMA of the standardized window instead.
func forecastStep(m Model, window []float64) stepResult {
	last := window[len(window)-1]
	if allEqual(window) {
		return stepResult{value: last}
	}

	s := newScaler(window)
	scaled := s.apply(window)
	lo, hi := envelope(window)

	fc, err := fitters[m](window, scaled, s)
	if err == nil && !finite(fc) {
		err = fmt.Errorf("%s produced a non-finite forecast", m)
	}
	if err != nil {
		return stepResult{value: clip(s.invert(ewma(scaled, ewmaAlpha)), lo, hi), fallback: true, err: err}
	}
	return stepResult{value: clip(fc, lo, hi)}
}
