package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/metrics"
	"github.com/Dan9191/tsf-backend/internal/models"
)

// Progress bounds of the forecasting stage within a job
const (
	ProgressStart = 10
	ProgressSpan  = 80
)

// ProgressFunc receives a non-decreasing percentage and a short step label
type ProgressFunc func(pct int, label string)

// Point is one walk-forward forecast at the start of a period
type Point struct {
	Date        time.Time
	Value       float64
	Model       Model
	Granularity Granularity
}

// Forecaster runs expanding-window walk-forward forecasts
type Forecaster struct {
	log *logrus.Logger
}

// NewForecaster creates a new forecaster
func NewForecaster(log *logrus.Logger) *Forecaster {
	return &Forecaster{log: log}
}

// Granularities lists the period sizes in table column order
var Granularities = []Granularity{Monthly, Quarterly}

// BuildForecastTable interpolates daily to a gap-free index, walks every model forward at
// monthly and quarterly granularity and assembles the daily-expanded table.
func (f *Forecaster) BuildForecastTable(ctx context.Context, daily models.DailySeries, progress ProgressFunc) (*models.ForecastTable, error) {
	frame, err := fillDaily(daily)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(int, string) {}
	}

	periods := make(map[Granularity][]Period, len(Granularities))
	total := 0
	for _, g := range Granularities {
		periods[g] = resample(frame, g)
		if n := len(periods[g]); n > 1 {
			total += len(Models) * (n - 1)
		}
	}

	var points []Point
	done := 0
	for _, g := range Granularities {
		ps := periods[g]
		values := make([]float64, len(ps))
		for i, p := range ps {
			values[i] = p.Value
		}
		for _, m := range Models {
			for i := 1; i < len(ps); i++ {
				if err := ctx.Err(); err != nil {
					return nil, fmt.Errorf("forecast interrupted: %w", err)
				}
				res := forecastStep(m, values[:i])
				if res.fallback {
					metrics.ModelFallbacks.WithLabelValues(m.String(), g.String()).Inc()
					f.log.WithFields(logrus.Fields{
						"model":       m.String(),
						"granularity": g.String(),
						"period":      ps[i].Start.Format(models.DateLayout),
					}).WithError(res.err).Debug("Model fit failed, using EWMA fallback")
				}
				points = append(points, Point{Date: ps[i].Start, Value: res.value, Model: m, Granularity: g})

				done++
				progress(ProgressStart+ProgressSpan*done/total,
					fmt.Sprintf("%s: %s %s (%d/%d)", g, m, ps[i].Start.Format(models.DateLayout), i, len(ps)-1))
			}
		}
	}

	return assemble(frame, points), nil
}

// assemble expands every period forecast over its days and joins them with the history
func assemble(frame dailyFrame, points []Point) *models.ForecastTable {
	end := frame.last()
	for _, p := range points {
		if pe := p.Granularity.PeriodEnd(p.Date); pe.After(end) {
			end = pe
		}
	}

	rows := make([]models.ForecastRow, daysBetween(frame.start, end)+1)
	for i := range rows {
		rows[i].Date = frame.date(i)
		if i < len(frame.values) {
			rows[i].Value = null.FloatFrom(frame.values[i])
		}
	}
	for _, p := range points {
		col := column(p.Model, p.Granularity)
		from := max(0, daysBetween(frame.start, p.Date))
		to := daysBetween(frame.start, p.Granularity.PeriodEnd(p.Date))
		for d := from; d <= to; d++ {
			rows[d].Forecasts[col] = null.FloatFrom(p.Value)
		}
	}
	return &models.ForecastTable{Rows: rows}
}
