package forecast

import (
	"fmt"
	"time"

	"github.com/Dan9191/tsf-backend/internal/models"
)

// Granularity is the calendar bucket a walk-forward runs over
type Granularity int

const (
	Monthly Granularity = iota
	Quarterly
)

func (g Granularity) String() string {
	if g == Quarterly {
		return "quarterly"
	}
	return "monthly"
}

// PeriodStart returns the first day of the month or quarter containing t
func (g Granularity) PeriodStart(t time.Time) time.Time {
	m := t.Month()
	if g == Quarterly {
		m = time.Month((int(m)-1)/3*3 + 1)
	}
	return time.Date(t.Year(), m, 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the last day of the period starting at start
func (g Granularity) PeriodEnd(start time.Time) time.Time {
	months := 1
	if g == Quarterly {
		months = 3
	}
	return start.AddDate(0, months, -1)
}

// Period is one resampled bucket
type Period struct {
	Start time.Time
	Value float64
}

// dailyFrame is a gap-free daily series: values[i] belongs to start+i days.
type dailyFrame struct {
	start  time.Time
	values []float64
}

func (f dailyFrame) date(i int) time.Time {
	return f.start.AddDate(0, 0, i)
}

func (f dailyFrame) last() time.Time {
	return f.date(len(f.values) - 1)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// fillDaily builds a continuous daily index from the first to the last date and fills
// missing days by linear interpolation between the nearest known neighbours.
func fillDaily(daily models.DailySeries) (dailyFrame, error) {
	if len(daily) == 0 {
		return dailyFrame{}, fmt.Errorf("empty daily series: %w", models.ErrValidation)
	}
	for i := 1; i < len(daily); i++ {
		if !models.Day(daily[i].Date).After(models.Day(daily[i-1].Date)) {
			return dailyFrame{}, fmt.Errorf("daily series not strictly increasing at %s: %w",
				daily[i].Date.Format(models.DateLayout), models.ErrValidation)
		}
	}

	start := models.Day(daily[0].Date)
	n := daysBetween(start, models.Day(daily[len(daily)-1].Date)) + 1
	values := make([]float64, n)

	prevIdx := -1
	for _, p := range daily {
		idx := daysBetween(start, models.Day(p.Date))
		values[idx] = p.Value
		if prevIdx >= 0 && idx-prevIdx > 1 {
			lo, hi := values[prevIdx], p.Value
			span := float64(idx - prevIdx)
			for j := prevIdx + 1; j < idx; j++ {
				values[j] = lo + (hi-lo)*float64(j-prevIdx)/span
			}
		}
		prevIdx = idx
	}
	return dailyFrame{start: start, values: values}, nil
}

// resample averages the frame into period-start buckets
func resample(f dailyFrame, g Granularity) []Period {
	var out []Period
	var sum float64
	var count int
	for i, v := range f.values {
		ps := g.PeriodStart(f.date(i))
		if len(out) == 0 || !out[len(out)-1].Start.Equal(ps) {
			if count > 0 {
				out[len(out)-1].Value = sum / float64(count)
			}
			out = append(out, Period{Start: ps})
			sum, count = 0, 0
		}
		sum += v
		count++
	}
	if count > 0 {
		out[len(out)-1].Value = sum / float64(count)
	}
	return out
}
