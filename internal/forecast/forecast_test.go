package forecast

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/models"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func series(start string, values ...float64) models.DailySeries {
	d := day(start)
	out := make(models.DailySeries, len(values))
	for i, v := range values {
		out[i] = models.DailyPoint{Date: d.AddDate(0, 0, i), Value: v}
	}
	return out
}

func constantSeries(start string, n int, v float64) models.DailySeries {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return series(start, values...)
}

func TestFillDaily_InterpolatesGaps(t *testing.T) {
	daily := models.DailySeries{
		{Date: day("2024-01-01"), Value: 1},
		{Date: day("2024-01-02"), Value: 2},
		{Date: day("2024-01-05"), Value: 5},
	}
	frame, err := fillDaily(daily)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2, 3, 4, 5}
	if !reflect.DeepEqual(frame.values, want) {
		t.Fatalf("values = %v, want %v", frame.values, want)
	}
	if !frame.last().Equal(day("2024-01-05")) {
		t.Errorf("last = %v", frame.last())
	}
}

func TestFillDaily_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		daily models.DailySeries
	}{
		{"empty", nil},
		{"duplicate", models.DailySeries{{Date: day("2024-01-01")}, {Date: day("2024-01-01")}}},
		{"descending", models.DailySeries{{Date: day("2024-01-02")}, {Date: day("2024-01-01")}}},
		{"out of order inside range", models.DailySeries{{Date: day("2024-01-01")}, {Date: day("2024-01-06")}, {Date: day("2024-01-04")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fillDaily(tt.daily); !errors.Is(err, models.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestBuildForecastTable_UnorderedSeries(t *testing.T) {
	daily := models.DailySeries{
		{Date: day("2024-01-01"), Value: 1},
		{Date: day("2024-01-06"), Value: 2},
		{Date: day("2024-01-04"), Value: 3},
	}
	if _, err := NewForecaster(quietLogger()).BuildForecastTable(context.Background(), daily, nil); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGranularity_Periods(t *testing.T) {
	tests := []struct {
		g         Granularity
		in        string
		wantStart string
		wantEnd   string
	}{
		{Monthly, "2024-02-17", "2024-02-01", "2024-02-29"},
		{Monthly, "2023-12-31", "2023-12-01", "2023-12-31"},
		{Quarterly, "2024-05-20", "2024-04-01", "2024-06-30"},
		{Quarterly, "2024-12-01", "2024-10-01", "2024-12-31"},
	}
	for _, tt := range tests {
		start := tt.g.PeriodStart(day(tt.in))
		if !start.Equal(day(tt.wantStart)) {
			t.Errorf("%s start of %s = %s, want %s", tt.g, tt.in, start.Format(models.DateLayout), tt.wantStart)
		}
		if end := tt.g.PeriodEnd(start); !end.Equal(day(tt.wantEnd)) {
			t.Errorf("%s end of %s = %s, want %s", tt.g, tt.in, end.Format(models.DateLayout), tt.wantEnd)
		}
	}
}

func TestResample_MeanPerPeriod(t *testing.T) {
	// 31 days of January at 1, then 2 days of February at 4 and 6
	values := make([]float64, 0, 33)
	for i := 0; i < 31; i++ {
		values = append(values, 1)
	}
	values = append(values, 4, 6)
	frame, err := fillDaily(series("2024-01-01", values...))
	if err != nil {
		t.Fatal(err)
	}

	monthly := resample(frame, Monthly)
	if len(monthly) != 2 || monthly[0].Value != 1 || monthly[1].Value != 5 {
		t.Fatalf("monthly = %+v", monthly)
	}
	quarterly := resample(frame, Quarterly)
	if len(quarterly) != 1 || math.Abs(quarterly[0].Value-41.0/33) > 1e-12 {
		t.Fatalf("quarterly = %+v", quarterly)
	}
}

func TestBuildForecastTable_ConstantSeries(t *testing.T) {
	table, err := NewForecaster(quietLogger()).BuildForecastTable(context.Background(), constantSeries("2023-01-01", 400, 42.0), nil)
	if err != nil {
		t.Fatal(err)
	}
	seen := 0
	for _, row := range table.Rows {
		for col, f := range row.Forecasts {
			if !f.Valid {
				continue
			}
			seen++
			if f.Float64 != 42.0 {
				t.Fatalf("%s column %d = %v, want exactly 42", row.Date.Format(models.DateLayout), col, f.Float64)
			}
		}
	}
	if seen == 0 {
		t.Fatal("no forecasts produced")
	}
}

func TestBuildForecastTable_Shape(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := make([]float64, 200)
	for i := range values {
		values[i] = 10 + 3*math.Sin(float64(i)/9) + rng.Float64()
	}
	// 2024-01-15 .. 2024-08-01
	daily := series("2024-01-15", values...)

	table, err := NewForecaster(quietLogger()).BuildForecastTable(context.Background(), daily, nil)
	if err != nil {
		t.Fatal(err)
	}

	first := day("2024-01-15")
	// last quarterly forecast covers Q3 through 2024-09-30
	wantEnd := day("2024-09-30")
	wantRows := daysBetween(first, wantEnd) + 1
	if len(table.Rows) != wantRows {
		t.Fatalf("rows = %d, want %d", len(table.Rows), wantRows)
	}
	for i, row := range table.Rows {
		if !row.Date.Equal(first.AddDate(0, 0, i)) {
			t.Fatalf("row %d dated %s, gap or duplicate", i, row.Date.Format(models.DateLayout))
		}
		inHistory := !row.Date.After(daily.Last())
		if row.Value.Valid != inHistory {
			t.Fatalf("row %s value validity = %v", row.Date.Format(models.DateLayout), row.Value.Valid)
		}
	}

	// P-1 forecasts per family: 8 monthly periods, 3 quarterly periods
	wantPeriods := map[int]int{
		models.ColSESMonthly: 7, models.ColHWESMonthly: 7, models.ColARIMAMonthly: 7,
		models.ColSESQuarterly: 2, models.ColHWESQuarterly: 2, models.ColARIMAQuarterly: 2,
	}
	for col, want := range wantPeriods {
		starts := 0
		for i, row := range table.Rows {
			f := row.Forecasts[col]
			if !f.Valid {
				continue
			}
			g := Monthly
			if col >= models.ColSESQuarterly {
				g = Quarterly
			}
			ps := g.PeriodStart(row.Date)
			if row.Date.Equal(ps) {
				starts++
				continue
			}
			// daily expansion repeats the period value
			prev := table.Rows[i-1].Forecasts[col]
			if !prev.Valid || prev.Float64 != f.Float64 {
				t.Fatalf("column %d changes inside period at %s", col, row.Date.Format(models.DateLayout))
			}
		}
		if starts != want {
			t.Errorf("column %d: %d forecast periods, want %d", col, starts, want)
		}
	}

	// training-only first period carries no forecasts
	for _, f := range table.Rows[0].Forecasts {
		if f.Valid {
			t.Fatal("first day must not be forecast")
		}
	}
}

func TestBuildForecastTable_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	values := make([]float64, 150)
	for i := range values {
		values[i] = 5 + rng.NormFloat64()
	}
	daily := series("2024-01-01", values...)
	f := NewForecaster(quietLogger())

	a, err := f.BuildForecastTable(context.Background(), daily, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.BuildForecastTable(context.Background(), daily, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("identical input produced different tables")
	}
}

func TestBuildForecastTable_Progress(t *testing.T) {
	var pcts []int
	var labels []string
	progress := func(pct int, label string) {
		pcts = append(pcts, pct)
		labels = append(labels, label)
	}
	_, err := NewForecaster(quietLogger()).BuildForecastTable(context.Background(), constantSeries("2024-01-01", 100, 3), progress)
	if err != nil {
		t.Fatal(err)
	}
	// 4 monthly periods and 2 quarterly periods: 3*3 + 3*1 steps
	if len(pcts) != 12 {
		t.Fatalf("progress called %d times, want 12", len(pcts))
	}
	for i := 1; i < len(pcts); i++ {
		if pcts[i] < pcts[i-1] {
			t.Fatalf("progress decreased: %v", pcts)
		}
	}
	if pcts[len(pcts)-1] != ProgressStart+ProgressSpan {
		t.Errorf("final progress = %d", pcts[len(pcts)-1])
	}
	if labels[0] != "monthly: SES 2024-02-01 (1/3)" {
		t.Errorf("first label = %q", labels[0])
	}
}

func TestBuildForecastTable_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewForecaster(quietLogger()).BuildForecastTable(ctx, constantSeries("2024-01-01", 100, 3), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuildForecastTable_SinglePeriod(t *testing.T) {
	table, err := NewForecaster(quietLogger()).BuildForecastTable(context.Background(), series("2024-03-01", 1, 2, 3), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(table.Rows))
	}
}

func TestForecastStep_TrendFollowing(t *testing.T) {
	window := make([]float64, 20)
	for i := range window {
		window[i] = float64(i + 1)
	}
	for _, m := range []Model{SES, Holt} {
		res := forecastStep(m, window)
		if res.fallback {
			t.Fatalf("%s fell back: %v", m, res.err)
		}
		if math.Abs(res.value-21) > 1 {
			t.Errorf("%s forecast = %v, want about 21", m, res.value)
		}
	}
}

func TestForecastStep_FallbackToEWMA(t *testing.T) {
	// too short for any ARIMA order
	res := forecastStep(ARIMA, []float64{1, 2})
	if !res.fallback || res.err == nil {
		t.Fatalf("expected fallback, got %+v", res)
	}
	if math.Abs(res.value-1.3) > 1e-9 {
		t.Errorf("fallback = %v, want 1.3", res.value)
	}
}

func TestForecastStep_ClippedToEnvelope(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	window := make([]float64, 24)
	for i := range window {
		window[i] = rng.Float64()
	}
	lo, hi := envelope(window)
	for _, m := range Models {
		res := forecastStep(m, window)
		if res.value < lo || res.value > hi {
			t.Errorf("%s forecast %v outside [%v, %v]", m, res.value, lo, hi)
		}
	}
}

func TestAutoARIMA_Stationary(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	y := make([]float64, 60)
	for i := 1; i < len(y); i++ {
		y[i] = 0.6*y[i-1] + rng.NormFloat64()
	}
	fc, err := autoARIMA(y, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !finite(fc) || math.Abs(fc) > 10 {
		t.Fatalf("forecast = %v", fc)
	}
}

func TestKPSS(t *testing.T) {
	trend := make([]float64, 100)
	alternating := make([]float64, 100)
	for i := range trend {
		trend[i] = float64(i)
		alternating[i] = float64(i%2*2 - 1)
	}
	if kpssStationary(trend) {
		t.Error("linear trend reported stationary")
	}
	if !kpssStationary(alternating) {
		t.Error("alternating series reported non-stationary")
	}
	if !kpssStationary([]float64{1, 5, 9}) {
		t.Error("short series must not be differenced")
	}
}

func TestDetectSeasonality(t *testing.T) {
	weekly := make([]float64, 120)
	for i := range weekly {
		weekly[i] = math.Sin(2 * math.Pi * float64(i) / 7)
	}
	if m := detectSeasonality(weekly); m != 7 {
		t.Errorf("weekly series: m = %d, want 7", m)
	}
	if m := detectSeasonality(weekly[:20]); m != 0 {
		t.Errorf("short series: m = %d, want 0", m)
	}
}

func TestScaler_FallbackStd(t *testing.T) {
	s := newScaler([]float64{4, 4, 4})
	if s.std != 1 || s.invert(s.apply([]float64{4})[0]) != 4 {
		t.Fatalf("scaler = %+v", s)
	}
}
