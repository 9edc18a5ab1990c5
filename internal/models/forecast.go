package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// Forecast column order as written to CSV
const (
	ColSESMonthly = iota
	ColHWESMonthly
	ColARIMAMonthly
	ColSESQuarterly
	ColHWESQuarterly
	ColARIMAQuarterly
	NumForecastCols
)

// ForecastHeader is the exact CSV header of a forecast table
var ForecastHeader = []string{"DATE", "VALUE", "SES-M", "HWES-M", "ARIMA-M", "SES-Q", "HWES-Q", "ARIMA-Q"}

// ForecastRow is one calendar day of a forecast table
type ForecastRow struct {
	Date      time.Time                   `json:"date"`
	Value     null.Float                  `json:"value"`
	Forecasts [NumForecastCols]null.Float `json:"forecasts"`
}

// MarshalRow flattens a row into header-keyed cells for JSON previews
func (r ForecastRow) MarshalRow() map[string]any {
	out := make(map[string]any, len(ForecastHeader))
	out[ForecastHeader[0]] = r.Date.Format(DateLayout)
	out[ForecastHeader[1]] = r.Value
	for i, f := range r.Forecasts {
		out[ForecastHeader[i+2]] = f
	}
	return out
}

// ForecastTable holds exactly one row per calendar day, no gaps
type ForecastTable struct {
	Rows []ForecastRow `json:"rows"`
}

// DateLayout is the wire format for calendar dates
const DateLayout = "2006-01-02"
