package models

import "time"

// DailyPoint is one calendar day of a series
type DailyPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// DailySeries is ordered by date with at most one point per day.
// Days with no source rows are absent, not zero.
type DailySeries []DailyPoint

// First returns the earliest date, or the zero time for an empty series
func (s DailySeries) First() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].Date
}

// Last returns the latest date, or the zero time for an empty series
func (s DailySeries) Last() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Date
}

// SeriesFilters narrows a parameter to a geography. Empty fields are ignored.
type SeriesFilters struct {
	State  string `json:"state_name,omitempty"`
	County string `json:"county_name,omitempty"`
	City   string `json:"city_name,omitempty"`
	CBSA   string `json:"cbsa_name,omitempty"`
}

// Observation represents one raw air quality measurement row
type Observation struct {
	DateLocal      time.Time `json:"date_local"`
	ParameterName  string    `json:"parameter_name"`
	ArithmeticMean float64   `json:"arithmetic_mean"`
	LocalSiteName  string    `json:"local_site_name,omitempty"`
	StateName      string    `json:"state_name"`
	CountyName     string    `json:"county_name,omitempty"`
	CityName       string    `json:"city_name,omitempty"`
	CBSAName       string    `json:"cbsa_name,omitempty"`
}

// UploadResult summarizes a CSV ingest
type UploadResult struct {
	RowsInserted int `json:"rows_inserted"`
	RowsRejected int `json:"rows_rejected"`
}

// Day truncates t to midnight UTC of its calendar date
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
