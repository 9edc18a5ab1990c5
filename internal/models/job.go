package models

import (
	"fmt"
	"strings"
	"time"
)

// JobState is a step of the job state machine
type JobState string

const (
	JobQueued      JobState = "queued"
	JobLoadingData JobState = "loading-data"
	JobRunning     JobState = "running"
	JobFinalizing  JobState = "finalizing"
	JobReady       JobState = "ready"
	JobError       JobState = "error"
	JobPaused      JobState = "paused"
)

// Active reports whether a worker is expected to be updating the job
func (s JobState) Active() bool {
	return s == JobLoadingData || s == JobRunning || s == JobFinalizing
}

// StartRequest represents a forecast submission
type StartRequest struct {
	TargetValue string `json:"target_value"`
	StateName   string `json:"state_name,omitempty"`
	CountyName  string `json:"county_name,omitempty"`
	CityName    string `json:"city_name,omitempty"`
	CBSAName    string `json:"cbsa_name,omitempty"`
	Agg         string `json:"agg,omitempty"`
	FType       string `json:"ftype,omitempty"`
	NotifyEmail string `json:"notify_email,omitempty"`
}

// Normalize trims fields and applies defaults, then validates the request
func (r *StartRequest) Normalize() error {
	r.TargetValue = strings.TrimSpace(r.TargetValue)
	r.StateName = strings.TrimSpace(r.StateName)
	r.CountyName = strings.TrimSpace(r.CountyName)
	r.CityName = strings.TrimSpace(r.CityName)
	r.CBSAName = strings.TrimSpace(r.CBSAName)
	r.NotifyEmail = strings.TrimSpace(r.NotifyEmail)
	if r.Agg == "" {
		r.Agg = "mean"
	}
	if r.FType == "" {
		r.FType = "F"
	}
	if r.TargetValue == "" {
		return fmt.Errorf("target_value is required: %w", ErrValidation)
	}
	if r.Agg != "mean" && r.Agg != "sum" {
		return fmt.Errorf("agg must be mean or sum, got %q: %w", r.Agg, ErrValidation)
	}
	return nil
}

// Filters returns the geographic filters of the request
func (r StartRequest) Filters() SeriesFilters {
	return SeriesFilters{State: r.StateName, County: r.CountyName, City: r.CityName, CBSA: r.CBSAName}
}

// Job is the persisted status record of one forecast run
type Job struct {
	ID         string       `json:"job_id"`
	State      JobState     `json:"state"`
	Progress   int          `json:"progress"`
	Message    string       `json:"message,omitempty"`
	OutputFile string       `json:"output_file,omitempty"`
	Error      string       `json:"error,omitempty"`
	Request    StartRequest `json:"request"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
