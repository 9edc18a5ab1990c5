package models

import "errors"

// Error taxonomy shared by the loader, the job tracker and the HTTP layer.
var (
	// ErrConfiguration means required connection info is missing
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound means no rows matched a selection or a job id is unknown
	ErrNotFound = errors.New("not found")
	// ErrValidation means a required request field is missing or malformed
	ErrValidation = errors.New("validation error")
	// ErrNotReady means a job has not produced its output yet
	ErrNotReady = errors.New("not ready")
)
