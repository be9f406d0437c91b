package models

import "errors"

// Validation and lookup errors shared by the models and repositories.
var (
	// ErrSourceRequired indicates a run without a video source.
	ErrSourceRequired = errors.New("source is required")

	// ErrRunIDRequired indicates a cycle row without a parent run.
	ErrRunIDRequired = errors.New("run_id is required")

	// ErrInvalidCycleNumber indicates a cycle number below 1.
	ErrInvalidCycleNumber = errors.New("cycle number must be >= 1")

	// ErrInvalidTimeRange indicates an end timestamp before the start.
	ErrInvalidTimeRange = errors.New("end must not precede start")

	// ErrRunNotFound indicates a run record was not found.
	ErrRunNotFound = errors.New("run not found")
)
