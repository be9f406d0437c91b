package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies hard pipeline failures. Soft failures (per-frame
// classifier fallbacks, missing telemetry, narrative-mode fallbacks) are
// recovered inside their stage and never surface as an ErrorKind.
type ErrorKind string

const (
	// KindConfigInvalid indicates the run configuration failed validation.
	KindConfigInvalid ErrorKind = "config_invalid"
	// KindSourceUnavailable indicates the video could not be opened.
	KindSourceUnavailable ErrorKind = "source_unavailable"
	// KindDecodeFailed indicates a non-recoverable decode error.
	KindDecodeFailed ErrorKind = "decode_failed"
	// KindNoFramesExtracted indicates the source yielded zero frames.
	KindNoFramesExtracted ErrorKind = "no_frames_extracted"
	// KindPromptTemplateMissing indicates the classifier prompt could not be loaded.
	KindPromptTemplateMissing ErrorKind = "prompt_template_missing"
	// KindClassifierUnavailable indicates the vision model circuit opened.
	KindClassifierUnavailable ErrorKind = "classifier_unavailable"
	// KindStageTimeout indicates a stage exceeded its soft timeout or the
	// run exceeded its total deadline.
	KindStageTimeout ErrorKind = "stage_timeout"
	// KindTemplateMissing indicates the report template id is unknown.
	KindTemplateMissing ErrorKind = "template_missing"
	// KindRenderFailed indicates report template execution failed.
	KindRenderFailed ErrorKind = "render_failed"
	// KindCancelled indicates the caller cancelled the run.
	KindCancelled ErrorKind = "cancelled"
	// KindInternal indicates an unexpected failure.
	KindInternal ErrorKind = "internal"
)

// maxCauseLen bounds the underlying cause message in user-visible errors.
const maxCauseLen = 500

// PipelineError is the hard-failure envelope returned by the coordinator.
// It carries the taxonomy kind, the stage that raised it, and the source
// identifier, with the underlying cause truncated for display.
type PipelineError struct {
	Kind   ErrorKind
	Stage  string
	Source string
	Err    error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg += fmt.Sprintf(" in stage %s", e.Stage)
	}
	if e.Source != "" {
		msg += fmt.Sprintf(" (source %s)", e.Source)
	}
	if e.Err != nil {
		msg += ": " + truncateCause(e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewError creates a PipelineError with the given kind.
func NewError(kind ErrorKind, stage, source string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Source: source, Err: err}
}

// truncateCause bounds a cause message to maxCauseLen characters.
func truncateCause(s string) string {
	if len(s) <= maxCauseLen {
		return s
	}
	return s[:maxCauseLen] + "..."
}

// KindOf extracts the taxonomy kind from any error. Context cancellation and
// deadline errors map to their kinds; anything unclassified is Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return KindConfigInvalid
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindStageTimeout
	}
	return KindInternal
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ExitCode maps an error to the CLI exit code contract:
// 0 success, 1 configuration, 2 source unavailable, 3 classifier
// unavailable, 4 timeout, 5 cancelled, 64 unexpected internal error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConfigInvalid:
		return 1
	case KindSourceUnavailable:
		return 2
	case KindClassifierUnavailable:
		return 3
	case KindStageTimeout:
		return 4
	case KindCancelled:
		return 5
	default:
		return 64
	}
}

// Pipeline errors.
var (
	// ErrPipelineAlreadyRunning indicates a run is already executing for this source.
	ErrPipelineAlreadyRunning = errors.New("pipeline already running for this source")

	// ErrStageNotFound indicates a requested stage was not found.
	ErrStageNotFound = errors.New("stage not found")
)

// StageError wraps an error with stage context. The orchestrator applies it
// to stage failures that are not already PipelineErrors.
type StageError struct {
	StageID   string
	StageName string
	Err       error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (%s): %v", e.StageName, e.StageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError.
func NewStageError(stageID, stageName string, err error) *StageError {
	return &StageError{
		StageID:   stageID,
		StageName: stageName,
		Err:       err,
	}
}

// ConfigurationError represents a configuration problem. KindOf maps it to
// KindConfigInvalid.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{
		Field:   field,
		Message: message,
	}
}
