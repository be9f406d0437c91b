package models

import "time"

// ReportArtifact is the rendered output of a run.
type ReportArtifact struct {
	// Bytes is the rendered report body.
	Bytes []byte `json:"-"`

	// MIME is "text/markdown" or "text/html".
	MIME string `json:"mime"`

	// Path is where the artifact was saved, when saving was requested.
	Path string `json:"path,omitempty"`

	// HTMLPath is the optional chart-bearing HTML variant.
	HTMLPath string `json:"html_path,omitempty"`

	// ContactSheetPath is the optional frame-grid JPEG written next to the
	// report.
	ContactSheetPath string `json:"contact_sheet_path,omitempty"`
}

// PipelineResult aggregates everything a completed run produced. It is
// assembled by the coordinator and handed to the caller whole; a run that
// fails hard returns an error and no PipelineResult.
type PipelineResult struct {
	// RunID identifies this execution.
	RunID string `json:"run_id"`

	// Source is the video path or URL as given.
	Source string `json:"source"`

	// SourceID is the identifier derived from the source (path stem).
	SourceID string `json:"source_id"`

	// SamplingFPS is the effective sampling rate used.
	SamplingFPS int `json:"sampling_fps"`

	// FramesExtracted is the number of frames stage 1 produced.
	FramesExtracted int `json:"frames_extracted"`

	// MaxFrames is the configured cap (0 = unbounded).
	MaxFrames int `json:"max_frames"`

	// EventCount is the number of transition events detected.
	EventCount int `json:"event_count"`

	// Cycles are the validated work cycles in closing order.
	Cycles []Cycle `json:"cycles"`

	// Statistics aggregates the cycles.
	Statistics CycleStatistics `json:"statistics"`

	// Telemetry is the optional enrichment record.
	Telemetry TelemetryRecord `json:"telemetry"`

	// Report is the rendered artifact.
	Report ReportArtifact `json:"report"`

	// SoftFailures counts classifications that fell back to idle because
	// the model call or its response failed.
	SoftFailures int `json:"soft_failures"`

	// StartedAt and FinishedAt bound the run wall-clock time.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// WorkDuration returns how long the run took.
func (r *PipelineResult) WorkDuration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
