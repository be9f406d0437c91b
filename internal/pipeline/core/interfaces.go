// Package core provides the pipeline orchestration framework.
package core

import (
	"context"
	"time"

	"github.com/jmylchreest/digwatch/internal/models"
)

// Stage is a single step in the video analysis pipeline. Each stage
// consumes its predecessor's output from the shared State and writes its
// own output back before returning.
type Stage interface {
	// ID returns the stage's unique identifier, e.g. "extract_frames".
	ID() string

	// Name returns the stage's display name, e.g. "Extract Frames".
	Name() string

	// Execute performs the stage's work against the shared state.
	Execute(ctx context.Context, state *State) (*StageResult, error)

	// Cleanup runs after execution, on success and failure alike.
	Cleanup(ctx context.Context) error
}

// ProgressReporter receives progress updates from running stages.
type ProgressReporter interface {
	// ReportProgress reports fractional stage progress (0.0 to 1.0).
	ReportProgress(ctx context.Context, stageID string, progress float64, message string)

	// ReportItemProgress reports progress over countable items.
	ReportItemProgress(ctx context.Context, stageID string, current, total int, item string)
}

// State holds all data shared between pipeline stages for one run.
// Each run owns its own State; nothing here is shared across runs.
type State struct {
	// RunID identifies this execution.
	RunID string

	// Source is the video path or URL under analysis.
	Source string

	// SourceID is the identifier derived from the source (path stem),
	// used for telemetry lookup and report headers.
	SourceID string

	// SamplingFPS is the effective sampling rate for frame extraction.
	SamplingFPS int

	// MaxFrames caps extraction (0 = unbounded).
	MaxFrames int

	// WorkDir is the per-run workspace directory.
	WorkDir string

	// FramesDir is where extracted frames are written.
	FramesDir string

	// ProgressReporter allows stages to report their progress.
	ProgressReporter ProgressReporter

	// Now supplies the report clock; injectable so deterministic rendering
	// is reproducible in tests. Defaults to time.Now.
	Now func() time.Time

	// NativeFPS and VideoDuration are filled by the extract stage from
	// container metadata.
	NativeFPS     float64
	VideoDuration float64

	// FramesExtracted is the frame count, retained after Frames is released.
	FramesExtracted int

	// Frames is the extract stage output. Released after classification.
	Frames []models.Frame

	// Classifications is the classify stage output, one per frame in
	// strict index order. Released after assembly.
	Classifications []models.Classification

	// Events is the detect stage output in timestamp order.
	Events []models.Event

	// Cycles and Statistics are the assemble stage output.
	Cycles     []models.Cycle
	Statistics models.CycleStatistics

	// Telemetry is the enrichment stage output.
	Telemetry models.TelemetryRecord

	// Report is the rendered artifact.
	Report models.ReportArtifact

	// SoftFailures counts per-frame classifier fallbacks.
	SoftFailures int

	// StartTime records when pipeline execution began.
	StartTime time.Time

	// Errors collects non-fatal errors during execution.
	Errors []error

	// Artifacts holds file outputs registered by stages, keyed by stage ID.
	Artifacts map[string][]Artifact
}

// NewState creates a new pipeline state for one run.
func NewState(runID, source, sourceID string) *State {
	return &State{
		RunID:     runID,
		Source:    source,
		SourceID:  sourceID,
		Now:       time.Now,
		StartTime: time.Now(),
		Errors:    make([]error, 0),
		Artifacts: make(map[string][]Artifact),
	}
}

// AddError records a non-fatal error.
func (s *State) AddError(err error) {
	if err != nil {
		s.Errors = append(s.Errors, err)
	}
}

// HasErrors reports whether any non-fatal errors were recorded.
func (s *State) HasErrors() bool {
	return len(s.Errors) > 0
}

// AddArtifact registers an artifact produced by a stage.
func (s *State) AddArtifact(stageID string, artifact Artifact) {
	s.Artifacts[stageID] = append(s.Artifacts[stageID], artifact)
}

// Result assembles the PipelineResult from the state after all stages
// complete.
func (s *State) Result() *models.PipelineResult {
	return &models.PipelineResult{
		RunID:           s.RunID,
		Source:          s.Source,
		SourceID:        s.SourceID,
		SamplingFPS:     s.SamplingFPS,
		FramesExtracted: s.FramesExtracted,
		MaxFrames:       s.MaxFrames,
		EventCount:      len(s.Events),
		Cycles:          s.Cycles,
		Statistics:      s.Statistics,
		Telemetry:       s.Telemetry,
		Report:          s.Report,
		SoftFailures:    s.SoftFailures,
		StartedAt:       s.StartTime,
		FinishedAt:      time.Now(),
	}
}

// StageResult is the outcome of one stage execution.
type StageResult struct {
	// Artifacts produced by this stage.
	Artifacts []Artifact

	// RecordsProcessed is the count of items processed.
	RecordsProcessed int

	// Duration is the execution time.
	Duration time.Duration

	// Message is an optional summary message.
	Message string
}
