package models

import (
	"gorm.io/gorm"
)

// RunStatus represents the lifecycle state of an analysis run.
type RunStatus string

const (
	// RunStatusPending indicates the run is queued but not started.
	RunStatusPending RunStatus = "pending"
	// RunStatusRunning indicates the pipeline is executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates the run finished and produced a report.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates the run aborted with a hard error.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates the run was cancelled by the caller.
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is the persisted record of one pipeline execution.
type Run struct {
	BaseModel

	// Source is the video path or URL the run analyzed.
	Source string `gorm:"not null;size:4096" json:"source"`

	// SourceID is the identifier derived from the source (path stem).
	SourceID string `gorm:"size:255;index" json:"source_id"`

	// Status is the current lifecycle state.
	Status RunStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// SamplingFPS is the sampling rate the run used.
	SamplingFPS int `gorm:"default:0" json:"sampling_fps"`

	// FramesExtracted is the number of frames produced by extraction.
	FramesExtracted int `gorm:"default:0" json:"frames_extracted"`

	// EventCount is the number of transition events detected.
	EventCount int `gorm:"default:0" json:"event_count"`

	// CycleCount is the number of validated cycles.
	CycleCount int `gorm:"default:0" json:"cycle_count"`

	// SoftFailures counts per-frame classifier fallbacks.
	SoftFailures int `gorm:"default:0" json:"soft_failures"`

	// StatsJSON is the CycleStatistics record serialized as JSON.
	StatsJSON string `gorm:"type:text" json:"stats_json,omitempty"`

	// TelemetryFound records whether enrichment located telemetry.
	TelemetryFound bool `gorm:"default:false" json:"telemetry_found"`

	// ReportPath is where the rendered report was saved.
	ReportPath string `gorm:"size:4096" json:"report_path,omitempty"`

	// StartedAt is when pipeline execution began.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is when the run reached a terminal state.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// DurationMs is the execution duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// Error holds the hard-failure message for failed runs.
	Error string `gorm:"size:4096" json:"error,omitempty"`

	// Cycles is the relationship to the per-cycle rows.
	Cycles []RunCycle `gorm:"foreignKey:RunID" json:"cycles,omitempty"`
}

// TableName returns the table name for Run.
func (Run) TableName() string {
	return "runs"
}

// IsTerminal returns true if the status is a terminal state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// IsFinished returns true if the run reached a terminal state.
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning marks the run as executing.
func (r *Run) MarkRunning() {
	r.Status = RunStatusRunning
	now := Now()
	r.StartedAt = &now
	r.Error = ""
}

// MarkCompleted marks the run as completed successfully.
func (r *Run) MarkCompleted() {
	r.Status = RunStatusCompleted
	now := Now()
	r.CompletedAt = &now
	r.Error = ""

	if r.StartedAt != nil {
		r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
}

// MarkFailed marks the run as failed with an error message.
func (r *Run) MarkFailed(err error) {
	r.Status = RunStatusFailed
	now := Now()
	r.CompletedAt = &now

	if err != nil {
		r.Error = err.Error()
	}

	if r.StartedAt != nil {
		r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
}

// MarkCancelled marks the run as cancelled.
func (r *Run) MarkCancelled() {
	r.Status = RunStatusCancelled
	now := Now()
	r.CompletedAt = &now

	if r.StartedAt != nil {
		r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
}

// Validate performs basic validation on the run.
func (r *Run) Validate() error {
	if r.Source == "" {
		return ErrSourceRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the run and generates a ULID.
func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return r.Validate()
}

// BeforeUpdate is a GORM hook that validates the run before update.
func (r *Run) BeforeUpdate(tx *gorm.DB) error {
	return r.Validate()
}

// RunCycle is the persisted form of one work cycle within a run.
type RunCycle struct {
	BaseModel

	// RunID is the foreign key to the parent Run.
	RunID ULID `gorm:"type:varchar(26);not null;index" json:"run_id"`

	// Number is the 1-based cycle number within the run.
	Number int `gorm:"not null" json:"number"`

	// Start and End are timestamps within the video in seconds.
	Start float64 `gorm:"not null" json:"start"`
	End   float64 `gorm:"not null" json:"end"`

	// Duration is End - Start in seconds.
	Duration float64 `gorm:"not null" json:"duration"`

	// Phase durations in seconds; zero when the phase was not observed.
	PhaseDig         float64 `json:"phase_dig"`
	PhaseSwingToDump float64 `json:"phase_swing_to_dump"`
	PhaseDump        float64 `json:"phase_dump"`
	PhaseReturn      float64 `json:"phase_return"`

	// Completeness is "complete" or "partial".
	Completeness Completeness `gorm:"not null;size:10" json:"completeness"`

	// Note carries assembler commentary.
	Note string `gorm:"size:1024" json:"note,omitempty"`
}

// TableName returns the table name for RunCycle.
func (RunCycle) TableName() string {
	return "run_cycles"
}

// Validate performs basic validation on the cycle row.
func (c *RunCycle) Validate() error {
	if c.RunID.IsZero() {
		return ErrRunIDRequired
	}
	if c.Number < 1 {
		return ErrInvalidCycleNumber
	}
	if c.End < c.Start {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the cycle row.
func (c *RunCycle) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// NewRunCycle converts an in-memory Cycle to its persisted form.
func NewRunCycle(runID ULID, c Cycle) RunCycle {
	return RunCycle{
		RunID:            runID,
		Number:           c.Number,
		Start:            c.Start,
		End:              c.End,
		Duration:         c.Duration,
		PhaseDig:         c.Phases.Dig,
		PhaseSwingToDump: c.Phases.SwingToDump,
		PhaseDump:        c.Phases.Dump,
		PhaseReturn:      c.Phases.Return,
		Completeness:     c.Completeness,
		Note:             c.Note,
	}
}
