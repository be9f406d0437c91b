// Package progress tracks long-running operations (analysis runs, batch
// scans, simulations) and broadcasts their state to SSE subscribers and the
// CLI progress bar.
package progress

import (
	"time"

	"github.com/jmylchreest/digwatch/internal/models"
)

// OperationState is the lifecycle state of a tracked operation or of one of
// its stages.
type OperationState string

const (
	StateIdle       OperationState = "idle"
	StatePreparing  OperationState = "preparing"
	StateProcessing OperationState = "processing"
	StateCompleted  OperationState = "completed"
	StateError      OperationState = "error"
	StateCancelled  OperationState = "cancelled"
)

// IsTerminal reports whether the state is final.
func (s OperationState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateError, StateCancelled:
		return true
	}
	return false
}

// IsActive reports whether the operation is currently doing work.
func (s OperationState) IsActive() bool {
	return s != StateIdle && !s.IsTerminal()
}

// OperationType identifies what kind of work an operation tracks.
type OperationType string

const (
	// OpAnalysis analyzes a single video through the full pipeline.
	OpAnalysis OperationType = "analysis"
	// OpBatchAnalysis analyzes every video in a directory.
	OpBatchAnalysis OperationType = "batch_analysis"
	// OpSimulation replays a classification scenario through the analysis
	// stages.
	OpSimulation OperationType = "simulation"
	// OpPipeline is a pipeline execution with an unrecognized owner.
	OpPipeline OperationType = "pipeline"
)

// StageInfo is the progress of one pipeline stage within an operation.
// Weight is the stage's share of the aggregate progress; weights across an
// operation sum to 1.
type StageInfo struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Weight      float64        `json:"weight"`
	State       OperationState `json:"state"`
	Progress    float64        `json:"progress"`
	Message     string         `json:"message"`
	Current     int            `json:"current"`
	Total       int            `json:"total"`
	CurrentItem string         `json:"current_item,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// OperationProgress is the full progress picture of one operation. Owner is
// the resource the operation works on behalf of, usually a run.
type OperationProgress struct {
	OperationID       string         `json:"operation_id"`
	OperationType     OperationType  `json:"operation_type"`
	OwnerID           models.ULID    `json:"owner_id"`
	OwnerType         string         `json:"owner_type"`
	ResourceID        *models.ULID   `json:"resource_id,omitempty"`
	State             OperationState `json:"state"`
	Progress          float64        `json:"progress"`
	Message           string         `json:"message"`
	Stages            []StageInfo    `json:"stages"`
	CurrentStageIndex int            `json:"current_stage_index"`
	StartedAt         time.Time      `json:"started_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	Error             string         `json:"error,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand to readers outside the service lock.
func (p *OperationProgress) Clone() *OperationProgress {
	out := *p
	out.Stages = append([]StageInfo(nil), p.Stages...)
	if p.Metadata != nil {
		out.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// CurrentStage returns the stage currently executing, or nil before the
// first stage starts.
func (p *OperationProgress) CurrentStage() *StageInfo {
	if p.CurrentStageIndex < 0 || p.CurrentStageIndex >= len(p.Stages) {
		return nil
	}
	return &p.Stages[p.CurrentStageIndex]
}

// ProgressEvent is what subscribers receive when an operation changes.
type ProgressEvent struct {
	EventType string             `json:"event_type"`
	Progress  *OperationProgress `json:"progress"`
	Timestamp time.Time          `json:"timestamp"`
}

// SSE event types.
const (
	EventTypeProgress  = "progress"
	EventTypeCompleted = "completed"
	EventTypeError     = "error"
	EventTypeCancelled = "cancelled"
)

// OperationFilter selects which operations a query or subscription sees.
// Nil fields match everything.
type OperationFilter struct {
	OperationType *OperationType  `json:"operation_type,omitempty"`
	OwnerID       *models.ULID    `json:"owner_id,omitempty"`
	ResourceID    *models.ULID    `json:"resource_id,omitempty"`
	State         *OperationState `json:"state,omitempty"`
	ActiveOnly    bool            `json:"active_only,omitempty"`
}

// Matches reports whether the operation satisfies every set criterion. A nil
// filter matches everything.
func (f *OperationFilter) Matches(p *OperationProgress) bool {
	if f == nil {
		return true
	}
	if f.OperationType != nil && *f.OperationType != p.OperationType {
		return false
	}
	if f.OwnerID != nil && *f.OwnerID != p.OwnerID {
		return false
	}
	if f.ResourceID != nil {
		if p.ResourceID == nil || *f.ResourceID != *p.ResourceID {
			return false
		}
	}
	if f.State != nil && *f.State != p.State {
		return false
	}
	if f.ActiveOnly && !p.State.IsActive() {
		return false
	}
	return true
}
