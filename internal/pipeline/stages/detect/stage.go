// Package detect implements the action detection pipeline stage. It
// compresses the dense per-frame label stream into a sparse sequence of
// state-transition events.
package detect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/internal/pipeline/shared"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "detect_actions"
	// StageName is the human-readable name for this stage.
	StageName = "Detect Actions"
)

// Stage detects activity transitions in the classified frame stream.
type Stage struct {
	shared.BaseStage
	logger *slog.Logger
}

// New creates a new action detection stage.
func New() *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName),
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New()
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// Execute derives transition events from state.Classifications. Pure
// computation; it cannot fail.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	state.Events = DetectEvents(state.Classifications)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "action detection complete",
			slog.Int("classifications", len(state.Classifications)),
			slog.Int("events", len(state.Events)))
	}
	s.ReportProgress(ctx, state, 1.0, fmt.Sprintf("%d events", len(state.Events)))

	result.RecordsProcessed = len(state.Events)
	result.Message = fmt.Sprintf("Detected %d events from %d classifications",
		len(state.Events), len(state.Classifications))
	return result, nil
}

// DetectEvents walks the ordered classifications once and emits an Event for
// every label change that matches a transition rule. The previous label
// starts as idle, so a video that opens mid-dig emits dig_start at frame 0.
// Consecutive identical labels emit nothing; the previous label is updated
// unconditionally either way.
func DetectEvents(classifications []models.Classification) []models.Event {
	events := make([]models.Event, 0)
	prev := models.LabelIdle

	for _, c := range classifications {
		if c.Label != prev {
			if kind, ok := transition(prev, c.Label); ok {
				events = append(events, models.Event{
					Kind:       kind,
					Timestamp:  c.Timestamp,
					FrameIndex: c.FrameIndex,
					PrevLabel:  prev,
					NextLabel:  c.Label,
				})
			}
		}
		prev = c.Label
	}

	return events
}

// transition maps a prev -> next label change onto an event kind. Rules
// keyed on the previous label win over the catch-all entries into digging
// and dumping, so swing_to_dig -> digging is return_to_dig, not dig_start.
// Pairs matching no rule produce no event.
func transition(prev, next models.ActivityLabel) (models.EventKind, bool) {
	switch prev {
	case models.LabelDigging:
		if next == models.LabelSwingToDump || next == models.LabelIdle {
			return models.EventDigEnd, true
		}
	case models.LabelDumping:
		if next == models.LabelSwingToDig || next == models.LabelIdle {
			return models.EventDumpEnd, true
		}
	case models.LabelSwingToDig:
		if next == models.LabelDigging || next == models.LabelIdle {
			return models.EventReturnToDig, true
		}
	}

	switch next {
	case models.LabelDigging:
		return models.EventDigStart, true
	case models.LabelDumping:
		return models.EventDumpStart, true
	}

	return "", false
}

// Ensure Stage implements core.Stage.
var _ core.Stage = (*Stage)(nil)
