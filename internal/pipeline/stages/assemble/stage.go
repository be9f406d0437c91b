// Package assemble implements the cycle assembly pipeline stage. A state
// machine walks the transition events, groups them into work cycles,
// validates each against the complete/partial duration gates, and computes
// run-level statistics over the survivors.
package assemble

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/internal/pipeline/shared"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "assemble_cycles"
	// StageName is the human-readable name for this stage.
	StageName = "Assemble Cycles"
)

// Default duration gates, used when the stage is constructed without
// configuration.
const (
	DefaultCompleteSeconds = 5.0
	DefaultPartialSeconds  = 3.0
)

// Stage assembles transition events into validated work cycles.
type Stage struct {
	shared.BaseStage
	logger *slog.Logger

	completeSeconds float64
	partialSeconds  float64
}

// New creates a new cycle assembly stage with the default gates.
func New() *Stage {
	return &Stage{
		BaseStage:       shared.NewBaseStage(StageID, StageName),
		completeSeconds: DefaultCompleteSeconds,
		partialSeconds:  DefaultPartialSeconds,
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New()
		if deps.Config != nil {
			s.completeSeconds = deps.Config.Pipeline.CompleteCycleSeconds
			s.partialSeconds = deps.Config.Pipeline.PartialCycleSeconds
		}
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// Execute assembles state.Events into state.Cycles and fills
// state.Statistics. The classifications are released afterwards: everything
// downstream works from events, cycles and the frames directory.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	assembler := NewAssembler(s.completeSeconds, s.partialSeconds, s.logger)
	state.Cycles = assembler.Assemble(state.Events)
	state.Statistics = ComputeStatistics(state.Cycles)
	state.Classifications = nil

	if s.logger != nil {
		s.logger.InfoContext(ctx, "cycle assembly complete",
			slog.Int("events", len(state.Events)),
			slog.Int("cycles", state.Statistics.Count),
			slog.Int("complete", state.Statistics.CompleteCount),
			slog.Float64("avg_seconds", state.Statistics.SpecificAverage))
	}
	s.ReportProgress(ctx, state, 1.0, fmt.Sprintf("%d cycles", state.Statistics.Count))

	result.RecordsProcessed = state.Statistics.Count
	result.Message = fmt.Sprintf("Assembled %d cycles (%d complete) from %d events",
		state.Statistics.Count, state.Statistics.CompleteCount, len(state.Events))
	return result, nil
}

// Ensure Stage implements core.Stage.
var _ core.Stage = (*Stage)(nil)
